package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Payment metrics
	PaymentsRecorded    *prometheus.CounterVec
	PaymentAmount       *prometheus.HistogramVec
	PaymentDuration     prometheus.Histogram
	PaymentErrors       *prometheus.CounterVec
	PaymentRetries      prometheus.Counter
	OverpaymentsClamped prometheus.Counter

	// Report metrics
	ReportCacheLookups *prometheus.CounterVec
	ReportDuration     *prometheus.HistogramVec

	// Outbox metrics
	EventsPublished *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits prometheus.Counter
}

// New creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	f := promauto.With(reg)

	return &Metrics{
		PaymentsRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_payments_recorded_total",
				Help: "Total number of payments recorded by kind",
			},
			[]string{"kind"},
		),
		PaymentAmount: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_payment_amount",
				Help:    "Recorded payment amounts in major units",
				Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 100000},
			},
			[]string{"currency"},
		),
		PaymentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "schoolbilling_payment_duration_seconds",
			Help:    "Duration of payment recording including retries",
			Buckets: prometheus.DefBuckets,
		}),
		PaymentErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_payment_errors_total",
				Help: "Total number of failed payment attempts by error type",
			},
			[]string{"error_type"},
		),
		PaymentRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "schoolbilling_payment_retries_total",
			Help: "Total number of payment retries after a concurrent update",
		}),
		OverpaymentsClamped: f.NewCounter(prometheus.CounterOpts{
			Name: "schoolbilling_overpayments_clamped_total",
			Help: "Total number of acknowledged overpayments clamped to the remaining balance",
		}),

		ReportCacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_report_cache_lookups_total",
				Help: "Report cache lookups by report and result",
			},
			[]string{"report", "result"},
		),
		ReportDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_report_duration_seconds",
				Help:    "Duration of report computation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report"},
		),

		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_events_published_total",
				Help: "Outbox events published by type and status",
			},
			[]string{"event_type", "status"},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "schoolbilling_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),

		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		RateLimitHits: f.NewCounter(prometheus.CounterOpts{
			Name: "schoolbilling_rate_limit_hits_total",
			Help: "Total requests rejected by the rate limiter",
		}),
	}
}
