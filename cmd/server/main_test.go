package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/infrastructure/config"
)

func testConfig() *config.Config {
	return &config.Config{
		StorageDriver:     config.StorageMemory,
		EventPublisher:    config.PublisherNone,
		OverpaymentPolicy: "reject",
		DefaultCurrency:   "USD",
		PaymentMaxRetries: 3,
		ReportCacheTTL:    time.Minute,
		IdempotencyTTL:    time.Hour,
		EventStream:       "billing:events",
	}
}

func call(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-School-ID", "school-a")
	req.Header.Set("X-User-ID", "bursar-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildApp_MemoryDriver(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(), zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.relay)
	assert.Nil(t, a.limiter)

	rec := call(t, a.handler, http.MethodPost, "/api/v1/billing-records", map[string]any{
		"student_id": "student-1",
		"amount_due": "250.00",
		"due_date":   "2025-09-01",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = call(t, a.handler, http.MethodPost, "/api/v1/billing-records/"+created.ID+"/payments/full",
		map[string]any{"payment_method": "cash"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, a.handler, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `schoolbilling_payments_recorded_total{kind="full"} 1`)
}

func TestBuildApp_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.EventPublisher = config.PublisherRedis
	cfg.RateLimitRPS = 100
	cfg.RateLimitBurst = 100

	a, err := buildApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.close()

	require.NotNil(t, a.relay)
	require.NotNil(t, a.limiter)

	rec := call(t, a.handler, http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"ok"`)

	rec = call(t, a.handler, http.MethodPost, "/api/v1/billing-records", map[string]any{
		"student_id": "student-1",
		"amount_due": "100",
		"due_date":   "2025-09-01",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	path := "/api/v1/billing-records/" + created.ID + "/payments/partial"
	body := map[string]any{"amount": "40", "payment_method": "card"}
	key := map[string]string{"Idempotency-Key": "pay-1"}

	first := call(t, a.handler, http.MethodPost, path, body, key)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := call(t, a.handler, http.MethodPost, path, body, key)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replay"))

	rec = call(t, a.handler, http.MethodGet, "/api/v1/billing-records/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"PARTIALLY_PAID"`)
	assert.Contains(t, rec.Body.String(), `"amount_paid":"40"`)

	rec = call(t, a.handler, http.MethodGet, "/api/v1/billing/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	keys := strings.Join(mr.Keys(), ",")
	assert.Contains(t, keys, "idempotency:school-a:pay-1")
	assert.Contains(t, keys, "reports:school-a:")
}

func TestBuildApp_RedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"

	_, err := buildApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	require.Error(t, err)
}
