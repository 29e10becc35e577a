package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/infrastructure/postgres"
)

type options struct {
	baseURL  string
	schoolID string
	userID   string
	token    string
	timeout  time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "schoolbilling-cli",
		Short:         "School billing CLI tool",
		Long:          `A command line interface for recording payments and reading billing reports.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("BILLING_URL", "http://localhost:8080"), "Base URL of the billing API")
	rootCmd.PersistentFlags().StringVar(&opts.schoolID, "school", os.Getenv("BILLING_SCHOOL_ID"), "School (tenant) id")
	rootCmd.PersistentFlags().StringVar(&opts.userID, "user", envOr("BILLING_USER_ID", "cli"), "User recorded as payer")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BILLING_TOKEN"), "Bearer token when the API requires authentication")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		newPayCmd(opts),
		newRecordCmd(opts),
		newDashboardCmd(opts),
		newMetricsCmd(opts),
		newReconcileCmd(opts),
		newMigrateCmd(),
	)

	return rootCmd
}

func newPayCmd(opts *options) *cobra.Command {
	payCmd := &cobra.Command{
		Use:   "pay",
		Short: "Record payments",
	}

	var (
		method, note, idempotencyKey string
	)

	fullCmd := &cobra.Command{
		Use:   "full <billing-record-id>",
		Short: "Mark a billing record as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"payment_method": method, "payment_note": note}
			return opts.post(cmd, "/api/v1/billing-records/"+url.PathEscape(args[0])+"/payments/full", body, idempotencyKey, printPayment)
		},
	}

	var (
		amount, currency string
		acknowledge      bool
	)

	partialCmd := &cobra.Command{
		Use:   "partial <billing-record-id>",
		Short: "Book a partial payment against a billing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"amount":                  amount,
				"payment_method":          method,
				"payment_note":            note,
				"acknowledge_overpayment": acknowledge,
			}
			if currency != "" {
				body["currency"] = currency
			}
			return opts.post(cmd, "/api/v1/billing-records/"+url.PathEscape(args[0])+"/payments/partial", body, idempotencyKey, printPayment)
		},
	}
	partialCmd.Flags().StringVar(&amount, "amount", "", "Amount in major units, e.g. 30.50")
	partialCmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency (defaults to the server currency)")
	partialCmd.Flags().BoolVar(&acknowledge, "acknowledge-overpayment", false, "Accept clamping an amount above the remaining balance")
	_ = partialCmd.MarkFlagRequired("amount")

	for _, c := range []*cobra.Command{fullCmd, partialCmd} {
		c.Flags().StringVar(&method, "method", string(domain.PaymentMethodCash), "Payment method")
		c.Flags().StringVar(&note, "note", "", "Payment note")
		c.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key header for safe retries")
	}

	payCmd.AddCommand(fullCmd, partialCmd)

	return payCmd
}

func newRecordCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "record <billing-record-id>",
		Short: "Show a billing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.get(cmd, "/api/v1/billing-records/"+url.PathEscape(args[0]), nil, printRecord)
		},
	}
}

func newDashboardCmd(opts *options) *cobra.Command {
	var start, end, schoolYear string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the billing dashboard of a school",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.get(cmd, "/api/v1/billing/dashboard", reportQuery(start, end, schoolYear), printDashboard)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&schoolYear, "school-year", "", "Restrict to one school year")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func newMetricsCmd(opts *options) *cobra.Command {
	var start, end, schoolYear string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show billing totals of a school",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.get(cmd, "/api/v1/billing/metrics", reportQuery(start, end, schoolYear), printMetrics)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&schoolYear, "school-year", "", "Restrict to one school year")

	return cmd
}

func newReconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [billing-record-id]",
		Short: "Compare recorded payments against the payment ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return opts.get(cmd, "/api/v1/billing-records/"+url.PathEscape(args[0])+"/reconciliation", nil, printReconciliation)
			}
			return opts.get(cmd, "/api/v1/billing/reconciliation", nil, printSchoolReconciliation)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var (
		databaseURL, path string
		down              bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			if down {
				return postgres.RunMigrationsDown(databaseURL, path, log)
			}
			return postgres.RunMigrations(databaseURL, path, log)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	cmd.Flags().StringVar(&path, "path", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration")

	return cmd
}

func reportQuery(start, end, schoolYear string) url.Values {
	q := url.Values{}
	if start != "" {
		q.Set("start_date", start)
	}
	if end != "" {
		q.Set("end_date", end)
	}
	if schoolYear != "" {
		q.Set("school_year_id", schoolYear)
	}
	return q
}

func (o *options) get(cmd *cobra.Command, path string, query url.Values, print func(io.Writer, []byte) error) error {
	target := strings.TrimRight(o.baseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	return o.do(cmd, req, print)
}

func (o *options) post(cmd *cobra.Command, path string, body any, idempotencyKey string, print func(io.Writer, []byte) error) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(o.baseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return o.do(cmd, req, print)
}

func (o *options) do(cmd *cobra.Command, req *http.Request, print func(io.Writer, []byte) error) error {
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	} else {
		if o.schoolID == "" {
			return fmt.Errorf("--school is required when no --token is given")
		}
		req.Header.Set("X-School-ID", o.schoolID)
		req.Header.Set("X-User-ID", o.userID)
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string            `json:"error"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg := fmt.Sprintf("%s (status %d): %s", apiErr.Error, resp.StatusCode, apiErr.Message)
			for field, rule := range apiErr.Details {
				msg += fmt.Sprintf("\n  %s: %s", field, rule)
			}
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return print(cmd.OutOrStdout(), body)
}

func printRecord(w io.Writer, body []byte) error {
	var r map[string]any
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range []string{"id", "student_id", "status", "currency", "amount_due", "amount_paid", "remaining", "version"} {
		fmt.Fprintf(tw, "%s:\t%v\n", k, r[k])
	}
	return tw.Flush()
}

func printPayment(w io.Writer, body []byte) error {
	var p struct {
		BillingRecord map[string]any `json:"billing_record"`
		Transaction   map[string]any `json:"transaction"`
		Unapplied     *string        `json:"unapplied"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Fprintf(w, "Payment %v recorded: %v %v\n", p.Transaction["id"], p.Transaction["amount"], p.Transaction["currency"])
	fmt.Fprintf(w, "Record %v is %v (paid %v of %v)\n",
		p.BillingRecord["id"], p.BillingRecord["status"], p.BillingRecord["amount_paid"], p.BillingRecord["amount_due"])
	if p.Unapplied != nil {
		fmt.Fprintf(w, "Unapplied: %s\n", *p.Unapplied)
	}
	return nil
}

func printMetrics(w io.Writer, body []byte) error {
	var m domain.BillingMetrics
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	writeMetrics(w, &m)
	return nil
}

func writeMetrics(w io.Writer, m *domain.BillingMetrics) {
	fmt.Fprintf(w, "School %s: %d records (%d unpaid, %d partially paid, %d paid)\n",
		m.SchoolID, m.RecordCount, m.UnpaidCount, m.PartiallyPaidCount, m.PaidCount)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CURRENCY\tDUE\tPAID\tOUTSTANDING\tCOLLECTED")
	for _, t := range m.Totals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\n",
			t.Currency, t.TotalDue.Decimal(), t.TotalPaid.Decimal(), t.Outstanding.Decimal(), float64(t.CollectionRateBps)/100)
	}
	tw.Flush()
}

func printDashboard(w io.Writer, body []byte) error {
	var d domain.DashboardData
	if err := json.Unmarshal(body, &d); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	writeMetrics(w, &d.BillingMetrics)

	for _, c := range d.Collected {
		fmt.Fprintf(w, "\nCollected %s %s in %d payments\n", c.Total.Decimal(), c.Currency, c.Count)
		for _, m := range c.ByMethod {
			fmt.Fprintf(w, "  %-14s %s\n", m.Method, m.Amount.Decimal())
		}
	}

	if len(d.RecentPayments) > 0 {
		fmt.Fprintln(w, "\nRecent payments:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, p := range d.RecentPayments {
			fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\n",
				p.PaidAt.Format(time.RFC3339), truncate(p.BillingRecordID, 12), p.Amount.Decimal(), p.Amount.Currency, p.Method)
		}
		tw.Flush()
	}

	return nil
}

func printReconciliation(w io.Writer, body []byte) error {
	var r struct {
		BillingRecordID string        `json:"billing_record_id"`
		Issue           string        `json:"issue"`
		RecordedPaid    domain.Amount `json:"recorded_paid"`
		LedgerTotal     domain.Amount `json:"ledger_total"`
		IsReconciled    bool          `json:"is_reconciled"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if r.IsReconciled {
		fmt.Fprintf(w, "Reconciliation PASSED for %s: %s recorded\n", r.BillingRecordID, r.RecordedPaid)
		return nil
	}

	fmt.Fprintf(w, "Reconciliation FAILED for %s: recorded %s, ledger %s\n", r.BillingRecordID, r.RecordedPaid, r.LedgerTotal)
	if r.Issue != "" {
		fmt.Fprintf(w, "Issue: %s\n", r.Issue)
	}
	return fmt.Errorf("billing record %s is not reconciled", r.BillingRecordID)
}

func printSchoolReconciliation(w io.Writer, body []byte) error {
	var r struct {
		SchoolID          string `json:"school_id"`
		TotalRecords      int    `json:"total_records"`
		ReconciledRecords int    `json:"reconciled_records"`
		Discrepancies     []struct {
			BillingRecordID string `json:"billing_record_id"`
			Issue           string `json:"issue"`
		} `json:"discrepancies"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Fprintf(w, "School %s: %d of %d records reconciled\n", r.SchoolID, r.ReconciledRecords, r.TotalRecords)
	for _, d := range r.Discrepancies {
		fmt.Fprintf(w, "  %s: %s\n", d.BillingRecordID, d.Issue)
	}

	if len(r.Discrepancies) > 0 {
		return fmt.Errorf("%d discrepancies found", len(r.Discrepancies))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
