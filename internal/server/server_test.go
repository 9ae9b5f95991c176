package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodestatus/internal/analytics"
	"nodestatus/internal/api"
	"nodestatus/internal/config"
	"nodestatus/internal/invoice"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
	"nodestatus/internal/notes"
	"nodestatus/internal/status"
)

type fakeComposer struct{}

func (fakeComposer) Compose(context.Context) status.Snapshot {
	cpu := 12.5
	return status.Snapshot{
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Chain:       model.Ok(model.ChainSnapshot{Chain: "main", BlockHeight: 850000, SyncPercentage: 100}),
		Node:        model.Ok(model.NodeSnapshot{Alias: "satoshi-node", TotalBalance: btcutil.Amount(1500)}),
		System:      model.Ok(model.SystemSnapshot{CPUPercent: &cpu}),
		Fees:        model.FeeQuote{Fastest: 20, Source: "fallback"},
		Forwards:    model.Failed[model.AggregationReport]("fwdinghistory: timeout"),
		Profit:      model.Failed[model.ProfitSummary]("analytics store unavailable"),
		Message:     notes.Message{Text: notes.NoMessage, HTML: notes.NoMessage},
	}
}

type fakeForwards struct {
	err       error
	days, top int
}

func (f *fakeForwards) Aggregate(_ context.Context, days, top int) (model.AggregationReport, error) {
	f.days, f.top = days, top
	if f.err != nil {
		return model.AggregationReport{}, f.err
	}
	return model.AggregationReport{
		WindowDays: days,
		Top:        []model.PeerAggregate{{Alias: "A", FeesSat: 5, Events: 2}},
		Low:        []model.PeerAggregate{{Alias: "A", FeesSat: 5, Events: 2}},
	}, nil
}

type fakeFees struct{}

func (fakeFees) Resolve(context.Context) model.FeeQuote {
	return model.FeeQuote{Fastest: 12, HalfHour: 10, Hour: 8, Economy: 4, Minimum: 1, Source: "primary"}
}

type fakeProfit struct{ err error }

func (f fakeProfit) Summary(context.Context) (model.ProfitSummary, error) {
	if f.err != nil {
		return model.ProfitSummary{}, f.err
	}
	return model.ProfitSummary{Year: 2024, YearToDate: model.FeeTotals{NetProfitSat: 42}}, nil
}

type fakeInvoices struct {
	payErr error
}

func (fakeInvoices) Decode(_ context.Context, payReq string) (invoice.Decoded, error) {
	if payReq == "" {
		return invoice.Decoded{}, fmt.Errorf("%w: missing payment request", invoice.ErrInvalidInput)
	}
	return invoice.Decoded{Amount: 2100, Message: "coffee"}, nil
}

func (fakeInvoices) Create(_ context.Context, amount btcutil.Amount, memo string) (invoice.Created, error) {
	if amount <= 0 {
		return invoice.Created{}, fmt.Errorf("%w: amount must be positive", invoice.ErrInvalidInput)
	}
	return invoice.Created{PaymentRequest: "lnbc" + memo, RHash: "ab"}, nil
}

func (fakeInvoices) Lookup(context.Context, string) (invoice.Invoice, error) {
	return invoice.Invoice{Memo: "coffee", Value: 2100, AmtPaid: 2100, State: "SETTLED", Settled: true}, nil
}

func (f fakeInvoices) Pay(context.Context, string) error { return f.payErr }

func newTestServer(t *testing.T, mutate func(*config.Config, *Deps)) (*Server, *metrics.Metrics) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.RateLimit = 1000
	cfg.Server.RateBurst = 1000
	m := metrics.New()
	deps := Deps{
		Composer: fakeComposer{},
		Forwards: &fakeForwards{},
		Fees:     fakeFees{},
		Profit:   fakeProfit{},
		Invoices: fakeInvoices{},
		Metrics:  m,
		Version:  "v1.2.3",
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	s, err := New(cfg, deps)
	require.NoError(t, err)
	return s, m
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Header().Get(requestIDHeader)
	require.NotEmpty(t, id)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `"`+id+`"`, string(body["request_id"]))
	assert.JSONEq(t, `{"ok":false,"error":"fwdinghistory: timeout"}`, string(body["forwards"]))
	assert.Contains(t, string(body["bitcoind"]), `"current_block_height":850000`)
}

func TestStatusJSON_KeepsValidRequestID(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(requestIDHeader, "3f1c2b7e-6a0d-4f51-9f0e-2d7a1e6c9b10")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "3f1c2b7e-6a0d-4f51-9f0e-2d7a1e6c9b10", rec.Header().Get(requestIDHeader))
}

func TestStatusPage(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	page := rec.Body.String()
	assert.Contains(t, page, "<title>satoshi-node - Node Status</title>")
	assert.Contains(t, page, "12.5%")
	assert.Contains(t, page, "1500 sat")
	assert.Contains(t, page, "fwdinghistory: timeout")
	assert.Contains(t, page, "v1.2.3")
}

func TestRootRedirects(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/status", rec.Header().Get("Location"))

	rec = do(t, s.Handler(), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForwards(t *testing.T) {
	t.Parallel()

	fwd := &fakeForwards{}
	s, _ := newTestServer(t, func(_ *config.Config, d *Deps) { d.Forwards = fwd })

	rec := do(t, s.Handler(), http.MethodGet, "/api/forwards?days=7&top=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, fwd.days)
	assert.Equal(t, 3, fwd.top)

	var report model.AggregationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 7, report.WindowDays)
	require.Len(t, report.Top, 1)

	rec = do(t, s.Handler(), http.MethodGet, "/api/forwards", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultWindowDays, fwd.days)
	assert.Equal(t, config.DefaultTopN, fwd.top)
}

func TestForwards_Errors(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(_ *config.Config, d *Deps) {
		d.Forwards = &fakeForwards{err: errors.New("fwdinghistory: exit status 1")}
	})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/forwards?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"days must be an integer"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/forwards", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "fwdinghistory")

	rec = do(t, h, http.MethodPost, "/api/forwards", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFees(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/fees", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var q model.FeeQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "primary", q.Source)
	assert.Equal(t, 12.0, q.Fastest)
}

func TestProfit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source status.ProfitSource
		code   int
	}{
		{name: "ok", source: fakeProfit{}, code: http.StatusOK},
		{name: "not configured", source: nil, code: http.StatusServiceUnavailable},
		{name: "missing db", source: fakeProfit{err: fmt.Errorf("%w: no such file", analytics.ErrUnavailable)}, code: http.StatusServiceUnavailable},
		{name: "query error", source: fakeProfit{err: errors.New("no such table: daily_fees")}, code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestServer(t, func(_ *config.Config, d *Deps) { d.Profit = tt.source })
			rec := do(t, s.Handler(), http.MethodGet, "/api/profit", "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestLogs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "node.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	s, _ := newTestServer(t, func(c *config.Config, _ *Deps) { c.Files.LogPath = path })
	rec := do(t, s.Handler(), http.MethodGet, "/api/logs?lines=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.LogsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"two", "three"}, resp.Lines)

	rec = do(t, s.Handler(), http.MethodGet, "/api/logs?lines=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogs_NotConfigured(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvoices(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/decode-invoice", `{"pay_req":"lnbc1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"amount":2100,"message":"coffee"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/decode-invoice", `{"pay_req":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/decode-invoice", `{"pay_req":"lnbc1","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/decode-invoice", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodPost, "/create-invoice", `{"amount_sat":100,"memo":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"payment_request":"lnbcx","r_hash":"ab"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/create-invoice", `{"amount_sat":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/lookup-invoice?r_hash=ab", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"memo":"coffee","value":2100,"amt_paid_sat":2100,"state":"SETTLED","settled":true}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/pay-invoice", `{"pay_req":"lnbc1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestPayInvoice_Failure(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(_ *config.Config, d *Deps) {
		d.Invoices = fakeInvoices{payErr: errors.New("payinvoice: no route")}
	})
	rec := do(t, s.Handler(), http.MethodPost, "/pay-invoice", `{"pay_req":"lnbc1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"payinvoice: no route"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(c *config.Config, _ *Deps) {
		c.Server.RateLimit = 0.001
		c.Server.RateBurst = 1
	})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/fees", "").Code)
	rec := do(t, h, http.MethodGet, "/api/fees", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "").Code)
}

func TestRequestMetrics(t *testing.T) {
	t.Parallel()

	s, m := newTestServer(t, nil)
	h := s.Handler()
	do(t, h, http.MethodGet, "/api/fees", "")
	do(t, h, http.MethodGet, "/api/logs", "")

	n, err := testutil.GatherAndCount(m.Registry(), "nodestatus_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	require.NotEmpty(t, s.Addr())

	health, err := api.NewClient("http://" + s.Addr()).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.HealthResponse{Status: "ok", Version: "v1.2.3"}, health)
}
