// Package server serves the status page and the JSON API.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nodestatus/internal/config"
	"nodestatus/internal/invoice"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/status"
)

//go:embed templates/status.html
var templates embed.FS

const (
	maxBodyBytes    = 64 << 10
	requestIDHeader = "X-Request-ID"
)

type Composer interface {
	Compose(ctx context.Context) status.Snapshot
}

type Invoices interface {
	Decode(ctx context.Context, payReq string) (invoice.Decoded, error)
	Create(ctx context.Context, amount btcutil.Amount, memo string) (invoice.Created, error)
	Lookup(ctx context.Context, rHash string) (invoice.Invoice, error)
	Pay(ctx context.Context, payReq string) error
}

// Deps are the services behind the routes. Profit may be nil.
type Deps struct {
	Composer Composer
	Forwards status.ForwardAggregator
	Fees     status.FeeResolver
	Profit   status.ProfitSource
	Invoices Invoices
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Version  string
}

// Server provides the HTTP API.
type Server struct {
	cfg     config.Config
	deps    Deps
	page    *template.Template
	limiter *rate.Limiter
	log     *zap.Logger

	http *http.Server
	addr net.Addr
}

// New constructs a server. It does not listen until Start.
func New(cfg config.Config, deps Deps) (*Server, error) {
	page, err := template.New("status.html").Funcs(template.FuncMap{
		"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
		"sat": func(a btcutil.Amount) string { return fmt.Sprintf("%d sat", int64(a)) },
		"gib": func(b uint64) string { return fmt.Sprintf("%.1f GiB", float64(b)/(1<<30)) },
	}).ParseFS(templates, "templates/status.html")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	limit := rate.Limit(cfg.Server.RateLimit)
	if cfg.Server.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		page:    page,
		limiter: rate.NewLimiter(limit, max(cfg.Server.RateBurst, 1)),
		log:     logx.OrNop(deps.Log).Named("server"),
	}, nil
}

// Handler returns the routed handler with request IDs, rate limiting and
// metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/status", s.wrap("/status", true, s.handleStatusPage))
	mux.Handle("/api/status", s.wrap("/api/status", true, s.handleStatus))
	mux.Handle("/api/forwards", s.wrap("/api/forwards", true, s.handleForwards))
	mux.Handle("/api/fees", s.wrap("/api/fees", true, s.handleFees))
	mux.Handle("/api/profit", s.wrap("/api/profit", true, s.handleProfit))
	mux.Handle("/api/logs", s.wrap("/api/logs", true, s.handleLogs))
	mux.Handle("/decode-invoice", s.wrap("/decode-invoice", true, s.handleDecodeInvoice))
	mux.Handle("/create-invoice", s.wrap("/create-invoice", true, s.handleCreateInvoice))
	mux.Handle("/lookup-invoice", s.wrap("/lookup-invoice", true, s.handleLookupInvoice))
	mux.Handle("/pay-invoice", s.wrap("/pay-invoice", true, s.handlePayInvoice))
	mux.Handle("/healthz", s.wrap("/healthz", false, s.handleHealth))
	mux.Handle("/metrics", s.deps.Metrics.Handler())
	mux.Handle("/", s.wrap("/", false, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/status", http.StatusFound)
			return
		}
		writeJSONError(w, http.StatusNotFound, "not found")
	}))
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
	}
	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	tlsOn := s.cfg.Server.TLSCert != ""
	s.log.Info("listening", zap.String("addr", s.addr.String()), zap.Bool("tls", tlsOn))
	go func() {
		var err error
		if tlsOn {
			err = s.http.ServeTLS(ln, s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			err = s.http.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) wrap(route string, limited bool, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		if limited && !s.limiter.Allow() {
			writeJSONError(rec, http.StatusTooManyRequests, "rate limit exceeded")
		} else {
			h(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		}

		s.deps.Metrics.HTTPRequest(route, rec.status)
		s.log.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
