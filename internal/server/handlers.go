package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"go.uber.org/zap"

	"nodestatus/internal/analytics"
	"nodestatus/internal/api"
	"nodestatus/internal/invoice"
	"nodestatus/internal/notes"
	"nodestatus/internal/status"
)

type pageData struct {
	Snap    status.Snapshot
	Version string
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.deps.Composer.Compose(r.Context())
	snap.RequestID = RequestID(r.Context())

	// Render into a buffer so a template error can still become a 500.
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, pageData{Snap: snap, Version: s.deps.Version}); err != nil {
		s.log.Error("render status page", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.deps.Composer.Compose(r.Context())
	snap.RequestID = RequestID(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleForwards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	days, err := intParam(r, "days", s.cfg.Forwards.DefaultDays)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	top, err := intParam(r, "top", s.cfg.Forwards.TopN)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.deps.Forwards.Aggregate(r.Context(), days, top)
	if err != nil {
		s.log.Warn("forwarding aggregation failed", zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Fees.Resolve(r.Context()))
}

func (s *Server) handleProfit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Profit == nil {
		writeJSONError(w, http.StatusServiceUnavailable, analytics.ErrUnavailable.Error())
		return
	}
	summary, err := s.deps.Profit.Summary(r.Context())
	switch {
	case errors.Is(err, analytics.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.log.Error("profit summary", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Files.LogPath == "" {
		writeJSONError(w, http.StatusNotFound, "no log file configured")
		return
	}
	n, err := intParam(r, "lines", s.cfg.Files.LogLines)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines, err := notes.Tail(s.cfg.Files.LogPath, n)
	if err != nil {
		s.log.Warn("read log", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.LogsResponse{Lines: lines})
}

func (s *Server) handleDecodeInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.DecodeInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	decoded, err := s.deps.Invoices.Decode(r.Context(), req.PayReq)
	if err != nil {
		s.invoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DecodeInvoiceResponse{
		Amount:  int64(decoded.Amount),
		Message: decoded.Message,
	})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.CreateInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := s.deps.Invoices.Create(r.Context(), btcutil.Amount(req.AmountSat), req.Memo)
	if err != nil {
		s.invoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CreateInvoiceResponse{
		PaymentRequest: created.PaymentRequest,
		RHash:          created.RHash,
	})
}

func (s *Server) handleLookupInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	inv, err := s.deps.Invoices.Lookup(r.Context(), r.URL.Query().Get("r_hash"))
	if err != nil {
		s.invoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LookupInvoiceResponse{
		Memo:       inv.Memo,
		ValueSat:   int64(inv.Value),
		AmtPaidSat: int64(inv.AmtPaid),
		State:      inv.State,
		Settled:    inv.Settled,
	})
}

func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.PayInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.PayInvoiceResponse{Error: "invalid json"})
		return
	}
	if err := s.deps.Invoices.Pay(r.Context(), req.PayReq); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, invoice.ErrInvalidInput) {
			code = http.StatusBadRequest
		} else {
			s.log.Warn("payment failed", zap.Error(err))
		}
		writeJSON(w, code, api.PayInvoiceResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, api.PayInvoiceResponse{Success: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Version: s.deps.Version})
}

func (s *Server) invoiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, invoice.ErrInvalidInput) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Warn("invoice call failed", zap.Error(err))
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}
