// Package invoice exposes the lncli invoice commands used by the status
// page: decode, create, lookup and pay.
package invoice

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"go.uber.org/zap"

	"nodestatus/internal/backend"
	"nodestatus/internal/config"
	"nodestatus/internal/execx"
	"nodestatus/internal/jsonx"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
)

// ErrInvalidInput marks a request that was rejected before reaching lncli.
var ErrInvalidInput = errors.New("invalid input")

const (
	// payTimeout covers route finding and HTLC settlement.
	payTimeout = 60 * time.Second
	// maxMemo matches lnd's description limit.
	maxMemo = 639
)

type Decoded struct {
	Amount      btcutil.Amount `json:"amount"`
	Message     string         `json:"message"`
	Destination string         `json:"destination,omitempty"`
	Expiry      int64          `json:"expiry,omitempty"`
}

type Created struct {
	PaymentRequest string `json:"payment_request"`
	RHash          string `json:"r_hash"`
	AddIndex       int64  `json:"add_index,omitempty"`
}

type Invoice struct {
	Memo     string         `json:"memo"`
	Value    btcutil.Amount `json:"value"`
	AmtPaid  btcutil.Amount `json:"amt_paid_sat"`
	State    string         `json:"state"`
	Settled  bool           `json:"settled"`
	Creation int64          `json:"creation_date"`
}

type Service struct {
	cli     backend.Lightning
	runner  execx.Runner
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewService(cfg config.Config, runner execx.Runner, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		cli:     backend.NewLightning(cfg),
		runner:  runner,
		timeout: config.Duration(cfg.Lightning.Timeout, 4*time.Second),
		metrics: m,
		log:     logx.OrNop(log).Named("invoice"),
	}
}

// Decode reads the amount and description of a BOLT11 payment request.
func (s *Service) Decode(ctx context.Context, payReq string) (Decoded, error) {
	payReq, err := checkPayReq(payReq)
	if err != nil {
		return Decoded{}, err
	}
	out, err := s.run(ctx, s.timeout, "decodepayreq", payReq)
	if err != nil {
		return Decoded{}, fmt.Errorf("decodepayreq: %w", err)
	}
	doc, err := jsonx.Parse(out)
	if err != nil {
		return Decoded{}, fmt.Errorf("decodepayreq: %w", err)
	}
	return Decoded{
		Amount:      btcutil.Amount(jsonx.Int(doc, "num_satoshis", 0)),
		Message:     jsonx.String(doc, "description", "No message"),
		Destination: jsonx.String(doc, "destination", ""),
		Expiry:      jsonx.Int(doc, "expiry", 0),
	}, nil
}

// Create adds an invoice for amount with an optional memo.
func (s *Service) Create(ctx context.Context, amount btcutil.Amount, memo string) (Created, error) {
	if amount <= 0 {
		return Created{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if len(memo) > maxMemo {
		return Created{}, fmt.Errorf("%w: memo longer than %d bytes", ErrInvalidInput, maxMemo)
	}
	args := []string{"addinvoice", "--amt", strconv.FormatInt(int64(amount), 10)}
	if memo != "" {
		args = append(args, "--memo", memo)
	}
	out, err := s.run(ctx, s.timeout, args...)
	if err != nil {
		return Created{}, fmt.Errorf("addinvoice: %w", err)
	}
	doc, err := jsonx.Parse(out)
	if err != nil {
		return Created{}, fmt.Errorf("addinvoice: %w", err)
	}
	payReq, err := jsonx.RequireString(doc, "payment_request")
	if err != nil {
		return Created{}, fmt.Errorf("addinvoice: %w", err)
	}
	return Created{
		PaymentRequest: payReq,
		RHash:          jsonx.String(doc, "r_hash", ""),
		AddIndex:       jsonx.Int(doc, "add_index", 0),
	}, nil
}

// Lookup returns the state of the invoice with the given hex payment hash.
func (s *Service) Lookup(ctx context.Context, rHash string) (Invoice, error) {
	rHash = strings.TrimSpace(rHash)
	if b, err := hex.DecodeString(rHash); err != nil || len(b) != 32 {
		return Invoice{}, fmt.Errorf("%w: r_hash must be 32 bytes of hex", ErrInvalidInput)
	}
	out, err := s.run(ctx, s.timeout, "lookupinvoice", rHash)
	if err != nil {
		return Invoice{}, fmt.Errorf("lookupinvoice: %w", err)
	}
	doc, err := jsonx.Parse(out)
	if err != nil {
		return Invoice{}, fmt.Errorf("lookupinvoice: %w", err)
	}
	state := jsonx.String(doc, "state", "")
	return Invoice{
		Memo:     jsonx.String(doc, "memo", ""),
		Value:    btcutil.Amount(jsonx.Int(doc, "value", 0)),
		AmtPaid:  btcutil.Amount(jsonx.Int(doc, "amt_paid_sat", 0)),
		State:    state,
		Settled:  jsonx.Bool(doc, "settled", state == "SETTLED"),
		Creation: jsonx.Int(doc, "creation_date", 0),
	}, nil
}

// Pay sends a payment without interactive confirmation.
func (s *Service) Pay(ctx context.Context, payReq string) error {
	payReq, err := checkPayReq(payReq)
	if err != nil {
		return err
	}
	if _, err := s.run(ctx, payTimeout, "payinvoice", "--force", payReq); err != nil {
		return fmt.Errorf("payinvoice: %w", err)
	}
	s.log.Info("invoice paid")
	return nil
}

func (s *Service) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	start := time.Now()
	out, err := s.runner.Output(ctx, timeout, s.cli.Command(args...)...)
	outcome := metrics.OutcomeOK
	switch {
	case execx.IsKind(err, execx.KindTimeout):
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeError
	}
	s.metrics.ObserveCall("lncli", outcome, time.Since(start))
	return out, err
}

func checkPayReq(payReq string) (string, error) {
	payReq = strings.TrimSpace(payReq)
	if payReq == "" {
		return "", fmt.Errorf("%w: missing payment request", ErrInvalidInput)
	}
	if !strings.HasPrefix(strings.ToLower(payReq), "ln") {
		return "", fmt.Errorf("%w: not a lightning payment request", ErrInvalidInput)
	}
	return payReq, nil
}
