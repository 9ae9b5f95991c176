// Package feequote resolves recommended on-chain fee rates from an ordered
// list of remote sources, falling back to a static quote.
package feequote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"nodestatus/internal/config"
	"nodestatus/internal/jsonx"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
)

// Provenance tags.
const (
	SourcePrimary  = "primary"
	SourceMirror   = "mirror"
	SourceTor      = "tor"
	SourceFallback = "fallback"
)

// ErrUpstreamUnavailable marks a tier that answered badly or not at all.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

const (
	maxBody           = 64 << 10
	proxyDialTimeout  = 500 * time.Millisecond
	defaultTimeout    = 5 * time.Second
	defaultTorTimeout = 10 * time.Second
)

// Fallback is served when every remote tier fails.
var Fallback = model.FeeQuote{
	Fastest:  20,
	HalfHour: 15,
	Hour:     10,
	Economy:  5,
	Minimum:  1,
	Source:   SourceFallback,
}

type tier struct {
	name    string
	url     string
	timeout time.Duration
	client  *http.Client
}

// Resolver walks primary, mirror and Tor tiers in order. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	primary  tier
	mirror   tier
	tor      *tier
	torProxy string

	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

type Option func(*Resolver)

func WithClock(c clock.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.primary.client = c
		r.mirror.client = c
	}
}

func NewResolver(cfg config.Config, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Resolver {
	timeout := config.Duration(cfg.Fees.Timeout, defaultTimeout)
	r := &Resolver{
		primary:  tier{name: SourcePrimary, url: cfg.Fees.PrimaryURL, timeout: timeout, client: http.DefaultClient},
		mirror:   tier{name: SourceMirror, url: cfg.Fees.MirrorURL, timeout: timeout, client: http.DefaultClient},
		torProxy: cfg.Fees.TorProxy,
		clock:    clock.New(),
		metrics:  m,
		log:      logx.OrNop(log).Named("feequote"),
	}
	if client, ok := socksClient(cfg.Fees.OnionURL, cfg.Fees.TorProxy); ok {
		r.tor = &tier{
			name:    SourceTor,
			url:     cfg.Fees.OnionURL,
			timeout: config.Duration(cfg.Fees.TorTimeout, defaultTorTimeout),
			client:  client,
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// socksClient builds the HTTP client for the onion tier. Connections are
// not pooled: each request opens and closes its own SOCKS circuit.
func socksClient(onionURL, torProxy string) (*http.Client, bool) {
	if onionURL == "" || torProxy == "" || strings.EqualFold(torProxy, "off") {
		return nil, false
	}
	socks, err := proxy.SOCKS5("tcp", torProxy, nil, proxy.Direct)
	if err != nil {
		return nil, false
	}
	cd, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, false
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:       cd.DialContext,
			DisableKeepAlives: true,
		},
	}, true
}

// Resolve returns the first quote a tier produces, or Fallback. It never
// fails.
func (r *Resolver) Resolve(ctx context.Context) model.FeeQuote {
	for _, t := range []tier{r.primary, r.mirror} {
		if t.url == "" {
			continue
		}
		if q, ok := r.try(ctx, t); ok {
			return q
		}
	}
	if r.tor != nil && r.torReachable(ctx) {
		if q, ok := r.try(ctx, *r.tor); ok {
			return q
		}
	}

	q := Fallback
	q.FetchedAt = r.clock.Now().UTC()
	r.metrics.FeeQuoteServed(SourceFallback)
	return q
}

func (r *Resolver) try(ctx context.Context, t tier) (model.FeeQuote, bool) {
	if ctx.Err() != nil {
		return model.FeeQuote{}, false
	}
	q, err := r.fetch(ctx, t)
	if err != nil {
		r.log.Info("fee source failed", zap.String("source", t.name), zap.Error(err))
		return model.FeeQuote{}, false
	}
	r.metrics.FeeQuoteServed(t.name)
	return q, true
}

// torReachable reports whether the SOCKS proxy accepts connections. It is
// only consulted once the clearnet tiers have failed.
func (r *Resolver) torReachable(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, proxyDialTimeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "tcp", r.torProxy)
	if err != nil {
		r.metrics.ObserveCall(SourceTor, metrics.OutcomeSkipped, 0)
		r.log.Debug("tor proxy unreachable", zap.String("proxy", r.torProxy), zap.Error(err))
		return false
	}
	_ = conn.Close()
	return true
}

func (r *Resolver) fetch(ctx context.Context, t tier) (model.FeeQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := r.clock.Now()
	q, err := r.get(ctx, t)
	elapsed := r.clock.Since(start)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
	}
	r.metrics.ObserveCall("fees_"+t.name, outcome, elapsed)
	return q, err
}

func (r *Resolver) get(ctx context.Context, t tier) (model.FeeQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return model.FeeQuote{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return model.FeeQuote{}, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, t.name, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return model.FeeQuote{}, fmt.Errorf("%w: %s: %s", ErrUpstreamUnavailable, t.name, res.Status)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return model.FeeQuote{}, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, t.name, err)
	}

	q, err := parse(string(body))
	if err != nil {
		return model.FeeQuote{}, fmt.Errorf("%s: %w", t.name, err)
	}
	q.Source = t.name
	q.FetchedAt = r.clock.Now().UTC()
	return q, nil
}

// parse reads a mempool.space recommended-fees document. Every tier must be
// present and fastest must be positive.
func parse(body string) (model.FeeQuote, error) {
	doc, err := jsonx.Parse(body)
	if err != nil {
		return model.FeeQuote{}, err
	}
	fields := []string{"fastestFee", "halfHourFee", "hourFee", "economyFee", "minimumFee"}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v := doc.Get(f)
		if v.Type != gjson.Number {
			return model.FeeQuote{}, fmt.Errorf("%w: missing %q", jsonx.ErrMalformedResponse, f)
		}
		values[i] = v.Float()
	}
	if values[0] <= 0 {
		return model.FeeQuote{}, fmt.Errorf("%w: fastestFee must be positive", jsonx.ErrMalformedResponse)
	}
	return model.FeeQuote{
		Fastest:  values[0],
		HalfHour: values[1],
		Hour:     values[2],
		Economy:  values[3],
		Minimum:  values[4],
	}, nil
}
