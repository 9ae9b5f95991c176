// Package forwards ranks routing counterparties by the fees they earned the
// node over a window of lnd forwarding history.
package forwards

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"nodestatus/internal/backend"
	"nodestatus/internal/config"
	"nodestatus/internal/execx"
	"nodestatus/internal/jsonx"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
)

const (
	// DefaultWindowDays replaces any window outside [MinWindowDays, MaxWindowDays].
	DefaultWindowDays = 30
	MinWindowDays     = 1
	MaxWindowDays     = 365
	DefaultTopN       = 10

	// aliasLookupFailed prefixes the alias lnd reports when it could not
	// resolve the peer.
	aliasLookupFailed = "unable to lookup peer alias"

	secondsPerDay = 86400
	msatPerSat    = 1000
)

// Event is one forwarding record reduced to the fields that are ranked.
type Event struct {
	Alias      string
	FeeMsat    int64
	AmtOutMsat int64
}

// Aggregator queries fwdinghistory and ranks aliases. It keeps no state
// between calls.
type Aggregator struct {
	cli       backend.Lightning
	runner    execx.Runner
	timeout   time.Duration
	maxEvents int
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger
}

type Option func(*Aggregator)

func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

func NewAggregator(cfg config.Config, runner execx.Runner, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Aggregator {
	maxEvents := cfg.Forwards.MaxEvents
	if maxEvents <= 0 {
		maxEvents = config.DefaultMaxEvents
	}
	a := &Aggregator{
		cli:       backend.NewLightning(cfg),
		runner:    runner,
		timeout:   config.Duration(cfg.Forwards.Timeout, 20*time.Second),
		maxEvents: maxEvents,
		clock:     clock.New(),
		metrics:   m,
		log:       logx.OrNop(log).Named("forwards"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate fetches events for the last windowDays days and ranks the
// counterparties. The only error is a failed or unreadable event query.
func (a *Aggregator) Aggregate(ctx context.Context, windowDays, topN int) (model.AggregationReport, error) {
	windowDays = ClampWindow(windowDays)
	if topN < 1 {
		topN = DefaultTopN
	}

	now := a.clock.Now().UTC()
	end := now.Unix()
	start := end - int64(windowDays)*secondsPerDay

	report := model.AggregationReport{
		WindowDays:  windowDays,
		GeneratedAt: now,
		StartTime:   time.Unix(start, 0).UTC(),
		EndTime:     time.Unix(end, 0).UTC(),
		Top:         []model.PeerAggregate{},
		Low:         []model.PeerAggregate{},
	}

	events, total, err := a.fetch(ctx, start, end)
	if err != nil {
		return model.AggregationReport{}, fmt.Errorf("fwdinghistory: %w", err)
	}
	a.metrics.ForwardingEvents(total)
	report.TotalEvents = total
	if total == 0 {
		return report, nil
	}

	report.Top, report.Low, report.TotalFeesSat = Rank(events, topN)
	a.log.Debug("forwarding history aggregated",
		zap.Int("window_days", windowDays),
		zap.Int("events", total),
		zap.Int("aliases", len(report.Top)),
	)
	return report, nil
}

func (a *Aggregator) fetch(ctx context.Context, start, end int64) ([]Event, int, error) {
	cmd := a.cli.Command("fwdinghistory",
		"--start_time", strconv.FormatInt(start, 10),
		"--end_time", strconv.FormatInt(end, 10),
		"--max_events", strconv.Itoa(a.maxEvents),
	)

	began := a.clock.Now()
	out, err := a.runner.Output(ctx, a.timeout, cmd...)
	outcome := metrics.OutcomeOK
	switch {
	case execx.IsKind(err, execx.KindTimeout):
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeError
	}
	a.metrics.ObserveCall("lncli", outcome, a.clock.Since(began))
	if err != nil {
		return nil, 0, err
	}

	doc, err := jsonx.Parse(out)
	if err != nil {
		return nil, 0, err
	}
	return ParseEvents(doc)
}

// ParseEvents reads the forwarding_events array. An absent or null array
// is zero events. Records are kept even when their alias is unusable so the
// caller can count them.
func ParseEvents(doc gjson.Result) ([]Event, int, error) {
	raw := doc.Get("forwarding_events")
	if !raw.Exists() || raw.Type == gjson.Null {
		return nil, 0, nil
	}
	items, err := jsonx.Array(doc, "forwarding_events")
	if err != nil {
		return nil, 0, err
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var amt int64
		if v := item.Get("amt_out_msat"); v.Exists() && v.Type != gjson.Null {
			amt = v.Int()
		} else {
			// Older lnd only reports the sat amount.
			amt = jsonx.Int(item, "amt_out", 0) * msatPerSat
		}
		events = append(events, Event{
			Alias:      jsonx.String(item, "peer_alias_out", ""),
			FeeMsat:    nonNegative(jsonx.Int(item, "fee_msat", 0)),
			AmtOutMsat: nonNegative(amt),
		})
	}
	return events, len(items), nil
}

// ValidAlias reports whether alias names a real counterparty.
func ValidAlias(alias string) bool {
	trimmed := strings.TrimSpace(alias)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, aliasLookupFailed) {
		return false
	}
	switch strings.ToLower(trimmed) {
	case "unknown", "unnamed":
		return false
	}
	return true
}

type accumulator struct {
	alias   string
	feeMsat int64
	amtMsat int64
	events  int
}

// Rank groups events by exact alias, drops aliases that earned nothing and
// orders the rest by fee. top holds the topN best earners; low holds the
// topN weakest, weakest first. The two lists may overlap.
func Rank(events []Event, topN int) (top, low []model.PeerAggregate, totalFeesSat int64) {
	if topN < 1 {
		topN = DefaultTopN
	}

	index := map[string]int{}
	var accs []*accumulator
	for _, ev := range events {
		if !ValidAlias(ev.Alias) {
			continue
		}
		i, ok := index[ev.Alias]
		if !ok {
			i = len(accs)
			index[ev.Alias] = i
			accs = append(accs, &accumulator{alias: ev.Alias})
		}
		acc := accs[i]
		acc.feeMsat += ev.FeeMsat
		acc.amtMsat += ev.AmtOutMsat
		acc.events++
	}

	ranked := make([]model.PeerAggregate, 0, len(accs))
	for _, acc := range accs {
		fees := acc.feeMsat / msatPerSat
		if fees <= 0 {
			continue
		}
		ranked = append(ranked, model.PeerAggregate{
			Alias:        acc.alias,
			FeesSat:      fees,
			AmountOutSat: acc.amtMsat / msatPerSat,
			Events:       acc.events,
		})
		totalFeesSat += fees
	}

	top = []model.PeerAggregate{}
	low = []model.PeerAggregate{}
	if len(ranked) == 0 {
		return top, low, 0
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FeesSat > ranked[j].FeesSat
	})

	n := min(topN, len(ranked))
	top = append(top, ranked[:n]...)
	for i := len(ranked) - 1; i >= len(ranked)-n; i-- {
		low = append(low, ranked[i])
	}
	return top, low, totalFeesSat
}

// ClampWindow maps windows outside [MinWindowDays, MaxWindowDays] to
// DefaultWindowDays.
func ClampWindow(days int) int {
	if days < MinWindowDays || days > MaxWindowDays {
		return DefaultWindowDays
	}
	return days
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
