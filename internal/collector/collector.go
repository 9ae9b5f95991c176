// Package collector turns external tools and host APIs into typed
// snapshots. Collectors never return an error: every failure is folded into
// a model.Result so one broken source cannot blank the status page.
package collector

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"nodestatus/internal/execx"
	"nodestatus/internal/jsonx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
)

// query runs one daemon command and parses its JSON output.
type query struct {
	runner  execx.Runner
	timeout time.Duration
	source  string
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

// Option configures the chain and node collectors.
type Option func(*query)

// WithClock sets the clock used to time external calls.
func WithClock(c clock.Clock) Option {
	return func(q *query) { q.clock = c }
}

func newQuery(runner execx.Runner, timeout time.Duration, source string, m *metrics.Metrics, log *zap.Logger, opts []Option) query {
	q := query{
		runner:  runner,
		timeout: timeout,
		source:  source,
		clock:   clock.New(),
		metrics: m,
		log:     log,
	}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

func (q query) run(ctx context.Context, command []string) (gjson.Result, error) {
	start := q.clock.Now()
	out, err := q.runner.Output(ctx, q.timeout, command...)
	elapsed := q.clock.Since(start)
	if err != nil {
		outcome := metrics.OutcomeError
		if execx.IsKind(err, execx.KindTimeout) {
			outcome = metrics.OutcomeTimeout
		}
		q.metrics.ObserveCall(q.source, outcome, elapsed)
		return gjson.Result{}, err
	}
	q.metrics.ObserveCall(q.source, metrics.OutcomeOK, elapsed)
	q.log.Debug("external call", zap.String("command", execx.Redact(command)), zap.Duration("duration", elapsed))
	return jsonx.Parse(out)
}

// failed logs and counts a collector failure and returns its Result form.
func failed[T any](name string, err error, m *metrics.Metrics, log *zap.Logger) model.Result[T] {
	m.CollectorFailed(name)
	log.Warn("collector failed", zap.String("collector", name), zap.Error(err))
	return model.Failed[T](err.Error())
}
