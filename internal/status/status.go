// Package status composes every collector into the snapshot rendered by
// the status page and /api/status.
package status

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nodestatus/internal/logx"
	"nodestatus/internal/model"
	"nodestatus/internal/notes"
)

type ChainCollector interface {
	Collect(ctx context.Context) model.Result[model.ChainSnapshot]
}

type NodeCollector interface {
	Collect(ctx context.Context) model.Result[model.NodeSnapshot]
}

type SystemCollector interface {
	Collect(ctx context.Context) model.Result[model.SystemSnapshot]
}

type FeeResolver interface {
	Resolve(ctx context.Context) model.FeeQuote
}

type ForwardAggregator interface {
	Aggregate(ctx context.Context, windowDays, topN int) (model.AggregationReport, error)
}

type ProfitSource interface {
	Summary(ctx context.Context) (model.ProfitSummary, error)
}

// Snapshot is one complete status response. Sections that could not be
// produced carry their reason instead of a value.
type Snapshot struct {
	RequestID   string                                `json:"request_id,omitempty"`
	GeneratedAt time.Time                             `json:"generated_at"`
	Chain       model.Result[model.ChainSnapshot]     `json:"bitcoind"`
	Node        model.Result[model.NodeSnapshot]      `json:"lnd"`
	System      model.Result[model.SystemSnapshot]    `json:"system_info"`
	Fees        model.FeeQuote                        `json:"fee_info"`
	Forwards    model.Result[model.AggregationReport] `json:"forwards"`
	Profit      model.Result[model.ProfitSummary]     `json:"profit"`
	Message     notes.Message                         `json:"message"`
}

// Deps are the collectors a Composer joins. Profit may be nil when no
// analytics database is configured.
type Deps struct {
	Chain    ChainCollector
	Node     NodeCollector
	System   SystemCollector
	Fees     FeeResolver
	Forwards ForwardAggregator
	Profit   ProfitSource
}

// Options set the forwarding window and message file used for every
// snapshot.
type Options struct {
	WindowDays  int
	TopN        int
	MessagePath string
	Clock       clock.Clock
}

type Composer struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

func NewComposer(deps Deps, opts Options, log *zap.Logger) *Composer {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Composer{deps: deps, opts: opts, log: logx.OrNop(log).Named("status")}
}

// Compose runs every collector concurrently and waits for all of them.
// Each collector bounds its own calls, so the slowest one sets the latency.
func (c *Composer) Compose(ctx context.Context) Snapshot {
	snap := Snapshot{GeneratedAt: c.opts.Clock.Now().UTC()}

	var g errgroup.Group
	g.Go(func() error {
		snap.Chain = c.deps.Chain.Collect(ctx)
		return nil
	})
	g.Go(func() error {
		snap.Node = c.deps.Node.Collect(ctx)
		return nil
	})
	g.Go(func() error {
		snap.System = c.deps.System.Collect(ctx)
		return nil
	})
	g.Go(func() error {
		snap.Fees = c.deps.Fees.Resolve(ctx)
		return nil
	})
	g.Go(func() error {
		report, err := c.deps.Forwards.Aggregate(ctx, c.opts.WindowDays, c.opts.TopN)
		if err != nil {
			c.log.Warn("forwarding aggregation failed", zap.Error(err))
			snap.Forwards = model.Failed[model.AggregationReport](err.Error())
			return nil
		}
		snap.Forwards = model.Ok(report)
		return nil
	})
	g.Go(func() error {
		snap.Profit = c.profit(ctx)
		return nil
	})
	g.Go(func() error {
		msg, err := notes.ReadMessage(c.opts.MessagePath)
		if err != nil {
			c.log.Warn("message unavailable", zap.Error(err))
			msg = notes.Message{Text: notes.NoMessage, HTML: notes.NoMessage}
		}
		snap.Message = msg
		return nil
	})
	_ = g.Wait()

	return snap
}

func (c *Composer) profit(ctx context.Context) model.Result[model.ProfitSummary] {
	if c.deps.Profit == nil {
		return model.Failed[model.ProfitSummary]("analytics store not configured")
	}
	summary, err := c.deps.Profit.Summary(ctx)
	if err != nil {
		c.log.Info("profit summary unavailable", zap.Error(err))
		return model.Failed[model.ProfitSummary](err.Error())
	}
	return model.Ok(summary)
}
