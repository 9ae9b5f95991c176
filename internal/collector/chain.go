package collector

import (
	"context"
	"fmt"
	"time"

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
	chainName = "chain"
	// DefaultCallTimeout bounds each daemon sub-query.
	DefaultCallTimeout = 4 * time.Second
)

// Chain reports bitcoind sync state, peers and version.
type Chain struct {
	cli     backend.Bitcoin
	q       query
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewChain(cfg config.Config, runner execx.Runner, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Chain {
	log = logx.OrNop(log).Named(chainName)
	return &Chain{
		cli:     backend.NewBitcoin(cfg),
		q:       newQuery(runner, config.Duration(cfg.Bitcoin.Timeout, DefaultCallTimeout), "bitcoin-cli", m, log, opts),
		metrics: m,
		log:     log,
	}
}

// Collect runs getblockchaininfo, getpeerinfo and getnetworkinfo. The first
// failing sub-query fails the snapshot and its message becomes the reason.
func (c *Chain) Collect(ctx context.Context) model.Result[model.ChainSnapshot] {
	snap, err := c.collect(ctx)
	if err != nil {
		return failed[model.ChainSnapshot](chainName, err, c.metrics, c.log)
	}
	return model.Ok(snap)
}

func (c *Chain) collect(ctx context.Context) (model.ChainSnapshot, error) {
	chainInfo, err := c.q.run(ctx, c.cli.Command("getblockchaininfo"))
	if err != nil {
		return model.ChainSnapshot{}, fmt.Errorf("getblockchaininfo: %w", err)
	}
	peersInfo, err := c.q.run(ctx, c.cli.Command("getpeerinfo"))
	if err != nil {
		return model.ChainSnapshot{}, fmt.Errorf("getpeerinfo: %w", err)
	}
	peers, err := jsonx.Array(peersInfo, "")
	if err != nil {
		return model.ChainSnapshot{}, fmt.Errorf("getpeerinfo: %w", err)
	}
	netInfo, err := c.q.run(ctx, c.cli.Command("getnetworkinfo"))
	if err != nil {
		return model.ChainSnapshot{}, fmt.Errorf("getnetworkinfo: %w", err)
	}

	return model.ChainSnapshot{
		SyncPercentage: jsonx.Float(chainInfo, "verificationprogress", 0) * 100,
		BlockHeight:    jsonx.Int(chainInfo, "blocks", 0),
		Chain:          jsonx.String(chainInfo, "chain", "unknown"),
		Pruned:         jsonx.Bool(chainInfo, "pruned", false),
		Peers:          len(peers),
		Backend:        c.cli.Label(),
		Version:        jsonx.Int(netInfo, "version", 0),
		Subversion:     jsonx.String(netInfo, "subversion", "unknown"),
	}, nil
}
