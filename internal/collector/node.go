package collector

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"go.uber.org/zap"

	"nodestatus/internal/backend"
	"nodestatus/internal/config"
	"nodestatus/internal/execx"
	"nodestatus/internal/jsonx"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
)

const nodeName = "node"

// Node reports lnd balances, channels, peers and identity.
type Node struct {
	cli     backend.Lightning
	q       query
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewNode(cfg config.Config, runner execx.Runner, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Node {
	log = logx.OrNop(log).Named(nodeName)
	return &Node{
		cli:     backend.NewLightning(cfg),
		q:       newQuery(runner, config.Duration(cfg.Lightning.Timeout, DefaultCallTimeout), "lncli", m, log, opts),
		metrics: m,
		log:     log,
	}
}

func (n *Node) Collect(ctx context.Context) model.Result[model.NodeSnapshot] {
	snap, err := n.collect(ctx)
	if err != nil {
		return failed[model.NodeSnapshot](nodeName, err, n.metrics, n.log)
	}
	return model.Ok(snap)
}

func (n *Node) collect(ctx context.Context) (model.NodeSnapshot, error) {
	wallet, err := n.q.run(ctx, n.cli.Command("walletbalance"))
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("walletbalance: %w", err)
	}
	walletSat, err := jsonx.RequireInt(wallet, "total_balance")
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("walletbalance: %w", err)
	}

	channel, err := n.q.run(ctx, n.cli.Command("channelbalance"))
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("channelbalance: %w", err)
	}
	// "balance" is deprecated upstream; newer lnd reports local_balance.sat.
	channelSat := jsonx.FirstInt(channel, -1, "balance", "local_balance.sat")
	if channelSat < 0 {
		return model.NodeSnapshot{}, fmt.Errorf("channelbalance: %w: missing \"balance\"", jsonx.ErrMalformedResponse)
	}

	channelsOut, err := n.q.run(ctx, n.cli.Command("listchannels"))
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("listchannels: %w", err)
	}
	channels, err := jsonx.Array(channelsOut, "channels")
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("listchannels: %w", err)
	}

	peersOut, err := n.q.run(ctx, n.cli.Command("listpeers"))
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("listpeers: %w", err)
	}
	peers, err := jsonx.Array(peersOut, "peers")
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("listpeers: %w", err)
	}

	info, err := n.q.run(ctx, n.cli.Command("getinfo"))
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("getinfo: %w", err)
	}
	pubKey, err := jsonx.RequireString(info, "identity_pubkey")
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("getinfo: %w", err)
	}

	return model.NodeSnapshot{
		WalletBalance:    btcutil.Amount(walletSat),
		ChannelBalance:   btcutil.Amount(channelSat),
		TotalBalance:     btcutil.Amount(walletSat + channelSat),
		Channels:         len(channels),
		Peers:            len(peers),
		Alias:            jsonx.String(info, "alias", ""),
		Version:          jsonx.String(info, "version", ""),
		PubKey:           pubKey,
		PendingChannels:  jsonx.Int(info, "num_pending_channels", 0),
		ActiveChannels:   jsonx.Int(info, "num_active_channels", 0),
		InactiveChannels: jsonx.Int(info, "num_inactive_channels", 0),
		SyncedToChain:    jsonx.Bool(info, "synced_to_chain", false),
		SyncedToGraph:    jsonx.Bool(info, "synced_to_graph", false),
	}, nil
}
