package collector

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodestatus/internal/config"
	"nodestatus/internal/execx/exectest"
)

const getInfo = `{
	"identity_pubkey": "02abc",
	"alias": "my-node",
	"version": "0.18.0-beta",
	"num_pending_channels": 1,
	"num_active_channels": 2,
	"num_inactive_channels": 0,
	"synced_to_chain": true,
	"synced_to_graph": false
}`

func nodeRunner(prefix string) *exectest.Runner {
	return exectest.New().
		On(prefix+"walletbalance", `{"total_balance":"150000"}`).
		On(prefix+"channelbalance", `{"balance":"50000"}`).
		On(prefix+"listchannels", `{"channels":[{},{}]}`).
		On(prefix+"listpeers", `{"peers":[{},{},{}]}`).
		On(prefix+"getinfo", getInfo)
}

func TestNode_Collect(t *testing.T) {
	t.Parallel()

	res := NewNode(config.Default(), nodeRunner("lncli "), nil, nil).Collect(context.Background())
	require.True(t, res.OK(), res.Reason)

	snap := res.Value
	assert.Equal(t, btcutil.Amount(150000), snap.WalletBalance)
	assert.Equal(t, btcutil.Amount(50000), snap.ChannelBalance)
	assert.Equal(t, btcutil.Amount(200000), snap.TotalBalance)
	assert.Equal(t, 2, snap.Channels)
	assert.Equal(t, 3, snap.Peers)
	assert.Equal(t, "my-node", snap.Alias)
	assert.Equal(t, "02abc", snap.PubKey)
	assert.Equal(t, int64(1), snap.PendingChannels)
	assert.True(t, snap.SyncedToChain)
	assert.False(t, snap.SyncedToGraph)
}

func TestNode_LocalBalanceFallback(t *testing.T) {
	t.Parallel()

	runner := nodeRunner("lncli ").On("lncli channelbalance", `{"local_balance":{"sat":"7000","msat":"7000000"}}`)
	res := NewNode(config.Default(), runner, nil, nil).Collect(context.Background())
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, btcutil.Amount(7000), res.Value.ChannelBalance)
}

func TestNode_UmbrelShape(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Environment = config.EnvUmbrel
	cfg.Umbrel.Path = "/opt/umbrel/scripts"

	runner := nodeRunner("/opt/umbrel/scripts/app compose lightning exec lnd lncli ")
	res := NewNode(cfg, runner, nil, nil).Collect(context.Background())
	require.True(t, res.OK(), res.Reason)
}

func TestNode_FailureCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		out     string
		reason  string
	}{
		{"missing total", "lncli walletbalance", `{}`, "total_balance"},
		{"missing balance", "lncli channelbalance", `{}`, "balance"},
		{"channels not array", "lncli listchannels", `{"channels":null}`, "listchannels"},
		{"peers not json", "lncli listpeers", `rpc error`, "listpeers"},
		{"no pubkey", "lncli getinfo", `{"alias":"x"}`, "identity_pubkey"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := nodeRunner("lncli ").On(tc.command, tc.out)
			res := NewNode(config.Default(), runner, nil, nil).Collect(context.Background())
			require.False(t, res.OK())
			assert.Contains(t, res.Reason, tc.reason)
		})
	}
}
