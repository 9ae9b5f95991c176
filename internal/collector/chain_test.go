package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodestatus/internal/backend"
	"nodestatus/internal/config"
	"nodestatus/internal/execx"
	"nodestatus/internal/execx/exectest"
	"nodestatus/internal/jsonx"
	"nodestatus/internal/metrics"
)

const (
	blockchainInfo = `{"chain":"main","blocks":850000,"verificationprogress":0.9999,"pruned":false}`
	peerInfo       = `[{"id":1},{"id":2},{"id":3}]`
	networkInfo    = `{"version":270000,"subversion":"/Satoshi:27.0.0/"}`
)

func healthyChain() *exectest.Runner {
	return exectest.New().
		On("bitcoin-cli getblockchaininfo", blockchainInfo).
		On("bitcoin-cli getpeerinfo", peerInfo).
		On("bitcoin-cli getnetworkinfo", networkInfo)
}

func TestChain_Collect(t *testing.T) {
	t.Parallel()

	runner := healthyChain()
	res := NewChain(config.Default(), runner, nil, nil).Collect(context.Background())
	require.True(t, res.OK(), res.Reason)

	snap := res.Value
	assert.InDelta(t, 99.99, snap.SyncPercentage, 0.001)
	assert.Equal(t, int64(850000), snap.BlockHeight)
	assert.Equal(t, "main", snap.Chain)
	assert.Equal(t, 3, snap.Peers)
	assert.Equal(t, backend.LabelMinibolt, snap.Backend)
	assert.Equal(t, int64(270000), snap.Version)
	assert.Equal(t, "/Satoshi:27.0.0/", snap.Subversion)

	for _, timeout := range runner.Timeouts() {
		assert.Equal(t, DefaultCallTimeout, timeout)
	}
}

func TestChain_MissingFieldsUseDefaults(t *testing.T) {
	t.Parallel()

	runner := exectest.New().
		On("bitcoin-cli getblockchaininfo", `{}`).
		On("bitcoin-cli getpeerinfo", `[]`).
		On("bitcoin-cli getnetworkinfo", `{}`)
	res := NewChain(config.Default(), runner, nil, nil).Collect(context.Background())
	require.True(t, res.OK())
	assert.Equal(t, "unknown", res.Value.Chain)
	assert.Equal(t, "unknown", res.Value.Subversion)
	assert.Zero(t, res.Value.SyncPercentage)
}

func TestChain_SubQueryFailureFailsSnapshot(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	runner := healthyChain().Fail("bitcoin-cli getpeerinfo", &execx.CommandError{
		Kind:    execx.KindNonZeroExit,
		Command: "bitcoin-cli getpeerinfo",
		Code:    28,
		Stderr:  "Loading block index...",
		Err:     errors.New("exit status 28"),
	})

	res := NewChain(config.Default(), runner, m, nil).Collect(context.Background())
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "getpeerinfo")
	assert.Contains(t, res.Reason, "Loading block index...")
	n, err := testutil.GatherAndCount(m.Registry(), "nodestatus_collector_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChain_Timeout(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bitcoin.Timeout = "50ms"
	runner := healthyChain().Respond("bitcoin-cli getblockchaininfo", exectest.Response{
		Out:   blockchainInfo,
		Delay: time.Second,
	})

	start := time.Now()
	res := NewChain(cfg, runner, nil, nil).Collect(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "timed out")
}

func TestChain_MalformedOutput(t *testing.T) {
	t.Parallel()

	runner := healthyChain().On("bitcoin-cli getpeerinfo", `{"not":"an array"}`)
	c := NewChain(config.Default(), runner, nil, nil)

	_, err := c.collect(context.Background())
	assert.ErrorIs(t, err, jsonx.ErrMalformedResponse)
}

func TestChain_ExternalShape(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bitcoin.Mode = config.BitcoinExternal
	cfg.Bitcoin.RPCUser = "u"
	cfg.Bitcoin.RPCPassword = "p"
	cfg.Bitcoin.RPCHost = "node.lan"

	prefix := "bitcoin-cli -rpcuser=u -rpcpassword=p -rpcconnect=node.lan -rpcport=8332 "
	runner := exectest.New().
		On(prefix+"getblockchaininfo", blockchainInfo).
		On(prefix+"getpeerinfo", peerInfo).
		On(prefix+"getnetworkinfo", networkInfo)

	res := NewChain(cfg, runner, nil, nil).Collect(context.Background())
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, "node.lan", res.Value.Backend)
}

// advancingRunner moves a mock clock forward by step on every call.
type advancingRunner struct {
	execx.Runner
	mock *clock.Mock
	step time.Duration
}

func (r advancingRunner) Output(ctx context.Context, timeout time.Duration, command ...string) (string, error) {
	r.mock.Add(r.step)
	return r.Runner.Output(ctx, timeout, command...)
}

func TestChain_CallDurationUsesClock(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	m := metrics.New()
	runner := advancingRunner{Runner: healthyChain(), mock: mock, step: 2 * time.Second}
	res := NewChain(config.Default(), runner, m, nil, WithClock(mock)).Collect(context.Background())
	require.True(t, res.OK(), res.Reason)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "nodestatus_external_call_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			found = true
			assert.Equal(t, uint64(3), metric.GetHistogram().GetSampleCount())
			assert.InDelta(t, 6.0, metric.GetHistogram().GetSampleSum(), 1e-9)
		}
	}
	require.True(t, found, "call duration histogram not gathered")
}
