package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"nodestatus/internal/config"
)

func TestBitcoin_CallShapes(t *testing.T) {
	t.Parallel()

	local := config.Default()

	external := config.Default()
	external.Bitcoin.Mode = config.BitcoinExternal
	external.Bitcoin.RPCUser = "u"
	external.Bitcoin.RPCPassword = "p"
	external.Bitcoin.RPCHost = "10.0.0.2"

	umbrel := config.Default()
	umbrel.Environment = config.EnvUmbrel
	umbrel.Umbrel.Path = "/home/umbrel/umbrel/scripts"

	tests := []struct {
		name  string
		cfg   config.Config
		want  string
		label string
	}{
		{"local", local, "bitcoin-cli getpeerinfo", LabelMinibolt},
		{"external", external, "bitcoin-cli -rpcuser=u -rpcpassword=p -rpcconnect=10.0.0.2 -rpcport=8332 getpeerinfo", "10.0.0.2"},
		{"umbrel", umbrel, "/home/umbrel/umbrel/scripts/app compose bitcoin exec bitcoind bitcoin-cli getpeerinfo", LabelUmbrel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBitcoin(tc.cfg)
			assert.Equal(t, tc.want, strings.Join(b.Command("getpeerinfo"), " "))
			assert.Equal(t, tc.label, b.Label())
		})
	}
}

func TestLightning_CallShapes(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	assert.Equal(t, "lncli getinfo", strings.Join(NewLightning(cfg).Command("getinfo"), " "))

	cfg.Environment = config.EnvUmbrel
	cfg.Umbrel.Path = "/u/scripts/"
	assert.Equal(t, "/u/scripts/app compose lightning exec lnd lncli getinfo",
		strings.Join(NewLightning(cfg).Command("getinfo"), " "))
}

func TestCommand_DoesNotAliasBase(t *testing.T) {
	t.Parallel()

	l := NewLightning(config.Default())
	a := l.Command("walletbalance")
	b := l.Command("channelbalance")
	assert.Equal(t, "walletbalance", a[len(a)-1])
	assert.Equal(t, "channelbalance", b[len(b)-1])
}
