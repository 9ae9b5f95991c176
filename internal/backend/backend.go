// Package backend builds bitcoin-cli and lncli command lines for each
// deployment mode.
package backend

import (
	"path/filepath"

	"nodestatus/internal/config"
)

const (
	LabelMinibolt = "LOCAL - Minibolt"
	LabelUmbrel   = "LOCAL - Umbrel"
)

// Bitcoin prefixes bitcoin-cli sub-queries with the call shape selected by
// the environment and bitcoin mode:
//
//	minibolt/local     bitcoin-cli <query>
//	minibolt/external  bitcoin-cli -rpcuser=.. -rpcpassword=.. -rpcconnect=.. -rpcport=.. <query>
//	umbrel             <umbrel>/app compose bitcoin exec bitcoind bitcoin-cli <query>
type Bitcoin struct {
	base  []string
	label string
}

func NewBitcoin(cfg config.Config) Bitcoin {
	if cfg.Environment == config.EnvUmbrel {
		return Bitcoin{
			base:  []string{umbrelApp(cfg), "compose", "bitcoin", "exec", "bitcoind", "bitcoin-cli"},
			label: LabelUmbrel,
		}
	}
	if cfg.Bitcoin.Mode == config.BitcoinExternal {
		return Bitcoin{
			base: []string{
				cfg.Bitcoin.CLI,
				"-rpcuser=" + cfg.Bitcoin.RPCUser,
				"-rpcpassword=" + cfg.Bitcoin.RPCPassword,
				"-rpcconnect=" + cfg.Bitcoin.RPCHost,
				"-rpcport=" + cfg.Bitcoin.RPCPort,
			},
			label: cfg.Bitcoin.RPCHost,
		}
	}
	return Bitcoin{base: []string{cfg.Bitcoin.CLI}, label: LabelMinibolt}
}

// Command returns a fresh command vector for one sub-query.
func (b Bitcoin) Command(args ...string) []string {
	return join(b.base, args)
}

// Label names the bitcoind the commands reach.
func (b Bitcoin) Label() string { return b.label }

// Lightning prefixes lncli sub-commands:
//
//	minibolt  lncli <cmd>
//	umbrel    <umbrel>/app compose lightning exec lnd lncli <cmd>
type Lightning struct {
	base []string
}

func NewLightning(cfg config.Config) Lightning {
	if cfg.Environment == config.EnvUmbrel {
		return Lightning{base: []string{umbrelApp(cfg), "compose", "lightning", "exec", "lnd", "lncli"}}
	}
	return Lightning{base: []string{cfg.Lightning.CLI}}
}

func (l Lightning) Command(args ...string) []string {
	return join(l.base, args)
}

func umbrelApp(cfg config.Config) string {
	return filepath.Join(cfg.Umbrel.Path, "app")
}

func join(base, args []string) []string {
	cmd := make([]string, 0, len(base)+len(args))
	cmd = append(cmd, base...)
	return append(cmd, args...)
}
