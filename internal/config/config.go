package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	EnvMinibolt = "minibolt"
	EnvUmbrel   = "umbrel"

	BitcoinLocal    = "local"
	BitcoinExternal = "external"

	DefaultListen         = "0.0.0.0:5000"
	DefaultRateLimit      = 5.0
	DefaultRateBurst      = 10
	DefaultBitcoinCLI     = "bitcoin-cli"
	DefaultLightningCLI   = "lncli"
	DefaultRPCPort        = "8332"
	DefaultUmbrelPath     = "/home/umbrel/umbrel/scripts/"
	DefaultCallTimeout    = "4s"
	DefaultPrimaryFeeURL  = "https://mempool.space/api/v1/fees/recommended"
	DefaultMirrorFeeURL   = "https://mempool.emzy.de/api/v1/fees/recommended"
	DefaultOnionFeeURL    = "http://mempoolhqx4isw62xs7abwphsq7ldayuidyx2v2oethdhhj6mlo2r6ad.onion/api/v1/fees/recommended"
	DefaultTorProxy       = "127.0.0.1:9050"
	DefaultFeeTimeout     = "5s"
	DefaultTorTimeout     = "10s"
	DefaultWindowDays     = 30
	DefaultTopN           = 10
	DefaultMaxEvents      = 100000
	DefaultForwardTimeout = "20s"
	DefaultAnalyticsDB    = "lnd_fees.sqlite"
	DefaultMonths         = 6
	DefaultLogLines       = 50
	DefaultSTUNTimeout    = "3s"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"

	envPrefix = "NODESTATUS"
)

// Config is the immutable settings value handed to every component.
type Config struct {
	Environment string          `yaml:"environment" mapstructure:"environment"`
	Server      ServerConfig    `yaml:"server" mapstructure:"server"`
	Bitcoin     BitcoinConfig   `yaml:"bitcoin" mapstructure:"bitcoin"`
	Lightning   LightningConfig `yaml:"lightning" mapstructure:"lightning"`
	Umbrel      UmbrelConfig    `yaml:"umbrel" mapstructure:"umbrel"`
	Fees        FeesConfig      `yaml:"fees" mapstructure:"fees"`
	Forwards    ForwardsConfig  `yaml:"forwards" mapstructure:"forwards"`
	Analytics   AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Files       FilesConfig     `yaml:"files" mapstructure:"files"`
	STUN        STUNConfig      `yaml:"stun" mapstructure:"stun"`
	Log         LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen    string  `yaml:"listen" mapstructure:"listen"`
	TLSCert   string  `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey    string  `yaml:"tls_key" mapstructure:"tls_key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// BitcoinConfig selects how bitcoin-cli reaches bitcoind.
type BitcoinConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	CLI         string `yaml:"cli" mapstructure:"cli"`
	RPCUser     string `yaml:"rpc_user" mapstructure:"rpc_user"`
	RPCPassword string `yaml:"rpc_password" mapstructure:"rpc_password"`
	RPCHost     string `yaml:"rpc_host" mapstructure:"rpc_host"`
	RPCPort     string `yaml:"rpc_port" mapstructure:"rpc_port"`
	Timeout     string `yaml:"timeout" mapstructure:"timeout"`
}

type LightningConfig struct {
	CLI     string `yaml:"cli" mapstructure:"cli"`
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// UmbrelConfig points at the umbrel scripts directory holding the "app"
// helper used for container exec.
type UmbrelConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type FeesConfig struct {
	PrimaryURL string `yaml:"primary_url" mapstructure:"primary_url"`
	MirrorURL  string `yaml:"mirror_url" mapstructure:"mirror_url"`
	OnionURL   string `yaml:"onion_url" mapstructure:"onion_url"`
	TorProxy   string `yaml:"tor_proxy" mapstructure:"tor_proxy"`
	Timeout    string `yaml:"timeout" mapstructure:"timeout"`
	TorTimeout string `yaml:"tor_timeout" mapstructure:"tor_timeout"`
}

type ForwardsConfig struct {
	DefaultDays int    `yaml:"default_days" mapstructure:"default_days"`
	TopN        int    `yaml:"top" mapstructure:"top"`
	MaxEvents   int    `yaml:"max_events" mapstructure:"max_events"`
	Timeout     string `yaml:"timeout" mapstructure:"timeout"`
}

type AnalyticsConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
	Months int    `yaml:"months" mapstructure:"months"`
}

type FilesConfig struct {
	MessagePath string `yaml:"message_path" mapstructure:"message_path"`
	LogPath     string `yaml:"log_path" mapstructure:"log_path"`
	LogLines    int    `yaml:"log_lines" mapstructure:"log_lines"`
}

type STUNConfig struct {
	Servers []string `yaml:"servers" mapstructure:"servers"`
	Timeout string   `yaml:"timeout" mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads a YAML config file (path may be empty to search the usual
// locations) and applies NODESTATUS_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("nodestatus")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/nodestatus")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// registerDefaults makes every key known to viper so environment variables
// can override keys that are absent from the file.
func registerDefaults(v *viper.Viper, d Config) {
	v.SetDefault("environment", d.Environment)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.tls_cert", d.Server.TLSCert)
	v.SetDefault("server.tls_key", d.Server.TLSKey)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("bitcoin.mode", d.Bitcoin.Mode)
	v.SetDefault("bitcoin.cli", d.Bitcoin.CLI)
	v.SetDefault("bitcoin.rpc_user", d.Bitcoin.RPCUser)
	v.SetDefault("bitcoin.rpc_password", d.Bitcoin.RPCPassword)
	v.SetDefault("bitcoin.rpc_host", d.Bitcoin.RPCHost)
	v.SetDefault("bitcoin.rpc_port", d.Bitcoin.RPCPort)
	v.SetDefault("bitcoin.timeout", d.Bitcoin.Timeout)
	v.SetDefault("lightning.cli", d.Lightning.CLI)
	v.SetDefault("lightning.timeout", d.Lightning.Timeout)
	v.SetDefault("umbrel.path", d.Umbrel.Path)
	v.SetDefault("fees.primary_url", d.Fees.PrimaryURL)
	v.SetDefault("fees.mirror_url", d.Fees.MirrorURL)
	v.SetDefault("fees.onion_url", d.Fees.OnionURL)
	v.SetDefault("fees.tor_proxy", d.Fees.TorProxy)
	v.SetDefault("fees.timeout", d.Fees.Timeout)
	v.SetDefault("fees.tor_timeout", d.Fees.TorTimeout)
	v.SetDefault("forwards.default_days", d.Forwards.DefaultDays)
	v.SetDefault("forwards.top", d.Forwards.TopN)
	v.SetDefault("forwards.max_events", d.Forwards.MaxEvents)
	v.SetDefault("forwards.timeout", d.Forwards.Timeout)
	v.SetDefault("analytics.db_path", d.Analytics.DBPath)
	v.SetDefault("analytics.months", d.Analytics.Months)
	v.SetDefault("files.message_path", d.Files.MessagePath)
	v.SetDefault("files.log_path", d.Files.LogPath)
	v.SetDefault("files.log_lines", d.Files.LogLines)
	v.SetDefault("stun.servers", d.STUN.Servers)
	v.SetDefault("stun.timeout", d.STUN.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// rpc_password may be present.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks enumerations and mode-specific required fields.
func Validate(cfg Config) error {
	var errs error
	if cfg.Server.Listen == "" {
		errs = multierr.Append(errs, errors.New("server.listen is required"))
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs = multierr.Append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	switch cfg.Environment {
	case EnvMinibolt:
	case EnvUmbrel:
		if cfg.Umbrel.Path == "" {
			errs = multierr.Append(errs, errors.New("umbrel.path is required when environment is umbrel"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("environment must be %q or %q, got %q", EnvMinibolt, EnvUmbrel, cfg.Environment))
	}
	switch cfg.Bitcoin.Mode {
	case BitcoinLocal:
	case BitcoinExternal:
		if cfg.Bitcoin.RPCHost == "" {
			errs = multierr.Append(errs, errors.New("bitcoin.rpc_host is required when bitcoin.mode is external"))
		}
		if cfg.Bitcoin.RPCUser == "" || cfg.Bitcoin.RPCPassword == "" {
			errs = multierr.Append(errs, errors.New("bitcoin.rpc_user and bitcoin.rpc_password are required when bitcoin.mode is external"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("bitcoin.mode must be %q or %q, got %q", BitcoinLocal, BitcoinExternal, cfg.Bitcoin.Mode))
	}
	if cfg.Forwards.DefaultDays < 1 || cfg.Forwards.DefaultDays > 365 {
		errs = multierr.Append(errs, fmt.Errorf("forwards.default_days must be within [1, 365], got %d", cfg.Forwards.DefaultDays))
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format))
	}
	for _, d := range []struct{ key, value string }{
		{"bitcoin.timeout", cfg.Bitcoin.Timeout},
		{"lightning.timeout", cfg.Lightning.Timeout},
		{"fees.timeout", cfg.Fees.Timeout},
		{"fees.tor_timeout", cfg.Fees.TorTimeout},
		{"forwards.timeout", cfg.Forwards.Timeout},
		{"stun.timeout", cfg.STUN.Timeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.key, err))
		}
	}
	return errs
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvMinibolt
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = DefaultRateLimit
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = DefaultRateBurst
	}

	if cfg.Bitcoin.Mode == "" {
		cfg.Bitcoin.Mode = BitcoinLocal
	}
	if cfg.Bitcoin.CLI == "" {
		cfg.Bitcoin.CLI = DefaultBitcoinCLI
	}
	if cfg.Bitcoin.RPCPort == "" {
		cfg.Bitcoin.RPCPort = DefaultRPCPort
	}
	if cfg.Bitcoin.Timeout == "" {
		cfg.Bitcoin.Timeout = DefaultCallTimeout
	}

	if cfg.Lightning.CLI == "" {
		cfg.Lightning.CLI = DefaultLightningCLI
	}
	if cfg.Lightning.Timeout == "" {
		cfg.Lightning.Timeout = DefaultCallTimeout
	}

	if cfg.Umbrel.Path == "" {
		cfg.Umbrel.Path = DefaultUmbrelPath
	}

	if cfg.Fees.PrimaryURL == "" {
		cfg.Fees.PrimaryURL = DefaultPrimaryFeeURL
	}
	if cfg.Fees.MirrorURL == "" {
		cfg.Fees.MirrorURL = DefaultMirrorFeeURL
	}
	if cfg.Fees.OnionURL == "" {
		cfg.Fees.OnionURL = DefaultOnionFeeURL
	}
	if cfg.Fees.TorProxy == "" {
		cfg.Fees.TorProxy = DefaultTorProxy
	}
	if cfg.Fees.Timeout == "" {
		cfg.Fees.Timeout = DefaultFeeTimeout
	}
	if cfg.Fees.TorTimeout == "" {
		cfg.Fees.TorTimeout = DefaultTorTimeout
	}

	if cfg.Forwards.DefaultDays == 0 {
		cfg.Forwards.DefaultDays = DefaultWindowDays
	}
	if cfg.Forwards.TopN == 0 {
		cfg.Forwards.TopN = DefaultTopN
	}
	if cfg.Forwards.MaxEvents == 0 {
		cfg.Forwards.MaxEvents = DefaultMaxEvents
	}
	if cfg.Forwards.Timeout == "" {
		cfg.Forwards.Timeout = DefaultForwardTimeout
	}

	if cfg.Analytics.DBPath == "" {
		cfg.Analytics.DBPath = DefaultAnalyticsDB
	}
	if cfg.Analytics.Months == 0 {
		cfg.Analytics.Months = DefaultMonths
	}

	if cfg.Files.LogLines == 0 {
		cfg.Files.LogLines = DefaultLogLines
	}

	if cfg.STUN.Timeout == "" {
		cfg.STUN.Timeout = DefaultSTUNTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Duration parses a config duration, returning def when value is empty or
// malformed. Validate reports malformed values up front.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
