// Package config loads the condord runtime configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for condord.
type Config struct {
	ListenAddress string `yaml:"listen"`
	Database      string `yaml:"database"`
	TokenRegistry string `yaml:"token_registry"`
	IdemPath      string `yaml:"idempotency_path"`

	Chain       ChainConfig       `yaml:"chain"`
	Prices      PricesConfig      `yaml:"prices"`
	Sources     []Source          `yaml:"sources"`
	Balances    BalancesConfig    `yaml:"balances"`
	OrderEngine OrderEngineConfig `yaml:"order_engine"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Drafts      DraftsConfig      `yaml:"drafts"`
	Auth        AuthConfig        `yaml:"auth"`
	CORS        CORSConfig        `yaml:"cors"`
	RateLimits  map[string]Limit  `yaml:"rate_limits"`
}

// ChainConfig points at the EVM RPC endpoint.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// PricesConfig tunes the refresh loop.
type PricesConfig struct {
	Interval  Duration `yaml:"interval"`
	MaxAge    Duration `yaml:"max_age"`
	Retention Duration `yaml:"retention"`
}

// Source describes one upstream price feed.
type Source struct {
	Name     string             `yaml:"name"`
	Type     string             `yaml:"type"`
	Endpoint string             `yaml:"endpoint"`
	Assets   map[string]float64 `yaml:"assets"`
}

// BalancesConfig tunes the wallet refresh loop.
type BalancesConfig struct {
	Interval Duration `yaml:"interval"`
}

// OrderEngineConfig points at the upstream order backend.
type OrderEngineConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// MonitorConfig tunes the transaction receipt poller.
type MonitorConfig struct {
	Interval Duration `yaml:"interval"`
	Linger   Duration `yaml:"linger"`
}

// DraftsConfig tunes draft session housekeeping.
type DraftsConfig struct {
	IdleTTL       Duration `yaml:"idle_ttl"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
}

// AuthConfig carries bearer-token verification settings.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// Limit configures one named rate-limit bucket.
type Limit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Database == "" {
		cfg.Database = "condor.sqlite"
	}
	if cfg.TokenRegistry == "" {
		cfg.TokenRegistry = "tokens.toml"
	}
	if cfg.Prices.Interval.Duration == 0 {
		cfg.Prices.Interval.Duration = 30 * time.Second
	}
	if cfg.Prices.MaxAge.Duration == 0 {
		cfg.Prices.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Prices.Retention.Duration == 0 {
		cfg.Prices.Retention.Duration = 72 * time.Hour
	}
	if cfg.Balances.Interval.Duration == 0 {
		cfg.Balances.Interval.Duration = 30 * time.Second
	}
	if cfg.OrderEngine.Timeout.Duration == 0 {
		cfg.OrderEngine.Timeout.Duration = 15 * time.Second
	}
	if cfg.Monitor.Interval.Duration == 0 {
		cfg.Monitor.Interval.Duration = 5 * time.Second
	}
	if cfg.Monitor.Linger.Duration == 0 {
		cfg.Monitor.Linger.Duration = 8 * time.Second
	}
	if cfg.Drafts.IdleTTL.Duration == 0 {
		cfg.Drafts.IdleTTL.Duration = time.Hour
	}
	if cfg.Drafts.SubmitTimeout.Duration == 0 {
		cfg.Drafts.SubmitTimeout.Duration = 30 * time.Second
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.OrderEngine.BaseURL) == "" {
		return fmt.Errorf("order engine base_url must be configured")
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one price source must be configured")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmac_secret must be set when auth is enabled")
	}
	return nil
}
