package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the cdpd daemon configuration, loaded from TOML.
type Config struct {
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	Env           string `toml:"Env"`
	EngineAddress string `toml:"EngineAddress"`
	// AdminAddress holds the minter of the in-process collateral
	// ledgers. Leaving it empty disables collateral minting entirely.
	AdminAddress string `toml:"AdminAddress"`

	Log       Log        `toml:"Log"`
	Auth      Auth       `toml:"Auth"`
	RateLimit RateLimit  `toml:"RateLimit"`
	Oracle    Oracle     `toml:"Oracle"`
	Synth     Synth      `toml:"Synth"`
	Assets    []AssetCfg `toml:"Collateral"`
}

// Log configures the optional rotating file sink.
type Log struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Auth configures RPC authentication. Secrets are referenced by
// environment variable name, never stored inline.
type Auth struct {
	BearerTokenEnv string `toml:"BearerTokenEnv"`
	JWTSecretEnv   string `toml:"JWTSecretEnv"`
}

// RateLimit bounds mutating RPC traffic.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Oracle configures the shared staleness window.
type Oracle struct {
	Timeout string `toml:"Timeout"`
}

// Synth names the synthetic asset minted against collateral.
type Synth struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// AssetCfg describes one registered collateral asset.
type AssetCfg struct {
	Symbol       string `toml:"Symbol"`
	Address      string `toml:"Address"`
	FeedDecimals uint8  `toml:"FeedDecimals"`
	FeedEndpoint string `toml:"FeedEndpoint"`
}

// Load reads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise fills defaults for unset fields.
func (c *Config) Normalise() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./cdp-data"
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "dev"
	}
	if strings.TrimSpace(c.Oracle.Timeout) == "" {
		c.Oracle.Timeout = "3h"
	}
	if strings.TrimSpace(c.Synth.Symbol) == "" {
		c.Synth.Symbol = "SUSD"
	}
	if c.Synth.Decimals == 0 {
		c.Synth.Decimals = 18
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
	for i := range c.Assets {
		c.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Assets[i].Symbol))
		c.Assets[i].Address = strings.TrimSpace(c.Assets[i].Address)
		c.Assets[i].FeedEndpoint = strings.TrimSpace(c.Assets[i].FeedEndpoint)
	}
}

// OracleTimeout parses the configured staleness window.
func (c *Config) OracleTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid Oracle.Timeout %q: %w", c.Oracle.Timeout, err)
	}
	return d, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Normalise()

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
