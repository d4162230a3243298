// Package config loads aquasign settings from TOML. Keys present in the file
// overlay DefaultConfig; absent keys keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/relay"
	"github.com/AquaToken/dao-aquarius-sub003/internal/session"
	"github.com/BurntSushi/toml"
)

var ErrInvalidConfig = errors.New("config: invalid")

const storeFileName = "signclient.json"

// Config is the resolved runtime configuration.
type Config struct {
	Target          appmeta.Target
	RelayURL        string
	ProjectID       string
	ChainID         string
	DataDir         string
	SettleDelay     time.Duration
	MaxPairings     int
	RequestTimeout  time.Duration
	ResponseTimeout time.Duration
	ProposalTTL     time.Duration
	StatusAddr      string
	CorsOrigins     []string
	APIToken        string
	Relay           RelayConfig
}

// RelayConfig holds relay dial reliability settings.
type RelayConfig struct {
	ConnectTimeout     time.Duration
	PingInterval       time.Duration
	MaxConnectAttempts int
	Backoff            relay.BackoffConfig
}

func DefaultConfig() Config {
	r := relay.DefaultConfig()
	return Config{
		Target:          appmeta.TargetVoting,
		RelayURL:        relay.DefaultRelayURL,
		ChainID:         session.DefaultChainID,
		DataDir:         defaultDataDir(),
		SettleDelay:     session.DefaultSettleDelay,
		MaxPairings:     session.DefaultMaxPairings,
		RequestTimeout:  r.RequestTimeout,
		ResponseTimeout: 5 * time.Minute,
		ProposalTTL:     5 * time.Minute,
		StatusAddr:      "127.0.0.1:7420",
		CorsOrigins:     []string{"http://localhost:3000"},
		Relay: RelayConfig{
			ConnectTimeout:     r.ConnectTimeout,
			PingInterval:       r.PingInterval,
			MaxConnectAttempts: r.MaxConnectAttempts,
			Backoff:            r.Backoff,
		},
	}
}

// DefaultPath is $HOME/.aquasign/config.toml.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".aquasign"
	}
	return filepath.Join(home, ".aquasign")
}

// fileConfig is the config.toml key mapping.
type fileConfig struct {
	Target          string          `toml:"target"`
	RelayURL        string          `toml:"relay_url"`
	ProjectID       string          `toml:"project_id"`
	ChainID         string          `toml:"chain_id"`
	DataDir         string          `toml:"data_dir"`
	SettleDelay     string          `toml:"settle_delay"`
	MaxPairings     int             `toml:"max_pairings"`
	RequestTimeout  string          `toml:"request_timeout"`
	ResponseTimeout string          `toml:"response_timeout"`
	ProposalTTL     string          `toml:"proposal_ttl"`
	StatusAddr      string          `toml:"status_addr"`
	CorsOrigins     []string        `toml:"cors_origins"`
	APIToken        string          `toml:"api_token"`
	Relay           relayFileConfig `toml:"relay"`
}

type relayFileConfig struct {
	ConnectTimeout     string  `toml:"connect_timeout"`
	PingInterval       string  `toml:"ping_interval"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	InitialDelay       string  `toml:"initial_delay"`
	Multiplier         float64 `toml:"multiplier"`
	MaxDelay           string  `toml:"max_delay"`
	Jitter             bool    `toml:"jitter"`
}

// Load decodes path over DefaultConfig and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}

	if meta.IsDefined("target") {
		cfg.Target = appmeta.Target(strings.TrimSpace(raw.Target))
	}
	if meta.IsDefined("relay_url") {
		cfg.RelayURL = strings.TrimSpace(raw.RelayURL)
	}
	if meta.IsDefined("project_id") {
		cfg.ProjectID = strings.TrimSpace(raw.ProjectID)
	}
	if meta.IsDefined("chain_id") {
		cfg.ChainID = strings.TrimSpace(raw.ChainID)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("max_pairings") {
		cfg.MaxPairings = raw.MaxPairings
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("api_token") {
		cfg.APIToken = strings.TrimSpace(raw.APIToken)
	}
	if meta.IsDefined("relay", "max_connect_attempts") {
		cfg.Relay.MaxConnectAttempts = raw.Relay.MaxConnectAttempts
	}
	if meta.IsDefined("relay", "multiplier") {
		cfg.Relay.Backoff.Multiplier = raw.Relay.Multiplier
	}
	if meta.IsDefined("relay", "jitter") {
		cfg.Relay.Backoff.Jitter = raw.Relay.Jitter
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"settle_delay"}, raw.SettleDelay, &cfg.SettleDelay},
		{[]string{"request_timeout"}, raw.RequestTimeout, &cfg.RequestTimeout},
		{[]string{"response_timeout"}, raw.ResponseTimeout, &cfg.ResponseTimeout},
		{[]string{"proposal_ttl"}, raw.ProposalTTL, &cfg.ProposalTTL},
		{[]string{"relay", "connect_timeout"}, raw.Relay.ConnectTimeout, &cfg.Relay.ConnectTimeout},
		{[]string{"relay", "ping_interval"}, raw.Relay.PingInterval, &cfg.Relay.PingInterval},
		{[]string{"relay", "initial_delay"}, raw.Relay.InitialDelay, &cfg.Relay.Backoff.InitialDelay},
		{[]string{"relay", "max_delay"}, raw.Relay.MaxDelay, &cfg.Relay.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("load config (%s): %s: %w", path, strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := appmeta.ParseTarget(string(c.Target)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(c.RelayURL) == "" {
		return fmt.Errorf("%w: relay_url is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("%w: relay_url must be ws:// or wss://", ErrInvalidConfig)
	}
	if parts := strings.Split(c.ChainID, ":"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: chain_id must look like namespace:reference", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.MaxPairings < 1 {
		return fmt.Errorf("%w: max_pairings must be at least 1", ErrInvalidConfig)
	}
	if c.SettleDelay < 0 || c.RequestTimeout <= 0 || c.ProposalTTL <= 0 || c.ResponseTimeout < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.Relay.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: relay.multiplier must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// StorePath is where the protocol client persists pairings and sessions.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, storeFileName)
}

// Metadata resolves the fixed application record for Target.
func (c Config) Metadata() (appmeta.Metadata, error) {
	return appmeta.For(c.Target)
}

// RelayDialConfig maps the settings onto a relay dial config.
func (c Config) RelayDialConfig() relay.Config {
	r := relay.DefaultConfig()
	r.URL = c.RelayURL
	r.ProjectID = c.ProjectID
	r.RequestTimeout = c.RequestTimeout
	if c.Relay.ConnectTimeout > 0 {
		r.ConnectTimeout = c.Relay.ConnectTimeout
	}
	if c.Relay.PingInterval > 0 {
		r.PingInterval = c.Relay.PingInterval
	}
	if c.Relay.MaxConnectAttempts > 0 {
		r.MaxConnectAttempts = c.Relay.MaxConnectAttempts
	}
	if c.Relay.Backoff.InitialDelay > 0 {
		r.Backoff = c.Relay.Backoff
	}
	return r
}
