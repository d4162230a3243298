package relay

import (
	"net/url"
	"strings"
	"time"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines relay endpoint and reliability defaults.
type Config struct {
	URL                string
	ProjectID          string
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	RequestTimeout     time.Duration
	PingInterval       time.Duration
	MessageTTL         time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

const DefaultRelayURL = "wss://relay.walletconnect.com"

func DefaultConfig() Config {
	return Config{
		URL:                DefaultRelayURL,
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       10 * time.Second,
		RequestTimeout:     15 * time.Second,
		PingInterval:       30 * time.Second,
		MessageTTL:         5 * time.Minute,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.URL) == "" {
		c.URL = d.URL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = d.MessageTTL
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

// Endpoint returns the websocket URL with the project id attached.
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return "", err
	}
	if id := strings.TrimSpace(c.ProjectID); id != "" {
		q := u.Query()
		q.Set("projectId", id)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
