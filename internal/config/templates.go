package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Template renders DefaultConfig as a config.toml document.
func Template() (string, error) {
	d := DefaultConfig()
	out := fileConfig{
		Target:          string(d.Target),
		RelayURL:        d.RelayURL,
		ProjectID:       "",
		ChainID:         d.ChainID,
		DataDir:         d.DataDir,
		SettleDelay:     d.SettleDelay.String(),
		MaxPairings:     d.MaxPairings,
		RequestTimeout:  d.RequestTimeout.String(),
		ResponseTimeout: d.ResponseTimeout.String(),
		ProposalTTL:     d.ProposalTTL.String(),
		StatusAddr:      d.StatusAddr,
		CorsOrigins:     d.CorsOrigins,
		APIToken:        "",
		Relay: relayFileConfig{
			ConnectTimeout:     d.Relay.ConnectTimeout.String(),
			PingInterval:       d.Relay.PingInterval.String(),
			MaxConnectAttempts: d.Relay.MaxConnectAttempts,
			InitialDelay:       d.Relay.Backoff.InitialDelay.String(),
			Multiplier:         d.Relay.Backoff.Multiplier,
			MaxDelay:           d.Relay.Backoff.MaxDelay.String(),
			Jitter:             d.Relay.Backoff.Jitter,
		},
	}
	b, err := toml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(b), nil
}

// WriteTemplate writes Template to path, creating its directory.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
