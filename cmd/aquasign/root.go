package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/config"
	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/relay"
	"github.com/AquaToken/dao-aquarius-sub003/internal/session"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ui"
	"github.com/spf13/cobra"
)

// cliOptions are the persistent flags shared by every command.
type cliOptions struct {
	configPath string
	relayURL   string
	target     string
	dataDir    string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "aquasign",
		Short:         "Remote transaction signing for Aquarius through a paired wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	root.PersistentFlags().StringVar(&opts.relayURL, "relay", "", "relay websocket URL (overrides relay_url)")
	root.PersistentFlags().StringVar(&opts.target, "target", "", "build target: "+targetList())
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "state directory (overrides data_dir)")

	root.AddCommand(
		loginCmd(opts),
		logoutCmd(opts),
		signCmd(opts),
		submitCmd(opts),
		pairingsCmd(opts),
		serveCmd(opts),
		configCmd(opts),
	)
	return root
}

// load reads the config file when present and applies flag overrides.
func (o *cliOptions) load() (config.Config, error) {
	cfg := config.DefaultConfig()
	if _, err := os.Stat(o.configPath); err == nil {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else if !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, err
	}
	if v := strings.TrimSpace(o.relayURL); v != "" {
		cfg.RelayURL = v
	}
	if v := strings.TrimSpace(o.target); v != "" {
		cfg.Target = appmeta.Target(v)
	}
	if v := strings.TrimSpace(o.dataDir); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newManager wires a Manager whose client dials the configured relay on
// first use.
func (o *cliOptions) newManager(presenter ui.Presenter) (*session.Manager, error) {
	cfg := o.cfg
	meta, err := cfg.Metadata()
	if err != nil {
		return nil, err
	}
	factory := func(ctx context.Context) (session.Client, error) {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
		transport, err := relay.Dial(ctx, cfg.RelayDialConfig())
		if err != nil {
			return nil, err
		}
		client, err := signclient.New(ctx, signclient.Options{
			Transport:       transport,
			Store:           signclient.NewStore(cfg.StorePath()),
			RelayURL:        cfg.RelayURL,
			RequestTimeout:  cfg.RequestTimeout,
			ResponseTimeout: cfg.ResponseTimeout,
			ProposalTTL:     cfg.ProposalTTL,
		})
		if err != nil {
			_ = transport.Close()
			return nil, err
		}
		return client, nil
	}
	return session.New(session.Options{
		Factory:     factory,
		Presenter:   presenter,
		Metadata:    meta,
		ChainID:     cfg.ChainID,
		MaxPairings: cfg.MaxPairings,
		SettleDelay: cfg.SettleDelay,
	})
}

// restore initializes m and fails when no session was stored.
func restore(ctx context.Context, m *session.Manager) error {
	restored, err := m.Initialize(ctx)
	if err != nil {
		return err
	}
	if !restored {
		return fmt.Errorf("not logged in; run aquasign login")
	}
	return nil
}

func targetList() string {
	targets := appmeta.Targets()
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, string(t))
	}
	return strings.Join(out, "|")
}
