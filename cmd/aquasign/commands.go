package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AquaToken/dao-aquarius-sub003/internal/auth"
	"github.com/AquaToken/dao-aquarius-sub003/internal/config"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ledger"
	"github.com/AquaToken/dao-aquarius-sub003/internal/session"
	"github.com/AquaToken/dao-aquarius-sub003/internal/statusapi"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ui"
	"github.com/spf13/cobra"
)

func loginCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Restore or establish a wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ui.NewTerminal(cmd.OutOrStdout(), cmd.InOrStdin())
			m, err := opts.newManager(term)
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				select {
				case <-sigs:
					// An interrupted handshake is an abandoned proposal.
					term.DismissURI()
					cancel()
				case <-ctx.Done():
				}
			}()

			m.Subscribe(func(ev session.Event) {
				if login, ok := ev.(session.LoginEvent); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s via %s\n", login.PublicKey, login.Metadata.Name)
				}
			})
			if err := m.Login(ctx); err != nil {
				return err
			}
			if m.State() != session.StateActive {
				return fmt.Errorf("login not completed")
			}
			return nil
		},
	}
}

func logoutCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Disconnect the active session; pairings are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.newManager(ui.NewTerminal(cmd.OutOrStdout(), cmd.InOrStdin()))
			if err != nil {
				return err
			}
			defer m.Close()
			if err := restore(cmd.Context(), m); err != nil {
				return err
			}
			if err := m.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func signCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <xdr|->",
		Short: "Ask the wallet to sign a base64 XDR envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := readEnvelope(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			m, err := opts.newManager(ui.NewTerminal(cmd.ErrOrStderr(), cmd.InOrStdin()))
			if err != nil {
				return err
			}
			defer m.Close()
			if err := restore(cmd.Context(), m); err != nil {
				return err
			}
			signed, err := m.SignTx(cmd.Context(), tx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
}

func submitCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <xdr|->",
		Short: "Ask the wallet to sign and submit a base64 XDR envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := readEnvelope(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			m, err := opts.newManager(ui.NewTerminal(cmd.ErrOrStderr(), cmd.InOrStdin()))
			if err != nil {
				return err
			}
			defer m.Close()
			if err := restore(cmd.Context(), m); err != nil {
				return err
			}
			res, err := m.SignAndSubmitTx(cmd.Context(), tx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Status, ledger.HashHex(tx))
			return nil
		},
	}
}

func pairingsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pairings",
		Short: "List stored wallet pairings, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.newManager(ui.NewTerminal(cmd.ErrOrStderr(), cmd.InOrStdin()))
			if err != nil {
				return err
			}
			defer m.Close()
			if _, err := m.Initialize(cmd.Context()); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range m.Pairings() {
				fmt.Fprintf(w, "%s  %-24s %s  %s\n", p.Topic, p.Peer.Name, p.Peer.URL, p.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func serveCmd(opts *cliOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve session status, metrics and signing over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.newManager(ui.NewTerminal(cmd.ErrOrStderr(), cmd.InOrStdin()))
			if err != nil {
				return err
			}
			defer m.Close()
			if _, err := m.Initialize(cmd.Context()); err != nil {
				return err
			}
			if addr == "" {
				addr = opts.cfg.StatusAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := statusapi.New(addr, opts.cfg.CorsOrigins, m)
			if token := opts.cfg.APIToken; token != "" {
				srv.RequireToken(auth.StaticToken{Token: token})
			}
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides status_addr)")
	return cmd
}

func configCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the aquasign config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with default values",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(opts.configPath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

// readEnvelope takes the envelope from arg, or from in when arg is "-".
func readEnvelope(arg string, in io.Reader) (ledger.Transaction, error) {
	raw := arg
	if arg == "-" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read envelope: %w", err)
		}
		raw = line
	}
	env, err := ledger.ParseEnvelope(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return env, nil
}
