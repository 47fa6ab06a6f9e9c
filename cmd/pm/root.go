package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/internal/config"
	"github.com/Hussein-Mazeh/vaultcore/internal/logging"
	"github.com/Hussein-Mazeh/vaultcore/internal/service"
	"github.com/Hussein-Mazeh/vaultcore/internal/shutdown"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

// app carries the wiring shared by every subcommand. It is built once per process in
// the root command's pre-run hook.
type app struct {
	cfgFile  string
	dataDir  string
	logLevel string
	jsonOut  bool

	// overridable in tests
	kdf      *krypto.Argon2Params
	register func(*vault.Manager) error
	service  func(opts ...service.Option) (*service.Service, error)
	password func(w io.Writer, prompt string) ([]byte, error)

	cfg      *config.Config
	log      *slog.Logger
	store    *store.Store
	svc      *service.Service
	shutdown *shutdown.Handler
}

func newApp() *app {
	return &app{
		register: vault.Register,
		service:  service.FromRegistry,
		password: promptPassword,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pm",
		Short:         "Local password vault",
		Long:          "pm manages a local vault protected by a single master password.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&a.dataDir, "dir", "", "vault directory (overrides data_dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print command results as JSON envelopes")

	root.AddCommand(
		newVersionCmd(),
		newStatusCmd(a),
		newInitCmd(a),
		newChangePasswordCmd(a),
		newCheckPasswordCmd(a),
		newHealthCmd(a),
		newSessionCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return userError{msg: err.Error()}
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return userError{msg: err.Error()}
	}
	a.log = logger

	st, err := store.New(cfg.DatabasePath(), store.WithLogger(logger.With("component", "store")))
	if err != nil {
		return err
	}
	a.store = st

	opts := []vault.Option{vault.WithLogger(logger.With("component", "vault"))}
	if a.kdf != nil {
		opts = append(opts, vault.WithKDFParams(*a.kdf))
	}
	m, err := vault.New(st, opts...)
	if err != nil {
		return err
	}
	if err := a.register(m); err != nil {
		return err
	}

	svcOpts := []service.Option{service.WithLogger(logger)}
	if cfg.BreachCheck {
		hibp := auth.NewHIBPClient()
		hibp.Log = logger
		svcOpts = append(svcOpts, service.WithBreachCheck(hibp))
	}
	svc, err := a.service(svcOpts...)
	if err != nil {
		return err
	}
	a.svc = svc
	a.shutdown = shutdown.New(svc.Manager(), logger)

	ctx := a.shutdown.Watch(cmd.Context())
	cmd.SetContext(ctx)
	go func() {
		<-ctx.Done()
		<-a.shutdown.Done()
		if a.shutdown.Signaled() {
			a.shutdown.Exit(130)
		}
	}()
	return nil
}

// close locks the vault and releases the store. Safe to call when setup never ran.
func (a *app) close() {
	if a.shutdown != nil {
		a.shutdown.Shutdown(context.Background())
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.log != nil {
			a.log.Error("close store", "err", err)
		}
	}
}

// report prints res for the user and converts a failure into an error.
func report[T any](a *app, w io.Writer, res service.Result[T], text func(T) string) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.Success {
		if s := text(res.Data); s != "" {
			fmt.Fprintln(w, s)
		}
	}
	if res.Success {
		return nil
	}
	if res.Code == "internal" {
		return errors.New(res.Error)
	}
	return userError{msg: res.Error}
}

func formatStatus(st vault.Status) string {
	if !st.IsInitialized {
		return "vault: not initialized"
	}
	return fmt.Sprintf("vault: %s (version %d, created %d)", st.State, deref(st.Version), deref(st.CreatedAt))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
