// Command initvault creates a vault non-interactively, for provisioning scripts.
// The master password is read from PM_MASTER_PASSWORD.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/Hussein-Mazeh/vaultcore/internal/config"
	"github.com/Hussein-Mazeh/vaultcore/internal/logging"
	"github.com/Hussein-Mazeh/vaultcore/internal/service"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

func main() {
	cfgFile := flag.String("config", "", "config file (YAML)")
	dir := flag.String("dir", "", "vault directory")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dir != "" {
		cfg.DataDir = *dir
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	pw := os.Getenv("PM_MASTER_PASSWORD")
	if pw == "" {
		log.Fatal("PM_MASTER_PASSWORD is not set")
	}

	st, err := store.New(cfg.DatabasePath(), store.WithLogger(logger))
	if err != nil {
		log.Fatalf("open vault store: %v", err)
	}
	m, err := vault.New(st, vault.WithLogger(logger))
	if err != nil {
		log.Fatalf("create vault manager: %v", err)
	}
	if err := vault.Register(m); err != nil {
		log.Fatalf("register vault manager: %v", err)
	}
	svc, err := service.FromRegistry(service.WithLogger(logger))
	if err != nil {
		log.Fatalf("create vault service: %v", err)
	}

	ctx := context.Background()
	res := svc.InitializeVault(ctx, pw)
	svc.LockVault(ctx)
	if !res.Success {
		log.Fatalf("initialize vault: %s", res.Error)
	}
	logger.Info("vault created", "path", cfg.DatabasePath())
}
