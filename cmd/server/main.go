package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storefront/config"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "order confirmation and stock reservation service",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			mcpCommand(),
			createUserCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		util.GetLogger().Error("Command failed", zap.Error(err))
		util.SyncLogger()
		os.Exit(1)
	}
	util.SyncLogger()
}

// bootstrap loads configuration, initializes logging and opens the store
func bootstrap() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := store.NewStore(store.Options{
		Driver:       cfg.Database.Driver,
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		LockTimeout:  cfg.Database.LockTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	util.GetLogger().Info("Database connected", zap.String("driver", db.Driver()))

	return cfg, db, nil
}
