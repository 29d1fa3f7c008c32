package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kailas-cloud/policyrag/cmd/policyrag-indexer/commands"
	"github.com/kailas-cloud/policyrag/internal/app"
	"github.com/kailas-cloud/policyrag/internal/config"
	logpkg "github.com/kailas-cloud/policyrag/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func open(ctx context.Context, env, configPath string) (*commands.Deps, error) {
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		if err = config.LoadDotEnv(); err == nil {
			cfg, err = config.LoadFile(configPath)
		}
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, err
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	a, err := app.New(logpkg.ContextWithLogger(ctx, logger), cfg, logger)
	if err != nil {
		return nil, err
	}

	d := &commands.Deps{
		Indexer:       a.Indexer,
		Invalidate:    a.Catalog.Invalidate,
		WatchDebounce: time.Duration(cfg.Indexer.WatchDebounceMs) * time.Millisecond,
		Logger:        logger,
		Close: func() error {
			err := a.Close()
			_ = logger.Sync()
			return err
		},
	}
	if cfg.Source.S3Bucket == "" {
		d.WatchPath = cfg.Source.Path
	}
	return d, nil
}
