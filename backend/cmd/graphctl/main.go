package main

import (
	"context"
	"fmt"
	"os"

	"graphmirror/backend/internal/app"
	"graphmirror/backend/internal/cli"
	"graphmirror/backend/internal/graph"
	"graphmirror/backend/pkg/config"
	"graphmirror/backend/pkg/logger"
)

func main() {
	open := func(ctx context.Context) (graph.Remote, func() error, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if err := logger.InitWithOptions(cfg.Env, logger.Options{File: cfg.LogFile}); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		remote, err := app.OpenRemote(ctx, cfg, nil)
		if err != nil {
			return nil, nil, err
		}
		return remote, remote.Close, nil
	}

	if err := cli.NewRootCommand(open).Execute(); err != nil {
		os.Exit(1)
	}
	logger.Sync()
}
