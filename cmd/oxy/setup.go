package main

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-core/internal/config"
	"github.com/Carmen-Shannon/oxy-core/internal/logging"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// setup loads the configuration, applies the command's flag overrides and builds the logger.
func setup(ctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg := config.Default()
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, nil, err
		}
	}

	if ctx.IsSet("width") {
		cfg.Window.Width = ctx.Int("width")
	}
	if ctx.IsSet("height") {
		cfg.Window.Height = ctx.Int("height")
	}
	if ctx.IsSet("present-mode") {
		cfg.Render.PresentMode = ctx.String("present-mode")
	}
	if ctx.IsSet("sort-policy") {
		cfg.Render.SortPolicy = ctx.String("sort-policy")
	}
	if ctx.Bool("no-default-scene") {
		cfg.Assets.DefaultScene = false
	}
	if ctx.IsSet("workers") {
		cfg.Assets.Workers = ctx.Int("workers")
	}
	if ctx.Bool("virtual-arena") {
		cfg.Store.VirtualArena = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	verbosity := 0
	if ctx.GlobalBool("v") {
		verbosity = 1
	}
	if ctx.GlobalBool("vv") {
		verbosity = 2
	}
	logger, err := logging.New(logging.Verbosity(cfg.Logging, verbosity))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}
