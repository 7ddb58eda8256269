package main

import (
	"github.com/Carmen-Shannon/oxy-core/engine"
	"github.com/Carmen-Shannon/oxy-core/engine/window"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func runScene(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg.Assets.Paths = append(cfg.Assets.Paths, ctx.Args()...)

	win, err := window.NewWindow(window.WithConfig(cfg.Window))
	if err != nil {
		logger.Error("failed to open window", zap.Error(err))
		return err
	}
	e, err := engine.New(cfg,
		engine.WithWindow(win),
		engine.WithLogger(logger),
		engine.WithRenderFrameLimit(ctx.Float64("fps-limit")),
	)
	if err != nil {
		logger.Error("failed to start engine", zap.Error(err))
		_ = win.Close()
		return err
	}
	defer e.Close()

	logger.Info("rendering",
		zap.Int("width", win.Width()),
		zap.Int("height", win.Height()),
		zap.Int("nodes", e.Store().Nodes.Count()),
		zap.Int("skinned", e.Store().SkinnedNodes.Count()),
		zap.Int("instanced", e.Store().InstancedNodes.Count()),
	)
	if err := e.Run(); err != nil {
		logger.Error("render loop stopped", zap.Error(err))
		return err
	}
	return nil
}
