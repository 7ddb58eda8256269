package main

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-core/engine"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func benchScene(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	frames := ctx.Int("frames")
	if frames <= 0 {
		return fmt.Errorf("frame count must be positive, got %d", frames)
	}

	rec := driver.NewRecorder(driver.WithRecording(false))
	e, err := engine.New(cfg, engine.WithDriver(rec), engine.WithLogger(logger))
	if err != nil {
		logger.Error("failed to start engine", zap.Error(err))
		return err
	}
	defer e.Close()

	results, err := e.Load(ctx.Args()...)
	if err != nil {
		logger.Error("failed to import assets", zap.Error(err))
		return err
	}

	rec.Reset()
	sum, err := e.RunFrames(frames, float32(ctx.Float64("dt")))
	if err != nil {
		logger.Error("bench stopped", zap.Int("frames", sum.Frames), zap.Error(err))
		return err
	}

	if len(results) > 0 {
		writeAssetTable(os.Stdout, results)
	}
	writeFrameTable(os.Stdout, sum, rec.Stats())
	return nil
}
