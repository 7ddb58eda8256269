package main

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-core/engine"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func inspectScene(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg.Assets.Paths = append(cfg.Assets.Paths, ctx.Args()...)

	rec := driver.NewRecorder(driver.WithRecording(false))
	e, err := engine.New(cfg, engine.WithDriver(rec), engine.WithLogger(logger))
	if err != nil {
		logger.Error("failed to start engine", zap.Error(err))
		return err
	}
	defer e.Close()

	s := e.Store()
	fmt.Println("Pools")
	writePoolTable(os.Stdout, s)
	fmt.Println("\nArenas")
	writeArenaTable(os.Stdout, s.Arena(), e.Importer().Scratch())
	fmt.Println("\nShaders")
	writeShaderTable(os.Stdout, s)
	fmt.Println("\nSort keys")
	writeSortKeyTable(os.Stdout, s)
	return nil
}
