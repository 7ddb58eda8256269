package importer

import (
	"runtime"

	"go.uber.org/zap"
)

// DefaultScratchCapacity is the size of the fixed scratch arena vertex streams are built in (16 MiB).
const DefaultScratchCapacity = 16 << 20

type importerConfig struct {
	logger          *zap.Logger
	workers         int
	scratchCapacity int
	virtualScratch  bool
}

func defaultImporterConfig() importerConfig {
	return importerConfig{
		logger:          zap.NewNop(),
		workers:         runtime.NumCPU(),
		scratchCapacity: DefaultScratchCapacity,
	}
}

// ImporterBuilderOption is a functional option for configuring an Importer.
type ImporterBuilderOption func(*importerConfig)

// WithLogger sets the logger used for import progress and warnings.
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - ImporterBuilderOption: a function that applies the logger option
func WithLogger(logger *zap.Logger) ImporterBuilderOption {
	return func(c *importerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWorkers sets the number of workers that parse files and decode textures.
//
// Parameters:
//   - n: worker count, must be positive
//
// Returns:
//   - ImporterBuilderOption: a function that applies the worker option
func WithWorkers(n int) ImporterBuilderOption {
	return func(c *importerConfig) {
		c.workers = n
	}
}

// WithScratchCapacity sets the size of the fixed scratch arena.
func WithScratchCapacity(bytes int) ImporterBuilderOption {
	return func(c *importerConfig) {
		c.scratchCapacity = bytes
	}
}

// WithVirtualScratch backs the scratch arena with a virtual-memory reservation instead of a fixed
// region, so large assets never exhaust it.
func WithVirtualScratch(enabled bool) ImporterBuilderOption {
	return func(c *importerConfig) {
		c.virtualScratch = enabled
	}
}
