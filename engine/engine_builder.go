package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/window"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithWindow sets the window the engine renders into and reads input from.
//
// Parameters:
//   - w: an opened Window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithDriver sets the driver frames are submitted to, instead of creating a WebGPU driver on the
// window. The caller keeps ownership and releases it. Pass a driver.Recorder for headless runs.
func WithDriver(drv driver.Driver) EngineBuilderOption {
	return func(e *engine) {
		e.drv = drv
	}
}

// WithLogger sets the logger. Subsystems log through named children of it.
func WithLogger(logger *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLight sets the initial world-space light position.
func WithLight(pos [3]float32) EngineBuilderOption {
	return func(e *engine) {
		e.light = pos
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}
