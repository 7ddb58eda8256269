package driver

import (
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// WGPUBuilderOption is a functional option for configuring the WebGPU driver.
type WGPUBuilderOption func(*wgpuDriverImpl)

// WithLogger sets the logger used for non-fatal GPU errors (pipeline or bind group creation).
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - WGPUBuilderOption: a function that applies the logger option to the driver
func WithLogger(logger *zap.Logger) WGPUBuilderOption {
	return func(b *wgpuDriverImpl) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithForceFallbackAdapter requests the software fallback adapter.
//
// Parameters:
//   - force: whether to force the fallback adapter
//
// Returns:
//   - WGPUBuilderOption: a function that applies the option to the driver
func WithForceFallbackAdapter(force bool) WGPUBuilderOption {
	return func(b *wgpuDriverImpl) {
		b.forceFallbackAdapter = force
	}
}

// WithPresentMode sets how frames are presented.
//
// Parameters:
//   - mode: PresentModeVSync, PresentModeUncapped or PresentModeMailbox
//
// Returns:
//   - WGPUBuilderOption: a function that applies the present mode to the driver
func WithPresentMode(mode PresentMode) WGPUBuilderOption {
	return func(b *wgpuDriverImpl) {
		switch mode {
		case PresentModeUncapped:
			b.presentMode = wgpu.PresentModeImmediate
		case PresentModeMailbox:
			b.presentMode = wgpu.PresentModeMailbox
		default:
			b.presentMode = wgpu.PresentModeFifo
		}
	}
}

// WithSampleCount sets the MSAA sample count. WebGPU guarantees support for 1 and 4.
//
// Parameters:
//   - count: samples per pixel
//
// Returns:
//   - WGPUBuilderOption: a function that applies the sample count to the driver
func WithSampleCount(count uint32) WGPUBuilderOption {
	return func(b *wgpuDriverImpl) {
		if count == 1 || count == 4 {
			b.sampleCount = count
		}
	}
}

// WithClearColor sets the color the frame is cleared to.
func WithClearColor(r, g, bl, a float64) WGPUBuilderOption {
	return func(b *wgpuDriverImpl) {
		b.clearColor = wgpu.Color{R: r, G: g, B: bl, A: a}
	}
}
