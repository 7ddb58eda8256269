package driver

// RecorderBuilderOption is a functional option for configuring a Recorder.
type RecorderBuilderOption func(*Recorder)

// WithRecording enables or disables keeping the per-call log. Counters are always maintained.
// Disable it for long headless runs where only the counters matter.
//
// Parameters:
//   - enabled: whether calls are recorded
//
// Returns:
//   - RecorderBuilderOption: a function that applies the recording option to a Recorder
func WithRecording(enabled bool) RecorderBuilderOption {
	return func(r *Recorder) {
		r.record = enabled
	}
}

// WithFailingShaders makes CreateShader fail for the named shaders.
//
// Parameters:
//   - names: shader names whose compilation is rejected
//
// Returns:
//   - RecorderBuilderOption: a function that applies the option to a Recorder
func WithFailingShaders(names ...string) RecorderBuilderOption {
	return func(r *Recorder) {
		for _, n := range names {
			r.failedShaders[n] = true
		}
	}
}
