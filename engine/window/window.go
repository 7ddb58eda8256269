package window

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// maxKey bounds the key codes tracked by KeyDown. GLFW key codes stay below 512.
const maxKey = 512

// Window provides platform windowing and input state.
// Wraps platform-specific window implementations with a common interface.
type Window interface {
	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the callback for mouse scroll wheel events.
	//
	// Parameters:
	//   - callback: function receiving scroll delta (positive = up/zoom in, negative = down/zoom out)
	SetScrollCallback(callback func(delta float32))

	// SetKeyCallback sets the callback for key transitions. Repeats are not reported.
	//
	// Parameters:
	//   - callback: function receiving the key code and whether it went down
	SetKeyCallback(callback func(key int, pressed bool))

	// KeyDown reports whether a key is currently held.
	//
	// Parameters:
	//   - key: a common.Key* code
	//
	// Returns:
	//   - bool: true while the key is held
	KeyDown(key int) bool

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor suitable for creating a WebGPU surface.
	// The descriptor is platform-appropriate (Windows HWND, X11 Xlib, Wayland, macOS Metal, etc.)
	// and is created by the wgpuglfw bridge from the underlying GLFW window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil if window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning returns true if the window is still active.
	IsRunning() bool

	// RequestClose asks the window to stop running. The loop exits after the current iteration.
	RequestClose()

	// Close closes the window and releases platform resources.
	//
	// Returns:
	//   - error: error if close operation fails
	Close() error

	// Poll processes pending platform events without blocking.
	//
	// Returns:
	//   - bool: false once the window should close
	Poll() bool

	// Run polls events and calls frame once per iteration until the window closes or frame returns false.
	//
	// Parameters:
	//   - frame: the per-iteration function
	Run(frame func() bool)

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int
}

// engineWindow is the implementation of the Window interface.
// Holds window configuration, platform state, input state and event callbacks.
type engineWindow struct {
	mu *sync.Mutex

	title string

	maxWidth  int
	maxHeight int
	minWidth  int
	minHeight int

	width  int
	height int

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	keys [maxKey]bool

	onResize func(width, height int)
	onScroll func(delta float32)
	onKey    func(key int, pressed bool)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a Window. Applies default values first, then each option in order.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the opened window
//   - error: an error if the platform window could not be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := newEngineWindow(options...)
	if err := newPlatformWindow(w); err != nil {
		return nil, fmt.Errorf("failed to create platform window: %w", err)
	}
	return w, nil
}

func newEngineWindow(options ...WindowBuilderOption) *engineWindow {
	w := &engineWindow{
		mu:        &sync.Mutex{},
		title:     "oxy",
		maxWidth:  3840,
		maxHeight: 2160,
		minWidth:  320,
		minHeight: 200,
		width:     1280,
		height:    720,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResize = callback
}

func (w *engineWindow) SetScrollCallback(callback func(delta float32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onScroll = callback
}

func (w *engineWindow) SetKeyCallback(callback func(key int, pressed bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onKey = callback
}

func (w *engineWindow) KeyDown(key int) bool {
	if key < 0 || key >= maxKey {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keys[key]
}

// handleKey records a key transition and forwards it. Escape closes the window.
func (w *engineWindow) handleKey(key int, pressed bool) {
	if key < 0 || key >= maxKey {
		return
	}
	w.mu.Lock()
	changed := w.keys[key] != pressed
	w.keys[key] = pressed
	cb := w.onKey
	w.mu.Unlock()

	if !changed {
		return
	}
	if key == common.KeyEsc && pressed {
		w.RequestClose()
		return
	}
	if cb != nil {
		cb(key, pressed)
	}
}

func (w *engineWindow) handleResize(width, height int) {
	w.mu.Lock()
	w.width, w.height = width, height
	cb := w.onResize
	w.mu.Unlock()
	if cb != nil {
		cb(width, height)
	}
}

func (w *engineWindow) handleScroll(delta float32) {
	w.mu.Lock()
	cb := w.onScroll
	w.mu.Unlock()
	if cb != nil {
		cb(delta)
	}
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *engineWindow) RequestClose() {
	platformRequestClose(w)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) Poll() bool {
	return platformProcessMessages(w)
}

func (w *engineWindow) Run(frame func() bool) {
	for w.IsRunning() {
		if !w.Poll() {
			break
		}
		if !frame() {
			break
		}
		runtime.Gosched()
	}
}

func (w *engineWindow) Width() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width
}

func (w *engineWindow) Height() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height
}
