// Package engine runs the frame loop: input, simulation, culling, drawlist build, drawlist execution and
// present, in that order, on the caller's goroutine.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/camera"
	"github.com/Carmen-Shannon/oxy-core/engine/cull"
	"github.com/Carmen-Shannon/oxy-core/engine/drawlist"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/importer"
	"github.com/Carmen-Shannon/oxy-core/engine/profiler"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
	"github.com/Carmen-Shannon/oxy-core/engine/window"
	"github.com/Carmen-Shannon/oxy-core/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNoWindow is returned by Run on a headless engine.
	ErrNoWindow = errors.New("engine: no window")
	// ErrNoDriver is returned by New when neither a driver nor a window to create one from is given.
	ErrNoDriver = errors.New("engine: no driver and no window to create one")
	// ErrFramePanic wraps a panic recovered from a frame.
	ErrFramePanic = errors.New("engine: frame panicked")
)

// cubeOrbitRadius places the default scene's instanced cubes around the origin.
const cubeOrbitRadius = 6

// pass is one drawlist build and execution over the frame's visible nodes.
type pass struct {
	name             string
	include, exclude drawlist.Filter
	policy           drawlist.SortPolicy
	// blended passes bind the store's blending state for every item.
	blended bool
}

// engine implements the Engine interface.
type engine struct {
	mu *sync.Mutex

	logger *zap.Logger
	cfg    *config.Config

	window     window.Window
	drv        driver.Driver
	ownsDriver bool

	store    *store.Store
	importer *importer.Importer
	camera   camera.Camera
	profiler *profiler.Profiler

	vis      cull.VisibleNodes
	dl       *drawlist.Drawlist
	cullOpts cull.Options
	passes   []pass

	light    [3]float32
	paused   bool
	simTime  float32
	scene    store.DefaultScene
	hasScene bool

	limiters map[string]*rate.Limiter

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped

	quitChannel chan struct{}
	quitOnce    sync.Once
}

// Engine is the main entry point for the engine. It owns the store, the importer, the camera and the
// profiler, and runs frames against a driver.
type Engine interface {
	// Window returns the window, or nil for a headless engine.
	Window() window.Window

	// Driver returns the driver frames are submitted to.
	Driver() driver.Driver

	// Store returns the scene store.
	Store() *store.Store

	// Camera returns the camera.
	Camera() camera.Camera

	// Profiler returns the frame profiler.
	Profiler() *profiler.Profiler

	// Importer returns the asset importer.
	Importer() *importer.Importer

	// DefaultScene returns the handles of the built-in scene, if it was added.
	DefaultScene() (store.DefaultScene, bool)

	// Load imports asset files into the store.
	//
	// Parameters:
	//   - paths: .gltf or .glb files
	//
	// Returns:
	//   - []importer.Result: one result per committed file
	//   - error: an error if any file failed to import
	Load(paths ...string) ([]importer.Result, error)

	// Frame runs one frame: input, simulation, culling, drawlist build and execution, present.
	// A frame whose surface cannot be acquired is skipped without error.
	//
	// Parameters:
	//   - dt: elapsed time in seconds since the previous frame
	//
	// Returns:
	//   - profiler.FrameStats: the work done
	//   - error: an error if node or scene constants could not be uploaded
	Frame(dt float32) (profiler.FrameStats, error)

	// Run drives frames from the window loop until the window closes, Quit is called or a frame fails.
	// A panicking frame is recovered, logged and returned as an ErrFramePanic error.
	//
	// Returns:
	//   - error: ErrNoWindow for a headless engine, or the error that stopped the loop
	Run() error

	// RunFrames runs n frames with a fixed time step and returns their aggregate. The profiler is reset
	// first.
	//
	// Parameters:
	//   - n: number of frames
	//   - dt: time step in seconds
	//
	// Returns:
	//   - profiler.Summary: the aggregate of the frames run
	//   - error: the error that stopped the run early, if any
	RunFrames(n int, dt float32) (profiler.Summary, error)

	// SetPaused stops or resumes simulation. Paused frames still render.
	SetPaused(paused bool)

	// Paused reports whether simulation is stopped.
	Paused() bool

	// SetLight sets the world-space light position written to the scene constants.
	SetLight(pos [3]float32)

	// Quit stops Run and RunFrames after the current frame. Safe to call multiple times.
	Quit()

	// Close releases the driver (when the engine created it) and the window.
	//
	// Returns:
	//   - error: an error if the window failed to close
	Close() error
}

var _ Engine = &engine{}

// New creates an Engine from cfg. Without WithDriver, a WebGPU driver is created on the window's
// surface. The store is initialized on the driver, the default scene is added when enabled and the
// configured assets are imported.
//
// Parameters:
//   - cfg: the validated configuration
//   - options: functional options for window, driver and logging
//
// Returns:
//   - Engine: the newly created engine
//   - error: an error if any part of the setup failed
func New(cfg *config.Config, options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		mu:          &sync.Mutex{},
		logger:      zap.NewNop(),
		cfg:         cfg,
		light:       [3]float32{10, -10, 20},
		limiters:    make(map[string]*rate.Limiter),
		quitChannel: make(chan struct{}),
		cullOpts:    cull.Options{MinZ: cfg.Cull.MinZ},
	}
	for _, opt := range options {
		opt(e)
	}

	policy, err := drawlist.ParseSortPolicy(cfg.Render.SortPolicy)
	if err != nil {
		return nil, err
	}
	e.passes = []pass{
		{name: "opaque", exclude: drawlist.FilterAlpha | drawlist.FilterMirror, policy: policy},
		{name: "mirror", include: drawlist.FilterMirror, policy: drawlist.SortDefault, blended: true},
		{name: "translucent", include: drawlist.FilterAlpha, exclude: drawlist.FilterMirror, policy: drawlist.SortBackToFront, blended: true},
	}

	width, height := cfg.Window.Width, cfg.Window.Height
	if e.window != nil {
		width, height = e.window.Width(), e.window.Height()
	}
	if e.drv == nil {
		if e.window == nil {
			return nil, ErrNoDriver
		}
		c := cfg.Render.ClearColor
		e.drv, err = driver.NewWGPU(e.window.SurfaceDescriptor(),
			driver.WithLogger(e.logger.Named("driver")),
			driver.WithPresentMode(driver.ParsePresentMode(cfg.Render.PresentMode)),
			driver.WithSampleCount(uint32(cfg.Render.SampleCount)),
			driver.WithClearColor(c[0], c[1], c[2], c[3]),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create driver: %w", err)
		}
		e.ownsDriver = true
	}
	e.drv.Resize(width, height)

	sc := cfg.Store
	e.store = store.New(
		store.WithArenaCapacity(sc.ArenaBytes),
		store.WithVirtualArena(sc.VirtualArena),
		store.WithMeshCapacity(sc.Meshes),
		store.WithNodeCapacity(sc.Nodes),
		store.WithSkinnedCapacity(sc.SkinnedNodes),
		store.WithInstancedCapacity(sc.InstancedNodes),
		store.WithAnimatedCapacity(sc.AnimatedNodes),
		store.WithCBufferCapacity(sc.CBuffers),
		store.WithLogger(e.logger.Named("store")),
	)
	if err := e.store.Init(e.drv); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	ac := cfg.Assets
	e.importer = importer.New(e.store,
		importer.WithLogger(e.logger.Named("importer")),
		importer.WithWorkers(ac.Workers),
		importer.WithScratchCapacity(ac.ScratchBytes),
		importer.WithVirtualScratch(ac.VirtualScratch),
	)

	e.camera = camera.NewCamera(
		camera.WithFov(cfg.Render.FOV*math.Pi/180),
		camera.WithAspect(float32(width)/float32(max(height, 1))),
		camera.WithClipPlanes(cfg.Render.Near, cfg.Render.Far),
		camera.WithController(camera.NewController()),
	)

	e.profiler = profiler.NewProfiler(
		profiler.WithLogger(e.logger.Named("profiler")),
		profiler.WithInterval(cfg.Render.ProfileInterval),
	)

	// Each visible node emits at most one item per stream; instanced nodes are never culled.
	e.dl = drawlist.New((2*cull.MaxVisible + sc.InstancedNodes) * int(store.StreamCount))

	if ac.DefaultScene {
		if e.scene, err = e.store.AddDefaultScene(); err != nil {
			return nil, fmt.Errorf("failed to add default scene: %w", err)
		}
		e.hasScene = true
	}
	if len(ac.Paths) > 0 {
		if _, err := e.Load(ac.Paths...); err != nil {
			return nil, err
		}
	}

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			e.drv.Resize(width, height)
			if height > 0 {
				e.camera.SetAspect(float32(width) / float32(height))
			}
		})
		e.window.SetKeyCallback(func(key int, pressed bool) {
			if key == common.KeySpace && pressed {
				e.SetPaused(!e.Paused())
			}
		})
		e.window.SetScrollCallback(func(delta float32) {
			if ctrl := e.camera.Controller(); ctrl != nil {
				ctrl.Zoom(delta)
			}
		})
	}
	return e, nil
}

func (e *engine) Window() window.Window { return e.window }

func (e *engine) Driver() driver.Driver { return e.drv }

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Camera() camera.Camera { return e.camera }

func (e *engine) Profiler() *profiler.Profiler { return e.profiler }

func (e *engine) Importer() *importer.Importer { return e.importer }

func (e *engine) DefaultScene() (store.DefaultScene, bool) { return e.scene, e.hasScene }

func (e *engine) Load(paths ...string) ([]importer.Result, error) {
	res, err := e.importer.Load(paths...)
	if err != nil {
		return res, fmt.Errorf("failed to load assets: %w", err)
	}
	return res, nil
}

func (e *engine) Frame(dt float32) (profiler.FrameStats, error) {
	start := time.Now()
	var fs profiler.FrameStats

	// input
	if e.window != nil {
		if ctrl := e.camera.Controller(); ctrl != nil {
			ctrl.Apply(camera.ActionsFromKeys(e.window.KeyDown), dt)
		}
	}
	e.camera.Update()

	// simulation
	if !e.Paused() {
		e.simTime += dt
		fs.Animated = e.store.AdvanceAnimations(dt)
		e.animateScene()
	}
	if err := e.store.UploadAll(); err != nil {
		return fs, fmt.Errorf("failed to upload nodes: %w", err)
	}
	e.mu.Lock()
	light := e.light
	e.mu.Unlock()
	if err := e.store.UploadScene(e.camera.Scene(light)); err != nil {
		return fs, fmt.Errorf("failed to upload scene: %w", err)
	}

	// cull
	cull.ComputeVisibilityWith(&e.vis, e.camera.ViewProjectionMatrix(), e.store, e.cullOpts)
	fs.Visible, fs.VisibleSkinned = e.vis.NodeCount, e.vis.SkinnedCount
	if fs.Overflow = e.vis.Dropped(); fs.Overflow > 0 {
		e.warn("visible list overflow",
			zap.Int("dropped_nodes", e.vis.DroppedNodes),
			zap.Int("dropped_skinned", e.vis.DroppedSkinned),
			zap.Int("capacity", cull.MaxVisible),
		)
	}

	// build and execute
	if err := e.drv.BeginFrame(); err != nil {
		e.warn("frame skipped", zap.Error(err))
		return fs, nil
	}
	ctx := drawlist.Context{}
	ctx.CBuffers[0] = e.store.SceneCBuffer
	eye := e.camera.Eye()
	for i := range e.passes {
		e.drawPass(&e.passes[i], &ctx, eye, &fs)
	}
	e.drv.EndFrame()
	e.drv.Present()

	fs.CPU = time.Since(start)
	e.profiler.Tick(fs)
	return fs, nil
}

func (e *engine) drawPass(p *pass, ctx *drawlist.Context, eye [3]float32, fs *profiler.FrameStats) {
	e.dl.Reset()
	drawlist.AddNodesSorted(e.dl, &e.vis, eye, e.store, p.include, p.exclude, p.policy)
	fs.Items += e.dl.Len()
	if dropped := e.dl.Dropped(); dropped > 0 {
		fs.DroppedItems += dropped
		e.warn("drawlist full", zap.String("pass", p.name), zap.Int("dropped", dropped), zap.Int("capacity", e.dl.Cap()))
	}
	if e.dl.Len() == 0 {
		return
	}

	e.drv.BeginEvent(p.name)
	ov := drawlist.Overrides{ForcedCBufferCount: 1}
	if p.blended {
		if ctx.BlendState != e.store.BlendOn {
			e.drv.BindBlendState(e.store.BlendOn)
			ctx.BlendState = e.store.BlendOn
		}
		ov.ForcedBlendState = true
	}
	st := drawlist.Draw(e.dl, ctx, ov, e.drv)
	e.drv.EndEvent()

	fs.Binds += st.Binds
	fs.SkippedBinds += st.SkippedBinds
	fs.Draws += st.Draws
	fs.Instances += st.Instances
}

// animateScene circles the default scene's cubes around the origin, each spinning about Z.
func (e *engine) animateScene() {
	if !e.hasScene {
		return
	}
	inst, ok := e.store.Instanced(e.scene.Cubes)
	if !ok || inst.InstanceCount == 0 {
		return
	}
	count := inst.DrawnInstances()
	n := float64(count)
	spin := float64(e.simTime)
	for i := range count {
		a := 0.5*spin + 2*math.Pi*float64(i)/n
		x, y := cubeOrbitRadius*float32(math.Cos(a)), cubeOrbitRadius*float32(math.Sin(a))
		common.BuildModelMatrix(inst.Instances[i][:], x, y, 1.5, 0, 0, float32(spin), 1, 1, 1)
	}
}

// warn logs at most once per second per message.
func (e *engine) warn(msg string, fields ...zap.Field) {
	e.mu.Lock()
	l, ok := e.limiters[msg]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 1)
		e.limiters[msg] = l
	}
	e.mu.Unlock()
	if l.Allow() {
		e.logger.Warn(msg, fields...)
	}
}

// safeFrame runs a frame, turning a panic into an ErrFramePanic error.
func (e *engine) safeFrame(dt float32) (fs profiler.FrameStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("frame panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrFramePanic, r)
		}
	}()
	return e.Frame(dt)
}

func (e *engine) quitting() bool {
	select {
	case <-e.quitChannel:
		return true
	default:
		return false
	}
}

func (e *engine) Run() error {
	if e.window == nil {
		return ErrNoWindow
	}
	var runErr error
	lastFrame := time.Now()
	e.window.Run(func() bool {
		if e.quitting() {
			return false
		}
		now := time.Now()
		dt := float32(now.Sub(lastFrame).Seconds())
		lastFrame = now

		if _, err := e.safeFrame(dt); err != nil {
			runErr = err
			return false
		}

		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(now); remaining > 0 {
				time.Sleep(remaining)
			}
		}
		return true
	})
	return runErr
}

func (e *engine) RunFrames(n int, dt float32) (profiler.Summary, error) {
	e.profiler.Reset()
	for range n {
		if e.quitting() {
			break
		}
		if _, err := e.safeFrame(dt); err != nil {
			return e.profiler.Summary(), err
		}
	}
	return e.profiler.Summary(), nil
}

func (e *engine) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

func (e *engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *engine) SetLight(pos [3]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.light = pos
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Close() error {
	e.Quit()
	if err := e.importer.Close(); err != nil {
		e.logger.Warn("failed to release scratch arena", zap.Error(err))
	}
	if e.ownsDriver {
		e.drv.Release()
	}
	if e.window != nil {
		return e.window.Close()
	}
	return nil
}
