package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-core/common"
)

// Controller owns the camera's positional state in a Z-up world. The eye orbits a target on a sphere
// described by radius, azimuth and elevation; panning moves eye and target together.
type Controller interface {
	// Position returns the world-space eye position.
	Position() (x, y, z float32)

	// Target returns the look-at point.
	Target() (x, y, z float32)

	// SetTarget moves the look-at point and recomputes the eye.
	SetTarget(x, y, z float32)

	// Radius returns the distance from eye to target.
	Radius() float32

	// Azimuth returns the horizontal angle around the Z axis in radians. At 0 the eye sits on the -Y side
	// of the target.
	Azimuth() float32

	// Elevation returns the angle above the horizontal plane in radians.
	Elevation() float32

	// Orbit rotates the eye around the target. Elevation is clamped to the controller's bounds.
	//
	// Parameters:
	//   - dAzimuth: azimuth change in radians
	//   - dElevation: elevation change in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves the eye toward the target by delta, clamped to the radius bounds.
	Zoom(delta float32)

	// Pan translates eye and target along the camera's right and up axes.
	Pan(right, up float32)

	// Apply advances the controller by dt seconds of the given input actions.
	//
	// Parameters:
	//   - actions: the held actions
	//   - dt: elapsed time in seconds
	Apply(actions Actions, dt float32)
}

// Actions is the set of camera actions held during a frame.
type Actions uint16

const (
	ActionOrbitLeft Actions = 1 << iota
	ActionOrbitRight
	ActionOrbitUp
	ActionOrbitDown
	ActionZoomIn
	ActionZoomOut
	ActionPanLeft
	ActionPanRight
	ActionPanUp
	ActionPanDown
)

// ActionsFromKeys maps held keys to camera actions. A/D and W/S orbit, Q/E zoom; holding shift turns
// the A/D and W/S pairs into panning.
//
// Parameters:
//   - pressed: reports whether a key (common.Key* code) is held
//
// Returns:
//   - Actions: the held actions
func ActionsFromKeys(pressed func(key int) bool) Actions {
	var a Actions
	shift := pressed(common.KeyLeftShift) || pressed(common.KeyRightShift)
	set := func(key int, orbit, pan Actions) {
		if !pressed(key) {
			return
		}
		if shift {
			a |= pan
		} else {
			a |= orbit
		}
	}
	set(common.KeyA, ActionOrbitLeft, ActionPanLeft)
	set(common.KeyD, ActionOrbitRight, ActionPanRight)
	set(common.KeyW, ActionOrbitUp, ActionPanUp)
	set(common.KeyS, ActionOrbitDown, ActionPanDown)
	if pressed(common.KeyQ) {
		a |= ActionZoomIn
	}
	if pressed(common.KeyE) {
		a |= ActionZoomOut
	}
	return a
}

type orbitController struct {
	mu *sync.Mutex

	position [3]float32
	target   [3]float32

	radius    float32
	azimuth   float32
	elevation float32

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32

	// per-second rates
	orbitSpeed float32
	zoomSpeed  float32
	panSpeed   float32
}

var _ Controller = &orbitController{}

// NewController creates an orbit controller looking at the origin from 25 units away, 30° above the
// horizon. Those defaults frame the default scene.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - Controller: the newly created controller
func NewController(options ...ControllerOption) Controller {
	cc := &orbitController{
		mu: &sync.Mutex{},

		radius:    25,
		elevation: float32(math.Pi / 6),

		minRadius:    2,
		maxRadius:    150,
		minElevation: float32(-math.Pi/2 + 0.1),
		maxElevation: float32(math.Pi/2 - 0.1),

		orbitSpeed: 1.5,
		zoomSpeed:  20,
		panSpeed:   10,
	}
	for _, option := range options {
		option(cc)
	}
	cc.clamp()
	cc.updatePosition()
	return cc
}

// updatePosition places the eye on the orbit sphere. Caller must hold the mutex.
func (cc *orbitController) updatePosition() {
	cosElev := float32(math.Cos(float64(cc.elevation)))
	sinElev := float32(math.Sin(float64(cc.elevation)))
	cosAzim := float32(math.Cos(float64(cc.azimuth)))
	sinAzim := float32(math.Sin(float64(cc.azimuth)))

	cc.position[0] = cc.target[0] + cc.radius*cosElev*sinAzim
	cc.position[1] = cc.target[1] - cc.radius*cosElev*cosAzim
	cc.position[2] = cc.target[2] + cc.radius*sinElev
}

func (cc *orbitController) clamp() {
	cc.radius = min(max(cc.radius, cc.minRadius), cc.maxRadius)
	cc.elevation = min(max(cc.elevation, cc.minElevation), cc.maxElevation)
}

// axes returns the camera's right and up vectors, matching common.LookAt with a world up of +Z.
// Caller must hold the mutex.
func (cc *orbitController) axes() (right, up [3]float32) {
	f := [3]float32{cc.target[0] - cc.position[0], cc.target[1] - cc.position[1], cc.target[2] - cc.position[2]}
	fl := float32(math.Sqrt(float64(f[0]*f[0] + f[1]*f[1] + f[2]*f[2])))
	rl := float32(math.Sqrt(float64(f[0]*f[0] + f[1]*f[1])))
	if fl < 1e-8 || rl < 1e-8 {
		return
	}
	f = [3]float32{f[0] / fl, f[1] / fl, f[2] / fl}
	// cross(f, +Z)
	right = [3]float32{f[1] * fl / rl, -f[0] * fl / rl, 0}
	up = [3]float32{
		right[1]*f[2] - right[2]*f[1],
		right[2]*f[0] - right[0]*f[2],
		right[0]*f[1] - right[1]*f[0],
	}
	return
}

func (cc *orbitController) Position() (x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position[0], cc.position[1], cc.position[2]
}

func (cc *orbitController) Target() (x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target[0], cc.target[1], cc.target[2]
}

func (cc *orbitController) SetTarget(x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = [3]float32{x, y, z}
	cc.updatePosition()
}

func (cc *orbitController) Radius() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.radius
}

func (cc *orbitController) Azimuth() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.azimuth
}

func (cc *orbitController) Elevation() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.elevation
}

func (cc *orbitController) Orbit(dAzimuth, dElevation float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth += dAzimuth
	cc.elevation += dElevation
	cc.clamp()
	cc.updatePosition()
}

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius -= delta
	cc.clamp()
	cc.updatePosition()
}

func (cc *orbitController) Pan(right, up float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	r, u := cc.axes()
	for k := range 3 {
		d := r[k]*right + u[k]*up
		cc.target[k] += d
		cc.position[k] += d
	}
}

func (cc *orbitController) Apply(a Actions, dt float32) {
	if a == 0 {
		return
	}
	axis := func(neg, pos Actions) float32 {
		var v float32
		if a&neg != 0 {
			v--
		}
		if a&pos != 0 {
			v++
		}
		return v
	}

	cc.mu.Lock()
	orbit, zoom, pan := cc.orbitSpeed*dt, cc.zoomSpeed*dt, cc.panSpeed*dt
	cc.mu.Unlock()

	if da, de := axis(ActionOrbitLeft, ActionOrbitRight), axis(ActionOrbitDown, ActionOrbitUp); da != 0 || de != 0 {
		cc.Orbit(da*orbit, de*orbit)
	}
	if dz := axis(ActionZoomOut, ActionZoomIn); dz != 0 {
		cc.Zoom(dz * zoom)
	}
	if dx, dy := axis(ActionPanLeft, ActionPanRight), axis(ActionPanDown, ActionPanUp); dx != 0 || dy != 0 {
		cc.Pan(dx*pan, dy*pan)
	}
}
