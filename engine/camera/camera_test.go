package camera

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-4

func TestNewControllerDefaults(t *testing.T) {
	cc := NewController()
	assert.InDelta(t, 25, cc.Radius(), eps)

	x, y, z := cc.Position()
	assert.InDelta(t, 0, x, eps)
	assert.InDelta(t, -25*math.Cos(math.Pi/6), y, eps)
	assert.InDelta(t, 25*math.Sin(math.Pi/6), z, eps)
}

func TestControllerClamps(t *testing.T) {
	cc := NewController(WithRadiusLimits(5, 50), WithElevationLimits(0, 1))

	cc.Zoom(100)
	assert.InDelta(t, 5, cc.Radius(), eps)
	cc.Zoom(-1000)
	assert.InDelta(t, 50, cc.Radius(), eps)

	cc.Orbit(0, 10)
	assert.InDelta(t, 1, cc.Elevation(), eps)
	cc.Orbit(0, -10)
	assert.InDelta(t, 0, cc.Elevation(), eps)
}

func TestControllerPan(t *testing.T) {
	cc := NewController(WithOrbit(10, 0, 0))
	px, py, pz := cc.Position()
	require.InDelta(t, -10, py, eps)

	cc.Pan(1, 2)
	tx, ty, tz := cc.Target()
	assert.InDelta(t, 1, tx, eps)
	assert.InDelta(t, 0, ty, eps)
	assert.InDelta(t, 2, tz, eps)

	nx, ny, nz := cc.Position()
	assert.InDelta(t, px+1, nx, eps)
	assert.InDelta(t, py, ny, eps)
	assert.InDelta(t, pz+2, nz, eps)
	assert.InDelta(t, 10, cc.Radius(), eps)
}

func TestControllerApply(t *testing.T) {
	cc := NewController(WithSpeeds(1, 20, 10))

	cc.Apply(ActionZoomIn, 0.5)
	assert.InDelta(t, 15, cc.Radius(), eps)

	cc.Apply(ActionOrbitRight, 0.25)
	assert.InDelta(t, 0.25, cc.Azimuth(), eps)

	// opposite actions cancel
	cc.Apply(ActionOrbitLeft|ActionOrbitRight, 1)
	assert.InDelta(t, 0.25, cc.Azimuth(), eps)
}

func TestActionsFromKeys(t *testing.T) {
	held := func(keys ...int) func(int) bool {
		return func(k int) bool {
			for _, h := range keys {
				if h == k {
					return true
				}
			}
			return false
		}
	}

	assert.Equal(t, Actions(0), ActionsFromKeys(held()))
	assert.Equal(t, ActionOrbitLeft|ActionOrbitUp, ActionsFromKeys(held(common.KeyA, common.KeyW)))
	assert.Equal(t, ActionPanLeft|ActionPanUp, ActionsFromKeys(held(common.KeyA, common.KeyW, common.KeyLeftShift)))
	assert.Equal(t, ActionZoomIn|ActionZoomOut, ActionsFromKeys(held(common.KeyQ, common.KeyE, common.KeyRightShift)))
}

func TestCameraMatrices(t *testing.T) {
	c := NewCamera(
		WithAspect(16.0/9.0),
		WithClipPlanes(0.1, 100),
		WithController(NewController(WithTarget(1, 2, 3), WithOrbit(10, 0.5, 0.3))),
	)

	eye := c.Eye()
	px, py, pz := c.Controller().Position()
	assert.Equal(t, [3]float32{px, py, pz}, eye)

	view := c.ViewMatrix()
	p := common.TransformPoint4(view[:], 1, 2, 3)
	assert.InDelta(t, 0, p[0], eps)
	assert.InDelta(t, 0, p[1], eps)
	assert.InDelta(t, -10, p[2], eps)

	vp := c.ViewProjectionMatrix()
	clip := common.TransformPoint4(vp[:], 1, 2, 3)
	require.Greater(t, clip[3], float32(0))
	assert.InDelta(t, 0, clip[0]/clip[3], eps)
	assert.InDelta(t, 0, clip[1]/clip[3], eps)
	depth := clip[2] / clip[3]
	assert.True(t, depth > 0 && depth < 1, "depth %v", depth)
}

func TestCameraSetters(t *testing.T) {
	c := NewCamera(WithController(NewController()))
	proj := c.ProjectionMatrix()

	c.SetAspect(0)
	assert.Equal(t, float32(1), c.Aspect())
	assert.Equal(t, proj, c.ProjectionMatrix())

	c.SetAspect(2)
	assert.InDelta(t, proj[0]/2, c.ProjectionMatrix()[0], eps)

	c.SetFov(math.Pi / 2)
	assert.InDelta(t, 1, c.ProjectionMatrix()[5], eps)
}

func TestCameraWithoutController(t *testing.T) {
	c := NewCamera()
	c.Update()
	assert.Nil(t, c.Controller())
	assert.Equal(t, common.IdentityMatrix(), c.ViewMatrix())
}

func TestCameraScene(t *testing.T) {
	c := NewCamera(WithController(NewController()))
	scene := c.Scene([3]float32{5, 6, 7})

	assert.Equal(t, c.ViewMatrix(), scene.View)
	assert.Equal(t, c.ProjectionMatrix(), scene.Projection)
	assert.Equal(t, c.Eye(), scene.ViewPos)
	assert.Equal(t, [3]float32{5, 6, 7}, scene.LightPos)
}
