package window

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestKeyState(t *testing.T) {
	w := newEngineWindow()
	var events []int
	w.SetKeyCallback(func(key int, pressed bool) {
		if pressed {
			events = append(events, key)
		} else {
			events = append(events, -key)
		}
	})

	w.handleKey(common.KeyW, true)
	assert.True(t, w.KeyDown(common.KeyW))
	assert.False(t, w.KeyDown(common.KeyS))

	// a second press without a release is not a transition
	w.handleKey(common.KeyW, true)
	w.handleKey(common.KeyW, false)
	assert.False(t, w.KeyDown(common.KeyW))
	assert.Equal(t, []int{common.KeyW, -common.KeyW}, events)

	w.handleKey(-1, true)
	w.handleKey(maxKey, true)
	assert.False(t, w.KeyDown(-1))
	assert.False(t, w.KeyDown(maxKey))
}

func TestEscapeIsNotForwarded(t *testing.T) {
	w := newEngineWindow()
	called := false
	w.SetKeyCallback(func(int, bool) { called = true })

	w.handleKey(common.KeyEsc, true)
	assert.False(t, called)
	assert.False(t, w.IsRunning())
}

func TestResizeAndScroll(t *testing.T) {
	w := newEngineWindow(WithConfig(config.WindowConfig{Title: "t", Width: 640, Height: 480}))
	assert.Equal(t, "t", w.title)
	assert.Equal(t, 640, w.Width())
	assert.Equal(t, 480, w.Height())

	var got [2]int
	w.SetResizeCallback(func(width, height int) { got = [2]int{width, height} })
	w.handleResize(800, 600)
	assert.Equal(t, [2]int{800, 600}, got)
	assert.Equal(t, 800, w.Width())

	var delta float32
	w.SetScrollCallback(func(d float32) { delta = d })
	w.handleScroll(-2)
	assert.Equal(t, float32(-2), delta)
}

func TestUninitializedWindow(t *testing.T) {
	w := newEngineWindow(WithSizeLimits(100, 100, 200, 200))
	assert.Nil(t, w.SurfaceDescriptor())
	assert.ErrorIs(t, w.Close(), errNotInitialized)
	ran := false
	w.Run(func() bool { ran = true; return true })
	assert.False(t, ran)
}
