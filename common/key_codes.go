package common

// Key codes used by the camera and the engine loop. The values match GLFW key codes, which use ASCII
// for printable keys.
const (
	KeyW     = 87  // orbit up, pan up with shift
	KeyA     = 65  // orbit left, pan left with shift
	KeyS     = 83  // orbit down, pan down with shift
	KeyD     = 68  // orbit right, pan right with shift
	KeyQ     = 81  // zoom in
	KeyE     = 69  // zoom out
	KeySpace = 32  // pause animations
	KeyEsc   = 256 // close the window

	KeyLeftShift  = 340
	KeyRightShift = 344
)
