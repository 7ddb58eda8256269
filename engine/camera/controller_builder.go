package camera

type ControllerOption func(*orbitController)

// WithTarget sets the point the controller orbits.
func WithTarget(x, y, z float32) ControllerOption {
	return func(cc *orbitController) {
		cc.target = [3]float32{x, y, z}
	}
}

// WithOrbit sets the starting spherical coordinates around the target.
//
// Parameters:
//   - radius: distance from the target
//   - azimuth: horizontal angle in radians
//   - elevation: angle above the horizon in radians
//
// Returns:
//   - ControllerOption: a function that sets the orbit
func WithOrbit(radius, azimuth, elevation float32) ControllerOption {
	return func(cc *orbitController) {
		cc.radius, cc.azimuth, cc.elevation = radius, azimuth, elevation
	}
}

// WithRadiusLimits bounds the orbit radius.
func WithRadiusLimits(minRadius, maxRadius float32) ControllerOption {
	return func(cc *orbitController) {
		cc.minRadius, cc.maxRadius = minRadius, maxRadius
	}
}

// WithElevationLimits bounds the orbit elevation in radians.
func WithElevationLimits(minElevation, maxElevation float32) ControllerOption {
	return func(cc *orbitController) {
		cc.minElevation, cc.maxElevation = minElevation, maxElevation
	}
}

// WithSpeeds sets the per-second rates used by Apply.
//
// Parameters:
//   - orbit: radians per second
//   - zoom: units per second
//   - pan: units per second
//
// Returns:
//   - ControllerOption: a function that sets the rates
func WithSpeeds(orbit, zoom, pan float32) ControllerOption {
	return func(cc *orbitController) {
		cc.orbitSpeed, cc.zoomSpeed, cc.panSpeed = orbit, zoom, pan
	}
}
