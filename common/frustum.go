package common

// ClipPlane identifies one of the six planes bounding clip space.
type ClipPlane int

// ClipPlane indices for clarity
const (
	ClipLeft ClipPlane = iota
	ClipRight
	ClipBottom
	ClipTop
	ClipNear
	ClipFar
	ClipPlaneCount
)

// Outside reports whether the clip-space point v lies on the outer side of the plane.
// The near plane sits at z = minZ*w: minZ is 0 for WebGPU depth and -1 for GL-style depth.
//
// Parameters:
//   - v: the homogeneous clip-space point (x, y, z, w)
//   - minZ: the near-plane depth in normalized device coordinates
//
// Returns:
//   - bool: true if v is outside the plane
func (p ClipPlane) Outside(v [4]float32, minZ float32) bool {
	switch p {
	case ClipLeft:
		return v[0] < -v[3]
	case ClipRight:
		return v[0] > v[3]
	case ClipBottom:
		return v[1] < -v[3]
	case ClipTop:
		return v[1] > v[3]
	case ClipNear:
		return v[2] < minZ*v[3]
	case ClipFar:
		return v[2] > v[3]
	}
	return false
}

// BoxCorners returns the eight corners of the axis-aligned box [lo, hi]. Corner i takes the x, y and z
// of hi where bits 0, 1 and 2 of i are set.
func BoxCorners(lo, hi [3]float32) [8][3]float32 {
	var out [8][3]float32
	for i := range out {
		for axis := range 3 {
			if i>>axis&1 != 0 {
				out[i][axis] = hi[axis]
			} else {
				out[i][axis] = lo[axis]
			}
		}
	}
	return out
}

// NDCFrustumCorners returns the eight corners of the normalized device coordinate volume
// [-1, 1] x [-1, 1] x [minZ, 1].
func NDCFrustumCorners(minZ float32) [8][3]float32 {
	return BoxCorners([3]float32{-1, -1, minZ}, [3]float32{1, 1, 1})
}
