// Package cull decides which draw nodes of a store intersect the view frustum.
package cull

import (
	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
)

// MaxVisible is the capacity of each visible list.
const MaxVisible = 256

// Options tunes the clip-space convention.
type Options struct {
	// MinZ is the near-plane depth in normalized device coordinates: 0 for WebGPU, -1 for GL-style.
	MinZ float32
}

// VisibleNodes holds the pool indices of the plain and skinned nodes that passed culling this frame.
// Nodes found visible after a list is full are counted in the matching Dropped field.
type VisibleNodes struct {
	Nodes        [MaxVisible]uint32
	NodeCount    int
	Skinned      [MaxVisible]uint32
	SkinnedCount int

	DroppedNodes   int
	DroppedSkinned int
}

// Reset empties both lists and the dropped counters.
func (v *VisibleNodes) Reset() {
	v.NodeCount, v.SkinnedCount = 0, 0
	v.DroppedNodes, v.DroppedSkinned = 0, 0
}

// VisibleNodeIndices returns the visible plain node indices.
func (v *VisibleNodes) VisibleNodeIndices() []uint32 { return v.Nodes[:v.NodeCount] }

// VisibleSkinnedIndices returns the visible skinned node indices.
func (v *VisibleNodes) VisibleSkinnedIndices() []uint32 { return v.Skinned[:v.SkinnedCount] }

// Dropped returns the total number of visible nodes that did not fit.
func (v *VisibleNodes) Dropped() int { return v.DroppedNodes + v.DroppedSkinned }

func (v *VisibleNodes) addNode(idx uint32) {
	if v.NodeCount == MaxVisible {
		v.DroppedNodes++
		return
	}
	v.Nodes[v.NodeCount] = idx
	v.NodeCount++
}

func (v *VisibleNodes) addSkinned(idx uint32) {
	if v.SkinnedCount == MaxVisible {
		v.DroppedSkinned++
		return
	}
	v.Skinned[v.SkinnedCount] = idx
	v.SkinnedCount++
}

// ComputeVisibility resets vis and fills it with every live plain and skinned node of s whose bounding
// box intersects the frustum of viewProj, using WebGPU clip space. Instanced nodes are not culled.
//
// Parameters:
//   - vis: the lists to fill
//   - viewProj: the combined projection * view matrix (column-major)
//   - s: the store to walk
func ComputeVisibility(vis *VisibleNodes, viewProj [16]float32, s *store.Store) {
	ComputeVisibilityWith(vis, viewProj, s, Options{})
}

// ComputeVisibilityWith is ComputeVisibility with an explicit clip-space convention.
func ComputeVisibilityWith(vis *VisibleNodes, viewProj [16]float32, s *store.Store, opts Options) {
	vis.Reset()
	var mvp [16]float32
	for idx, node := range s.Nodes.All() {
		common.Mul4(mvp[:], viewProj[:], node.Data.World[:])
		if BoxVisible(&mvp, node.Min, node.Max, opts.MinZ) {
			vis.addNode(idx)
		}
	}
	for idx, node := range s.SkinnedNodes.All() {
		common.Mul4(mvp[:], viewProj[:], node.Data.World[:])
		if BoxVisible(&mvp, node.Min, node.Max, opts.MinZ) {
			vis.addSkinned(idx)
		}
	}
}

// BoxVisible tests the model-space box [lo, hi] against the frustum of mvp.
//
// The box is rejected when all eight of its clip-space corners are outside the same plane. When every
// corner is in front of the eye, it is also rejected when all eight NDC frustum corners lie beyond the
// same face of the box's NDC bounds, which catches large boxes straddling a frustum edge.
//
// Parameters:
//   - mvp: model to clip space
//   - lo, hi: the box in model space
//   - minZ: the near-plane depth in normalized device coordinates
//
// Returns:
//   - bool: false if the box is certainly outside the frustum
func BoxVisible(mvp *[16]float32, lo, hi [3]float32, minZ float32) bool {
	var clip [8][4]float32
	for i, c := range common.BoxCorners(lo, hi) {
		clip[i] = common.TransformPoint4(mvp[:], c[0], c[1], c[2])
	}

	for p := common.ClipLeft; p < common.ClipPlaneCount; p++ {
		outside := 0
		for i := range clip {
			if p.Outside(clip[i], minZ) {
				outside++
			}
		}
		if outside == len(clip) {
			return false
		}
	}

	for i := range clip {
		if clip[i][3] <= 0 {
			return true
		}
	}

	ndcMin := [3]float32{clip[0][0] / clip[0][3], clip[0][1] / clip[0][3], clip[0][2] / clip[0][3]}
	ndcMax := ndcMin
	for i := 1; i < len(clip); i++ {
		for axis := range 3 {
			v := clip[i][axis] / clip[i][3]
			ndcMin[axis] = min(ndcMin[axis], v)
			ndcMax[axis] = max(ndcMax[axis], v)
		}
	}

	frustum := common.NDCFrustumCorners(minZ)
	for axis := range 3 {
		below, above := 0, 0
		for _, c := range frustum {
			if c[axis] < ndcMin[axis] {
				below++
			}
			if c[axis] > ndcMax[axis] {
				above++
			}
		}
		if below == len(frustum) || above == len(frustum) {
			return false
		}
	}
	return true
}
