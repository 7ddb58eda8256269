package cull

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testViewProj looks from (0, -10, 5) at the origin in a Z-up world, with a 100 unit far plane.
func testViewProj() [16]float32 {
	var proj, view, vp [16]float32
	common.Perspective(proj[:], math.Pi/3, 16.0/9.0, 0.1, 100)
	common.LookAt(view[:], 0, -10, 5, 0, 0, 0, 0, 0, 1)
	common.Mul4(vp[:], proj[:], view[:])
	return vp
}

func addBox(s *store.Store, kind store.Kind, pos, half [3]float32) store.Handle {
	h, node := s.NewNode(kind)
	node.Min = [3]float32{-half[0], -half[1], -half[2]}
	node.Max = half
	node.Data.World[12], node.Data.World[13], node.Data.World[14] = pos[0], pos[1], pos[2]
	return h
}

func TestComputeVisibility(t *testing.T) {
	unit := [3]float32{1, 1, 1}
	cases := []struct {
		name    string
		pos     [3]float32
		half    [3]float32
		visible bool
	}{
		{"at target", [3]float32{0, 0, 0}, unit, true},
		{"beyond far plane", [3]float32{0, 200, 0}, unit, false},
		{"behind camera", [3]float32{0, -50, 5}, unit, false},
		{"far to the side", [3]float32{500, 0, 0}, unit, false},
		{"box enclosing camera", [3]float32{0, 0, 0}, [3]float32{50, 50, 50}, true},
		{"ground plane under camera", [3]float32{0, 0, 0}, [3]float32{30, 30, 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := store.New()
			addBox(s, store.KindDefault, tc.pos, tc.half)
			addBox(s, store.KindSkinned, tc.pos, tc.half)

			var vis VisibleNodes
			ComputeVisibility(&vis, testViewProj(), s)
			if tc.visible {
				assert.Equal(t, []uint32{0}, vis.VisibleNodeIndices())
				assert.Equal(t, []uint32{0}, vis.VisibleSkinnedIndices())
			} else {
				assert.Empty(t, vis.VisibleNodeIndices())
				assert.Empty(t, vis.VisibleSkinnedIndices())
			}
		})
	}
}

func TestComputeVisibility_Overflow(t *testing.T) {
	const n = MaxVisible + 44
	s := store.New(
		store.WithArenaCapacity(4<<20),
		store.WithNodeCapacity(n),
		store.WithCBufferCapacity(2*n),
	)
	for range n {
		addBox(s, store.KindDefault, [3]float32{}, [3]float32{1, 1, 1})
	}

	var vis VisibleNodes
	ComputeVisibility(&vis, testViewProj(), s)
	require.Equal(t, MaxVisible, vis.NodeCount)
	assert.Equal(t, 44, vis.DroppedNodes)
	assert.Equal(t, 44, vis.Dropped())

	t.Run("next frame starts clean", func(t *testing.T) {
		ComputeVisibility(&vis, common.IdentityMatrix(), store.New())
		assert.Zero(t, vis.NodeCount)
		assert.Zero(t, vis.Dropped())
	})
}

func TestComputeVisibility_FreedNodesSkipped(t *testing.T) {
	s := store.New()
	a := addBox(s, store.KindDefault, [3]float32{}, [3]float32{1, 1, 1})
	addBox(s, store.KindDefault, [3]float32{}, [3]float32{1, 1, 1})
	s.FreeNode(a)

	var vis VisibleNodes
	ComputeVisibility(&vis, testViewProj(), s)
	assert.Equal(t, []uint32{1}, vis.VisibleNodeIndices())
}

func TestBoxVisible_DepthConvention(t *testing.T) {
	// identity mvp: the box spans z in [-0.8, -0.2], inside GL clip space but in front of the WebGPU near plane
	mvp := common.IdentityMatrix()
	lo, hi := [3]float32{-0.5, -0.5, -0.8}, [3]float32{0.5, 0.5, -0.2}
	assert.False(t, BoxVisible(&mvp, lo, hi, 0))
	assert.True(t, BoxVisible(&mvp, lo, hi, -1))
}
