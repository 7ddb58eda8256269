package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity16() [16]float32 {
	var m [16]float32
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	return m
}

func TestClipFrameCount(t *testing.T) {
	assert.Equal(t, MinClipFrames, ClipFrameCount(0))
	assert.Equal(t, 12, ClipFrameCount(1))
	assert.Equal(t, 30, ClipFrameCount(2.5))
	assert.Equal(t, MaxClipFrames, ClipFrameCount(1000))
}

func TestSampleClip(t *testing.T) {
	var times []float32
	c := SampleClip("walk", 1, 1, func(_ int, t float32) JointTRS {
		times = append(times, t)
		trs := IdentityTRS
		trs.T = [3]float32{t, 0, 0}
		return trs
	})

	require.Equal(t, 12, c.FrameCount)
	assert.Len(t, c.Frames, 12)
	assert.Equal(t, float32(0), times[0])
	assert.InDelta(t, 1.0, times[11], 1e-6)

	var pose [1]JointTRS
	c.Pose(0.5, pose[:])
	assert.InDelta(t, 0.5, pose[0].T[0], 1e-5)
	assert.InDelta(t, 1.0, pose[0].R[3], 1e-6)
}

func TestStore_AdvanceAnimations(t *testing.T) {
	s, _ := newTestStore(t)
	h, _ := s.NewNode(KindSkinned)

	rig, err := s.AddSkeleton(Skeleton{
		Name:              "arm",
		Parents:           []int16{-1, 0},
		JointFromGeometry: [][16]float32{identity16(), identity16()},
		GeometryFromRoot:  identity16(),
	})
	require.NoError(t, err)

	// joint 0 slides along x by t, joint 1 sits one unit above its parent
	clip := SampleClip("slide", 1, 2, func(j int, t float32) JointTRS {
		trs := IdentityTRS
		if j == 0 {
			trs.T = [3]float32{t, 0, 0}
		} else {
			trs.T = [3]float32{0, 0, 1}
		}
		return trs
	})
	first := s.AddClips(clip)

	anim, err := s.AddAnimated(h, rig, first, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, s.AdvanceAnimations(0.5))
	node, _ := s.Skinned(h)
	assert.InDelta(t, 0.5, node.Palette[0][12], 1e-5)
	assert.InDelta(t, 0.5, node.Palette[1][12], 1e-5)
	assert.InDelta(t, 1.0, node.Palette[1][14], 1e-5)

	t.Run("looping wraps time", func(t *testing.T) {
		s.AdvanceAnimations(0.75)
		a, ok := s.AnimatedNode(anim)
		require.True(t, ok)
		assert.InDelta(t, 0.25, a.Time, 1e-5)
	})

	t.Run("freed node is skipped", func(t *testing.T) {
		s.FreeNode(h)
		assert.Equal(t, 0, s.AdvanceAnimations(0.1))
	})
}

func TestStore_AddSkeleton(t *testing.T) {
	s := New()

	_, err := s.AddSkeleton(Skeleton{Name: "bad", Parents: []int16{1, -1}, JointFromGeometry: make([][16]float32, 2)})
	assert.Error(t, err)

	_, err = s.AddSkeleton(Skeleton{Name: "big", Parents: make([]int16, MaxJoints+1), JointFromGeometry: make([][16]float32, MaxJoints+1)})
	assert.Error(t, err)

	_, err = s.AddAnimated(MakeHandle(KindSkinned, 0, 0), 0, 0, 0)
	assert.Error(t, err)
}
