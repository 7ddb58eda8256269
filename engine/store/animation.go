package store

import (
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-core/common"
)

const (
	// SampleRate is the rate, in frames per second, clips are resampled at on import.
	SampleRate = 12
	// MinClipFrames and MaxClipFrames bound the number of sampled frames per clip.
	MinClipFrames = 2
	MaxClipFrames = 4096
)

// JointTRS is the local transform of one joint: translation, rotation quaternion (x, y, z, w) and scale.
type JointTRS struct {
	T [3]float32
	R [4]float32
	S [3]float32
}

// IdentityTRS is the rest transform.
var IdentityTRS = JointTRS{R: [4]float32{0, 0, 0, 1}, S: [3]float32{1, 1, 1}}

// Matrix writes the transform as a column-major matrix.
func (j JointTRS) Matrix(out []float32) {
	common.ComposeTRS(out, j.T, j.R, j.S)
}

// Skeleton is the joint hierarchy of a rig. Joints are ordered so a parent always precedes its children.
type Skeleton struct {
	Name string
	// Parents holds the parent joint index of each joint, -1 for roots.
	Parents []int16
	// JointFromGeometry holds the inverse bind matrix of each joint.
	JointFromGeometry [][16]float32
	// GeometryFromRoot places the skeleton root in the mesh's geometry space.
	GeometryFromRoot [16]float32
}

// JointCount returns the number of joints.
func (s *Skeleton) JointCount() int { return len(s.Parents) }

// Clip is an animation resampled at SampleRate into FrameCount frames of per-joint transforms.
type Clip struct {
	Name       string
	Duration   float32
	FrameCount int
	JointCount int
	// Frames is frame-major: Frames[f*JointCount+j] is joint j at frame f.
	Frames []JointTRS
}

// ClipFrameCount returns the number of frames a clip of the given duration is sampled into.
func ClipFrameCount(duration float32) int {
	n := int(duration * SampleRate)
	return min(max(n, MinClipFrames), MaxClipFrames)
}

// SampleClip resamples an animation into a Clip. Frame f is taken at f*duration/(frames-1).
//
// Parameters:
//   - name: the clip name
//   - duration: the clip length in seconds
//   - joints: the number of joints of the target skeleton
//   - sample: evaluates joint j at time t
//
// Returns:
//   - Clip: the sampled clip
func SampleClip(name string, duration float32, joints int, sample func(joint int, t float32) JointTRS) Clip {
	frames := ClipFrameCount(duration)
	c := Clip{
		Name:       name,
		Duration:   duration,
		FrameCount: frames,
		JointCount: joints,
		Frames:     make([]JointTRS, frames*joints),
	}
	for f := range frames {
		t := float32(f) * duration / float32(frames-1)
		for j := range joints {
			c.Frames[f*joints+j] = sample(j, t)
		}
	}
	return c
}

// Pose interpolates the joint transforms at time t into out, which must hold JointCount entries.
func (c *Clip) Pose(t float32, out []JointTRS) {
	if c.FrameCount == 0 || c.JointCount == 0 {
		return
	}
	pos := float32(0)
	if c.Duration > 0 {
		pos = min(max(t/c.Duration, 0), 1) * float32(c.FrameCount-1)
	}
	f0 := int(pos)
	f1 := min(f0+1, c.FrameCount-1)
	alpha := pos - float32(f0)

	a := c.Frames[f0*c.JointCount : (f0+1)*c.JointCount]
	b := c.Frames[f1*c.JointCount : (f1+1)*c.JointCount]
	for j := range out[:c.JointCount] {
		out[j] = JointTRS{
			T: common.Lerp3(a[j].T, b[j].T, alpha),
			R: common.Nlerp(a[j].R, b[j].R, alpha),
			S: common.Lerp3(a[j].S, b[j].S, alpha),
		}
	}
}

// AnimatedNode is the playback state driving one skinned node. Clips are referenced by index into the
// store's clip table; ClipFirst and ClipCount delimit the clips of the node's rig.
type AnimatedNode struct {
	Node      Handle
	Rig       uint32
	ClipFirst uint32
	ClipCount uint32
	Clip      uint32
	Time      float32
	Speed     float32
	Loop      bool
}

// AddSkeleton registers a rig and returns its index.
func (s *Store) AddSkeleton(sk Skeleton) (uint32, error) {
	if sk.JointCount() > MaxJoints {
		return 0, fmt.Errorf("failed to add skeleton %q: %d joints, limit %d", sk.Name, sk.JointCount(), MaxJoints)
	}
	if len(sk.JointFromGeometry) != sk.JointCount() {
		return 0, fmt.Errorf("failed to add skeleton %q: %d inverse bind matrices for %d joints", sk.Name, len(sk.JointFromGeometry), sk.JointCount())
	}
	for j, p := range sk.Parents {
		if int(p) >= j {
			return 0, fmt.Errorf("failed to add skeleton %q: joint %d has parent %d", sk.Name, j, p)
		}
	}
	s.skeletons = append(s.skeletons, sk)
	return uint32(len(s.skeletons) - 1), nil
}

// AddClips registers the clips of a rig and returns the index of the first one.
func (s *Store) AddClips(clips ...Clip) uint32 {
	first := uint32(len(s.clips))
	s.clips = append(s.clips, clips...)
	return first
}

// Skeleton returns a registered rig.
func (s *Store) Skeleton(rig uint32) (*Skeleton, bool) {
	if int(rig) >= len(s.skeletons) {
		return nil, false
	}
	return &s.skeletons[rig], true
}

// ClipAt returns a registered clip by absolute index.
func (s *Store) ClipAt(idx uint32) (*Clip, bool) {
	if int(idx) >= len(s.clips) {
		return nil, false
	}
	return &s.clips[idx], true
}

// AddAnimated attaches playback state to a skinned node. The first clip of the range plays, looping at
// normal speed.
//
// Parameters:
//   - node: a skinned node handle
//   - rig: the skeleton index returned by AddSkeleton
//   - clipFirst, clipCount: the clip range returned by AddClips
//
// Returns:
//   - AnimHandle: the animated node handle
//   - error: an error if the node is not a live skinned node or the rig is unknown
func (s *Store) AddAnimated(node Handle, rig, clipFirst, clipCount uint32) (AnimHandle, error) {
	if _, ok := s.Skinned(node); !ok {
		return 0, fmt.Errorf("failed to animate node %s: not a live skinned node", node)
	}
	if _, ok := s.Skeleton(rig); !ok {
		return 0, fmt.Errorf("failed to animate node %s: unknown rig %d", node, rig)
	}
	if int(clipFirst+clipCount) > len(s.clips) {
		return 0, fmt.Errorf("failed to animate node %s: clip range [%d, %d) out of %d", node, clipFirst, clipFirst+clipCount, len(s.clips))
	}
	idx, a := s.AnimatedNodes.Alloc()
	*a = AnimatedNode{Node: node, Rig: rig, ClipFirst: clipFirst, ClipCount: clipCount, Speed: 1, Loop: true}
	return s.HandleFromAnimated(idx), nil
}

// FreeAnimated releases an animated node. The skinned node keeps its last palette.
func (s *Store) FreeAnimated(h AnimHandle) {
	if _, ok := s.AnimatedNode(h); ok {
		s.AnimatedNodes.Free(uint32(h - 1))
	}
}

// Play switches an animated node to clip (relative to its rig's range) and rewinds it.
func (s *Store) Play(h AnimHandle, clip uint32, loop bool) error {
	a, ok := s.AnimatedNode(h)
	if !ok {
		return fmt.Errorf("failed to play clip %d: unknown animated node %d", clip, h)
	}
	if clip >= a.ClipCount {
		return fmt.Errorf("failed to play clip %d: node has %d clips", clip, a.ClipCount)
	}
	a.Clip, a.Time, a.Loop = clip, 0, loop
	return nil
}

// AdvanceAnimations moves every animated node forward by dt seconds scaled by its speed, poses its rig
// and writes the skinning palette of its node. Nodes whose skinned node was freed are skipped.
//
// Parameters:
//   - dt: elapsed time in seconds
//
// Returns:
//   - int: the number of palettes written
func (s *Store) AdvanceAnimations(dt float32) int {
	var (
		pose  [MaxJoints]JointTRS
		local [16]float32
		posed [MaxJoints][16]float32
	)
	written := 0
	for _, a := range s.AnimatedNodes.All() {
		node, ok := s.Skinned(a.Node)
		if !ok || a.ClipCount == 0 {
			continue
		}
		sk := &s.skeletons[a.Rig]
		clip := &s.clips[a.ClipFirst+a.Clip]
		if clip.JointCount != sk.JointCount() {
			continue
		}

		a.Time += dt * a.Speed
		if clip.Duration > 0 {
			if a.Loop {
				a.Time = float32(math.Mod(float64(a.Time), float64(clip.Duration)))
				if a.Time < 0 {
					a.Time += clip.Duration
				}
			} else {
				a.Time = min(max(a.Time, 0), clip.Duration)
			}
		}

		clip.Pose(a.Time, pose[:])
		for j, parent := range sk.Parents {
			pose[j].Matrix(local[:])
			if parent < 0 {
				common.Mul4(posed[j][:], sk.GeometryFromRoot[:], local[:])
			} else {
				common.Mul4(posed[j][:], posed[parent][:], local[:])
			}
			common.Mul4(node.Palette[j][:], posed[j][:], sk.JointFromGeometry[j][:])
		}
		written++
	}
	return written
}
