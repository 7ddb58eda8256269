package drawlist

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrKeyLayoutOverflow is raised when the node, shader and depth fields do not fit in 32 bits.
var ErrKeyLayoutOverflow = errors.New("drawlist: sort key layout exceeds 32 bits")

// SortPolicy selects how the depth field of a key orders draws.
type SortPolicy uint8

const (
	// SortDefault orders near to far, for opaque geometry.
	SortDefault SortPolicy = iota
	// SortBackToFront orders far to near, for blended geometry.
	SortBackToFront
)

// ParseSortPolicy maps a config name ("default" or "back_to_front") to a SortPolicy.
func ParseSortPolicy(name string) (SortPolicy, error) {
	switch name {
	case "", "default":
		return SortDefault, nil
	case "back_to_front":
		return SortBackToFront, nil
	}
	return SortDefault, fmt.Errorf("drawlist: unknown sort policy %q", name)
}

func (p SortPolicy) String() string {
	if p == SortBackToFront {
		return "BackToFront"
	}
	return "Default"
}

// MeshKind is the class of mesh a key is built for. It is recorded in the parameters for inspection.
type MeshKind uint8

const (
	MeshBase MeshKind = iota
	MeshInstanced
)

const (
	defaultNodeBits      = 10
	defaultShaderBits    = 8
	defaultDepthBits     = 10
	backToFrontDepthBits = 14
	minDepthBits         = 4
	defaultMaxDistance   = 1000
	defaultMaxDistanceSq = defaultMaxDistance * defaultMaxDistance
	maxKeyBits           = 32
)

// SortParams is the bit layout of a sort key and the depth quantized into it. From the low bits up a key
// holds the node index, the shader and the depth, so sorting keys groups draws by depth band first, then
// by shader, then by node.
type SortParams struct {
	Kind         MeshKind
	Policy       SortPolicy
	NodeBits     uint
	ShaderBits   uint
	DepthBits    uint
	MaxDistSq    float32
	MaxDistValue uint32

	depth uint32
}

// MakeSortParams derives the key layout for a pool of nodeCapacity nodes. Node and shader bits are
// fixed by the pool; the depth field takes what is left of the key, up to the policy's width.
//
// Parameters:
//   - kind: the mesh class
//   - policy: the depth ordering
//   - nodeCapacity: capacity of the node pool whose indices go in the key
//
// Returns:
//   - SortParams: the layout
func MakeSortParams(kind MeshKind, policy SortPolicy, nodeCapacity int) SortParams {
	p := SortParams{
		Kind:       kind,
		Policy:     policy,
		NodeBits:   defaultNodeBits,
		ShaderBits: defaultShaderBits,
		DepthBits:  defaultDepthBits,
		MaxDistSq:  defaultMaxDistanceSq,
	}
	if nodeCapacity > 1 {
		p.NodeBits = max(p.NodeBits, uint(bits.Len(uint(nodeCapacity-1))))
	}
	if policy == SortBackToFront {
		p.DepthBits = backToFrontDepthBits
	}
	if p.NodeBits+p.ShaderBits+minDepthBits > maxKeyBits {
		panic(fmt.Errorf("%w: %d node + %d shader + %d depth bits", ErrKeyLayoutOverflow, p.NodeBits, p.ShaderBits, minDepthBits))
	}
	p.DepthBits = min(p.DepthBits, maxKeyBits-p.NodeBits-p.ShaderBits)
	p.MaxDistValue = 1<<p.DepthBits - 1
	return p
}

// SetDistance quantizes a squared camera distance into the depth field. Distances past MaxDistSq
// saturate. Under SortBackToFront the value is inverted so farther draws sort first.
func (p *SortParams) SetDistance(distSq float32) {
	q := uint32(float32(p.MaxDistValue) * min(max(distSq/p.MaxDistSq, 0), 1))
	if p.Policy == SortBackToFront {
		q = ^q & p.MaxDistValue
	}
	p.depth = q
}

// Depth returns the quantized depth last set.
func (p SortParams) Depth() uint32 { return p.depth }

// Key packs a node index and shader with the current depth.
func (p SortParams) Key(nodeIdx uint32, shader uint32) uint32 {
	nodeMask := uint32(1)<<p.NodeBits - 1
	shaderMask := uint32(1)<<p.ShaderBits - 1
	return nodeIdx&nodeMask | (shader&shaderMask)<<p.NodeBits | p.depth<<(p.NodeBits+p.ShaderBits)
}
