package store

import "fmt"

// Kind is the pool a node handle points into.
type Kind uint8

const (
	// KindInvalid is the zero kind, so a zero Handle never resolves.
	KindInvalid Kind = iota
	KindDefault
	KindSkinned
	KindInstanced
	KindCount
)

var kindNames = [...]string{"Invalid", "Default", "Skinned", "Instanced"}

func (k Kind) String() string {
	if k < KindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	handleIndexBits = 16
	handleKindBits  = 4
	handleGenBits   = 12

	handleIndexMask = 1<<handleIndexBits - 1
	handleKindMask  = 1<<handleKindBits - 1
	handleGenMask   = 1<<handleGenBits - 1

	handleKindShift = handleIndexBits
	handleGenShift  = handleIndexBits + handleKindBits

	// MaxPoolCapacity is the largest node pool a 16-bit handle index can address.
	MaxPoolCapacity = handleIndexMask
)

// Handle names a draw node. Bits 0-15 hold the pool index, bits 16-19 the Kind and bits 20-31 the slot
// generation at the time the handle was made. A handle whose generation no longer matches its slot is
// stale and fails to resolve.
type Handle uint32

// MakeHandle packs a handle. The generation wraps at 12 bits.
//
// Parameters:
//   - kind: the node pool
//   - gen: the slot generation
//   - idx: the pool index
//
// Returns:
//   - Handle: the packed handle
func MakeHandle(kind Kind, gen, idx uint32) Handle {
	return Handle(idx&handleIndexMask | uint32(kind)&handleKindMask<<handleKindShift | (gen&handleGenMask)<<handleGenShift)
}

// Kind returns the pool the handle points into.
func (h Handle) Kind() Kind { return Kind(uint32(h) >> handleKindShift & handleKindMask) }

// Index returns the pool index.
func (h Handle) Index() uint32 { return uint32(h) & handleIndexMask }

// Generation returns the 12-bit generation recorded in the handle.
func (h Handle) Generation() uint32 { return uint32(h) >> handleGenShift & handleGenMask }

// Valid reports whether the handle names a node kind. It does not check liveness; use Store.Resolve.
func (h Handle) Valid() bool {
	k := h.Kind()
	return k != KindInvalid && k < KindCount
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d@%d", h.Kind(), h.Index(), h.Generation())
}

// MeshHandle names a DrawMesh. It is the pool index plus one, so zero means no mesh.
type MeshHandle uint32

// AnimHandle names an AnimatedNode. It is the pool index plus one, so zero means no animation.
type AnimHandle uint32
