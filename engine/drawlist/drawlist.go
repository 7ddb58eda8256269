// Package drawlist turns the visible nodes of a store into a sorted list of draw items and submits them
// to a driver with redundant state changes removed.
package drawlist

import (
	"cmp"
	"fmt"
	"slices"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/allocator"
	"github.com/Carmen-Shannon/oxy-core/engine/cull"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
)

// Bucket is a contiguous range of the drawlist drawn with one kind of draw call.
type Bucket int

const (
	// BucketBase holds single-instance draws of plain and skinned nodes.
	BucketBase Bucket = iota
	// BucketInstanced holds instanced draws. It always follows BucketBase.
	BucketInstanced
	BucketCount
)

// Filter selects nodes by translucency or by being the mirror.
type Filter uint8

const (
	// FilterAlpha matches translucent nodes (color alpha below 1).
	FilterAlpha Filter = 1 << iota
	// FilterMirror matches the store's mirror node.
	FilterMirror
)

// MaxItemCBuffers is the number of constant buffers an item binds.
const MaxItemCBuffers = 2

// Item is one draw: the resources to bind and the draw call to issue. DrawCount is the instance count of
// an instanced draw and zero otherwise. Type names the debug event the draw is wrapped in.
type Item struct {
	Type         store.ShaderType
	Shader       driver.ShaderID
	BlendState   driver.BlendStateID
	Texture      driver.TextureID
	VertexBuffer driver.VertexBufferID
	CBuffers     [MaxItemCBuffers]driver.CBufferID
	CBufferCount uint32
	DrawCount    uint32
}

// Key orders an item. Idx indexes Drawlist.Items.
type Key struct {
	V   uint32
	Idx int32
}

// Drawlist is a fixed-capacity list of draw items and their sort keys, backed by its own arena.
// Keys[:Count(BucketBase)] is the base bucket and the instanced bucket follows it. Items are stored in
// emission order; only keys are sorted.
type Drawlist struct {
	arena   allocator.Arena
	Keys    []Key
	Items   []Item
	count   [BucketCount]int
	dropped int
}

// New creates a drawlist holding up to capacity items.
//
// Parameters:
//   - capacity: the maximum number of items per frame
//
// Returns:
//   - *Drawlist: the drawlist
func New(capacity int) *Drawlist {
	if capacity <= 0 {
		panic(fmt.Sprintf("drawlist: invalid capacity %d", capacity))
	}
	size := capacity*int(unsafe.Sizeof(Key{})+unsafe.Sizeof(Item{})) + 64
	dl := &Drawlist{arena: allocator.NewArena(allocator.WithCapacity(size), allocator.WithLabel("drawlist"))}
	dl.Keys = allocator.AllocSlice[Key](&dl.arena, capacity)
	dl.Items = allocator.AllocSlice[Item](&dl.arena, capacity)
	return dl
}

// Reset empties the list. It is called once per pass before building.
func (dl *Drawlist) Reset() {
	dl.count = [BucketCount]int{}
	dl.dropped = 0
}

// Len returns the number of items in all buckets.
func (dl *Drawlist) Len() int { return dl.count[BucketBase] + dl.count[BucketInstanced] }

// Cap returns the item capacity.
func (dl *Drawlist) Cap() int { return len(dl.Items) }

// Count returns the number of items in a bucket.
func (dl *Drawlist) Count(b Bucket) int { return dl.count[b] }

// Dropped returns the number of items that did not fit since the last Reset.
func (dl *Drawlist) Dropped() int { return dl.dropped }

// Bucket returns the keys of one bucket.
func (dl *Drawlist) Bucket(b Bucket) []Key {
	base := dl.count[BucketBase]
	if b == BucketBase {
		return dl.Keys[:base]
	}
	return dl.Keys[base : base+dl.count[BucketInstanced]]
}

// Sorted returns every key, base bucket first.
func (dl *Drawlist) Sorted() []Key { return dl.Keys[:dl.Len()] }

// emit stores an item in a bucket. Base items must all be emitted before the first instanced item.
func (dl *Drawlist) emit(b Bucket, key uint32, it Item) bool {
	idx := dl.Len()
	if idx >= len(dl.Items) || (b == BucketBase && dl.count[BucketInstanced] > 0) {
		dl.dropped++
		return false
	}
	dl.Items[idx] = it
	dl.Keys[idx] = Key{V: key, Idx: int32(idx)}
	dl.count[b]++
	return true
}

// AddNodesSorted emits the meshes of the visible plain and skinned nodes into the base bucket and the
// meshes of every instanced node into the instanced bucket, then sorts each bucket by key. dl must be
// empty: base items cannot follow instanced ones, so building onto a filled list panics.
//
// include and exclude filter nodes: include&FilterAlpha keeps only translucent nodes and
// exclude&FilterAlpha only opaque ones; include&FilterMirror keeps only the mirror node (skinned and
// instanced nodes are never the mirror) and exclude&FilterMirror drops it.
//
// Parameters:
//   - dl: the drawlist to fill, reset by the caller
//   - vis: the culling result
//   - cameraPos: the eye position, for depth ordering
//   - s: the store the nodes live in
//   - include, exclude: node filters
//   - policy: the depth ordering
func AddNodesSorted(dl *Drawlist, vis *cull.VisibleNodes, cameraPos [3]float32, s *store.Store, include, exclude Filter, policy SortPolicy) {
	if n := dl.Len(); n != 0 {
		panic(fmt.Sprintf("drawlist: building into a drawlist holding %d items; Reset it first", n))
	}

	params := MakeSortParams(MeshBase, policy, max(s.Nodes.Cap(), s.SkinnedNodes.Cap()))
	for _, idx := range vis.VisibleNodeIndices() {
		node := s.Nodes.At(idx)
		if skipAlpha(node, include, exclude) {
			continue
		}
		isMirror := s.Mirror.Node != 0 && s.HandleFromNode(store.KindDefault, idx) == s.Mirror.Node
		if include&FilterMirror != 0 && !isMirror {
			continue
		}
		if exclude&FilterMirror != 0 && isMirror {
			continue
		}
		params.SetDistance(common.DistanceSq(node.Translation(), cameraPos))
		emitNode(dl, s, &params, idx, node, store.ShaderTextured3DAlphaClip, 0, 0)
	}

	if include&FilterMirror == 0 {
		for _, idx := range vis.VisibleSkinnedIndices() {
			node := s.SkinnedNodes.At(idx)
			if skipAlpha(&node.DrawNode, include, exclude) {
				continue
			}
			params.SetDistance(common.DistanceSq(node.Translation(), cameraPos))
			emitNode(dl, s, &params, idx, &node.DrawNode, store.ShaderTextured3DAlphaClipSkinned, node.CBufferSkinning, 0)
		}
	}
	baseEnd := dl.Len()

	if include&FilterMirror == 0 {
		params = MakeSortParams(MeshInstanced, policy, s.InstancedNodes.Cap())
		for idx, node := range s.InstancedNodes.All() {
			if skipAlpha(&node.DrawNode, include, exclude) || node.InstanceCount == 0 {
				continue
			}
			params.SetDistance(common.DistanceSq(node.Translation(), cameraPos))
			emitNode(dl, s, &params, idx, &node.DrawNode, store.ShaderCount, node.CBufferInstances, node.DrawnInstances())
		}
	}

	sortKeys(dl.Keys[:baseEnd])
	sortKeys(dl.Keys[baseEnd:dl.Len()])
}

// emitNode emits one item per mesh of node. Meshes of the blended type are drawn with the store's
// blending state; the extra constant buffer is bound after the node's own.
func emitNode(dl *Drawlist, s *store.Store, params *SortParams, idx uint32, node *store.DrawNode, blended store.ShaderType, extra uint32, instances uint32) {
	bucket := BucketBase
	if instances > 0 {
		bucket = BucketInstanced
	}
	for _, mh := range node.Meshes {
		mesh, ok := s.Mesh(mh)
		if !ok {
			continue
		}
		it := Item{
			Type:         mesh.Type,
			Shader:       s.Shaders[mesh.Type],
			BlendState:   s.BlendOff,
			Texture:      mesh.Texture,
			VertexBuffer: mesh.VertexBuffer,
			CBufferCount: 1,
			DrawCount:    instances,
		}
		if mesh.Type == blended {
			it.BlendState = s.BlendOn
		}
		it.CBuffers[0] = s.CBuffer(node.CBufferNode)
		if extra != 0 {
			it.CBuffers[1] = s.CBuffer(extra)
			it.CBufferCount = 2
		}
		dl.emit(bucket, params.Key(idx, uint32(mesh.Type)), it)
	}
}

func skipAlpha(node *store.DrawNode, include, exclude Filter) bool {
	alpha := node.Data.Color[3]
	if include&FilterAlpha != 0 && alpha == 1 {
		return true
	}
	return exclude&FilterAlpha != 0 && alpha < 1
}

func sortKeys(keys []Key) {
	slices.SortFunc(keys, func(a, b Key) int {
		return cmp.Compare(a.V, b.V)
	})
}
