// Package store owns every renderable object of the scene: fixed-capacity pools of draw nodes and
// meshes carved from one persistent arena, the constant buffer table, the shader table and the blend
// states. Nodes are named by generation-checked Handles; meshes and animated nodes by 1-based indices.
//
// A Store is not safe for concurrent mutation.
package store

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/allocator"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"go.uber.org/zap"
)

var (
	// ErrCBufferTableFull is raised when a node needs a constant buffer and the table has no free entry.
	ErrCBufferTableFull = errors.New("store: constant buffer table full")
	// ErrNoDriver is returned by operations that need a driver before Init was called.
	ErrNoDriver = errors.New("store: no driver")
)

// cbuffer recycling classes, one per constant buffer size.
const (
	cbufferClassNode = iota
	cbufferClassSkinning
	cbufferClassInstances
	cbufferClassCount
)

var cbufferClassSizes = [cbufferClassCount]int{
	int(unsafe.Sizeof(NodeData{})),
	int(unsafe.Sizeof(Palette{})),
	int(unsafe.Sizeof(InstanceMatrices{})),
}

// Store is the scene store. The pools are exported so the culler and drawlist builder can walk them
// directly; allocation and release go through the Store so handles and constant buffers stay consistent.
type Store struct {
	arena  allocator.Arena
	logger *zap.Logger
	drv    driver.Driver

	Meshes         *allocator.Pool[DrawMesh]
	Nodes          *allocator.Pool[DrawNode]
	SkinnedNodes   *allocator.Pool[DrawNodeSkinned]
	InstancedNodes *allocator.Pool[DrawNodeInstanced]
	AnimatedNodes  *allocator.Pool[AnimatedNode]

	// cbuffers maps table indices to driver ids. Entry 0 is reserved so a zero index means none.
	cbuffers     []driver.CBufferID
	cbufferClass []uint8
	cbufferCount int
	spare        [cbufferClassCount]allocator.Buffer[uint32]

	Shaders      [ShaderCount]driver.ShaderID
	BlendOn      driver.BlendStateID
	BlendOff     driver.BlendStateID
	BlendNone    driver.BlendStateID
	SceneCBuffer driver.CBufferID
	Scene        SceneData
	Mirror       Mirror

	skeletons []Skeleton
	clips     []Clip
}

// New creates a Store and carves its pools from a fresh persistent arena. The store has no GPU
// resources until Init is called.
//
// Parameters:
//   - options: functional options for pool capacities, arena and logger
//
// Returns:
//   - *Store: the new store
func New(options ...StoreBuilderOption) *Store {
	cfg := defaultStoreConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	for _, c := range []int{cfg.nodeCapacity, cfg.skinnedCapacity, cfg.instancedCapacity} {
		if c > MaxPoolCapacity {
			panic(fmt.Sprintf("store: node pool capacity %d exceeds handle range %d", c, MaxPoolCapacity))
		}
	}
	if cfg.cbufferCapacity == 0 {
		cfg.cbufferCapacity = RequiredCBuffers(cfg.nodeCapacity, cfg.skinnedCapacity, cfg.instancedCapacity)
	}
	if cfg.cbufferCapacity < 2 {
		panic(fmt.Sprintf("store: invalid constant buffer table capacity %d", cfg.cbufferCapacity))
	}

	s := &Store{
		arena: allocator.NewArena(
			allocator.WithCapacity(cfg.arenaCapacity),
			allocator.WithVirtualMemory(cfg.virtualArena),
			allocator.WithLabel("store"),
		),
		logger: cfg.logger,
	}
	s.Meshes = allocator.NewPool[DrawMesh](cfg.meshCapacity, &s.arena)
	s.Nodes = allocator.NewPool[DrawNode](cfg.nodeCapacity, &s.arena)
	s.SkinnedNodes = allocator.NewPool[DrawNodeSkinned](cfg.skinnedCapacity, &s.arena)
	s.InstancedNodes = allocator.NewPool[DrawNodeInstanced](cfg.instancedCapacity, &s.arena)
	s.AnimatedNodes = allocator.NewPool[AnimatedNode](cfg.animatedCapacity, &s.arena)
	s.cbuffers = allocator.AllocSlice[driver.CBufferID](&s.arena, cfg.cbufferCapacity)
	s.cbufferClass = allocator.AllocSlice[uint8](&s.arena, cfg.cbufferCapacity)
	s.cbufferCount = 1
	return s
}

// Init creates the store's GPU state on drv: the three blend states, the scene constant buffer and the
// shader table. Nodes allocated before Init get their constant buffers here. A shader that fails to
// compile is logged and its slot stays zero; the store remains usable and draws using that shader bind
// nothing.
//
// Parameters:
//   - drv: the driver resources are created on
//
// Returns:
//   - error: an error if a blend state or the scene buffer could not be created
func (s *Store) Init(drv driver.Driver) error {
	s.drv = drv

	var err error
	if s.BlendOn, err = drv.CreateBlendState(driver.BlendStateDesc{Enable: true, WriteMask: driver.WriteMaskAll}); err != nil {
		return fmt.Errorf("failed to create blend state: %w", err)
	}
	if s.BlendOff, err = drv.CreateBlendState(driver.BlendStateDesc{WriteMask: driver.WriteMaskAll}); err != nil {
		return fmt.Errorf("failed to create blend state: %w", err)
	}
	if s.BlendNone, err = drv.CreateBlendState(driver.BlendStateDesc{WriteMask: driver.WriteMaskNone}); err != nil {
		return fmt.Errorf("failed to create blend state: %w", err)
	}
	if s.SceneCBuffer, err = drv.CreateCBuffer(int(unsafe.Sizeof(SceneData{}))); err != nil {
		return fmt.Errorf("failed to create scene constant buffer: %w", err)
	}
	for idx := 1; idx < s.cbufferCount; idx++ {
		s.ensureCBuffer(uint32(idx))
	}

	for t, desc := range shaderDescs() {
		id, err := drv.CreateShader(desc)
		if err != nil {
			s.logger.Error("shader compile failed", zap.String("shader", desc.Name), zap.Error(err))
			continue
		}
		s.Shaders[t] = id
	}
	return nil
}

// Driver returns the driver passed to Init, or nil.
func (s *Store) Driver() driver.Driver { return s.drv }

// Arena returns the persistent arena, for introspection.
func (s *Store) Arena() *allocator.Arena { return &s.arena }

// NewNode allocates a node of the given kind and its constant buffers. The node starts with an identity
// world matrix and an opaque white color. A full constant buffer table panics with ErrCBufferTableFull
// and a full pool with allocator.ErrPoolExhausted; either way the store is left unchanged.
//
// Parameters:
//   - kind: KindDefault, KindSkinned or KindInstanced
//
// Returns:
//   - Handle: the node handle
//   - *DrawNode: the node core, valid until the node is freed
func (s *Store) NewNode(kind Kind) (Handle, *DrawNode) {
	var (
		idx  uint32
		node *DrawNode
	)
	switch kind {
	case KindDefault:
		s.checkCBuffers(s.Nodes.Full(), cbufferClassNode)
		idx, node = s.Nodes.Alloc()
	case KindSkinned:
		s.checkCBuffers(s.SkinnedNodes.Full(), cbufferClassNode, cbufferClassSkinning)
		i, n := s.SkinnedNodes.Alloc()
		n.CBufferSkinning = s.acquireCBuffer(cbufferClassSkinning)
		for j := range n.Palette {
			common.Identity(n.Palette[j][:])
		}
		idx, node = i, &n.DrawNode
	case KindInstanced:
		s.checkCBuffers(s.InstancedNodes.Full(), cbufferClassNode, cbufferClassInstances)
		i, n := s.InstancedNodes.Alloc()
		n.CBufferInstances = s.acquireCBuffer(cbufferClassInstances)
		idx, node = i, &n.DrawNode
	default:
		panic(fmt.Sprintf("store: cannot allocate node of kind %s", kind))
	}

	node.CBufferNode = s.acquireCBuffer(cbufferClassNode)
	common.Identity(node.Data.World[:])
	node.Data.Color = [4]float32{1, 1, 1, 1}
	return s.HandleFromNode(kind, idx), node
}

// FreeNode releases the node's pool slot. Its constant buffers are kept for the next node of the same
// kind. Freeing a stale or invalid handle is a no-op.
//
// Parameters:
//   - h: the node to free
func (s *Store) FreeNode(h Handle) {
	node, ok := s.Resolve(h)
	if !ok {
		return
	}
	s.releaseCBuffer(cbufferClassNode, node.CBufferNode)
	switch h.Kind() {
	case KindDefault:
		s.Nodes.Free(h.Index())
	case KindSkinned:
		s.releaseCBuffer(cbufferClassSkinning, s.SkinnedNodes.At(h.Index()).CBufferSkinning)
		s.SkinnedNodes.Free(h.Index())
	case KindInstanced:
		s.releaseCBuffer(cbufferClassInstances, s.InstancedNodes.At(h.Index()).CBufferInstances)
		s.InstancedNodes.Free(h.Index())
	}
	if s.Mirror.Node == h {
		s.Mirror.Node = 0
	}
}

// NewMesh allocates a mesh.
//
// Parameters:
//   - t: the shader the mesh is drawn with
//   - vb: the uploaded vertex buffer
//   - tex: the texture, zero for none
//
// Returns:
//   - MeshHandle: the 1-based mesh handle
func (s *Store) NewMesh(t ShaderType, vb driver.VertexBufferID, tex driver.TextureID) MeshHandle {
	idx, m := s.Meshes.Alloc()
	m.Type, m.VertexBuffer, m.Texture = t, vb, tex
	return s.HandleFromMesh(idx)
}

// FreeMesh releases a mesh slot. The driver keeps the vertex buffer and texture.
func (s *Store) FreeMesh(h MeshHandle) {
	if _, ok := s.Mesh(h); ok {
		s.Meshes.Free(uint32(h - 1))
	}
}

// HandleFromNode builds the handle of a live pool slot, using the slot's current generation.
//
// Parameters:
//   - kind: the pool
//   - idx: the slot index
//
// Returns:
//   - Handle: the handle, zero if the slot does not exist
func (s *Store) HandleFromNode(kind Kind, idx uint32) Handle {
	var gen uint32
	switch kind {
	case KindDefault:
		if int(idx) >= s.Nodes.Cap() {
			return 0
		}
		gen = s.Nodes.Generation(idx)
	case KindSkinned:
		if int(idx) >= s.SkinnedNodes.Cap() {
			return 0
		}
		gen = s.SkinnedNodes.Generation(idx)
	case KindInstanced:
		if int(idx) >= s.InstancedNodes.Cap() {
			return 0
		}
		gen = s.InstancedNodes.Generation(idx)
	default:
		return 0
	}
	return MakeHandle(kind, gen, idx)
}

// Resolve returns the core of the node h names. It fails when the kind is invalid, the index is out of
// range, the slot is free or the handle's generation is stale.
//
// Parameters:
//   - h: the node handle
//
// Returns:
//   - *DrawNode: the node core
//   - bool: whether the handle resolved
func (s *Store) Resolve(h Handle) (*DrawNode, bool) {
	idx := h.Index()
	switch h.Kind() {
	case KindDefault:
		if live(s.Nodes, h) {
			return s.Nodes.At(idx), true
		}
	case KindSkinned:
		if live(s.SkinnedNodes, h) {
			return &s.SkinnedNodes.At(idx).DrawNode, true
		}
	case KindInstanced:
		if live(s.InstancedNodes, h) {
			return &s.InstancedNodes.At(idx).DrawNode, true
		}
	}
	return nil, false
}

// Skinned returns the skinned node h names.
func (s *Store) Skinned(h Handle) (*DrawNodeSkinned, bool) {
	if h.Kind() != KindSkinned || !live(s.SkinnedNodes, h) {
		return nil, false
	}
	return s.SkinnedNodes.At(h.Index()), true
}

// Instanced returns the instanced node h names.
func (s *Store) Instanced(h Handle) (*DrawNodeInstanced, bool) {
	if h.Kind() != KindInstanced || !live(s.InstancedNodes, h) {
		return nil, false
	}
	return s.InstancedNodes.At(h.Index()), true
}

func live[T any](p *allocator.Pool[T], h Handle) bool {
	idx := h.Index()
	return p.Alive(idx) && p.Generation(idx)&handleGenMask == h.Generation()
}

// Mesh returns the mesh h names.
func (s *Store) Mesh(h MeshHandle) (*DrawMesh, bool) {
	if h == 0 || !s.Meshes.Alive(uint32(h-1)) {
		return nil, false
	}
	return s.Meshes.At(uint32(h - 1)), true
}

// HandleFromMesh returns the 1-based handle of mesh slot idx.
func (s *Store) HandleFromMesh(idx uint32) MeshHandle { return MeshHandle(idx + 1) }

// AnimatedNode returns the animated node h names.
func (s *Store) AnimatedNode(h AnimHandle) (*AnimatedNode, bool) {
	if h == 0 || !s.AnimatedNodes.Alive(uint32(h-1)) {
		return nil, false
	}
	return s.AnimatedNodes.At(uint32(h - 1)), true
}

// HandleFromAnimated returns the 1-based handle of animated node slot idx.
func (s *Store) HandleFromAnimated(idx uint32) AnimHandle { return AnimHandle(idx + 1) }

// CBuffer returns the driver id stored at a constant buffer table index.
func (s *Store) CBuffer(idx uint32) driver.CBufferID {
	if int(idx) >= s.cbufferCount {
		return 0
	}
	return s.cbuffers[idx]
}

// CBufferCount returns the number of table entries in use, including the reserved entry.
func (s *Store) CBufferCount() int { return s.cbufferCount }

// CBufferCapacity returns the size of the constant buffer table.
func (s *Store) CBufferCapacity() int { return len(s.cbuffers) }

// UploadNode writes the node's NodeData, plus its palette or instance matrices, to its constant buffers.
//
// Parameters:
//   - h: the node to upload
//
// Returns:
//   - error: ErrNoDriver before Init, or an error if the handle does not resolve
func (s *Store) UploadNode(h Handle) error {
	if s.drv == nil {
		return ErrNoDriver
	}
	node, ok := s.Resolve(h)
	if !ok {
		return fmt.Errorf("failed to upload node %s: stale or invalid handle", h)
	}
	s.drv.UpdateCBuffer(s.CBuffer(node.CBufferNode), common.StructToBytes(&node.Data))
	switch h.Kind() {
	case KindSkinned:
		n := s.SkinnedNodes.At(h.Index())
		s.drv.UpdateCBuffer(s.CBuffer(n.CBufferSkinning), common.StructToBytes(&n.Palette))
	case KindInstanced:
		n := s.InstancedNodes.At(h.Index())
		count := max(n.DrawnInstances(), 1)
		s.drv.UpdateCBuffer(s.CBuffer(n.CBufferInstances), common.SliceToBytes(n.Instances[:count]))
	}
	return nil
}

// UploadAll uploads every live node.
func (s *Store) UploadAll() error {
	for idx := range s.Nodes.All() {
		if err := s.UploadNode(s.HandleFromNode(KindDefault, idx)); err != nil {
			return err
		}
	}
	for idx := range s.SkinnedNodes.All() {
		if err := s.UploadNode(s.HandleFromNode(KindSkinned, idx)); err != nil {
			return err
		}
	}
	for idx := range s.InstancedNodes.All() {
		if err := s.UploadNode(s.HandleFromNode(KindInstanced, idx)); err != nil {
			return err
		}
	}
	return nil
}

// UploadScene stores scene and writes it to the scene constant buffer.
//
// Parameters:
//   - scene: the frame's camera and light data
//
// Returns:
//   - error: ErrNoDriver before Init
func (s *Store) UploadScene(scene SceneData) error {
	if s.drv == nil {
		return ErrNoDriver
	}
	s.Scene = scene
	s.drv.UpdateCBuffer(s.SceneCBuffer, common.StructToBytes(&s.Scene))
	return nil
}

// checkCBuffers panics with ErrCBufferTableFull unless one table entry of each class can be acquired.
// Classes must be distinct. A full pool is left to Pool.Alloc, which panics with ErrPoolExhausted.
func (s *Store) checkCBuffers(poolFull bool, classes ...int) {
	if poolFull {
		return
	}
	need := 0
	for _, class := range classes {
		if s.spare[class].Len() == 0 {
			need++
		}
	}
	if s.cbufferCount+need > len(s.cbuffers) {
		panic(fmt.Errorf("%w: capacity %d", ErrCBufferTableFull, len(s.cbuffers)))
	}
}

// acquireCBuffer returns a table index holding a constant buffer of the class's size, reusing one left
// behind by a freed node when possible.
func (s *Store) acquireCBuffer(class int) uint32 {
	spare := &s.spare[class]
	if n := spare.Len(); n > 0 {
		idx := *spare.At(n - 1)
		spare.Truncate(n - 1)
		s.ensureCBuffer(idx)
		return idx
	}
	if s.cbufferCount >= len(s.cbuffers) {
		panic(fmt.Errorf("%w: capacity %d", ErrCBufferTableFull, len(s.cbuffers)))
	}

	idx := uint32(s.cbufferCount)
	s.cbufferClass[idx] = uint8(class)
	s.cbufferCount++
	s.ensureCBuffer(idx)
	return idx
}

// ensureCBuffer creates the driver buffer of table entry idx if it has none yet. Without a driver the
// entry stays zero until Init. A driver failure is logged and also leaves it zero.
func (s *Store) ensureCBuffer(idx uint32) {
	if s.drv == nil || s.cbuffers[idx] != 0 {
		return
	}
	size := cbufferClassSizes[s.cbufferClass[idx]]
	id, err := s.drv.CreateCBuffer(size)
	if err != nil {
		s.logger.Error("constant buffer creation failed", zap.Int("size", size), zap.Error(err))
		return
	}
	s.cbuffers[idx] = id
}

func (s *Store) releaseCBuffer(class int, idx uint32) {
	if idx == 0 {
		return
	}
	s.spare[class].Append(&s.arena, idx)
}
