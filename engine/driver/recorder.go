package driver

import (
	"fmt"
	"slices"
	"sync"
)

// Op identifies a recorded driver call.
type Op uint8

const (
	OpBindShader Op = iota + 1
	OpBindBlendState
	OpBindTextures
	OpBindIndexedVertexBuffer
	OpBindCBuffers
	OpDrawIndexed
	OpDrawInstancesIndexed
	OpBeginEvent
	OpEndEvent
	OpUpdateCBuffer
)

var opNames = [...]string{
	OpBindShader:              "BindShader",
	OpBindBlendState:          "BindBlendState",
	OpBindTextures:            "BindTextures",
	OpBindIndexedVertexBuffer: "BindIndexedVertexBuffer",
	OpBindCBuffers:            "BindCBuffers",
	OpDrawIndexed:             "DrawIndexed",
	OpDrawInstancesIndexed:    "DrawInstancesIndexed",
	OpBeginEvent:              "BeginEvent",
	OpEndEvent:                "EndEvent",
	OpUpdateCBuffer:           "UpdateCBuffer",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Call is one recorded driver call. ID holds the primary resource id of the call; IDs holds the texture
// or constant buffer list for the multi-bind calls.
type Call struct {
	Op    Op
	ID    uint32
	IDs   []uint32
	Count uint32
	Name  string
}

// RecorderStats counts the calls a Recorder has seen since the last Reset.
type RecorderStats struct {
	Frames         int
	Binds          int
	Draws          int
	Instances      int
	Events         int
	CBufferUpdates int
	OpenEvents     int
}

// Recorder is a headless Driver. It hands out ids for every resource, keeps the descriptors it was
// given, and counts (and optionally records) every bind and draw. It backs tests and the bench command.
type Recorder struct {
	mu *sync.Mutex

	record        bool
	failedShaders map[string]bool

	cbuffers      [][]byte
	vertexBuffers []IndexedVertexBufferDesc
	textures      []TextureDesc
	shaders       []ShaderDesc
	blendStates   []BlendStateDesc

	calls         []Call
	stats         RecorderStats
	width, height int
}

var _ Driver = &Recorder{}

// NewRecorder creates a Recorder with the provided options.
//
// Parameters:
//   - options: functional options for recorder configuration
//
// Returns:
//   - *Recorder: the new recorder
func NewRecorder(options ...RecorderBuilderOption) *Recorder {
	r := &Recorder{
		mu:            &sync.Mutex{},
		record:        true,
		failedShaders: make(map[string]bool),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Recorder) CreateCBuffer(size int) (CBufferID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if size <= 0 {
		return 0, fmt.Errorf("%w: cbuffer size %d", ErrInvalidDescriptor, size)
	}
	r.cbuffers = append(r.cbuffers, make([]byte, size))
	return CBufferID(len(r.cbuffers)), nil
}

func (r *Recorder) UpdateCBuffer(id CBufferID, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || int(id) > len(r.cbuffers) {
		return
	}
	copy(r.cbuffers[id-1], data)
	r.stats.CBufferUpdates++
	r.push(Call{Op: OpUpdateCBuffer, ID: uint32(id), Count: uint32(len(data))})
}

func (r *Recorder) CreateIndexedVertexBuffer(desc IndexedVertexBufferDesc) (VertexBufferID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.IndexCount == 0 || len(desc.Vertices) == 0 {
		return 0, fmt.Errorf("%w: vertex buffer %q is empty", ErrInvalidDescriptor, desc.Label)
	}
	// callers may build descriptors in scratch memory
	desc.Vertices, desc.Indices = slices.Clone(desc.Vertices), slices.Clone(desc.Indices)
	r.vertexBuffers = append(r.vertexBuffers, desc)
	return VertexBufferID(len(r.vertexBuffers)), nil
}

func (r *Recorder) CreateTexture(desc TextureDesc) (TextureID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.Width == 0 || desc.Height == 0 || len(desc.Pixels) < int(desc.Width*desc.Height*4) {
		return 0, fmt.Errorf("%w: texture %q is %dx%d with %d bytes", ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height, len(desc.Pixels))
	}
	desc.Pixels = slices.Clone(desc.Pixels)
	r.textures = append(r.textures, desc)
	return TextureID(len(r.textures)), nil
}

func (r *Recorder) CreateShader(desc ShaderDesc) (ShaderID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failedShaders[desc.Name] {
		return 0, fmt.Errorf("compile shader %q: rejected by recorder", desc.Name)
	}
	if desc.Source == "" {
		return 0, fmt.Errorf("%w: shader %q has no source", ErrInvalidDescriptor, desc.Name)
	}
	r.shaders = append(r.shaders, desc)
	return ShaderID(len(r.shaders)), nil
}

func (r *Recorder) CreateBlendState(desc BlendStateDesc) (BlendStateID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blendStates = append(r.blendStates, desc)
	return BlendStateID(len(r.blendStates)), nil
}

func (r *Recorder) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.width, r.height = width, height
}

func (r *Recorder) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.record {
		r.calls = r.calls[:0]
	}
	return nil
}

func (r *Recorder) EndFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Frames++
}

func (r *Recorder) Present() {}

func (r *Recorder) BindShader(id ShaderID) {
	r.bind(Call{Op: OpBindShader, ID: uint32(id)})
}

func (r *Recorder) BindBlendState(id BlendStateID) {
	r.bind(Call{Op: OpBindBlendState, ID: uint32(id)})
}

func (r *Recorder) BindTextures(ids ...TextureID) {
	c := Call{Op: OpBindTextures}
	if r.record {
		c.IDs = make([]uint32, len(ids))
		for i, id := range ids {
			c.IDs[i] = uint32(id)
		}
	}
	if len(ids) > 0 {
		c.ID = uint32(ids[0])
	}
	r.bind(c)
}

func (r *Recorder) BindIndexedVertexBuffer(id VertexBufferID) {
	r.bind(Call{Op: OpBindIndexedVertexBuffer, ID: uint32(id)})
}

func (r *Recorder) BindCBuffers(shader ShaderID, ids []CBufferID) {
	c := Call{Op: OpBindCBuffers, ID: uint32(shader), Count: uint32(len(ids))}
	if r.record {
		c.IDs = make([]uint32, len(ids))
		for i, id := range ids {
			c.IDs[i] = uint32(id)
		}
	}
	r.bind(c)
}

func (r *Recorder) DrawIndexed(id VertexBufferID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Draws++
	r.stats.Instances++
	r.push(Call{Op: OpDrawIndexed, ID: uint32(id), Count: 1})
}

func (r *Recorder) DrawInstancesIndexed(id VertexBufferID, instances uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Draws++
	r.stats.Instances += int(instances)
	r.push(Call{Op: OpDrawInstancesIndexed, ID: uint32(id), Count: instances})
}

func (r *Recorder) BeginEvent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Events++
	r.stats.OpenEvents++
	r.push(Call{Op: OpBeginEvent, Name: name})
}

func (r *Recorder) EndEvent() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.OpenEvents--
	r.push(Call{Op: OpEndEvent})
}

func (r *Recorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cbuffers, r.vertexBuffers, r.textures, r.shaders, r.blendStates = nil, nil, nil, nil, nil
	r.calls = nil
}

// Calls returns a copy of the calls recorded since the last BeginFrame or Reset.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.calls)
}

// CallsOf returns the recorded calls with the given op.
func (r *Recorder) CallsOf(op Op) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Stats returns the call counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stats
}

// Reset clears the recorded calls and counters. Created resources are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = r.calls[:0]
	r.stats = RecorderStats{}
}

// CBuffer returns the current contents of a constant buffer.
func (r *Recorder) CBuffer(id CBufferID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || int(id) > len(r.cbuffers) {
		return nil, false
	}
	return r.cbuffers[id-1], true
}

// Shader returns the descriptor a shader was created from.
func (r *Recorder) Shader(id ShaderID) (ShaderDesc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || int(id) > len(r.shaders) {
		return ShaderDesc{}, false
	}
	return r.shaders[id-1], true
}

// BlendState returns the descriptor a blend state was created from.
func (r *Recorder) BlendState(id BlendStateID) (BlendStateDesc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || int(id) > len(r.blendStates) {
		return BlendStateDesc{}, false
	}
	return r.blendStates[id-1], true
}

// VertexBuffer returns the descriptor a vertex buffer was created from.
func (r *Recorder) VertexBuffer(id VertexBufferID) (IndexedVertexBufferDesc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || int(id) > len(r.vertexBuffers) {
		return IndexedVertexBufferDesc{}, false
	}
	return r.vertexBuffers[id-1], true
}

// CBufferCount returns the number of constant buffers created so far.
func (r *Recorder) CBufferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.cbuffers)
}

// Texture returns the descriptor a texture was created from.
func (r *Recorder) Texture(id TextureID) (TextureDesc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 || int(id) > len(r.textures) {
		return TextureDesc{}, false
	}
	return r.textures[id-1], true
}

// TextureCount returns the number of textures created so far.
func (r *Recorder) TextureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.textures)
}

func (r *Recorder) bind(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Binds++
	r.push(c)
}

// push appends c when recording is enabled. Callers hold mu.
func (r *Recorder) push(c Call) {
	if r.record {
		r.calls = append(r.calls, c)
	}
}
