// Package driver is the GPU abstraction the renderer submits work through. Resources are created up front
// and referenced by small integer ids; the zero id always means "none".
package driver

import "errors"

var (
	// ErrUnknownResource is returned when an id does not name a resource created by the driver.
	ErrUnknownResource = errors.New("driver: unknown resource")
	// ErrInvalidDescriptor is returned when a resource descriptor is incomplete or inconsistent.
	ErrInvalidDescriptor = errors.New("driver: invalid descriptor")
)

// CBufferID names a constant (uniform) buffer.
type CBufferID uint32

// VertexBufferID names an indexed vertex buffer: a vertex buffer, its index buffer and the index count.
type VertexBufferID uint32

// TextureID names a sampled 2D texture.
type TextureID uint32

// ShaderID names a compiled shader set (vertex and fragment stage).
type ShaderID uint32

// BlendStateID names a color blend state.
type BlendStateID uint32

// VertexFormat is the format of a single vertex attribute.
type VertexFormat uint8

const (
	VertexFormatFloat32x2 VertexFormat = iota + 1
	VertexFormatFloat32x3
	// VertexFormatUnorm8x4 is four normalized bytes, used for packed colors and joint weights.
	VertexFormatUnorm8x4
	// VertexFormatUint8x4 is four unsigned bytes, used for joint indices.
	VertexFormatUint8x4
)

// IndexFormat is the element type of an index buffer.
type IndexFormat uint8

const (
	IndexFormatUint16 IndexFormat = iota + 1
	IndexFormatUint32
)

// WriteMask selects which color channels a blend state writes.
type WriteMask uint8

const (
	WriteMaskNone WriteMask = 0
	WriteMaskAll  WriteMask = 0xf
)

// VertexAttribute describes one attribute inside an interleaved vertex.
type VertexAttribute struct {
	Name     string
	Format   VertexFormat
	Offset   uint32
	Location uint32
}

// VertexLayout is the interleaved layout of a vertex stream.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// IndexedVertexBufferDesc describes vertex and index data to upload.
type IndexedVertexBufferDesc struct {
	Label       string
	Vertices    []byte
	VertexCount uint32
	Indices     []byte
	IndexCount  uint32
	IndexFormat IndexFormat
	Layout      VertexLayout
}

// TextureDesc describes an RGBA8 texture to upload.
type TextureDesc struct {
	Label  string
	Pixels []byte
	Width  uint32
	Height uint32
}

// ShaderDesc describes a shader set. The WGSL source must hold both entry points.
type ShaderDesc struct {
	Name          string
	Source        string
	VertexEntry   string
	FragmentEntry string
	Layout        VertexLayout
	CBufferCount  int
	TextureCount  int
}

// BlendStateDesc describes a blend state.
type BlendStateDesc struct {
	Enable    bool
	WriteMask WriteMask
}

// Driver is the GPU interface used by the store and the drawlist executor.
//
// Creation calls may fail and return an error. Bind and draw calls are recorded into the current frame
// and never fail; binding an unknown id is ignored by the driver.
type Driver interface {
	// CreateCBuffer allocates a constant buffer of size bytes.
	CreateCBuffer(size int) (CBufferID, error)

	// UpdateCBuffer overwrites the start of a constant buffer with data.
	UpdateCBuffer(id CBufferID, data []byte)

	// CreateIndexedVertexBuffer uploads vertex and index data.
	CreateIndexedVertexBuffer(desc IndexedVertexBufferDesc) (VertexBufferID, error)

	// CreateTexture uploads an RGBA8 image.
	CreateTexture(desc TextureDesc) (TextureID, error)

	// CreateShader compiles a shader set.
	CreateShader(desc ShaderDesc) (ShaderID, error)

	// CreateBlendState registers a blend state.
	CreateBlendState(desc BlendStateDesc) (BlendStateID, error)

	// Resize reconfigures the presentation surface.
	Resize(width, height int)

	// BeginFrame acquires the next surface image and opens the frame's render pass.
	BeginFrame() error

	// EndFrame closes the render pass and submits the frame.
	EndFrame()

	// Present shows the submitted frame.
	Present()

	BindShader(id ShaderID)
	BindBlendState(id BlendStateID)
	BindTextures(ids ...TextureID)
	BindIndexedVertexBuffer(id VertexBufferID)

	// BindCBuffers binds ids to consecutive constant buffer slots of the given shader, starting at 0.
	BindCBuffers(shader ShaderID, ids []CBufferID)

	// DrawIndexed draws every index of the vertex buffer once.
	DrawIndexed(id VertexBufferID)

	// DrawInstancesIndexed draws every index of the vertex buffer instances times.
	DrawInstancesIndexed(id VertexBufferID, instances uint32)

	// BeginEvent opens a named debug marker region.
	BeginEvent(name string)

	// EndEvent closes the innermost debug marker region.
	EndEvent()

	// Release frees every resource owned by the driver.
	Release()
}
