package store

import (
	_ "embed"

	"github.com/Carmen-Shannon/oxy-core/engine/driver"
)

// ShaderType selects the shader a mesh is drawn with. It is also the shader field of the sort key.
type ShaderType uint8

const (
	ShaderFullscreenBlit ShaderType = iota
	ShaderInstanced3D
	ShaderColor3D
	ShaderColor3DSkinned
	ShaderTextured3D
	ShaderTextured3DAlphaClip
	ShaderTextured3DSkinned
	ShaderTextured3DAlphaClipSkinned
	ShaderCount
)

var shaderNames = [ShaderCount]string{
	"FullscreenBlit",
	"Instanced3D",
	"Color3D",
	"Color3DSkinned",
	"Textured3D",
	"Textured3DAlphaClip",
	"Textured3DSkinned",
	"Textured3DAlphaClipSkinned",
}

// String returns the shader name, also used as the debug event name of draws using it.
func (t ShaderType) String() string {
	if t < ShaderCount {
		return shaderNames[t]
	}
	return "Unknown"
}

// Stream is a vertex stream an imported node is split into. Each stream maps to the shader of the same name.
type Stream uint8

const (
	StreamColor3D Stream = iota
	StreamColor3DSkinned
	StreamTextured3D
	StreamTextured3DAlphaClip
	StreamTextured3DSkinned
	StreamTextured3DAlphaClipSkinned
	StreamCount
)

// Shader returns the shader type the stream is drawn with.
func (s Stream) Shader() ShaderType {
	return streamShaders[s]
}

// Skinned reports whether the stream carries joint indices and weights.
func (s Stream) Skinned() bool {
	return s == StreamColor3DSkinned || s == StreamTextured3DSkinned || s == StreamTextured3DAlphaClipSkinned
}

// Textured reports whether the stream carries texture coordinates.
func (s Stream) Textured() bool {
	return s >= StreamTextured3D
}

var streamShaders = [StreamCount]ShaderType{
	ShaderColor3D,
	ShaderColor3DSkinned,
	ShaderTextured3D,
	ShaderTextured3DAlphaClip,
	ShaderTextured3DSkinned,
	ShaderTextured3DAlphaClipSkinned,
}

// NodeData is the per-node constant buffer. Matches the WGSL Node struct (80 bytes).
type NodeData struct {
	World [16]float32 // offset  0: model to world, column-major
	Color [4]float32  // offset 64: group color, alpha drives the blend filters
}

// SceneData is the per-frame constant buffer. Matches the WGSL Scene struct (160 bytes).
type SceneData struct {
	Projection [16]float32 // offset   0
	View       [16]float32 // offset  64
	ViewPos    [3]float32  // offset 128
	_          float32
	LightPos   [3]float32 // offset 144
	_          float32
}

// Palette is the skinning matrix palette of a skinned node (32 joints, 2048 bytes).
type Palette [MaxJoints][16]float32

// InstanceMatrices holds the per-instance transforms of an instanced node (64 instances, 4096 bytes).
type InstanceMatrices [MaxInstances][16]float32

const (
	// MaxJoints is the number of palette entries a skinned node uploads.
	MaxJoints = 32
	// MaxInstances is the number of instance transforms an instanced node uploads.
	MaxInstances = 64
)

// VertexPosition3D is the vertex of the Instanced3D stream (12 bytes).
type VertexPosition3D struct {
	Position [3]float32
}

// VertexColor3D is the vertex of the Color3D stream (16 bytes). Color is packed RGBA8, red in the low byte.
type VertexColor3D struct {
	Position [3]float32
	Color    uint32
}

// VertexColorSkinned3D is the vertex of the Color3DSkinned stream (20 bytes plus joints, 24 total).
type VertexColorSkinned3D struct {
	Position     [3]float32
	Color        uint32
	JointIndices [4]uint8
	JointWeights [4]uint8
}

// VertexTextured3D is the vertex of the textured streams (20 bytes).
type VertexTextured3D struct {
	Position [3]float32
	UV       [2]float32
}

// VertexTexturedSkinned3D is the vertex of the skinned textured streams (28 bytes).
type VertexTexturedSkinned3D struct {
	Position     [3]float32
	UV           [2]float32
	JointIndices [4]uint8
	JointWeights [4]uint8
}

// PackColor packs a float RGBA color into the RGBA8 layout of the vertex color attribute.
//
// Parameters:
//   - r, g, b, a: color channels in [0, 1]
//
// Returns:
//   - uint32: the packed color
func PackColor(r, g, b, a float32) uint32 {
	q := func(v float32) uint32 { return uint32(min(max(v, 0), 1)*255 + 0.5) }
	return q(r) | q(g)<<8 | q(b)<<16 | q(a)<<24
}

var (
	positionLayout = driver.VertexLayout{
		Stride: 12,
		Attributes: []driver.VertexAttribute{
			{Name: "POSITION", Format: driver.VertexFormatFloat32x3, Offset: 0, Location: 0},
		},
	}
	colorLayout = driver.VertexLayout{
		Stride: 16,
		Attributes: []driver.VertexAttribute{
			{Name: "POSITION", Format: driver.VertexFormatFloat32x3, Offset: 0, Location: 0},
			{Name: "COLOR", Format: driver.VertexFormatUnorm8x4, Offset: 12, Location: 1},
		},
	}
	colorSkinnedLayout = driver.VertexLayout{
		Stride: 24,
		Attributes: []driver.VertexAttribute{
			{Name: "POSITION", Format: driver.VertexFormatFloat32x3, Offset: 0, Location: 0},
			{Name: "COLOR", Format: driver.VertexFormatUnorm8x4, Offset: 12, Location: 1},
			{Name: "JOINTINDICES", Format: driver.VertexFormatUint8x4, Offset: 16, Location: 2},
			{Name: "JOINTWEIGHTS", Format: driver.VertexFormatUnorm8x4, Offset: 20, Location: 3},
		},
	}
	texturedLayout = driver.VertexLayout{
		Stride: 20,
		Attributes: []driver.VertexAttribute{
			{Name: "POSITION", Format: driver.VertexFormatFloat32x3, Offset: 0, Location: 0},
			{Name: "TEXCOORD", Format: driver.VertexFormatFloat32x2, Offset: 12, Location: 1},
		},
	}
	texturedSkinnedLayout = driver.VertexLayout{
		Stride: 28,
		Attributes: []driver.VertexAttribute{
			{Name: "POSITION", Format: driver.VertexFormatFloat32x3, Offset: 0, Location: 0},
			{Name: "TEXCOORD", Format: driver.VertexFormatFloat32x2, Offset: 12, Location: 1},
			{Name: "JOINTINDICES", Format: driver.VertexFormatUint8x4, Offset: 20, Location: 2},
			{Name: "JOINTWEIGHTS", Format: driver.VertexFormatUnorm8x4, Offset: 24, Location: 3},
		},
	}
)

// StreamLayout returns the interleaved vertex layout of a stream.
func StreamLayout(s Stream) driver.VertexLayout {
	switch s {
	case StreamColor3D:
		return colorLayout
	case StreamColor3DSkinned:
		return colorSkinnedLayout
	case StreamTextured3D, StreamTextured3DAlphaClip:
		return texturedLayout
	default:
		return texturedSkinnedLayout
	}
}

// PositionLayout returns the position-only layout used by instanced meshes.
func PositionLayout() driver.VertexLayout {
	return positionLayout
}

// BlitSource is the fullscreen blit shader.
//
//go:embed assets/blit.wgsl
var BlitSource string

// InstancedSource is the instanced unlit shader.
//
//go:embed assets/instanced3d.wgsl
var InstancedSource string

// ColorSource holds the static and skinned vertex-colored shaders.
//
//go:embed assets/color3d.wgsl
var ColorSource string

// TexturedSource holds the static and skinned textured shaders, with opaque and alpha-clip fragment stages.
//
//go:embed assets/textured3d.wgsl
var TexturedSource string

// shaderDescs returns the descriptor each ShaderType compiles from. Color and textured shaders bind the
// scene and node buffers; skinned and instanced shaders bind a third buffer.
func shaderDescs() [ShaderCount]driver.ShaderDesc {
	return [ShaderCount]driver.ShaderDesc{
		ShaderFullscreenBlit: {
			Name: ShaderFullscreenBlit.String(), Source: BlitSource,
			VertexEntry: "vs_blit", FragmentEntry: "fs_blit",
			TextureCount: 1,
		},
		ShaderInstanced3D: {
			Name: ShaderInstanced3D.String(), Source: InstancedSource,
			VertexEntry: "vs_instanced", FragmentEntry: "fs_color",
			Layout: positionLayout, CBufferCount: 3,
		},
		ShaderColor3D: {
			Name: ShaderColor3D.String(), Source: ColorSource,
			VertexEntry: "vs_color", FragmentEntry: "fs_color",
			Layout: colorLayout, CBufferCount: 2,
		},
		ShaderColor3DSkinned: {
			Name: ShaderColor3DSkinned.String(), Source: ColorSource,
			VertexEntry: "vs_color_skinned", FragmentEntry: "fs_color",
			Layout: colorSkinnedLayout, CBufferCount: 3,
		},
		ShaderTextured3D: {
			Name: ShaderTextured3D.String(), Source: TexturedSource,
			VertexEntry: "vs_textured", FragmentEntry: "fs_textured",
			Layout: texturedLayout, CBufferCount: 2, TextureCount: 1,
		},
		ShaderTextured3DAlphaClip: {
			Name: ShaderTextured3DAlphaClip.String(), Source: TexturedSource,
			VertexEntry: "vs_textured", FragmentEntry: "fs_alpha_clip",
			Layout: texturedLayout, CBufferCount: 2, TextureCount: 1,
		},
		ShaderTextured3DSkinned: {
			Name: ShaderTextured3DSkinned.String(), Source: TexturedSource,
			VertexEntry: "vs_textured_skinned", FragmentEntry: "fs_textured",
			Layout: texturedSkinnedLayout, CBufferCount: 3, TextureCount: 1,
		},
		ShaderTextured3DAlphaClipSkinned: {
			Name: ShaderTextured3DAlphaClipSkinned.String(), Source: TexturedSource,
			VertexEntry: "vs_textured_skinned", FragmentEntry: "fs_alpha_clip",
			Layout: texturedSkinnedLayout, CBufferCount: 3, TextureCount: 1,
		},
	}
}
