package importer

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gltfWriter assembles a small glTF document with a single embedded base64 buffer.
type gltfWriter struct {
	doc       map[string]any
	bin       bytes.Buffer
	views     []map[string]any
	accessors []map[string]any
}

func newGLTFWriter() *gltfWriter {
	return &gltfWriter{doc: map[string]any{"asset": map[string]any{"version": "2.0"}}}
}

func (w *gltfWriter) add(typ string, componentType, count int, data any) int {
	for w.bin.Len()%4 != 0 {
		w.bin.WriteByte(0)
	}
	off := w.bin.Len()
	_ = binary.Write(&w.bin, binary.LittleEndian, data)
	w.views = append(w.views, map[string]any{"buffer": 0, "byteOffset": off, "byteLength": w.bin.Len() - off})
	w.accessors = append(w.accessors, map[string]any{
		"bufferView": len(w.views) - 1, "componentType": componentType, "count": count, "type": typ,
	})
	return len(w.accessors) - 1
}

func (w *gltfWriter) floats(typ string, vals ...float32) int {
	return w.add(typ, gltfFloat, len(vals)/componentCount(typ), vals)
}

func (w *gltfWriter) bytes(typ string, vals ...uint8) int {
	return w.add(typ, gltfUnsignedByte, len(vals)/componentCount(typ), vals)
}

func (w *gltfWriter) write(t *testing.T, dir, name string) string {
	t.Helper()
	w.doc["bufferViews"] = w.views
	w.doc["accessors"] = w.accessors
	w.doc["buffers"] = []map[string]any{{
		"byteLength": w.bin.Len(),
		"uri":        "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(w.bin.Bytes()),
	}}
	data, err := json.Marshal(w.doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestImporter(t *testing.T, options ...ImporterBuilderOption) (*Importer, *store.Store, *driver.Recorder) {
	t.Helper()
	s := store.New()
	rec := driver.NewRecorder()
	require.NoError(t, s.Init(rec))
	return New(s, append([]ImporterBuilderOption{WithWorkers(2), WithScratchCapacity(1 << 20)}, options...)...), s, rec
}

// writeQuad writes a quad as six unindexed vertices translated to z = -5.
func writeQuad(t *testing.T, dir string) string {
	w := newGLTFWriter()
	pos := w.floats(gltfVec3,
		0, 0, 0, 1, 0, 0, 1, 1, 0,
		0, 0, 0, 1, 1, 0, 0, 1, 0,
	)
	w.doc["nodes"] = []map[string]any{{"mesh": 0, "translation": []float32{0, 0, -5}}}
	w.doc["scenes"] = []map[string]any{{"nodes": []int{0}}}
	w.doc["meshes"] = []map[string]any{{"primitives": []map[string]any{{
		"attributes": map[string]int{"POSITION": pos}, "material": 0,
	}}}}
	w.doc["materials"] = []map[string]any{{"pbrMetallicRoughness": map[string]any{"baseColorFactor": []float32{1, 0, 0, 1}}}}
	return w.write(t, dir, "quad.gltf")
}

func TestImporter_LoadStatic(t *testing.T) {
	imp, s, rec := newTestImporter(t)
	path := writeQuad(t, t.TempDir())

	results, err := imp.Load(path)
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]

	assert.Equal(t, store.KindDefault, res.Node.Kind())
	assert.Zero(t, res.Anim)
	assert.Equal(t, 1, res.Meshes)
	assert.Equal(t, 4, res.Vertices, "duplicate corners share one vertex")
	assert.Equal(t, 2, res.Triangles)
	assert.Equal(t, [3]float32{0, 0, -5}, res.Min)
	assert.Equal(t, [3]float32{1, 1, -5}, res.Max)

	node, ok := s.Resolve(res.Node)
	require.True(t, ok)
	assert.Equal(t, res.Min, node.Min)
	mesh, ok := s.Mesh(node.Meshes[store.StreamColor3D])
	require.True(t, ok)
	assert.Equal(t, store.ShaderColor3D, mesh.Type)
	assert.Zero(t, mesh.Texture)

	vb, ok := rec.VertexBuffer(mesh.VertexBuffer)
	require.True(t, ok)
	assert.Equal(t, uint32(4), vb.VertexCount)
	assert.Equal(t, uint32(6), vb.IndexCount)
	assert.Equal(t, driver.IndexFormatUint16, vb.IndexFormat)
	assert.Equal(t, uint32(16), vb.Layout.Stride)
	assert.Equal(t, store.PackColor(1, 0, 0, 1), binary.LittleEndian.Uint32(vb.Vertices[12:]))
	assert.Equal(t, []uint16{0, 1, 2, 0, 2, 3}, []uint16{
		binary.LittleEndian.Uint16(vb.Indices[0:]), binary.LittleEndian.Uint16(vb.Indices[2:]),
		binary.LittleEndian.Uint16(vb.Indices[4:]), binary.LittleEndian.Uint16(vb.Indices[6:]),
		binary.LittleEndian.Uint16(vb.Indices[8:]), binary.LittleEndian.Uint16(vb.Indices[10:]),
	})

	cb, ok := rec.CBuffer(s.CBuffer(node.CBufferNode))
	require.True(t, ok)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(cb[64:])), "node color uploaded")
	assert.Zero(t, imp.Scratch().Used(), "asset streams live in a scoped copy")
	peak := imp.Scratch().Peak()
	assert.Positive(t, peak, "scoped copies raise the shared high-water mark")

	_, err = imp.Load(path)
	require.NoError(t, err)
	assert.Zero(t, imp.Scratch().Used())
	assert.Equal(t, peak, imp.Scratch().Peak(), "a second identical asset reuses the same scratch range")
}

func TestImporter_LoadSkinned(t *testing.T) {
	imp, s, rec := newTestImporter(t)

	w := newGLTFWriter()
	pos := w.floats(gltfVec3, 0, 0, 0, 1, 0, 0, 0, 2, 0)
	joints := w.bytes(gltfVec4, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0)
	weights := w.floats(gltfVec4, 1, 0, 0, 0, 1, 0, 0, 0, 0.5, 0.25, 0.25, 0)
	ibm := w.floats(gltfMat4,
		1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, -2, 0, 1,
		1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, -1, 0, 1,
	)
	times := w.floats(gltfScalar, 0, 1)
	rots := w.floats(gltfVec4, 0, 0, 0, 1, 0, 0, 0.70710677, 0.70710677)
	w.doc["nodes"] = []map[string]any{
		{"mesh": 0, "skin": 0},
		{"name": "root", "children": []int{2}, "translation": []float32{0, 1, 0}},
		{"name": "tip", "translation": []float32{0, 1, 0}},
	}
	w.doc["scenes"] = []map[string]any{{"nodes": []int{0, 1}}}
	w.doc["meshes"] = []map[string]any{{"primitives": []map[string]any{{
		"attributes": map[string]int{"POSITION": pos, "JOINTS_0": joints, "WEIGHTS_0": weights},
	}}}}
	// the child joint is listed first so the importer has to reorder
	w.doc["skins"] = []map[string]any{{"joints": []int{2, 1}, "inverseBindMatrices": ibm}}
	w.doc["animations"] = []map[string]any{{
		"name":     "bend",
		"channels": []map[string]any{{"sampler": 0, "target": map[string]any{"node": 1, "path": "rotation"}}},
		"samplers": []map[string]any{{"input": times, "output": rots}},
	}}
	path := w.write(t, t.TempDir(), "rig.gltf")

	results, err := imp.Load(path)
	require.NoError(t, err)
	res := results[0]
	assert.Equal(t, store.KindSkinned, res.Node.Kind())
	assert.Equal(t, 1, res.Clips)
	require.NotZero(t, res.Anim)

	anim, ok := s.AnimatedNode(res.Anim)
	require.True(t, ok)
	sk, ok := s.Skeleton(anim.Rig)
	require.True(t, ok)
	assert.Equal(t, []int16{-1, 0}, sk.Parents)
	assert.Equal(t, float32(-1), sk.JointFromGeometry[0][13])
	assert.Equal(t, float32(-2), sk.JointFromGeometry[1][13])
	assert.Equal(t, common.IdentityMatrix(), sk.GeometryFromRoot)

	clip, ok := s.ClipAt(anim.ClipFirst)
	require.True(t, ok)
	assert.Equal(t, "bend", clip.Name)
	assert.Equal(t, store.ClipFrameCount(1), clip.FrameCount)
	assert.Equal(t, 2, clip.JointCount)
	last := clip.Frames[(clip.FrameCount-1)*clip.JointCount]
	assert.InDelta(t, 0.7071, last.R[2], 1e-3)
	assert.Equal(t, [3]float32{0, 1, 0}, clip.Frames[1].T, "unanimated joint keeps its rest pose")

	node, ok := s.Resolve(res.Node)
	require.True(t, ok)
	mesh, ok := s.Mesh(node.Meshes[store.StreamColor3DSkinned])
	require.True(t, ok)
	vb, ok := rec.VertexBuffer(mesh.VertexBuffer)
	require.True(t, ok)
	require.Equal(t, uint32(3), vb.VertexCount)
	v2 := vb.Vertices[2*24:]
	assert.Equal(t, []byte{1, 0, 1, 1}, v2[16:20], "joints remapped to the sorted order")
	assert.Equal(t, []byte{129, 63, 63, 0}, v2[20:24])

	assert.Equal(t, 1, s.AdvanceAnimations(0.5))
}

func writeTexturedTriangle(t *testing.T, dir, name, alphaMode string) string {
	w := newGLTFWriter()
	pos := w.floats(gltfVec3, 0, 0, 0, 1, 0, 0, 0, 1, 0)
	uv := w.floats(gltfVec2, 0, 0, 1, 0, 0, 1)
	w.doc["nodes"] = []map[string]any{{"mesh": 0}}
	w.doc["meshes"] = []map[string]any{{"primitives": []map[string]any{{
		"attributes": map[string]int{"POSITION": pos, "TEXCOORD_0": uv}, "material": 0,
	}}}}
	w.doc["materials"] = []map[string]any{{
		"alphaMode":            alphaMode,
		"pbrMetallicRoughness": map[string]any{"baseColorTexture": map[string]any{"index": 0}},
	}}
	w.doc["textures"] = []map[string]any{{"source": 0}}
	w.doc["images"] = []map[string]any{{"uri": "checker.png"}}
	return w.write(t, dir, name)
}

func TestImporter_LoadSharedTexture(t *testing.T) {
	imp, s, rec := newTestImporter(t)
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checker.png"), buf.Bytes(), 0o644))

	clipped := writeTexturedTriangle(t, dir, "clipped.gltf", gltfAlphaMask)
	opaque := writeTexturedTriangle(t, dir, "opaque.gltf", gltfAlphaOpaque)

	results, err := imp.Load(clipped, opaque)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, rec.TextureCount(), "both files share one decoded and uploaded texture")

	a, _ := s.Resolve(results[0].Node)
	b, _ := s.Resolve(results[1].Node)
	ma, ok := s.Mesh(a.Meshes[store.StreamTextured3DAlphaClip])
	require.True(t, ok)
	mb, ok := s.Mesh(b.Meshes[store.StreamTextured3D])
	require.True(t, ok)
	assert.Equal(t, store.ShaderTextured3DAlphaClip, ma.Type)
	assert.Equal(t, store.ShaderTextured3D, mb.Type)
	assert.NotZero(t, ma.Texture)
	assert.Equal(t, ma.Texture, mb.Texture)

	tex, ok := rec.Texture(ma.Texture)
	require.True(t, ok)
	assert.Equal(t, uint32(2), tex.Width)
	assert.Len(t, tex.Pixels, 16)
}

func TestImporter_LoadErrors(t *testing.T) {
	t.Run("missing file commits nothing", func(t *testing.T) {
		imp, s, _ := newTestImporter(t)
		dir := t.TempDir()
		good := writeQuad(t, dir)

		results, err := imp.Load(good, filepath.Join(dir, "missing.gltf"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Empty(t, results)
		assert.Zero(t, s.Nodes.Count())
	})

	t.Run("wrong version", func(t *testing.T) {
		imp, _, _ := newTestImporter(t)
		path := filepath.Join(t.TempDir(), "old.gltf")
		require.NoError(t, os.WriteFile(path, []byte(`{"asset":{"version":"1.0"}}`), 0o644))

		_, err := imp.Load(path)
		assert.ErrorIs(t, err, errInvalidGLTFVersion)
	})

	t.Run("no driver", func(t *testing.T) {
		imp := New(store.New(), WithWorkers(1))
		_, err := imp.Load("any.gltf")
		assert.ErrorIs(t, err, store.ErrNoDriver)
	})

	t.Run("no meshes", func(t *testing.T) {
		imp, _, _ := newTestImporter(t)
		w := newGLTFWriter()
		w.doc["nodes"] = []map[string]any{{"name": "empty"}}
		_, err := imp.Load(w.write(t, t.TempDir(), "empty.gltf"))
		assert.ErrorContains(t, err, "no triangle meshes")
	})
}

func TestQuantizeWeights(t *testing.T) {
	tests := []struct {
		name string
		in   [4]float32
		want [4]uint8
	}{
		{"single", [4]float32{1, 0, 0, 0}, [4]uint8{255, 0, 0, 0}},
		{"rounding folded into first", [4]float32{0.5, 0.25, 0.25, 0}, [4]uint8{129, 63, 63, 0}},
		{"unnormalized", [4]float32{2, 2, 0, 0}, [4]uint8{128, 127, 0, 0}},
		{"zero", [4]float32{}, [4]uint8{255, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quantizeWeights(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 255, int(got[0])+int(got[1])+int(got[2])+int(got[3]))
		})
	}
}

func TestRouteStream(t *testing.T) {
	assert.Equal(t, store.StreamColor3D, routeStream(false, false, false))
	assert.Equal(t, store.StreamColor3D, routeStream(false, false, true), "alpha test needs a texture")
	assert.Equal(t, store.StreamColor3DSkinned, routeStream(true, false, false))
	assert.Equal(t, store.StreamTextured3D, routeStream(false, true, false))
	assert.Equal(t, store.StreamTextured3DAlphaClip, routeStream(false, true, true))
	assert.Equal(t, store.StreamTextured3DSkinned, routeStream(true, true, false))
	assert.Equal(t, store.StreamTextured3DAlphaClipSkinned, routeStream(true, true, true))
}

func TestDecomposeMatrix(t *testing.T) {
	want := store.JointTRS{
		T: [3]float32{1, 2, 3},
		R: [4]float32{0, 0.38268343, 0, 0.9238795},
		S: [3]float32{2, 2, 2},
	}
	var m [16]float32
	want.Matrix(m[:])

	got := decomposeMatrix(m)
	for k := range 3 {
		assert.InDelta(t, want.T[k], got.T[k], 1e-5)
		assert.InDelta(t, want.S[k], got.S[k], 1e-5)
	}
	for k := range 4 {
		assert.InDelta(t, want.R[k], got.R[k], 1e-5)
	}
}
