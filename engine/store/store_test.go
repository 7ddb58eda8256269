package store

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-core/engine/allocator"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T, options ...StoreBuilderOption) (*Store, *driver.Recorder) {
	t.Helper()
	rec := driver.NewRecorder()
	s := New(options...)
	require.NoError(t, s.Init(rec))
	return s, rec
}

func TestStore_New(t *testing.T) {
	t.Run("default capacities", func(t *testing.T) {
		s := New()
		assert.Equal(t, DefaultMeshCapacity, s.Meshes.Cap())
		assert.Equal(t, DefaultNodeCapacity, s.Nodes.Cap())
		assert.Equal(t, DefaultSkinnedCapacity, s.SkinnedNodes.Cap())
		assert.Equal(t, DefaultInstancedCapacity, s.InstancedNodes.Cap())
		assert.Equal(t, DefaultAnimatedCapacity, s.AnimatedNodes.Cap())
		assert.Equal(t, DefaultCBufferCapacity, s.CBufferCapacity())
		assert.LessOrEqual(t, s.Arena().Used(), DefaultArenaCapacity)
	})

	t.Run("pool beyond handle range panics", func(t *testing.T) {
		assert.Panics(t, func() {
			New(WithArenaCapacity(64<<20), WithNodeCapacity(MaxPoolCapacity+1))
		})
	})
}

func TestStore_Init(t *testing.T) {
	t.Run("creates blend states, scene buffer and shaders", func(t *testing.T) {
		s, rec := newTestStore(t)

		on, ok := rec.BlendState(s.BlendOn)
		require.True(t, ok)
		assert.Equal(t, driver.BlendStateDesc{Enable: true, WriteMask: driver.WriteMaskAll}, on)
		off, _ := rec.BlendState(s.BlendOff)
		assert.Equal(t, driver.BlendStateDesc{WriteMask: driver.WriteMaskAll}, off)
		none, _ := rec.BlendState(s.BlendNone)
		assert.Equal(t, driver.BlendStateDesc{WriteMask: driver.WriteMaskNone}, none)

		scene, ok := rec.CBuffer(s.SceneCBuffer)
		require.True(t, ok)
		assert.Len(t, scene, 160)

		for st, id := range s.Shaders {
			desc, ok := rec.Shader(id)
			require.True(t, ok, ShaderType(st).String())
			assert.Equal(t, ShaderType(st).String(), desc.Name)
		}
	})

	t.Run("shader failure leaves slot unusable", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		rec := driver.NewRecorder(driver.WithFailingShaders(ShaderTextured3D.String()))
		s := New(WithLogger(zap.New(core)))

		require.NoError(t, s.Init(rec))
		assert.Zero(t, s.Shaders[ShaderTextured3D])
		assert.NotZero(t, s.Shaders[ShaderColor3D])
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, ShaderTextured3D.String(), logs.All()[0].ContextMap()["shader"])
	})
}

func TestStore_NewNode(t *testing.T) {
	s, rec := newTestStore(t)

	t.Run("default node", func(t *testing.T) {
		h, node := s.NewNode(KindDefault)
		assert.Equal(t, KindDefault, h.Kind())
		assert.Equal(t, [4]float32{1, 1, 1, 1}, node.Data.Color)
		assert.Equal(t, float32(1), node.Data.World[0])
		assert.Equal(t, float32(1), node.Data.World[15])

		buf, ok := rec.CBuffer(s.CBuffer(node.CBufferNode))
		require.True(t, ok)
		assert.Len(t, buf, 80)
	})

	t.Run("skinned node has a palette buffer", func(t *testing.T) {
		h, _ := s.NewNode(KindSkinned)
		n, ok := s.Skinned(h)
		require.True(t, ok)
		buf, ok := rec.CBuffer(s.CBuffer(n.CBufferSkinning))
		require.True(t, ok)
		assert.Len(t, buf, 2048)
		assert.Equal(t, float32(1), n.Palette[31][15])
	})

	t.Run("instanced node has an instance buffer", func(t *testing.T) {
		h, _ := s.NewNode(KindInstanced)
		n, ok := s.Instanced(h)
		require.True(t, ok)
		buf, ok := rec.CBuffer(s.CBuffer(n.CBufferInstances))
		require.True(t, ok)
		assert.Len(t, buf, 4096)
	})

	t.Run("invalid kind panics", func(t *testing.T) {
		assert.Panics(t, func() { s.NewNode(KindInvalid) })
	})
}

func TestStore_Resolve(t *testing.T) {
	s, _ := newTestStore(t)

	t.Run("live handle", func(t *testing.T) {
		h, node := s.NewNode(KindSkinned)
		got, ok := s.Resolve(h)
		require.True(t, ok)
		assert.Same(t, node, got)
		assert.Equal(t, h, s.HandleFromNode(KindSkinned, h.Index()))
	})

	t.Run("stale generation is rejected", func(t *testing.T) {
		h, _ := s.NewNode(KindDefault)
		s.FreeNode(h)
		_, ok := s.Resolve(h)
		assert.False(t, ok)

		reused, _ := s.NewNode(KindDefault)
		assert.Equal(t, h.Index(), reused.Index())
		assert.NotEqual(t, h.Generation(), reused.Generation())
		_, ok = s.Resolve(h)
		assert.False(t, ok)
		_, ok = s.Resolve(reused)
		assert.True(t, ok)
	})

	t.Run("wrong kind or out of range", func(t *testing.T) {
		h, _ := s.NewNode(KindDefault)
		_, ok := s.Skinned(h)
		assert.False(t, ok)
		_, ok = s.Resolve(MakeHandle(KindDefault, 0, uint32(s.Nodes.Cap())))
		assert.False(t, ok)
		_, ok = s.Resolve(0)
		assert.False(t, ok)
	})
}

func TestStore_FreeNode(t *testing.T) {
	s, rec := newTestStore(t)

	h, node := s.NewNode(KindSkinned)
	nodeBuf := node.CBufferNode
	created := rec.CBufferCount()
	s.FreeNode(h)
	s.FreeNode(h)

	_, reused := s.NewNode(KindSkinned)
	assert.Equal(t, nodeBuf, reused.CBufferNode)
	assert.Equal(t, created, rec.CBufferCount())
}

func TestStore_CBufferTable(t *testing.T) {
	t.Run("explicit capacity runs out", func(t *testing.T) {
		s, _ := newTestStore(t, WithCBufferCapacity(3))

		s.NewNode(KindDefault)
		s.NewNode(KindDefault)
		requirePanicIs(t, ErrCBufferTableFull, func() { s.NewNode(KindDefault) })
	})

	t.Run("full table leaves the pool untouched", func(t *testing.T) {
		s, _ := newTestStore(t, WithCBufferCapacity(4))

		s.NewNode(KindDefault)
		s.NewNode(KindDefault)
		requirePanicIs(t, ErrCBufferTableFull, func() { s.NewNode(KindSkinned) })
		assert.Zero(t, s.SkinnedNodes.Count())
		assert.Equal(t, 3, s.CBufferCount())

		_, node := s.NewNode(KindDefault)
		assert.Equal(t, uint32(3), node.CBufferNode)
	})

	t.Run("derived from the node pools", func(t *testing.T) {
		s := New(WithNodeCapacity(10), WithSkinnedCapacity(3), WithInstancedCapacity(2))
		assert.Equal(t, RequiredCBuffers(10, 3, 2), s.CBufferCapacity())
		assert.Equal(t, 21, s.CBufferCapacity())
	})
}

func TestStore_FillDefaultPools(t *testing.T) {
	s, rec := newTestStore(t)

	for _, tc := range []struct {
		kind  Kind
		count func() int
		cap   int
	}{
		{KindDefault, s.Nodes.Count, s.Nodes.Cap()},
		{KindSkinned, s.SkinnedNodes.Count, s.SkinnedNodes.Cap()},
		{KindInstanced, s.InstancedNodes.Count, s.InstancedNodes.Cap()},
	} {
		for range tc.cap {
			require.NotPanics(t, func() { s.NewNode(tc.kind) }, tc.kind.String())
		}
		assert.Equal(t, tc.cap, tc.count(), tc.kind.String())
		requirePanicIs(t, allocator.ErrPoolExhausted, func() { s.NewNode(tc.kind) })
	}

	assert.Equal(t, s.CBufferCapacity(), s.CBufferCount())
	assert.Equal(t, DefaultCBufferCapacity, s.CBufferCount())
	// the scene buffer plus one per table entry
	assert.Equal(t, DefaultCBufferCapacity, rec.CBufferCount())
}

func TestStore_NodesBeforeInit(t *testing.T) {
	s := New()
	h, node := s.NewNode(KindInstanced)
	inst, _ := s.Instanced(h)
	assert.Zero(t, s.CBuffer(node.CBufferNode))
	assert.Zero(t, s.CBuffer(inst.CBufferInstances))

	rec := driver.NewRecorder()
	require.NoError(t, s.Init(rec))

	data, ok := rec.CBuffer(s.CBuffer(node.CBufferNode))
	require.True(t, ok, "node buffer created by Init")
	assert.Len(t, data, 80)
	data, ok = rec.CBuffer(s.CBuffer(inst.CBufferInstances))
	require.True(t, ok, "instance buffer created by Init")
	assert.Len(t, data, 4096)

	s.FreeNode(h)
	_, reused := s.NewNode(KindInstanced)
	assert.NotZero(t, s.CBuffer(reused.CBufferNode))
	require.NoError(t, s.UploadAll())
}

func TestStore_PoolExhaustion(t *testing.T) {
	s, _ := newTestStore(t, WithInstancedCapacity(2))

	s.NewNode(KindInstanced)
	s.NewNode(KindInstanced)
	requirePanicIs(t, allocator.ErrPoolExhausted, func() { s.NewNode(KindInstanced) })
}

func TestStore_Mesh(t *testing.T) {
	s, _ := newTestStore(t)

	h := s.NewMesh(ShaderTextured3D, 4, 2)
	assert.Equal(t, MeshHandle(1), h)
	m, ok := s.Mesh(h)
	require.True(t, ok)
	assert.Equal(t, DrawMesh{Type: ShaderTextured3D, VertexBuffer: 4, Texture: 2}, *m)

	_, ok = s.Mesh(0)
	assert.False(t, ok)
	s.FreeMesh(h)
	_, ok = s.Mesh(h)
	assert.False(t, ok)
}

func TestStore_UploadNode(t *testing.T) {
	t.Run("writes node data", func(t *testing.T) {
		s, rec := newTestStore(t)
		h, node := s.NewNode(KindDefault)
		node.Data.Color = [4]float32{0.5, 0.25, 0, 1}

		require.NoError(t, s.UploadNode(h))
		buf, _ := rec.CBuffer(s.CBuffer(node.CBufferNode))
		assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(buf[64:])))
		assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(buf[68:])))
	})

	t.Run("requires a driver", func(t *testing.T) {
		s := New()
		h, _ := s.NewNode(KindDefault)
		assert.ErrorIs(t, s.UploadNode(h), ErrNoDriver)
	})
}

func TestStore_AddDefaultScene(t *testing.T) {
	s, rec := newTestStore(t)

	scene, err := s.AddDefaultScene()
	require.NoError(t, err)

	ground, ok := s.Resolve(scene.Ground)
	require.True(t, ok)
	assert.Equal(t, float32(1), ground.Data.Color[3])
	assert.Equal(t, [3]float32{30, 30, 0}, ground.Max)

	mirror, ok := s.Resolve(scene.Mirror)
	require.True(t, ok)
	assert.InDelta(t, 0.32, mirror.Data.Color[3], 1e-6)
	assert.Equal(t, scene.Mirror, s.Mirror.Node)
	assert.Equal(t, [3]float32{-5, -8, 5}, s.Mirror.Pos)

	mesh, ok := s.Mesh(mirror.Meshes[StreamColor3D])
	require.True(t, ok)
	vb, ok := rec.VertexBuffer(mesh.VertexBuffer)
	require.True(t, ok)
	assert.Equal(t, uint32(6), vb.IndexCount)
	assert.Equal(t, uint32(16), vb.Layout.Stride)

	cubes, ok := s.Instanced(scene.Cubes)
	require.True(t, ok)
	assert.Equal(t, uint32(4), cubes.InstanceCount)
	cubeMesh, _ := s.Mesh(cubes.Meshes[0])
	assert.Equal(t, ShaderInstanced3D, cubeMesh.Type)

	t.Run("free clears the mirror", func(t *testing.T) {
		s.FreeNode(scene.Mirror)
		assert.Zero(t, s.Mirror.Node)
	})
}

func TestPackColor(t *testing.T) {
	assert.Equal(t, uint32(0xff0000ff), PackColor(1, 0, 0, 1))
	assert.Equal(t, uint32(0x00ff0000), PackColor(0, 0, 2, -1))
}

func requirePanicIs(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.ErrorIs(t, err, target)
	}()
	fn()
}
