package drawlist

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/cull"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEye = [3]float32{0, -20, 10}

func testViewProj() [16]float32 {
	var proj, view, vp [16]float32
	common.Perspective(proj[:], math.Pi/3, 16.0/9.0, 0.1, 200)
	common.LookAt(view[:], testEye[0], testEye[1], testEye[2], 0, 0, 0, 0, 0, 1)
	common.Mul4(vp[:], proj[:], view[:])
	return vp
}

type testScene struct {
	store *store.Store
	rec   *driver.Recorder
	nodes store.DefaultScene
	vis   cull.VisibleNodes
}

func newTestScene(t *testing.T) *testScene {
	t.Helper()
	ts := &testScene{rec: driver.NewRecorder(), store: store.New()}
	require.NoError(t, ts.store.Init(ts.rec))
	var err error
	ts.nodes, err = ts.store.AddDefaultScene()
	require.NoError(t, err)
	cull.ComputeVisibility(&ts.vis, testViewProj(), ts.store)
	return ts
}

func (ts *testScene) build(include, exclude Filter, policy SortPolicy) *Drawlist {
	dl := New(64)
	AddNodesSorted(dl, &ts.vis, testEye, ts.store, include, exclude, policy)
	return dl
}

func TestAddNodesSorted_DefaultScene(t *testing.T) {
	ts := newTestScene(t)
	require.Equal(t, 2, ts.vis.NodeCount, "ground and mirror are visible")

	ground, _ := ts.store.Resolve(ts.nodes.Ground)
	groundMesh, _ := ts.store.Mesh(ground.Meshes[store.StreamColor3D])
	mirror, _ := ts.store.Resolve(ts.nodes.Mirror)
	mirrorMesh, _ := ts.store.Mesh(mirror.Meshes[store.StreamColor3D])
	cubes, _ := ts.store.Instanced(ts.nodes.Cubes)
	cubeMesh, _ := ts.store.Mesh(cubes.Meshes[0])

	t.Run("opaque pass draws the ground only", func(t *testing.T) {
		dl := ts.build(0, FilterAlpha|FilterMirror, SortDefault)
		require.Equal(t, 1, dl.Count(BucketBase))
		assert.Zero(t, dl.Count(BucketInstanced))

		it := dl.Items[dl.Bucket(BucketBase)[0].Idx]
		assert.Equal(t, store.ShaderColor3D, it.Type)
		assert.Equal(t, ts.store.Shaders[store.ShaderColor3D], it.Shader)
		assert.Equal(t, ts.store.BlendOff, it.BlendState)
		assert.Equal(t, groundMesh.VertexBuffer, it.VertexBuffer)
		assert.Equal(t, uint32(1), it.CBufferCount)
		assert.Equal(t, ts.store.CBuffer(ground.CBufferNode), it.CBuffers[0])
	})

	t.Run("mirror pass draws the mirror only", func(t *testing.T) {
		dl := ts.build(FilterMirror, 0, SortDefault)
		require.Equal(t, 1, dl.Len())
		assert.Equal(t, mirrorMesh.VertexBuffer, dl.Items[dl.Keys[0].Idx].VertexBuffer)
	})

	t.Run("translucent pass skips the mirror and draws the cubes instanced", func(t *testing.T) {
		dl := ts.build(FilterAlpha, FilterMirror, SortBackToFront)
		assert.Zero(t, dl.Count(BucketBase))
		require.Equal(t, 1, dl.Count(BucketInstanced))

		it := dl.Items[dl.Bucket(BucketInstanced)[0].Idx]
		assert.Equal(t, store.ShaderInstanced3D, it.Type)
		assert.Equal(t, uint32(4), it.DrawCount)
		assert.Equal(t, ts.store.BlendOff, it.BlendState)
		assert.Equal(t, cubeMesh.VertexBuffer, it.VertexBuffer)
		assert.Equal(t, uint32(2), it.CBufferCount)
		assert.Equal(t, ts.store.CBuffer(cubes.CBufferInstances), it.CBuffers[1])
	})

	t.Run("translucent pass with the mirror orders it back to front", func(t *testing.T) {
		dl := ts.build(FilterAlpha, 0, SortBackToFront)
		require.Equal(t, 1, dl.Count(BucketBase))
		assert.Equal(t, 1, dl.Count(BucketInstanced))

		key := dl.Bucket(BucketBase)[0]
		it := dl.Items[key.Idx]
		assert.Equal(t, store.ShaderColor3D, it.Type)
		assert.Equal(t, mirrorMesh.VertexBuffer, it.VertexBuffer)

		p := MakeSortParams(MeshBase, SortBackToFront, ts.store.Nodes.Cap())
		d2 := common.DistanceSq(mirror.Translation(), testEye)
		want := p.MaxDistValue - uint32(float32(p.MaxDistValue)*(d2/p.MaxDistSq))
		assert.Equal(t, want, key.V>>(p.NodeBits+p.ShaderBits))
		assert.Equal(t, ts.nodes.Mirror.Index(), key.V&(1<<p.NodeBits-1))
	})

	t.Run("unfiltered pass puts instanced items after base items", func(t *testing.T) {
		dl := ts.build(0, 0, SortDefault)
		assert.Equal(t, 2, dl.Count(BucketBase))
		assert.Equal(t, 1, dl.Count(BucketInstanced))
		assert.Equal(t, int32(2), dl.Bucket(BucketInstanced)[0].Idx)
	})

	t.Run("end to end submission", func(t *testing.T) {
		dl := ts.build(0, FilterAlpha, SortDefault)
		ts.rec.Reset()
		ctx := Context{}
		ctx.CBuffers[0] = ts.store.SceneCBuffer
		st := Draw(dl, &ctx, Overrides{ForcedCBufferCount: 1}, ts.rec)

		assert.Equal(t, 1, st.Draws)
		events := ts.rec.CallsOf(driver.OpBeginEvent)
		require.Len(t, events, 1)
		assert.Equal(t, "Color3D", events[0].Name)

		binds := ts.rec.CallsOf(driver.OpBindCBuffers)
		require.Len(t, binds, 1)
		assert.Equal(t, []uint32{uint32(ts.store.SceneCBuffer), uint32(ts.store.CBuffer(ground.CBufferNode))}, binds[0].IDs)
		draws := ts.rec.CallsOf(driver.OpDrawIndexed)
		require.Len(t, draws, 1)
		assert.Equal(t, uint32(groundMesh.VertexBuffer), draws[0].ID)
		assert.Zero(t, ts.rec.Stats().OpenEvents)
	})
}

func TestAddNodesSorted_Ordering(t *testing.T) {
	s := store.New()
	rec := driver.NewRecorder()
	require.NoError(t, s.Init(rec))

	mesh := s.NewMesh(store.ShaderColor3D, 1, 0)
	distances := []float32{500, 50, 200}
	for _, y := range distances {
		_, node := s.NewNode(store.KindDefault)
		node.Meshes[store.StreamColor3D] = mesh
		node.Data.World[13] = y
		node.Min, node.Max = [3]float32{-1, -1, -1}, [3]float32{1, 1, 1}
	}
	var vis cull.VisibleNodes
	for i := range distances {
		vis.Nodes[i] = uint32(i)
	}
	vis.NodeCount = len(distances)

	order := func(policy SortPolicy) []uint32 {
		dl := New(8)
		AddNodesSorted(dl, &vis, [3]float32{}, s, 0, 0, policy)
		var out []uint32
		for _, k := range dl.Sorted() {
			out = append(out, uint32(k.Idx))
		}
		return out
	}
	assert.Equal(t, []uint32{1, 2, 0}, order(SortDefault))
	assert.Equal(t, []uint32{0, 2, 1}, order(SortBackToFront))
}

func TestAddNodesSorted_AlphaClipBlends(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Init(driver.NewRecorder()))

	_, node := s.NewNode(store.KindDefault)
	node.Meshes[store.StreamTextured3D] = s.NewMesh(store.ShaderTextured3D, 1, 1)
	node.Meshes[store.StreamTextured3DAlphaClip] = s.NewMesh(store.ShaderTextured3DAlphaClip, 2, 1)
	h, skinned := s.NewNode(store.KindSkinned)
	skinned.Meshes[store.StreamTextured3DAlphaClipSkinned] = s.NewMesh(store.ShaderTextured3DAlphaClipSkinned, 3, 1)

	var vis cull.VisibleNodes
	vis.Nodes[0], vis.NodeCount = 0, 1
	vis.Skinned[0], vis.SkinnedCount = h.Index(), 1

	dl := New(8)
	AddNodesSorted(dl, &vis, [3]float32{}, s, 0, 0, SortDefault)
	require.Equal(t, 3, dl.Len())

	blend := map[store.ShaderType]driver.BlendStateID{}
	for _, it := range dl.Items[:dl.Len()] {
		blend[it.Type] = it.BlendState
	}
	assert.Equal(t, s.BlendOff, blend[store.ShaderTextured3D])
	assert.Equal(t, s.BlendOn, blend[store.ShaderTextured3DAlphaClip])
	assert.Equal(t, s.BlendOn, blend[store.ShaderTextured3DAlphaClipSkinned])

	t.Run("skinned items bind the palette", func(t *testing.T) {
		sk, _ := s.Skinned(h)
		for _, it := range dl.Items[:dl.Len()] {
			if it.Type == store.ShaderTextured3DAlphaClipSkinned {
				assert.Equal(t, s.CBuffer(sk.CBufferSkinning), it.CBuffers[1])
			}
		}
	})

	t.Run("mirror pass skips skinned nodes", func(t *testing.T) {
		dl.Reset()
		AddNodesSorted(dl, &vis, [3]float32{}, s, FilterMirror, 0, SortDefault)
		assert.Zero(t, dl.Len())
	})
}

func TestAddNodesSorted_LargeNodePool(t *testing.T) {
	s := store.New(store.WithNodeCapacity(2048), store.WithArenaCapacity(16<<20))
	require.NoError(t, s.Init(driver.NewRecorder()))
	nodes, err := s.AddDefaultScene()
	require.NoError(t, err)
	var vis cull.VisibleNodes
	cull.ComputeVisibility(&vis, testViewProj(), s)

	for _, policy := range []SortPolicy{SortDefault, SortBackToFront} {
		dl := New(16)
		require.NotPanics(t, func() {
			AddNodesSorted(dl, &vis, testEye, s, FilterAlpha, 0, policy)
		}, policy.String())
		require.Equal(t, 1, dl.Count(BucketBase), policy.String())

		p := MakeSortParams(MeshBase, policy, 2048)
		assert.Equal(t, uint(11), p.NodeBits)
		assert.Equal(t, nodes.Mirror.Index(), dl.Bucket(BucketBase)[0].V&(1<<p.NodeBits-1))
	}
}

func TestAddNodesSorted_RequiresEmptyList(t *testing.T) {
	ts := newTestScene(t)
	dl := ts.build(0, 0, SortDefault)
	require.Equal(t, 1, dl.Count(BucketInstanced))

	assert.Panics(t, func() {
		AddNodesSorted(dl, &ts.vis, testEye, ts.store, 0, 0, SortDefault)
	})

	dl.Reset()
	AddNodesSorted(dl, &ts.vis, testEye, ts.store, 0, 0, SortDefault)
	assert.Equal(t, 3, dl.Len())
	assert.Zero(t, dl.Dropped())
}

func TestDrawlist_Capacity(t *testing.T) {
	dl := New(2)
	for i := range 3 {
		dl.emit(BucketBase, uint32(i), Item{})
	}
	assert.Equal(t, 2, dl.Len())
	assert.Equal(t, 1, dl.Dropped())

	dl.Reset()
	assert.Zero(t, dl.Len())
	assert.Zero(t, dl.Dropped())
	assert.Panics(t, func() { New(0) })
}

func TestAddNodesSorted_InstanceCountCapped(t *testing.T) {
	s := store.New()
	rec := driver.NewRecorder()
	require.NoError(t, s.Init(rec))

	h, node := s.NewNode(store.KindInstanced)
	node.Meshes[0] = s.NewMesh(store.ShaderInstanced3D, 1, 0)
	inst, _ := s.Instanced(h)
	inst.InstanceCount = store.MaxInstances + 36
	rec.Reset()
	require.NoError(t, s.UploadNode(h))

	var uploaded uint32
	for _, c := range rec.CallsOf(driver.OpUpdateCBuffer) {
		if c.ID == uint32(s.CBuffer(inst.CBufferInstances)) {
			uploaded = c.Count
		}
	}
	assert.Equal(t, uint32(store.MaxInstances*64), uploaded)

	var vis cull.VisibleNodes
	dl := New(4)
	AddNodesSorted(dl, &vis, [3]float32{}, s, 0, 0, SortDefault)
	require.Equal(t, 1, dl.Count(BucketInstanced))
	assert.Equal(t, uint32(store.MaxInstances), dl.Items[dl.Bucket(BucketInstanced)[0].Idx].DrawCount)

	rec.Reset()
	st := Draw(dl, &Context{}, Overrides{}, rec)
	assert.Equal(t, store.MaxInstances, st.Instances)
	draws := rec.CallsOf(driver.OpDrawInstancesIndexed)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(store.MaxInstances), draws[0].Count)
}
