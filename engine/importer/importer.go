// Package importer loads glTF 2.0 and GLB assets into a store. Files are parsed and their textures
// decoded on a worker pool; the resulting meshes, skeletons and clips are then committed to the store
// serially on the caller's goroutine, building each asset's vertex streams in a scoped copy of one
// scratch arena.
package importer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/allocator"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Result describes one imported file.
type Result struct {
	Path string
	// Node is the draw node holding every stream of the file.
	Node store.Handle
	// Anim is the animated node driving Node, zero when the file has no skin or no animations.
	Anim      store.AnimHandle
	Meshes    int
	Vertices  int
	Triangles int
	Clips     int
	Min, Max  [3]float32
}

type decodedTexture struct {
	pixels        []byte
	width, height uint32
}

// Importer turns asset files into store nodes. Load is not safe for concurrent use; the worker pool
// and texture cache are shared by successive calls.
type Importer struct {
	mu      *sync.Mutex
	store   *store.Store
	logger  *zap.Logger
	workers int
	scratch allocator.Arena
	peak    *allocator.Highmark
	pool    worker.DynamicWorkerPool
	taskID  int

	decodes  singleflight.Group
	decoded  map[string]*decodedTexture
	textures map[string]driver.TextureID
}

// New creates an Importer committing into s.
//
// Parameters:
//   - s: the destination store; it must be initialized with a driver before Load
//   - options: functional options for workers, scratch arena and logger
//
// Returns:
//   - *Importer: the new importer
func New(s *store.Store, options ...ImporterBuilderOption) *Importer {
	cfg := defaultImporterConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		panic(fmt.Sprintf("importer: worker count must be positive, got %d", cfg.workers))
	}

	peak := &allocator.Highmark{}
	arenaOpts := []allocator.ArenaBuilderOption{allocator.WithLabel("importer-scratch"), allocator.WithHighmark(peak)}
	if cfg.virtualScratch {
		arenaOpts = append(arenaOpts, allocator.WithVirtualMemory(true))
	} else {
		arenaOpts = append(arenaOpts, allocator.WithCapacity(cfg.scratchCapacity))
	}

	return &Importer{
		mu:       &sync.Mutex{},
		store:    s,
		logger:   cfg.logger,
		workers:  cfg.workers,
		scratch:  allocator.NewArena(arenaOpts...),
		peak:     peak,
		pool:     worker.NewDynamicWorkerPool(cfg.workers, 256, 1*time.Second),
		decoded:  make(map[string]*decodedTexture),
		textures: make(map[string]driver.TextureID),
	}
}

// Load imports the given files. Every file is parsed and its textures decoded in parallel first; if
// any of them fails nothing is committed. Files are then committed in argument order.
//
// Parameters:
//   - paths: .gltf or .glb files
//
// Returns:
//   - []Result: one result per committed file
//   - error: the joined parse errors, or the first commit error
func (imp *Importer) Load(paths ...string) ([]Result, error) {
	if imp.store.Driver() == nil {
		return nil, fmt.Errorf("failed to import %d files: %w", len(paths), store.ErrNoDriver)
	}

	assets := make([]*asset, len(paths))
	errs := make([]error, len(paths))
	start := time.Now()

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		imp.taskID++
		imp.pool.SubmitTask(worker.Task{
			ID: imp.taskID,
			Do: func() (_ any, err error) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic importing %s: %v", path, r)
						errs[i] = err
					}
				}()
				assets[i], errs[i] = imp.prepare(path)
				return nil, errs[i]
			},
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	imp.logger.Debug("parsed assets", zap.Int("files", len(paths)), zap.Duration("elapsed", time.Since(start)))

	results := make([]Result, 0, len(assets))
	for _, a := range assets {
		r, err := imp.commit(a)
		if err != nil {
			return results, fmt.Errorf("failed to commit %s: %w", a.path, err)
		}
		imp.logger.Info("imported asset",
			zap.String("path", a.path),
			zap.Stringer("node", r.Node),
			zap.Int("meshes", r.Meshes),
			zap.Int("vertices", r.Vertices),
			zap.Int("triangles", r.Triangles),
			zap.Int("clips", r.Clips),
		)
		results = append(results, r)
	}
	return results, nil
}

// prepare parses one file and decodes its textures. It runs on the worker pool.
func (imp *Importer) prepare(path string) (*asset, error) {
	f, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	a, err := extractAsset(f)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", path, err)
	}
	if a.skipped > 0 {
		imp.logger.Warn("skipped primitives", zap.String("path", path), zap.Int("count", a.skipped))
	}
	for key, tex := range a.images {
		if _, err := imp.decode(key, tex); err != nil {
			return nil, fmt.Errorf("failed to decode texture %s: %w", key, err)
		}
	}
	return a, nil
}

// decode returns the pixels of a texture, decoding it at most once per key even when several files
// reference it concurrently.
func (imp *Importer) decode(key string, tex *common.ImportedTexture) (*decodedTexture, error) {
	imp.mu.Lock()
	d, ok := imp.decoded[key]
	imp.mu.Unlock()
	if ok {
		return d, nil
	}

	v, err, _ := imp.decodes.Do(key, func() (any, error) {
		pixels, w, h, err := tex.Decode()
		if err != nil {
			return nil, err
		}
		d := &decodedTexture{pixels: pixels, width: w, height: h}
		imp.mu.Lock()
		imp.decoded[key] = d
		imp.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*decodedTexture), nil
}

// commit builds the asset's vertex streams and registers its node, meshes, rig and clips. Streams are
// built in a scoped copy of the scratch arena, so everything the asset allocated is dropped on return.
func (imp *Importer) commit(a *asset) (res Result, err error) {
	scratch := imp.scratch.Scoped()
	drv := imp.store.Driver()

	var streams [store.StreamCount]streamBuilder
	skinned := false
	for i := range a.prims {
		p := &a.prims[i]
		streams[p.stream].add(&scratch, p.stream, p)
		skinned = skinned || p.stream.Skinned()
	}
	for s := range streams {
		if n := streams[s].textureConflicts; n > 0 {
			imp.logger.Warn("stream has several textures, keeping the first",
				zap.String("path", a.path), zap.Int("stream", s), zap.Int("ignored", n))
		}
	}
	defer func() {
		imp.logger.Debug("asset scratch", zap.String("path", a.path),
			zap.Int("used", scratch.Used()), zap.Int("peak", imp.peak.Value()))
	}()

	kind := store.KindDefault
	if skinned {
		kind = store.KindSkinned
	}
	h, node := imp.store.NewNode(kind)
	var meshes []store.MeshHandle
	defer func() {
		if err != nil {
			for _, m := range meshes {
				imp.store.FreeMesh(m)
			}
			imp.store.FreeNode(h)
		}
	}()

	node.Min, node.Max = a.min, a.max
	res = Result{Path: a.path, Node: h, Min: a.min, Max: a.max}
	for s := range store.StreamCount {
		sb := &streams[s]
		if sb.vertices.Len() == 0 {
			continue
		}
		vb, err := drv.CreateIndexedVertexBuffer(sb.desc(&scratch, fmt.Sprintf("%s/%s", a.name, s.Shader()), s))
		if err != nil {
			return res, fmt.Errorf("failed to upload %s stream: %w", s.Shader(), err)
		}
		var tex driver.TextureID
		if s.Textured() {
			if tex, err = imp.texture(sb.texture); err != nil {
				return res, err
			}
		}
		m := imp.store.NewMesh(s.Shader(), vb, tex)
		meshes = append(meshes, m)
		node.Meshes[s] = m
		res.Meshes++
		res.Vertices += sb.vertices.Len()
		res.Triangles += sb.indices.Len() / 3
	}

	if skinned && a.skeleton != nil {
		rig, err := imp.store.AddSkeleton(*a.skeleton)
		if err != nil {
			return res, err
		}
		if len(a.clips) > 0 {
			first := imp.store.AddClips(a.clips...)
			if res.Anim, err = imp.store.AddAnimated(h, rig, first, uint32(len(a.clips))); err != nil {
				return res, err
			}
			res.Clips = len(a.clips)
		}
	}

	if err := imp.store.UploadNode(h); err != nil {
		return res, err
	}
	return res, nil
}

// Scratch returns the scratch arena. Its cursor stays at zero; Peak reports the deepest any asset went.
func (imp *Importer) Scratch() *allocator.Arena { return &imp.scratch }

// Close releases the scratch arena's virtual reservation, if any.
func (imp *Importer) Close() error {
	return imp.scratch.Release()
}

// texture uploads a decoded texture once and returns its id.
func (imp *Importer) texture(key string) (driver.TextureID, error) {
	if id, ok := imp.textures[key]; ok {
		return id, nil
	}
	imp.mu.Lock()
	d, ok := imp.decoded[key]
	imp.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("texture %s was not decoded", key)
	}
	id, err := imp.store.Driver().CreateTexture(driver.TextureDesc{Label: key, Pixels: d.pixels, Width: d.width, Height: d.height})
	if err != nil {
		return 0, fmt.Errorf("failed to upload texture %s: %w", key, err)
	}
	imp.textures[key] = id
	return id, nil
}

// streamBuilder accumulates the deduplicated vertices and remapped indices of one stream.
type streamBuilder struct {
	vertices         allocator.RawBuffer
	indices          allocator.Buffer[uint32]
	lookup           map[string]uint32
	texture          string
	textureConflicts int
}

func (b *streamBuilder) add(a *allocator.Arena, s store.Stream, p *primitive) {
	stride := int(store.StreamLayout(s).Stride)
	if b.lookup == nil {
		b.vertices = allocator.NewRawBuffer(stride, 4)
		b.lookup = make(map[string]uint32)
		b.texture = p.texture
	} else if p.texture != b.texture {
		b.textureConflicts++
	}

	var tmp [32]byte
	remap := make([]uint32, len(p.positions))
	seen := make([]bool, len(p.positions))
	for _, v := range p.indices {
		if !seen[v] {
			enc := encodeVertex(tmp[:stride], s, p, int(v))
			idx, ok := b.lookup[string(enc)]
			if !ok {
				idx = uint32(b.vertices.Len())
				copy(b.vertices.Push(a), enc)
				b.lookup[string(enc)] = idx
			}
			remap[v], seen[v] = idx, true
		}
		b.indices.Append(a, remap[v])
	}
}

// desc packs the stream into a vertex buffer descriptor. Indices are narrowed to 16 bits when every
// vertex fits.
func (b *streamBuilder) desc(a *allocator.Arena, label string, s store.Stream) driver.IndexedVertexBufferDesc {
	d := driver.IndexedVertexBufferDesc{
		Label:       label,
		Vertices:    b.vertices.Bytes(),
		VertexCount: uint32(b.vertices.Len()),
		IndexCount:  uint32(b.indices.Len()),
		IndexFormat: driver.IndexFormatUint32,
		Layout:      store.StreamLayout(s),
	}
	if b.vertices.Len() <= math.MaxUint16 {
		narrow := allocator.AllocSlice[uint16](a, b.indices.Len())
		for i, v := range b.indices.Slice() {
			narrow[i] = uint16(v)
		}
		d.Indices, d.IndexFormat = common.SliceToBytes(narrow), driver.IndexFormatUint16
	} else {
		d.Indices = common.SliceToBytes(b.indices.Slice())
	}
	return d
}

// encodeVertex writes vertex v of p in the interleaved layout of stream s.
func encodeVertex(out []byte, s store.Stream, p *primitive, v int) []byte {
	le := binary.LittleEndian
	for k := range 3 {
		le.PutUint32(out[k*4:], math.Float32bits(p.positions[v][k]))
	}
	off := 12
	if s.Textured() {
		le.PutUint32(out[12:], math.Float32bits(p.uvs[v][0]))
		le.PutUint32(out[16:], math.Float32bits(p.uvs[v][1]))
		off = 20
	} else {
		le.PutUint32(out[12:], p.colors[v])
		off = 16
	}
	if s.Skinned() {
		copy(out[off:], p.joints[v][:])
		copy(out[off+4:], p.weights[v][:])
	}
	return out
}
