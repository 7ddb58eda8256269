package importer

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
)

// primitive is one triangle list routed to a stream. Positions are in the node's model space.
type primitive struct {
	stream    store.Stream
	positions [][3]float32
	uvs       [][2]float32
	colors    []uint32
	joints    [][4]uint8
	weights   [][4]uint8
	indices   []uint32
	texture   string
}

// asset is everything the parallel phase extracts from one file. It lives on the Go heap; vertex
// streams are only built when the asset is committed to the store.
type asset struct {
	path     string
	name     string
	prims    []primitive
	images   map[string]*common.ImportedTexture
	skeleton *store.Skeleton
	clips    []store.Clip
	min, max [3]float32
	// skipped counts primitives that could not be routed (non-triangle modes, missing positions).
	skipped int
}

// extractAsset walks the default scene of f and converts its meshes, skin and animations.
func extractAsset(f *gltfFile) (*asset, error) {
	doc := &f.doc
	a := &asset{
		path:   f.path,
		name:   strings.TrimSuffix(filepath.Base(f.path), filepath.Ext(f.path)),
		images: make(map[string]*common.ImportedTexture),
	}

	parents := make([]int, len(doc.Nodes))
	for i := range parents {
		parents[i] = -1
	}
	for i, n := range doc.Nodes {
		for _, c := range n.Children {
			if c < 0 || c >= len(doc.Nodes) {
				return nil, fmt.Errorf("node %d: child %d out of range", i, c)
			}
			parents[c] = i
		}
	}
	globals := make([][16]float32, len(doc.Nodes))
	for i := range doc.Nodes {
		globals[i] = globalMatrix(doc, parents, i)
	}

	skinIdx := -1
	for _, n := range sceneNodes(doc, parents) {
		node := &doc.Nodes[n]
		if node.Mesh == nil {
			continue
		}
		if *node.Mesh < 0 || *node.Mesh >= len(doc.Meshes) {
			return nil, fmt.Errorf("node %d: mesh %d out of range", n, *node.Mesh)
		}
		if node.Skin != nil && skinIdx < 0 {
			skinIdx = *node.Skin
		}
		for pi := range doc.Meshes[*node.Mesh].Primitives {
			prim := &doc.Meshes[*node.Mesh].Primitives[pi]
			skinned := node.Skin != nil && *node.Skin == skinIdx
			p, ok, err := a.extractPrimitive(f, prim, globals[n], skinned)
			if err != nil {
				return nil, fmt.Errorf("mesh %d primitive %d: %w", *node.Mesh, pi, err)
			}
			if !ok {
				a.skipped++
				continue
			}
			a.prims = append(a.prims, p)
		}
	}
	if len(a.prims) == 0 {
		return nil, fmt.Errorf("no triangle meshes in %s", f.path)
	}

	var jointOf map[int]int
	if skinIdx >= 0 {
		sk, remap, err := extractSkeleton(f, parents, globals, skinIdx)
		if err != nil {
			return nil, fmt.Errorf("skin %d: %w", skinIdx, err)
		}
		a.skeleton = sk
		jointOf = make(map[int]int, len(remap))
		for old, node := range doc.Skins[skinIdx].Joints {
			jointOf[node] = remap[old]
		}
		for i := range a.prims {
			for v := range a.prims[i].joints {
				for k, j := range a.prims[i].joints[v] {
					if int(j) >= len(remap) {
						return nil, fmt.Errorf("vertex %d references joint %d of a %d-joint skin", v, j, len(remap))
					}
					a.prims[i].joints[v][k] = uint8(remap[j])
				}
			}
		}
		for ai := range doc.Animations {
			clip, err := sampleAnimation(f, ai, jointOf, sk.JointCount())
			if err != nil {
				return nil, fmt.Errorf("animation %d: %w", ai, err)
			}
			a.clips = append(a.clips, clip)
		}
	}

	a.min = [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	a.max = [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, p := range a.prims {
		for _, pos := range p.positions {
			for k := range 3 {
				a.min[k] = min(a.min[k], pos[k])
				a.max[k] = max(a.max[k], pos[k])
			}
		}
	}
	return a, nil
}

// sceneNodes returns the nodes reachable from the default scene, or every node when the document has
// no scenes.
func sceneNodes(doc *gltfDocument, parents []int) []int {
	var roots []int
	switch {
	case len(doc.Scenes) > 0:
		s := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			s = *doc.Scene
		}
		roots = doc.Scenes[s].Nodes
	default:
		for i, p := range parents {
			if p < 0 {
				roots = append(roots, i)
			}
		}
	}

	var out []int
	seen := make([]bool, len(doc.Nodes))
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n < 0 || n >= len(doc.Nodes) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, doc.Nodes[n].Children...)
	}
	return out
}

// localTRS returns the rest transform of a node.
func localTRS(n *gltfNode) store.JointTRS {
	if n.Matrix != nil {
		return decomposeMatrix(*n.Matrix)
	}
	t := store.IdentityTRS
	if n.Translation != nil {
		t.T = *n.Translation
	}
	if n.Rotation != nil {
		t.R = *n.Rotation
	}
	if n.Scale != nil {
		t.S = *n.Scale
	}
	return t
}

func localMatrix(n *gltfNode) [16]float32 {
	if n.Matrix != nil {
		return *n.Matrix
	}
	var m [16]float32
	localTRS(n).Matrix(m[:])
	return m
}

func globalMatrix(doc *gltfDocument, parents []int, n int) [16]float32 {
	m := localMatrix(&doc.Nodes[n])
	for p := parents[n]; p >= 0; p = parents[p] {
		pm := localMatrix(&doc.Nodes[p])
		var out [16]float32
		common.Mul4(out[:], pm[:], m[:])
		m = out
	}
	return m
}

// decomposeMatrix splits a column-major affine matrix without shear into translation, rotation and scale.
func decomposeMatrix(m [16]float32) store.JointTRS {
	length := func(x, y, z float32) float32 { return float32(math.Sqrt(float64(x*x + y*y + z*z))) }
	t := store.JointTRS{
		T: [3]float32{m[12], m[13], m[14]},
		S: [3]float32{length(m[0], m[1], m[2]), length(m[4], m[5], m[6]), length(m[8], m[9], m[10])},
	}
	sx, sy, sz := t.S[0], t.S[1], t.S[2]
	if sx < 1e-6 || sy < 1e-6 || sz < 1e-6 {
		t.R = [4]float32{0, 0, 0, 1}
		return t
	}
	// r(i, j) is row i, column j of the rotation part.
	r := func(i, j int) float32 { return m[j*4+i] / t.S[j] }

	var q [4]float32
	trace := r(0, 0) + r(1, 1) + r(2, 2)
	switch {
	case trace > 0:
		s := float32(math.Sqrt(float64(trace+1))) * 2
		q = [4]float32{(r(2, 1) - r(1, 2)) / s, (r(0, 2) - r(2, 0)) / s, (r(1, 0) - r(0, 1)) / s, s / 4}
	case r(0, 0) > r(1, 1) && r(0, 0) > r(2, 2):
		s := float32(math.Sqrt(float64(1+r(0, 0)-r(1, 1)-r(2, 2)))) * 2
		q = [4]float32{s / 4, (r(0, 1) + r(1, 0)) / s, (r(0, 2) + r(2, 0)) / s, (r(2, 1) - r(1, 2)) / s}
	case r(1, 1) > r(2, 2):
		s := float32(math.Sqrt(float64(1+r(1, 1)-r(0, 0)-r(2, 2)))) * 2
		q = [4]float32{(r(0, 1) + r(1, 0)) / s, s / 4, (r(1, 2) + r(2, 1)) / s, (r(0, 2) - r(2, 0)) / s}
	default:
		s := float32(math.Sqrt(float64(1+r(2, 2)-r(0, 0)-r(1, 1)))) * 2
		q = [4]float32{(r(0, 2) + r(2, 0)) / s, (r(1, 2) + r(2, 1)) / s, s / 4, (r(1, 0) - r(0, 1)) / s}
	}
	l := float32(math.Sqrt(float64(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])))
	t.R = [4]float32{q[0] / l, q[1] / l, q[2] / l, q[3] / l}
	return t
}

// extractPrimitive reads one primitive and routes it to a stream. Static primitives are transformed by
// the node's global matrix; skinned primitives stay in geometry space. ok is false for primitives the
// renderer cannot draw.
func (a *asset) extractPrimitive(f *gltfFile, prim *gltfPrimitive, world [16]float32, skinned bool) (primitive, bool, error) {
	if prim.Mode != nil && *prim.Mode != gltfModeTriangles {
		return primitive{}, false, nil
	}
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return primitive{}, false, nil
	}
	flat, _, err := f.readFloats(posIdx, 3)
	if err != nil {
		return primitive{}, false, fmt.Errorf("positions: %w", err)
	}
	count := len(flat) / 3
	jIdx, hasJ := prim.Attributes["JOINTS_0"]
	wIdx, hasW := prim.Attributes["WEIGHTS_0"]
	skinned = skinned && hasJ && hasW

	p := primitive{positions: make([][3]float32, count)}
	for i := range p.positions {
		x, y, z := flat[i*3], flat[i*3+1], flat[i*3+2]
		if skinned {
			p.positions[i] = [3]float32{x, y, z}
			continue
		}
		v := common.TransformPoint4(world[:], x, y, z)
		p.positions[i] = [3]float32{v[0], v[1], v[2]}
	}

	if prim.Indices != nil {
		idx, _, err := f.readUints(*prim.Indices)
		if err != nil {
			return primitive{}, false, fmt.Errorf("indices: %w", err)
		}
		p.indices = idx
	} else {
		p.indices = make([]uint32, count)
		for i := range p.indices {
			p.indices[i] = uint32(i)
		}
	}
	for _, i := range p.indices {
		if int(i) >= count {
			return primitive{}, false, fmt.Errorf("index %d out of %d vertices", i, count)
		}
	}
	p.indices = p.indices[:len(p.indices)/3*3]

	mat := gltfMaterial{AlphaMode: gltfAlphaOpaque}
	if prim.Material != nil && *prim.Material >= 0 && *prim.Material < len(f.doc.Materials) {
		mat = f.doc.Materials[*prim.Material]
	}
	factor := [4]float32{1, 1, 1, 1}
	if pbr := mat.PbrMetallicRoughness; pbr != nil && pbr.BaseColorFactor != nil {
		factor = *pbr.BaseColorFactor
	}

	uvIdx, hasUV := prim.Attributes["TEXCOORD_0"]
	if key := a.baseColorImage(f, &mat); key != "" && hasUV {
		uvs, _, err := f.readFloats(uvIdx, 2)
		if err != nil {
			return primitive{}, false, fmt.Errorf("texcoords: %w", err)
		}
		if len(uvs)/2 != count {
			return primitive{}, false, fmt.Errorf("texcoords: %d entries for %d vertices", len(uvs)/2, count)
		}
		p.uvs = make([][2]float32, count)
		for i := range p.uvs {
			p.uvs[i] = [2]float32{uvs[i*2], uvs[i*2+1]}
		}
		p.texture = key
	} else {
		p.colors = make([]uint32, count)
		colors, n := []float32(nil), 0
		if cIdx, ok := prim.Attributes["COLOR_0"]; ok {
			if colors, n, err = f.readFloats(cIdx, 3, 4); err != nil {
				return primitive{}, false, fmt.Errorf("colors: %w", err)
			}
		}
		for i := range p.colors {
			c := factor
			if n > 0 && (i+1)*n <= len(colors) {
				c[0] *= colors[i*n]
				c[1] *= colors[i*n+1]
				c[2] *= colors[i*n+2]
				if n == 4 {
					c[3] *= colors[i*n+3]
				}
			}
			p.colors[i] = store.PackColor(c[0], c[1], c[2], c[3])
		}
	}

	if skinned {
		joints, _, err := f.readUints(jIdx)
		if err != nil {
			return primitive{}, false, fmt.Errorf("joints: %w", err)
		}
		weights, _, err := f.readFloats(wIdx, 4)
		if err != nil {
			return primitive{}, false, fmt.Errorf("weights: %w", err)
		}
		if len(joints) != count*4 || len(weights) != count*4 {
			return primitive{}, false, fmt.Errorf("skin attributes do not match %d vertices", count)
		}
		p.joints = make([][4]uint8, count)
		p.weights = make([][4]uint8, count)
		for i := range count {
			var j [4]uint32
			var w [4]float32
			copy(j[:], joints[i*4:])
			copy(w[:], weights[i*4:])
			for k := range 4 {
				if j[k] >= store.MaxJoints {
					return primitive{}, false, fmt.Errorf("joint %d exceeds %d palette entries", j[k], store.MaxJoints)
				}
				p.joints[i][k] = uint8(j[k])
			}
			p.weights[i] = quantizeWeights(w)
		}
	}

	p.stream = routeStream(skinned, p.texture != "", mat.AlphaMode == gltfAlphaMask)
	return p, true, nil
}

// routeStream picks the vertex stream of a primitive. Alpha-tested materials only exist textured.
func routeStream(skinned, textured, mask bool) store.Stream {
	switch {
	case !textured && skinned:
		return store.StreamColor3DSkinned
	case !textured:
		return store.StreamColor3D
	case mask && skinned:
		return store.StreamTextured3DAlphaClipSkinned
	case mask:
		return store.StreamTextured3DAlphaClip
	case skinned:
		return store.StreamTextured3DSkinned
	}
	return store.StreamTextured3D
}

// quantizeWeights converts joint weights to 8-bit fractions of their sum. The rounding error is folded
// into the first weight so the four always add up to 255.
func quantizeWeights(w [4]float32) [4]uint8 {
	total := w[0] + w[1] + w[2] + w[3]
	if total <= 0 {
		return [4]uint8{255, 0, 0, 0}
	}
	var out [4]uint8
	sum := 0
	for k := range 4 {
		out[k] = uint8(255 * max(w[k], 0) / total)
		sum += int(out[k])
	}
	out[0] += uint8(255 - sum)
	return out
}

// baseColorImage resolves the base color texture of a material to an image, registers it for decoding
// and returns its cache key. External images are keyed by path so files sharing a texture decode it once.
func (a *asset) baseColorImage(f *gltfFile, mat *gltfMaterial) string {
	pbr := mat.PbrMetallicRoughness
	if pbr == nil || pbr.BaseColorTexture == nil || pbr.BaseColorTexture.TexCoord != 0 {
		return ""
	}
	ti := pbr.BaseColorTexture.Index
	if ti < 0 || ti >= len(f.doc.Textures) || f.doc.Textures[ti].Source == nil {
		return ""
	}
	ii := *f.doc.Textures[ti].Source
	if ii < 0 || ii >= len(f.doc.Images) {
		return ""
	}
	img := &f.doc.Images[ii]

	tex := &common.ImportedTexture{Name: img.Name, MimeType: img.MimeType}
	var key string
	switch {
	case img.BufferView != nil:
		data, err := f.bufferView(*img.BufferView)
		if err != nil {
			return ""
		}
		tex.Data, key = data, fmt.Sprintf("%s#image%d", f.path, ii)
	case strings.HasPrefix(img.URI, "data:"):
		data, err := decodeDataURI(img.URI)
		if err != nil {
			return ""
		}
		tex.Data, key = data, fmt.Sprintf("%s#image%d", f.path, ii)
	case img.URI != "":
		tex.Path = filepath.Join(f.baseDir, img.URI)
		if abs, err := filepath.Abs(tex.Path); err == nil {
			tex.Path = abs
		}
		key = tex.Path
	default:
		return ""
	}
	a.images[key] = tex
	return key
}

// extractSkeleton builds the rig of a skin. Joints are reordered so parents precede children; the
// returned remap maps a skin joint index to its new position.
func extractSkeleton(f *gltfFile, parents []int, globals [][16]float32, skinIdx int) (*store.Skeleton, []int, error) {
	doc := &f.doc
	if skinIdx < 0 || skinIdx >= len(doc.Skins) {
		return nil, nil, fmt.Errorf("skin %d out of range", skinIdx)
	}
	skin := &doc.Skins[skinIdx]
	n := len(skin.Joints)
	if n == 0 || n > store.MaxJoints {
		return nil, nil, fmt.Errorf("skin has %d joints, supported 1..%d", n, store.MaxJoints)
	}

	jointOf := make(map[int]int, n)
	for j, node := range skin.Joints {
		if node < 0 || node >= len(doc.Nodes) {
			return nil, nil, fmt.Errorf("joint %d: node %d out of range", j, node)
		}
		jointOf[node] = j
	}
	parentJoint := make([]int, n)
	for j, node := range skin.Joints {
		parentJoint[j] = -1
		if p, ok := jointOf[parents[node]]; ok {
			parentJoint[j] = p
		}
	}

	var ibm [][16]float32
	if skin.InverseBindMatrices != nil {
		var err error
		if ibm, err = f.readMatrices(*skin.InverseBindMatrices); err != nil {
			return nil, nil, fmt.Errorf("inverse bind matrices: %w", err)
		}
	}

	// depth-first from each root keeps parents ahead of their children
	order := make([]int, 0, n)
	var visit func(j int)
	visit = func(j int) {
		order = append(order, j)
		for c := range n {
			if parentJoint[c] == j {
				visit(c)
			}
		}
	}
	for j := range n {
		if parentJoint[j] < 0 {
			visit(j)
		}
	}
	if len(order) != n {
		return nil, nil, fmt.Errorf("joint hierarchy has a cycle")
	}

	remap := make([]int, n)
	for newIdx, old := range order {
		remap[old] = newIdx
	}
	sk := &store.Skeleton{
		Name:              common.Coalesce(skin.Name, "skin"),
		Parents:           make([]int16, n),
		JointFromGeometry: make([][16]float32, n),
		GeometryFromRoot:  common.IdentityMatrix(),
	}
	for newIdx, old := range order {
		sk.Parents[newIdx] = -1
		if p := parentJoint[old]; p >= 0 {
			sk.Parents[newIdx] = int16(remap[p])
		}
		sk.JointFromGeometry[newIdx] = common.IdentityMatrix()
		if old < len(ibm) {
			sk.JointFromGeometry[newIdx] = ibm[old]
		}
	}
	if p := parents[skin.Joints[order[0]]]; p >= 0 {
		sk.GeometryFromRoot = globals[p]
	}
	return sk, remap, nil
}

// channelTrack is one keyframed property of a joint.
type channelTrack struct {
	times  []float32
	values []float32
	width  int
	step   bool
}

// at evaluates the track at time t, clamping outside the keyframe range.
func (c *channelTrack) at(t float32, out []float32) {
	last := len(c.times) - 1
	if t <= c.times[0] || last == 0 {
		copy(out, c.values[:c.width])
		return
	}
	if t >= c.times[last] {
		copy(out, c.values[last*c.width:])
		return
	}
	k := 0
	for k < last && c.times[k+1] <= t {
		k++
	}
	a := c.values[k*c.width : (k+1)*c.width]
	if c.step {
		copy(out, a)
		return
	}
	b := c.values[(k+1)*c.width : (k+2)*c.width]
	alpha := (t - c.times[k]) / (c.times[k+1] - c.times[k])
	if c.width == 4 {
		q := common.Nlerp([4]float32(a), [4]float32(b), alpha)
		copy(out, q[:])
		return
	}
	for i := range c.width {
		out[i] = a[i] + (b[i]-a[i])*alpha
	}
}

// sampleAnimation resamples a glTF animation into a clip over the skeleton's joints. Joints without a
// channel hold their rest transform. Cubic spline tracks are reduced to their keyframe values.
func sampleAnimation(f *gltfFile, animIdx int, jointOf map[int]int, joints int) (store.Clip, error) {
	anim := &f.doc.Animations[animIdx]
	type jointTracks struct{ t, r, s *channelTrack }
	tracks := make([]jointTracks, joints)
	rest := make([]store.JointTRS, joints)
	for node, j := range jointOf {
		rest[j] = localTRS(&f.doc.Nodes[node])
	}

	var duration float32
	for ci, ch := range anim.Channels {
		if ch.Target.Node == nil {
			continue
		}
		j, ok := jointOf[*ch.Target.Node]
		if !ok {
			continue
		}
		if ch.Sampler < 0 || ch.Sampler >= len(anim.Samplers) {
			return store.Clip{}, fmt.Errorf("channel %d: sampler %d out of range", ci, ch.Sampler)
		}
		smp := anim.Samplers[ch.Sampler]

		var width int
		switch ch.Target.Path {
		case gltfPathTranslation, gltfPathScale:
			width = 3
		case gltfPathRotation:
			width = 4
		default:
			continue
		}
		times, _, err := f.readFloats(smp.Input, 1)
		if err != nil {
			return store.Clip{}, fmt.Errorf("channel %d input: %w", ci, err)
		}
		values, _, err := f.readFloats(smp.Output, width)
		if err != nil {
			return store.Clip{}, fmt.Errorf("channel %d output: %w", ci, err)
		}
		if len(times) == 0 {
			continue
		}
		if len(values) == 3*len(times)*width {
			values = splineValues(values, width)
		}
		if len(values) < len(times)*width {
			return store.Clip{}, fmt.Errorf("channel %d: %d keys with %d values", ci, len(times), len(values)/width)
		}

		tr := &channelTrack{times: times, values: values, width: width, step: smp.Interpolation == gltfInterpolationStep}
		switch ch.Target.Path {
		case gltfPathTranslation:
			tracks[j].t = tr
		case gltfPathRotation:
			tracks[j].r = tr
		case gltfPathScale:
			tracks[j].s = tr
		}
		duration = max(duration, times[len(times)-1])
	}

	name := common.Coalesce(anim.Name, fmt.Sprintf("animation_%d", animIdx))
	return store.SampleClip(name, duration, joints, func(j int, t float32) store.JointTRS {
		out := rest[j]
		if tr := tracks[j].t; tr != nil {
			tr.at(t, out.T[:])
		}
		if tr := tracks[j].r; tr != nil {
			tr.at(t, out.R[:])
		}
		if tr := tracks[j].s; tr != nil {
			tr.at(t, out.S[:])
		}
		return out
	}), nil
}

// splineValues keeps the value element of each (in-tangent, value, out-tangent) triple.
func splineValues(values []float32, width int) []float32 {
	out := make([]float32, 0, len(values)/3)
	for k := 0; k+3*width <= len(values); k += 3 * width {
		out = append(out, values[k+width:k+2*width]...)
	}
	return out
}
