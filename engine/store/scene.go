package store

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-core/common"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
)

// DefaultScene holds the handles of the built-in scene.
type DefaultScene struct {
	Ground Handle
	Mirror Handle
	Cubes  Handle
}

const (
	groundHalfExtent = 30
	mirrorHalfWidth  = 8
	mirrorHalfHeight = 5
	cubeCount        = 4
)

// AddDefaultScene builds the built-in scene in a Z-up world: an opaque ground plane, a translucent
// mirror quad standing on it (registered as Store.Mirror) and a batch of instanced cubes.
//
// Returns:
//   - DefaultScene: the node handles
//   - error: ErrNoDriver before Init, or a wrapped driver error
func (s *Store) AddDefaultScene() (DefaultScene, error) {
	if s.drv == nil {
		return DefaultScene{}, ErrNoDriver
	}
	var out DefaultScene

	const w, h = groundHalfExtent, groundHalfExtent
	groundColor := PackColor(0.13, 0.51, 0.23, 1)
	ground := []VertexColor3D{
		{Position: [3]float32{-w, -h, 0}, Color: groundColor},
		{Position: [3]float32{w, -h, 0}, Color: groundColor},
		{Position: [3]float32{w, h, 0}, Color: groundColor},
		{Position: [3]float32{-w, h, 0}, Color: groundColor},
	}
	mesh, err := s.uploadMesh("ground", ShaderColor3D, common.SliceToBytes(ground), len(ground), []uint16{0, 1, 2, 2, 3, 0}, colorLayout)
	if err != nil {
		return out, err
	}
	var node *DrawNode
	out.Ground, node = s.NewNode(KindDefault)
	node.Meshes[StreamColor3D] = mesh
	node.Min, node.Max = [3]float32{-w, -h, 0}, [3]float32{w, h, 0}

	const mw, mh = mirrorHalfWidth, mirrorHalfHeight
	mirrorColor := PackColor(1, 1, 1, 1)
	mirror := []VertexColor3D{
		{Position: [3]float32{mw, 0, -mh}, Color: mirrorColor},
		{Position: [3]float32{-mw, 0, -mh}, Color: mirrorColor},
		{Position: [3]float32{-mw, 0, mh}, Color: mirrorColor},
		{Position: [3]float32{mw, 0, mh}, Color: mirrorColor},
	}
	if mesh, err = s.uploadMesh("mirror", ShaderColor3D, common.SliceToBytes(mirror), len(mirror), []uint16{2, 1, 0, 0, 3, 2}, colorLayout); err != nil {
		return out, err
	}
	out.Mirror, node = s.NewNode(KindDefault)
	node.Meshes[StreamColor3D] = mesh
	node.Min, node.Max = [3]float32{-mw, 0, -mh}, [3]float32{mw, 0, mh}
	node.Data.World[12], node.Data.World[13], node.Data.World[14] = -5, -8, 5
	node.Data.Color = [4]float32{0.01, 0.19, 0.3, 0.32}
	s.Mirror = Mirror{Pos: node.Translation(), Normal: [3]float32{0, 1, 0}, Node: out.Mirror}

	cube, indices := unitCube()
	if mesh, err = s.uploadMesh("cubes", ShaderInstanced3D, common.SliceToBytes(cube), len(cube), indices, positionLayout); err != nil {
		return out, err
	}
	out.Cubes, node = s.NewNode(KindInstanced)
	node.Meshes[0] = mesh
	node.Min, node.Max = [3]float32{-0.5, -0.5, -0.5}, [3]float32{0.5, 0.5, 0.5}
	node.Data.Color = [4]float32{0.9, 0.7, 0.8, 0.6}
	inst, _ := s.Instanced(out.Cubes)
	inst.InstanceCount = cubeCount
	for i := range cubeCount {
		common.Identity(inst.Instances[i][:])
	}

	for _, h := range []Handle{out.Ground, out.Mirror, out.Cubes} {
		if err := s.UploadNode(h); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) uploadMesh(label string, t ShaderType, vertices []byte, vertexCount int, indices []uint16, layout driver.VertexLayout) (MeshHandle, error) {
	vb, err := s.drv.CreateIndexedVertexBuffer(driver.IndexedVertexBufferDesc{
		Label:       label,
		Vertices:    vertices,
		VertexCount: uint32(vertexCount),
		Indices:     common.SliceToBytes(indices),
		IndexCount:  uint32(len(indices)),
		IndexFormat: driver.IndexFormatUint16,
		Layout:      layout,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s mesh: %w", label, err)
	}
	return s.NewMesh(t, vb, 0), nil
}

// unitCube returns a position-only cube of side 1 centered on the origin.
func unitCube() ([]VertexPosition3D, []uint16) {
	v := make([]VertexPosition3D, 0, 8)
	for i := range 8 {
		v = append(v, VertexPosition3D{Position: [3]float32{
			float32(i&1) - 0.5,
			float32(i>>1&1) - 0.5,
			float32(i>>2&1) - 0.5,
		}})
	}
	indices := []uint16{
		0, 2, 1, 1, 2, 3, // -z
		4, 5, 6, 5, 7, 6, // +z
		0, 1, 4, 1, 5, 4, // -y
		2, 6, 3, 3, 6, 7, // +y
		0, 4, 2, 2, 4, 6, // -x
		1, 3, 5, 3, 7, 5, // +x
	}
	return v, indices
}
