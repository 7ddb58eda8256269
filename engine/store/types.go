package store

import "github.com/Carmen-Shannon/oxy-core/engine/driver"

// DrawNode is a renderable node. Min and Max bound its geometry in model space; Meshes holds one mesh
// per vertex stream the node was split into, zero for unused streams.
type DrawNode struct {
	Min, Max    [3]float32
	Data        NodeData
	CBufferNode uint32
	Meshes      [StreamCount]MeshHandle
}

// Translation returns the world-space position of the node (column 3 of its world matrix).
func (n *DrawNode) Translation() [3]float32 {
	return [3]float32{n.Data.World[12], n.Data.World[13], n.Data.World[14]}
}

// DrawNodeSkinned is a node deformed by a joint palette.
type DrawNodeSkinned struct {
	DrawNode
	CBufferSkinning uint32
	Palette         Palette
}

// DrawNodeInstanced is a node drawn InstanceCount times, each instance placed by Instances[i].
type DrawNodeInstanced struct {
	DrawNode
	CBufferInstances uint32
	Instances        InstanceMatrices
	InstanceCount    uint32
}

// DrawnInstances returns the number of instances drawn and uploaded: InstanceCount capped at
// MaxInstances, the length of the instance array the shader declares.
func (n *DrawNodeInstanced) DrawnInstances() uint32 {
	return min(n.InstanceCount, MaxInstances)
}

// DrawMesh is an uploaded vertex stream and the shader and texture it is drawn with.
type DrawMesh struct {
	Type         ShaderType
	VertexBuffer driver.VertexBufferID
	Texture      driver.TextureID
}

// Mirror describes the reflective surface of the scene. Node is the handle of the node drawn as the
// mirror; the drawlist mirror filters select or skip it.
type Mirror struct {
	Pos    [3]float32
	Normal [3]float32
	Node   Handle
}
