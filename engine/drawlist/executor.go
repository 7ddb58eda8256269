package drawlist

import "github.com/Carmen-Shannon/oxy-core/engine/driver"

// MaxCBuffers is the number of constant buffer slots tracked by a Context: the forced slots set by the
// caller followed by an item's own buffers.
const MaxCBuffers = 3

// Context is the driver state left by previous draws. A caller that binds a resource itself stores it
// here and marks it forced in Overrides.
type Context struct {
	Shader       driver.ShaderID
	BlendState   driver.BlendStateID
	Texture      driver.TextureID
	VertexBuffer driver.VertexBufferID
	CBuffers     [MaxCBuffers]driver.CBufferID
}

// Overrides marks resources the caller has bound for the whole list. Forced resources are never
// rebound. The first ForcedCBufferCount entries of Context.CBuffers are kept and each item's buffers
// are bound after them.
type Overrides struct {
	ForcedShader       bool
	ForcedTexture      bool
	ForcedBlendState   bool
	ForcedVertexBuffer bool
	ForcedCBufferCount int
}

// Stats counts the work of one Draw call.
type Stats struct {
	Binds        int
	SkippedBinds int
	Draws        int
	Instances    int
}

// Draw submits every item of dl in key order, base bucket first. Each item is wrapped in a debug event
// named after its shader. Shader, blend state, texture and vertex buffer are bound only when they differ
// from ctx, which is updated as the list is drawn.
//
// Parameters:
//   - dl: the sorted drawlist
//   - ctx: the current driver state
//   - ov: resources bound by the caller
//   - drv: the driver to submit to
//
// Returns:
//   - Stats: binds issued and skipped, draws and instances
func Draw(dl *Drawlist, ctx *Context, ov Overrides, drv driver.Driver) Stats {
	var st Stats
	forced := min(max(ov.ForcedCBufferCount, 0), MaxCBuffers-MaxItemCBuffers)

	for _, k := range dl.Sorted() {
		it := &dl.Items[k.Idx]
		drv.BeginEvent(it.Type.String())

		if !ov.ForcedShader && it.Shader != ctx.Shader {
			drv.BindShader(it.Shader)
			ctx.Shader = it.Shader
			st.Binds++
		} else {
			st.SkippedBinds++
		}
		if !ov.ForcedBlendState && it.BlendState != ctx.BlendState {
			drv.BindBlendState(it.BlendState)
			ctx.BlendState = it.BlendState
			st.Binds++
		} else {
			st.SkippedBinds++
		}
		if !ov.ForcedTexture && it.Texture != ctx.Texture {
			drv.BindTextures(it.Texture)
			ctx.Texture = it.Texture
			st.Binds++
		} else {
			st.SkippedBinds++
		}
		if !ov.ForcedVertexBuffer && it.VertexBuffer != ctx.VertexBuffer {
			drv.BindIndexedVertexBuffer(it.VertexBuffer)
			ctx.VertexBuffer = it.VertexBuffer
			st.Binds++
		} else {
			st.SkippedBinds++
		}

		n := int(min(it.CBufferCount, MaxItemCBuffers))
		copy(ctx.CBuffers[forced:], it.CBuffers[:n])
		drv.BindCBuffers(ctx.Shader, ctx.CBuffers[:forced+n])
		st.Binds++

		if it.DrawCount > 0 {
			drv.DrawInstancesIndexed(ctx.VertexBuffer, it.DrawCount)
			st.Instances += int(it.DrawCount)
		} else {
			drv.DrawIndexed(ctx.VertexBuffer)
			st.Instances++
		}
		st.Draws++
		drv.EndEvent()
	}
	return st
}
