package driver

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately. May tear.
	PresentModeUncapped

	// PresentModeMailbox replaces the queued frame with the newest one. Does not tear.
	PresentModeMailbox
)

// ParsePresentMode maps a config name ("fifo", "immediate" or "mailbox") to a PresentMode.
// Unknown names fall back to PresentModeVSync.
func ParsePresentMode(name string) PresentMode {
	switch name {
	case "immediate":
		return PresentModeUncapped
	case "mailbox":
		return PresentModeMailbox
	default:
		return PresentModeVSync
	}
}

type wgpuMesh struct {
	vertex      *wgpu.Buffer
	index       *wgpu.Buffer
	indexCount  uint32
	indexFormat wgpu.IndexFormat
}

type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

type wgpuShader struct {
	desc      ShaderDesc
	module    *wgpu.ShaderModule
	layout    *wgpu.PipelineLayout
	pipelines map[BlendStateID]*wgpu.RenderPipeline
}

type cbufferGroupKey struct {
	n   int
	ids [4]CBufferID
}

type wgpuDriverImpl struct {
	mu     *sync.Mutex
	logger *zap.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
	device   *wgpu.Device
	queue    *wgpu.Queue

	forceFallbackAdapter bool
	presentMode          wgpu.PresentMode
	sampleCount          uint32
	clearColor           wgpu.Color

	surfaceFormat        wgpu.TextureFormat
	msaaTextureView      *wgpu.TextureView
	depthTextureView     *wgpu.TextureView
	renderPassDescriptor *wgpu.RenderPassDescriptor
	sampler              *wgpu.Sampler

	// Bind group layouts are shared across shaders so bindings survive pipeline switches.
	cbufferLayouts map[int]*wgpu.BindGroupLayout
	textureLayout  *wgpu.BindGroupLayout

	cbuffers      []*wgpu.Buffer
	meshes        []wgpuMesh
	textures      []wgpuTexture
	shaders       []*wgpuShader
	blendStates   []BlendStateDesc
	cbufferGroups map[cbufferGroupKey]*wgpu.BindGroup
	textureGroups map[TextureID]*wgpu.BindGroup

	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	boundShader   ShaderID
	boundBlend    BlendStateID
	pipelineDirty bool
	pipelineReady bool
}

var _ Driver = &wgpuDriverImpl{}

// NewWGPU creates a WebGPU driver that renders into the surface described by surfaceDescriptor.
// Resize must be called with the framebuffer size before the first frame.
//
// Parameters:
//   - surfaceDescriptor: the platform surface, usually obtained from the window
//   - options: functional options for driver configuration
//
// Returns:
//   - Driver: the WebGPU driver
//   - error: an error if no adapter or device could be acquired
func NewWGPU(surfaceDescriptor *wgpu.SurfaceDescriptor, options ...WGPUBuilderOption) (Driver, error) {
	runtime.LockOSThread()
	b := &wgpuDriverImpl{
		mu:             &sync.Mutex{},
		logger:         zap.NewNop(),
		presentMode:    wgpu.PresentModeFifo,
		sampleCount:    1,
		clearColor:     wgpu.Color{R: 0.1, G: 0.1, B: 0.1, A: 1.0},
		cbufferLayouts: make(map[int]*wgpu.BindGroupLayout),
		cbufferGroups:  make(map[cbufferGroupKey]*wgpu.BindGroup),
		textureGroups:  make(map[TextureID]*wgpu.BindGroup),
	}
	for _, opt := range options {
		opt(b)
	}

	b.instance = wgpu.CreateInstance(nil)
	b.surface = b.instance.CreateSurface(surfaceDescriptor)

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: b.forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	b.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	b.device = d
	b.queue = d.GetQueue()

	b.sampler, err = b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Default Sampler",
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}

	b.textureLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Texture Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler: wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeFiltering,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create texture bind group layout: %w", err)
	}

	return b, nil
}

func (b *wgpuDriverImpl) Resize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if width <= 0 || height <= 0 {
		return
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})

	msaaEnabled := b.sampleCount > 1
	if b.msaaTextureView != nil {
		b.msaaTextureView.Release()
		b.msaaTextureView = nil
	}
	if msaaEnabled {
		msaaTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: "MSAA Texture",
			Size: wgpu.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   b.sampleCount,
			Dimension:     wgpu.TextureDimension2D,
			Format:        b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			panic(fmt.Sprintf("driver: failed to create msaa texture: %v", err))
		}
		b.msaaTextureView, err = msaaTexture.CreateView(nil)
		if err != nil {
			panic(fmt.Sprintf("driver: failed to create msaa texture view: %v", err))
		}
	}

	if b.depthTextureView != nil {
		b.depthTextureView.Release()
	}
	depthTexture, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Texture",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   b.sampleCount,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		panic(fmt.Sprintf("driver: failed to create depth texture: %v", err))
	}
	b.depthTextureView, err = depthTexture.CreateView(nil)
	if err != nil {
		panic(fmt.Sprintf("driver: failed to create depth texture view: %v", err))
	}

	storeOp := wgpu.StoreOpStore
	if msaaEnabled {
		storeOp = wgpu.StoreOpDiscard
	}
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       b.msaaTextureView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    storeOp,
				ClearValue: b.clearColor,
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthTextureView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}
}

func (b *wgpuDriverImpl) CreateCBuffer(size int) (CBufferID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size <= 0 {
		return 0, fmt.Errorf("%w: cbuffer size %d", ErrInvalidDescriptor, size)
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("CBuffer %d", len(b.cbuffers)+1),
		Size:  uint64(alignTo(size, 16)),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("create cbuffer: %w", err)
	}
	b.cbuffers = append(b.cbuffers, buf)
	return CBufferID(len(b.cbuffers)), nil
}

func (b *wgpuDriverImpl) UpdateCBuffer(id CBufferID, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == 0 || int(id) > len(b.cbuffers) || len(data) == 0 {
		return
	}
	b.queue.WriteBuffer(b.cbuffers[id-1], 0, padded(data))
}

func (b *wgpuDriverImpl) CreateIndexedVertexBuffer(desc IndexedVertexBufferDesc) (VertexBufferID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(desc.Vertices) == 0 || len(desc.Indices) == 0 || desc.IndexCount == 0 {
		return 0, fmt.Errorf("%w: vertex buffer %q is empty", ErrInvalidDescriptor, desc.Label)
	}

	vertexData, indexData := padded(desc.Vertices), padded(desc.Indices)
	vb, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label + " Vertex Buffer",
		Size:  uint64(len(vertexData)),
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("create vertex buffer %q: %w", desc.Label, err)
	}
	b.queue.WriteBuffer(vb, 0, vertexData)

	ib, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label + " Index Buffer",
		Size:  uint64(len(indexData)),
		Usage: wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		vb.Release()
		return 0, fmt.Errorf("create index buffer %q: %w", desc.Label, err)
	}
	b.queue.WriteBuffer(ib, 0, indexData)

	format := wgpu.IndexFormatUint32
	if desc.IndexFormat == IndexFormatUint16 {
		format = wgpu.IndexFormatUint16
	}
	b.meshes = append(b.meshes, wgpuMesh{vertex: vb, index: ib, indexCount: desc.IndexCount, indexFormat: format})
	return VertexBufferID(len(b.meshes)), nil
}

func (b *wgpuDriverImpl) CreateTexture(desc TextureDesc) (TextureID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if desc.Width == 0 || desc.Height == 0 || len(desc.Pixels) < int(desc.Width*desc.Height*4) {
		return 0, fmt.Errorf("%w: texture %q is %dx%d with %d bytes", ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height, len(desc.Pixels))
	}

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label + " Texture",
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return 0, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		desc.Pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  desc.Width * 4,
			RowsPerImage: desc.Height,
		},
		&wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
	)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("create texture view %q: %w", desc.Label, err)
	}
	b.textures = append(b.textures, wgpuTexture{texture: tex, view: view})
	return TextureID(len(b.textures)), nil
}

func (b *wgpuDriverImpl) CreateShader(desc ShaderDesc) (ShaderID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if desc.Source == "" || desc.VertexEntry == "" || desc.FragmentEntry == "" {
		return 0, fmt.Errorf("%w: shader %q needs source and both entry points", ErrInvalidDescriptor, desc.Name)
	}

	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Source,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("compile shader %q: %w", desc.Name, err)
	}

	cbufferLayout, err := b.cbufferLayout(desc.CBufferCount)
	if err != nil {
		module.Release()
		return 0, err
	}
	groups := []*wgpu.BindGroupLayout{cbufferLayout}
	if desc.TextureCount > 0 {
		groups = append(groups, b.textureLayout)
	}
	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Name,
		BindGroupLayouts: groups,
	})
	if err != nil {
		module.Release()
		return 0, fmt.Errorf("create pipeline layout for %q: %w", desc.Name, err)
	}

	b.shaders = append(b.shaders, &wgpuShader{
		desc:      desc,
		module:    module,
		layout:    layout,
		pipelines: make(map[BlendStateID]*wgpu.RenderPipeline),
	})
	return ShaderID(len(b.shaders)), nil
}

func (b *wgpuDriverImpl) CreateBlendState(desc BlendStateDesc) (BlendStateID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blendStates = append(b.blendStates, desc)
	return BlendStateID(len(b.blendStates)), nil
}

func (b *wgpuDriverImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.renderPassDescriptor == nil {
		return errors.New("driver: surface not configured, call Resize first")
	}
	if b.frameSurface != nil {
		return errors.New("driver: previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	if b.sampleCount > 1 {
		b.renderPassDescriptor.ColorAttachments[0].ResolveTarget = view
	} else {
		b.renderPassDescriptor.ColorAttachments[0].View = view
	}

	b.framePass = encoder.BeginRenderPass(b.renderPassDescriptor)
	b.frameEncoder = encoder
	b.frameSurface = surfaceTexture
	b.frameView = view
	b.boundShader, b.boundBlend = 0, 0
	b.pipelineDirty, b.pipelineReady = true, false

	return nil
}

func (b *wgpuDriverImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()

	commandBuffer, err := b.frameEncoder.Finish(nil)
	if err != nil {
		b.logger.Error("failed to finish frame", zap.Error(err))
		b.frameEncoder.Release()
		b.frameView.Release()
		b.frameSurface.Release()
		b.frameEncoder, b.framePass, b.frameSurface, b.frameView = nil, nil, nil, nil
		return
	}

	b.queue.Submit(commandBuffer)

	commandBuffer.Release()
	b.frameEncoder.Release()
	b.frameEncoder = nil
	b.framePass = nil
}

func (b *wgpuDriverImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()

	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	b.frameSurface.Release()
	b.frameSurface = nil
}

func (b *wgpuDriverImpl) BindShader(id ShaderID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id != b.boundShader {
		b.boundShader = id
		b.pipelineDirty = true
	}
}

func (b *wgpuDriverImpl) BindBlendState(id BlendStateID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id != b.boundBlend {
		b.boundBlend = id
		b.pipelineDirty = true
	}
}

func (b *wgpuDriverImpl) BindTextures(ids ...TextureID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil || len(ids) == 0 || ids[0] == 0 || int(ids[0]) > len(b.textures) {
		return
	}
	group, ok := b.textureGroups[ids[0]]
	if !ok {
		var err error
		group, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("Texture %d Bind Group", ids[0]),
			Layout: b.textureLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: b.textures[ids[0]-1].view},
				{Binding: 1, Sampler: b.sampler},
			},
		})
		if err != nil {
			b.logger.Error("failed to create texture bind group", zap.Uint32("texture", uint32(ids[0])), zap.Error(err))
			return
		}
		b.textureGroups[ids[0]] = group
	}
	b.framePass.SetBindGroup(1, group, nil)
}

func (b *wgpuDriverImpl) BindIndexedVertexBuffer(id VertexBufferID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.mesh(id)
	if b.framePass == nil || !ok {
		return
	}
	b.framePass.SetVertexBuffer(0, m.vertex, 0, wgpu.WholeSize)
	b.framePass.SetIndexBuffer(m.index, m.indexFormat, 0, wgpu.WholeSize)
}

func (b *wgpuDriverImpl) BindCBuffers(shader ShaderID, ids []CBufferID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil || len(ids) > 4 {
		return
	}
	key := cbufferGroupKey{n: len(ids)}
	copy(key.ids[:], ids)

	group, ok := b.cbufferGroups[key]
	if !ok {
		layout, err := b.cbufferLayout(len(ids))
		if err != nil {
			b.logger.Error("failed to create cbuffer layout", zap.Error(err))
			return
		}
		entries := make([]wgpu.BindGroupEntry, len(ids))
		for i, id := range ids {
			if id == 0 || int(id) > len(b.cbuffers) {
				return
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding: uint32(i),
				Buffer:  b.cbuffers[id-1],
				Offset:  0,
				Size:    wgpu.WholeSize,
			}
		}
		group, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   "CBuffer Bind Group",
			Layout:  layout,
			Entries: entries,
		})
		if err != nil {
			b.logger.Error("failed to create cbuffer bind group", zap.Uint32("shader", uint32(shader)), zap.Error(err))
			return
		}
		b.cbufferGroups[key] = group
	}
	b.framePass.SetBindGroup(0, group, nil)
}

func (b *wgpuDriverImpl) DrawIndexed(id VertexBufferID) {
	b.DrawInstancesIndexed(id, 1)
}

func (b *wgpuDriverImpl) DrawInstancesIndexed(id VertexBufferID, instances uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.mesh(id)
	if b.framePass == nil || !ok || !b.preparePipeline() {
		return
	}
	b.framePass.DrawIndexed(m.indexCount, instances, 0, 0, 0)
}

func (b *wgpuDriverImpl) BeginEvent(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass != nil {
		b.framePass.PushDebugGroup(name)
	}
}

func (b *wgpuDriverImpl) EndEvent() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass != nil {
		b.framePass.PopDebugGroup()
	}
}

func (b *wgpuDriverImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, g := range b.cbufferGroups {
		g.Release()
	}
	for _, g := range b.textureGroups {
		g.Release()
	}
	for _, s := range b.shaders {
		for _, p := range s.pipelines {
			if p != nil {
				p.Release()
			}
		}
		s.layout.Release()
		s.module.Release()
	}
	for _, t := range b.textures {
		t.view.Release()
		t.texture.Release()
	}
	for _, m := range b.meshes {
		m.vertex.Release()
		m.index.Release()
	}
	for _, c := range b.cbuffers {
		c.Release()
	}
	b.cbufferGroups = make(map[cbufferGroupKey]*wgpu.BindGroup)
	b.textureGroups = make(map[TextureID]*wgpu.BindGroup)
	b.shaders, b.textures, b.meshes, b.cbuffers = nil, nil, nil, nil

	if b.device != nil {
		b.device.Release()
	}
	if b.surface != nil {
		b.surface.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

// preparePipeline sets the render pipeline for the bound shader and blend state, creating it on first use.
// Callers hold mu.
func (b *wgpuDriverImpl) preparePipeline() bool {
	if !b.pipelineDirty {
		return b.pipelineReady
	}
	b.pipelineDirty = false
	b.pipelineReady = false

	if b.boundShader == 0 || int(b.boundShader) > len(b.shaders) {
		return false
	}
	s := b.shaders[b.boundShader-1]
	p, ok := s.pipelines[b.boundBlend]
	if !ok {
		var err error
		p, err = b.createPipeline(s, b.boundBlend)
		if err != nil {
			b.logger.Error("failed to create render pipeline", zap.String("shader", s.desc.Name), zap.Uint32("blend", uint32(b.boundBlend)), zap.Error(err))
		}
		s.pipelines[b.boundBlend] = p
	}
	if p == nil {
		return false
	}
	b.framePass.SetPipeline(p)
	b.pipelineReady = true
	return true
}

func (b *wgpuDriverImpl) createPipeline(s *wgpuShader, blend BlendStateID) (*wgpu.RenderPipeline, error) {
	target := wgpu.ColorTargetState{
		Format:    b.surfaceFormat,
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if blend != 0 && int(blend) <= len(b.blendStates) {
		desc := b.blendStates[blend-1]
		if desc.WriteMask == WriteMaskNone {
			target.WriteMask = wgpu.ColorWriteMaskNone
		}
		if desc.Enable {
			target.Blend = &wgpu.BlendState{
				Color: wgpu.BlendComponent{
					SrcFactor: wgpu.BlendFactorSrcAlpha,
					DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
					Operation: wgpu.BlendOperationAdd,
				},
				Alpha: wgpu.BlendComponent{
					SrcFactor: wgpu.BlendFactorOne,
					DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
					Operation: wgpu.BlendOperationAdd,
				},
			}
		}
	}

	var buffers []wgpu.VertexBufferLayout
	if s.desc.Layout.Stride > 0 {
		attributes := make([]wgpu.VertexAttribute, len(s.desc.Layout.Attributes))
		for i, a := range s.desc.Layout.Attributes {
			attributes[i] = wgpu.VertexAttribute{
				Format:         vertexFormat(a.Format),
				Offset:         uint64(a.Offset),
				ShaderLocation: a.Location,
			}
		}
		buffers = []wgpu.VertexBufferLayout{{
			ArrayStride: uint64(s.desc.Layout.Stride),
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes:  attributes,
		}}
	}

	return b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  s.desc.Name + " Render Pipeline",
		Layout: s.layout,
		Vertex: wgpu.VertexState{
			Module:     s.module,
			EntryPoint: s.desc.VertexEntry,
			Buffers:    buffers,
		},
		Fragment: &wgpu.FragmentState{
			Module:     s.module,
			EntryPoint: s.desc.FragmentEntry,
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: b.sampleCount,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
}

// cbufferLayout returns the shared layout for n uniform buffers at bindings 0..n-1. Callers hold mu.
func (b *wgpuDriverImpl) cbufferLayout(n int) (*wgpu.BindGroupLayout, error) {
	if l, ok := b.cbufferLayouts[n]; ok {
		return l, nil
	}
	entries := make([]wgpu.BindGroupLayoutEntry, n)
	for i := range entries {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
			Buffer: wgpu.BufferBindingLayout{
				Type: wgpu.BufferBindingTypeUniform,
			},
		}
	}
	l, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   fmt.Sprintf("CBuffer x%d Bind Group Layout", n),
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create cbuffer layout (%d buffers): %w", n, err)
	}
	b.cbufferLayouts[n] = l
	return l, nil
}

func (b *wgpuDriverImpl) mesh(id VertexBufferID) (wgpuMesh, bool) {
	if id == 0 || int(id) > len(b.meshes) {
		return wgpuMesh{}, false
	}
	return b.meshes[id-1], true
}

func vertexFormat(f VertexFormat) wgpu.VertexFormat {
	switch f {
	case VertexFormatFloat32x2:
		return wgpu.VertexFormatFloat32x2
	case VertexFormatUnorm8x4:
		return wgpu.VertexFormatUnorm8x4
	case VertexFormatUint8x4:
		return wgpu.VertexFormatUint8x4
	default:
		return wgpu.VertexFormatFloat32x3
	}
}

// padded returns data extended with zeros to a multiple of 4 bytes, the queue write granularity.
func padded(data []byte) []byte {
	n := alignTo(len(data), 4)
	if n == len(data) {
		return data
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

func alignTo(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
