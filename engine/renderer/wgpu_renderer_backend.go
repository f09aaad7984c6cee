package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/kilnengine/kiln-go/common"
	"github.com/kilnengine/kiln-go/engine/graph"
	"github.com/kilnengine/kiln-go/engine/renderer/pipeline"
	"github.com/kilnengine/kiln-go/engine/resource"
)

// attachmentTexture is the native object a registry Image guards: the GPU
// texture plus the view render passes attach. Swapchain textures are owned by
// the surface, so their guards release only the view.
type attachmentTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	owned   bool
}

func (a *attachmentTexture) release() error {
	if a.view != nil {
		a.view.Release()
	}
	if a.owned && a.texture != nil {
		a.texture.Release()
	}
	return nil
}

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat *wgpu.TextureFormat
	presentMode   wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)

	// Frame state accumulated between the sequencer's BeginPass/EndPass calls.
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture

	// cleared tracks which attachments have been written this frame, so the
	// first pass targeting an attachment clears it and later passes load it.
	cleared map[string]bool

	// frameToken counts submissions; it is the completion token deferred
	// destruction keys on.
	frameToken common.CompletionToken
}

type wgpuRendererBackend interface {
	Device() *wgpu.Device
	Queue() *wgpu.Queue
	Instance() *wgpu.Instance
	Adapter() *wgpu.Adapter
	Surface() *wgpu.Surface

	// ConfigureSurface is a wrapper for boilerplate logic required when calling ConfigureSurface on a surface.
	// This is required when the surface size changes, such as when the window is resized.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	ConfigureSurface(width, height int)

	// SurfaceFormat returns the texel format the surface was configured with.
	// Only valid after the first ConfigureSurface call.
	SurfaceFormat() wgpu.TextureFormat

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// CreateAttachmentImage creates a render-attachment texture and wraps it
	// in a registry Image whose guard releases the texture exactly once.
	//
	// Parameters:
	//   - label: the debug label for the texture
	//   - format: the texel format
	//   - width, height: the texture extent in pixels
	//   - samples: the raster sample count; 0 means 1
	//
	// Returns:
	//   - resource.Image: the guarded image, ready for Registry.CreateImage
	//   - error: an error if texture or view creation fails
	CreateAttachmentImage(label string, format wgpu.TextureFormat, width, height, samples uint32) (resource.Image, error)

	// AcquireSurfaceImage acquires the next swapchain texture and wraps it in
	// a registry Image. The surface owns the texture; the guard releases only
	// the view, and Present hands the texture back to the surface.
	//
	// Returns:
	//   - resource.Image: the guarded swapchain image
	//   - error: an error if the swapchain texture could not be acquired
	AcquireSurfaceImage() (resource.Image, error)

	// CreateMeshBuffers creates and uploads GPU vertex and index buffers,
	// wrapped in registry Buffers.
	//
	// Parameters:
	//   - label: the debug label prefix for the buffers
	//   - vertexData: the raw vertex bytes to upload
	//   - indexData: the raw uint32 index bytes to upload
	//
	// Returns:
	//   - resource.Buffer: the guarded vertex buffer
	//   - resource.Buffer: the guarded index buffer
	//   - error: an error if buffer creation fails
	CreateMeshBuffers(label string, vertexData, indexData []byte) (resource.Buffer, resource.Buffer, error)

	// CreateRenderPipeline creates a GPU render pipeline from a pipeline
	// description. The color target formats, depth format, and sample count
	// come from the description's target pass in the graph, so a pipeline can
	// only ever render into the pass it was declared for.
	//
	// Parameters:
	//   - p: the pipeline description
	//   - g: the graph declaring the target pass
	//
	// Returns:
	//   - resource.Pipeline: the guarded pipeline, ready for Registry.CreatePipeline
	//   - error: an error if the target pass is unknown or creation fails
	CreateRenderPipeline(p pipeline.Pipeline, g *graph.Graph) (resource.Pipeline, error)

	// CurrentPass returns the render pass encoder of the pass currently being
	// recorded, nil outside BeginPass/EndPass.
	CurrentPass() *wgpu.RenderPassEncoder

	// Present presents the most recently submitted frame to the display and
	// releases the swapchain texture.
	//
	// Returns:
	//   - error: an error if no submitted frame is pending presentation
	Present() error

	// The sequencer drives the backend through the CommandSink contract:
	// Transition/BeginPass/EndPass during the pass walk, Submit at frame end.
	graph.CommandSink
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool) wgpuRendererBackend {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeImmediate,
		cleared:     make(map[string]bool),
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	return w
}

func (b *wgpuRendererBackendImpl) Device() *wgpu.Device     { return b.device }
func (b *wgpuRendererBackendImpl) Queue() *wgpu.Queue       { return b.queue }
func (b *wgpuRendererBackendImpl) Instance() *wgpu.Instance { return b.instance }
func (b *wgpuRendererBackendImpl) Adapter() *wgpu.Adapter   { return b.adapter }
func (b *wgpuRendererBackendImpl) Surface() *wgpu.Surface   { return b.surface }

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = &capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
}

func (b *wgpuRendererBackendImpl) SurfaceFormat() wgpu.TextureFormat {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.surfaceFormat == nil {
		return wgpu.TextureFormatBGRA8Unorm
	}
	return *b.surfaceFormat
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) CreateAttachmentImage(label string, format wgpu.TextureFormat, width, height, samples uint32) (resource.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	samples = max(samples, 1)
	usage := wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding

	g, err := resource.NewGuard(
		func() (*attachmentTexture, error) {
			tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
				Label: label,
				Size: wgpu.Extent3D{
					Width:              width,
					Height:             height,
					DepthOrArrayLayers: 1,
				},
				MipLevelCount: 1,
				SampleCount:   samples,
				Dimension:     wgpu.TextureDimension2D,
				Format:        format,
				Usage:         usage,
			})
			if err != nil {
				return nil, err
			}
			view, err := tex.CreateView(nil)
			if err != nil {
				tex.Release()
				return nil, err
			}
			return &attachmentTexture{texture: tex, view: view, owned: true}, nil
		},
		func(a *attachmentTexture) error { return a.release() },
	)
	if err != nil {
		return resource.Image{}, err
	}

	return resource.Image{
		Guard:       g,
		Format:      format,
		Width:       width,
		Height:      height,
		SampleCount: samples,
	}, nil
}

func (b *wgpuRendererBackendImpl) AcquireSurfaceImage() (resource.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Holding an unpresented surface texture means the caller skipped
	// Present; acquiring another would trip wgpu-native validation.
	if b.frameSurface != nil {
		return resource.Image{}, errors.New("previous frame surface not yet presented")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return resource.Image{}, err
	}

	g, err := resource.NewGuard(
		func() (*attachmentTexture, error) {
			view, err := surfaceTexture.CreateView(nil)
			if err != nil {
				surfaceTexture.Release()
				return nil, err
			}
			return &attachmentTexture{texture: surfaceTexture, view: view, owned: false}, nil
		},
		func(a *attachmentTexture) error { return a.release() },
	)
	if err != nil {
		return resource.Image{}, err
	}
	b.frameSurface = surfaceTexture

	return resource.Image{
		Guard:       g,
		Format:      *b.surfaceFormat,
		SampleCount: 1,
	}, nil
}

func (b *wgpuRendererBackendImpl) CreateMeshBuffers(label string, vertexData, indexData []byte) (resource.Buffer, resource.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vtx, err := b.createBuffer(label+" Vertex Buffer", vertexData, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst)
	if err != nil {
		return resource.Buffer{}, resource.Buffer{}, err
	}
	idx, err := b.createBuffer(label+" Index Buffer", indexData, wgpu.BufferUsageIndex|wgpu.BufferUsageCopyDst)
	if err != nil {
		_ = vtx.Guard.Destroy()
		return resource.Buffer{}, resource.Buffer{}, err
	}
	return vtx, idx, nil
}

func (b *wgpuRendererBackendImpl) createBuffer(label string, data []byte, usage wgpu.BufferUsage) (resource.Buffer, error) {
	g, err := resource.NewGuard(
		func() (*wgpu.Buffer, error) {
			buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label:            label,
				Size:             uint64(len(data)),
				Usage:            usage,
				MappedAtCreation: false,
			})
			if err != nil {
				return nil, err
			}
			b.queue.WriteBuffer(buf, 0, data)
			return buf, nil
		},
		func(buf *wgpu.Buffer) error {
			buf.Release()
			return nil
		},
	)
	if err != nil {
		return resource.Buffer{}, err
	}
	return resource.Buffer{Guard: g, Size: uint64(len(data)), Usage: usage}, nil
}

// vertexFormats maps layout format names onto WebGPU vertex formats.
var vertexFormats = map[string]wgpu.VertexFormat{
	"float32":   wgpu.VertexFormatFloat32,
	"float32x2": wgpu.VertexFormatFloat32x2,
	"float32x3": wgpu.VertexFormatFloat32x3,
	"float32x4": wgpu.VertexFormatFloat32x4,
	"uint32":    wgpu.VertexFormatUint32,
	"uint32x4":  wgpu.VertexFormatUint32x4,
}

func vertexBufferLayout(layout common.VertexLayout, stepMode wgpu.VertexStepMode) (wgpu.VertexBufferLayout, error) {
	attrs := make([]wgpu.VertexAttribute, 0, len(layout.Attributes))
	for _, a := range layout.Attributes {
		format, ok := vertexFormats[a.Format]
		if !ok {
			return wgpu.VertexBufferLayout{}, fmt.Errorf("unknown vertex attribute format %q", a.Format)
		}
		attrs = append(attrs, wgpu.VertexAttribute{
			Format:         format,
			Offset:         a.Offset,
			ShaderLocation: a.Location,
		})
	}
	return wgpu.VertexBufferLayout{
		ArrayStride: layout.Stride,
		StepMode:    stepMode,
		Attributes:  attrs,
	}, nil
}

func (b *wgpuRendererBackendImpl) CreateRenderPipeline(p pipeline.Pipeline, g *graph.Graph) (resource.Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var target *graph.PassDesc
	for _, pass := range g.Passes() {
		if pass.Name == p.Pass() {
			target = &pass
			break
		}
	}
	if target == nil {
		return resource.Pipeline{}, fmt.Errorf("pipeline %q targets unknown pass %q", p.Key(), p.Pass())
	}

	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: p.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: p.Source(),
		},
	})
	if err != nil {
		return resource.Pipeline{}, err
	}

	buffers := make([]wgpu.VertexBufferLayout, 0, 2)
	if len(p.VertexLayout().Attributes) > 0 {
		vbl, err := vertexBufferLayout(p.VertexLayout(), wgpu.VertexStepModeVertex)
		if err != nil {
			return resource.Pipeline{}, err
		}
		buffers = append(buffers, vbl)
	}
	if il := p.InstanceLayout(); il != nil {
		ibl, err := vertexBufferLayout(*il, wgpu.VertexStepModeInstance)
		if err != nil {
			return resource.Pipeline{}, err
		}
		buffers = append(buffers, ibl)
	}

	// The target pass's declared writes become the pipeline's color targets
	// and depth format; its sample count becomes the multisample count.
	var targets []wgpu.ColorTargetState
	var depthFormat wgpu.TextureFormat
	hasDepth := false
	for _, ref := range target.Writes {
		if ref.Usage&graph.UsageDepth != 0 {
			depthFormat = ref.Format
			hasDepth = true
			continue
		}
		state := wgpu.ColorTargetState{
			Format:    ref.Format,
			WriteMask: p.WriteMask(),
		}
		if p.BlendEnabled() {
			state.Blend = p.BlendState()
		}
		targets = append(targets, state)
	}

	descriptor := &wgpu.RenderPipelineDescriptor{
		Label: p.Key() + " Render Pipeline",
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: p.VertexEntry(),
			Buffers:    buffers,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: max(target.SampleCount, 1),
			Mask:  0xFFFFFFFF,
		},
	}
	if p.HasFragment() {
		descriptor.Fragment = &wgpu.FragmentState{
			Module:     module,
			EntryPoint: p.FragmentEntry(),
			Targets:    targets,
		}
	}
	if hasDepth {
		depthCompare := wgpu.CompareFunctionLess
		if !p.DepthTestEnabled() {
			depthCompare = wgpu.CompareFunctionAlways
		}
		descriptor.DepthStencil = &wgpu.DepthStencilState{
			Format:              depthFormat,
			DepthWriteEnabled:   p.DepthWriteEnabled(),
			DepthCompare:        depthCompare,
			DepthBias:           p.DepthBias(),
			DepthBiasSlopeScale: p.DepthBiasSlopeScale(),
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		}
	}

	guard, err := resource.NewGuard(
		func() (*wgpu.RenderPipeline, error) {
			return b.device.CreateRenderPipeline(descriptor)
		},
		func(rp *wgpu.RenderPipeline) error {
			rp.Release()
			return nil
		},
	)
	if err != nil {
		return resource.Pipeline{}, err
	}
	return resource.Pipeline{Guard: guard, Key: p.Key()}, nil
}

func (b *wgpuRendererBackendImpl) CurrentPass() *wgpu.RenderPassEncoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.framePass
}

func (b *wgpuRendererBackendImpl) Transition(t graph.Transition) error {
	// WebGPU performs layout transitions implicitly; the sequencer's
	// transitions carry no work here beyond ordering, which the single
	// command encoder already guarantees. First writes reset the clear flag
	// so BeginPass picks LoadOpClear.
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.From == graph.AccessUndefined {
		b.cleared[t.Slot] = false
	}
	return nil
}

func (b *wgpuRendererBackendImpl) BeginPass(pass string, color []graph.BoundAttachment, depth *graph.BoundAttachment) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass != nil {
		return fmt.Errorf("pass %q begun while a pass is still recording", pass)
	}
	if b.frameEncoder == nil {
		encoder, err := b.device.CreateCommandEncoder(nil)
		if err != nil {
			return err
		}
		b.frameEncoder = encoder
	}

	colorAttachments := make([]wgpu.RenderPassColorAttachment, 0, len(color))
	for _, att := range color {
		native, err := resource.Native[*attachmentTexture](att.Image.Guard)
		if err != nil {
			return fmt.Errorf("attachment %q: %w", att.Slot, err)
		}
		loadOp := wgpu.LoadOpClear
		if b.cleared[att.Slot] {
			loadOp = wgpu.LoadOpLoad
		}
		b.cleared[att.Slot] = true
		colorAttachments = append(colorAttachments, wgpu.RenderPassColorAttachment{
			View:    native.view,
			LoadOp:  loadOp,
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: 0, G: 0, B: 0, A: 1.0,
			},
		})
	}

	descriptor := &wgpu.RenderPassDescriptor{
		Label:            pass,
		ColorAttachments: colorAttachments,
	}
	if depth != nil {
		native, err := resource.Native[*attachmentTexture](depth.Image.Guard)
		if err != nil {
			return fmt.Errorf("attachment %q: %w", depth.Slot, err)
		}
		loadOp := wgpu.LoadOpClear
		if b.cleared[depth.Slot] {
			loadOp = wgpu.LoadOpLoad
		}
		b.cleared[depth.Slot] = true
		descriptor.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            native.view,
			DepthLoadOp:     loadOp,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		}
	}

	b.framePass = b.frameEncoder.BeginRenderPass(descriptor)
	return nil
}

func (b *wgpuRendererBackendImpl) EndPass(pass string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return fmt.Errorf("pass %q ended without a matching begin", pass)
	}
	b.framePass.End()
	b.framePass = nil
	return nil
}

func (b *wgpuRendererBackendImpl) Submit() (common.CompletionToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return 0, errors.New("no recorded commands to submit")
	}

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	for slot := range b.cleared {
		delete(b.cleared, slot)
	}
	if err != nil {
		return 0, err
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	b.frameToken++
	return b.frameToken, nil
}

// Discard drops an aborted frame's recording state: the open pass is ended,
// the encoder's commands are thrown away unsubmitted, and the acquired
// swapchain texture is handed back to the surface without presenting. The
// backend is ready to record the next frame afterwards.
func (b *wgpuRendererBackendImpl) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass != nil {
		b.framePass.End()
		b.framePass = nil
	}
	if b.frameEncoder != nil {
		b.frameEncoder.Release()
		b.frameEncoder = nil
	}
	if b.frameSurface != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
	}
	for slot := range b.cleared {
		delete(b.cleared, slot)
	}
}

func (b *wgpuRendererBackendImpl) Present() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return errors.New("no acquired surface texture to present")
	}
	b.surface.Present()
	b.frameSurface.Release()
	b.frameSurface = nil
	return nil
}
