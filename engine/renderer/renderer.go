package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/kilnengine/kiln-go/common"
	"github.com/kilnengine/kiln-go/engine/graph"
	"github.com/kilnengine/kiln-go/engine/renderer/pipeline"
	"github.com/kilnengine/kiln-go/engine/resource"
	"github.com/kilnengine/kiln-go/engine/window"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	registry  resource.Registry
	reclaimer *resource.Reclaimer

	graph     *graph.Graph
	sequencer graph.Sequencer

	pipelineCache map[string]resource.Handle[resource.Pipeline]

	width, height int

	backendType RendererBackendType
	backend     RendererBackend

	// lastToken is the completion token of the most recently submitted frame.
	// With one frame in flight, submitting frame N means frame N-1's commands
	// have retired, which releases its deferred destroys.
	lastToken common.CompletionToken

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingReclaimer     *resource.Reclaimer
}

// Renderer ties the resource registry, the render graph, and the GPU backend
// into one frame loop. It owns attachment lifetimes: LoadGraph allocates the
// graph's attachment images, Resize reallocates them (invalidating and
// reissuing their handles), and destroyed GPU objects are reclaimed only once
// the frames still using them have completed.
type Renderer interface {
	// Registry returns the resource registry all handles resolve through.
	Registry() resource.Registry

	// Reclaimer returns the deferred-destruction queue frames retire into.
	Reclaimer() *resource.Reclaimer

	// Graph returns the currently loaded render graph, nil before LoadGraph.
	Graph() *graph.Graph

	// LoadGraph installs a validated render graph: it allocates an attachment
	// image for every non-external slot at the current surface size, binds
	// them into a fresh sequencer, and discards any previously loaded graph's
	// attachments.
	//
	// Parameters:
	//   - g: the validated graph to install
	//
	// Returns:
	//   - error: an error if attachment allocation fails
	LoadGraph(g *graph.Graph) error

	// Bind attaches a command-emission callback to the named pass of the
	// loaded graph.
	//
	// Parameters:
	//   - pass: the pass name from the graph
	//   - emit: the callback recording the pass's commands
	Bind(pass string, emit graph.EmitFunc)

	// Pipeline retrieves the registry handle of a registered pipeline.
	//
	// Parameters:
	//   - key: the unique identifier the pipeline was registered under
	//
	// Returns:
	//   - resource.Handle[resource.Pipeline]: the pipeline's handle
	//   - bool: false if no pipeline is registered under the key
	Pipeline(key string) (resource.Handle[resource.Pipeline], bool)

	// RegisterPipelines creates the GPU pipeline objects for one or more
	// pipeline descriptions and registers them in the resource registry.
	// Pipelines whose keys are already registered are skipped to avoid
	// duplicate GPU resource creation.
	//
	// Parameters:
	//   - pipelines: the pipeline descriptions to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// CreateMesh uploads vertex and index data and registers the resulting
	// mesh in the registry.
	//
	// Parameters:
	//   - label: the debug label for the GPU buffers
	//   - vertexData: the raw vertex bytes
	//   - indexData: the raw uint32 index bytes
	//   - indexCount: the number of indices, used for draw calls
	//   - layout: the vertex attribute layout of vertexData
	//
	// Returns:
	//   - resource.Handle[resource.Mesh]: the mesh's handle
	//   - error: an error if buffer creation fails
	CreateMesh(label string, vertexData, indexData []byte, indexCount uint32, layout common.VertexLayout) (resource.Handle[resource.Mesh], error)

	// DrawMesh encodes one indexed draw of a Draw's mesh with its pipeline
	// into the pass currently being recorded. Intended to be called from a
	// pass's emit callback.
	//
	// Parameters:
	//   - d: the draw whose mesh and pipeline handles to resolve and encode
	//
	// Returns:
	//   - error: an error if a handle is stale or no pass is recording
	DrawMesh(d graph.Draw) error

	// RunFrame renders and presents one frame: it retires the previous
	// frame's completion token, acquires the swapchain image into the graph's
	// external slot, walks the graph through the sequencer, and presents.
	//
	// Parameters:
	//   - inputs: the frame's camera and draw list
	//
	// Returns:
	//   - error: the sequencer's pass failure, or acquire/present errors; the
	//     renderer remains usable for the next frame
	RunFrame(inputs *graph.FrameInputs) error

	// Resize configures the surface for a new size and reallocates every
	// graph attachment at that size. The old attachment images are destroyed
	// once the last frame using them completes; their handles go stale
	// immediately and the slots are rebound to fresh handles.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	//
	// Returns:
	//   - error: an error if attachment reallocation fails
	Resize(width, height int) error

	// SurfaceFormat returns the texel format the window surface was
	// configured with, for declaring the graph's external swapchain slot.
	SurfaceFormat() wgpu.TextureFormat

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	// A call to Resize is required after changing this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// CurrentPass returns the encoder of the render pass currently being
	// recorded, for emit callbacks that encode commands directly. Returns nil
	// outside a pass.
	CurrentPass() *wgpu.RenderPassEncoder

	// Shutdown retires all outstanding completion tokens and blocks until
	// every deferred destroy has run.
	Shutdown()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer instance with the specified backend type,
// targeting the given window's surface.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - win: the window whose surface the renderer presents to
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
func NewRenderer(backendType RendererBackendType, win window.Window, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]resource.Handle[resource.Pipeline]),
		backendType:   backendType,
		width:         win.Width(),
		height:        win.Height(),
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	r.reclaimer = r.pendingReclaimer
	if r.reclaimer == nil {
		r.reclaimer = resource.NewReclaimer()
	}
	r.registry = resource.NewRegistry(resource.WithReclaimer(r.reclaimer))

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		r.backend = newWGPURendererBackend(win.SurfaceDescriptor(), r.forceFallbackAdapter)
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}

	r.backend.ConfigureSurface(r.width, r.height)
	return r
}

func (r *renderer) Registry() resource.Registry {
	return r.registry
}

func (r *renderer) Reclaimer() *resource.Reclaimer {
	return r.reclaimer
}

func (r *renderer) Graph() *graph.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph
}

func (r *renderer) LoadGraph(g *graph.Graph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Attachments of a previously loaded graph are orphaned here; destroy
	// them once the last submitted frame completes.
	if r.sequencer != nil {
		r.destroyAttachmentsLocked()
	}

	r.graph = g
	r.sequencer = graph.NewSequencer(g, r.registry, r.backend)
	return r.allocateAttachmentsLocked()
}

func (r *renderer) Bind(pass string, emit graph.EmitFunc) {
	r.mu.Lock()
	seq := r.sequencer
	r.mu.Unlock()
	if seq != nil {
		seq.Bind(pass, emit)
	}
}

func (r *renderer) Pipeline(key string) (resource.Handle[resource.Pipeline], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pipelineCache[key]
	return h, ok
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		return errors.New("no graph loaded; call LoadGraph before RegisterPipelines")
	}
	for _, p := range pipelines {
		key := p.Key()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		created, err := r.backend.CreateRenderPipeline(p, r.graph)
		if err != nil {
			return fmt.Errorf("registering pipeline %q: %w", key, err)
		}
		r.pipelineCache[key] = r.registry.CreatePipeline(created)
	}
	return nil
}

func (r *renderer) CreateMesh(label string, vertexData, indexData []byte, indexCount uint32, layout common.VertexLayout) (resource.Handle[resource.Mesh], error) {
	vtx, idx, err := r.backend.CreateMeshBuffers(label, vertexData, indexData)
	if err != nil {
		return resource.Handle[resource.Mesh]{}, err
	}
	return r.registry.CreateMesh(resource.Mesh{
		VertexBuffer: r.registry.CreateBuffer(vtx),
		IndexBuffer:  r.registry.CreateBuffer(idx),
		IndexCount:   indexCount,
		Layout:       layout,
	}), nil
}

func (r *renderer) DrawMesh(d graph.Draw) error {
	pass := r.backend.CurrentPass()
	if pass == nil {
		return errors.New("DrawMesh called outside a recording pass")
	}

	set, err := r.registry.Borrow(resource.NewBatch().
		AddPipeline(d.Pipeline).
		AddMesh(d.Mesh))
	if err != nil {
		return err
	}
	rp, err := resource.Native[*wgpu.RenderPipeline](set.Pipelines[0].Guard)
	if err != nil {
		return err
	}
	mesh := set.Meshes[0]

	buffers, err := r.registry.Borrow(resource.NewBatch().
		AddBuffer(mesh.VertexBuffer).
		AddBuffer(mesh.IndexBuffer))
	if err != nil {
		return err
	}
	vtx, err := resource.Native[*wgpu.Buffer](buffers.Buffers[0].Guard)
	if err != nil {
		return err
	}
	idx, err := resource.Native[*wgpu.Buffer](buffers.Buffers[1].Guard)
	if err != nil {
		return err
	}

	pass.SetPipeline(rp)
	pass.SetVertexBuffer(0, vtx, 0, wgpu.WholeSize)
	pass.SetIndexBuffer(idx, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	pass.DrawIndexed(mesh.IndexCount, 1, 0, 0, 0)
	return nil
}

func (r *renderer) RunFrame(inputs *graph.FrameInputs) error {
	r.mu.Lock()
	seq := r.sequencer
	g := r.graph
	last := r.lastToken
	r.mu.Unlock()

	if seq == nil {
		return errors.New("no graph loaded; call LoadGraph before RunFrame")
	}

	// The previous frame has completed by the time the next one is recorded
	// (single frame in flight), so its deferred destroys can run now.
	r.reclaimer.Retire(last)

	// Route the swapchain image into the graph's external slot for the
	// duration of this frame.
	surfaceSlot := ""
	for _, slot := range g.Slots() {
		if g.External(slot) {
			surfaceSlot = slot
			break
		}
	}

	var surfaceHandle resource.Handle[resource.Image]
	if surfaceSlot != "" {
		img, err := r.backend.AcquireSurfaceImage()
		if err != nil {
			return fmt.Errorf("acquiring swapchain image: %w", err)
		}
		surfaceHandle = r.registry.CreateImage(img)
		seq.BindAttachment(surfaceSlot, surfaceHandle)
	}

	token, err := seq.RunFrame(inputs)
	if err != nil {
		if surfaceSlot != "" {
			// The sequencer discarded the aborted frame's commands and handed
			// the texture back to the surface, so no recorded work references
			// the swapchain view and it can be released immediately.
			_ = r.registry.DestroyImage(surfaceHandle, 0)
		}
		return err
	}

	if err := r.backend.Present(); err != nil {
		return err
	}
	if surfaceSlot != "" {
		// The view is released once this frame's commands complete.
		_ = r.registry.DestroyImage(surfaceHandle, token)
	}

	r.mu.Lock()
	r.lastToken = token
	r.mu.Unlock()
	return nil
}

func (r *renderer) Resize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.width = width
	r.height = height
	r.backend.ConfigureSurface(width, height)

	if r.sequencer == nil {
		return nil
	}
	r.destroyAttachmentsLocked()
	return r.allocateAttachmentsLocked()
}

func (r *renderer) SurfaceFormat() wgpu.TextureFormat {
	return r.backend.SurfaceFormat()
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) CurrentPass() *wgpu.RenderPassEncoder {
	return r.backend.CurrentPass()
}

func (r *renderer) Shutdown() {
	r.mu.Lock()
	if r.sequencer != nil {
		r.destroyAttachmentsLocked()
	}
	r.mu.Unlock()
	r.reclaimer.Drain()
}

// allocateAttachmentsLocked creates an attachment image for every non-external
// slot of the loaded graph at the current surface size and binds it.
func (r *renderer) allocateAttachmentsLocked() error {
	for _, slot := range r.graph.Slots() {
		if r.graph.External(slot) {
			continue
		}
		format, _ := r.graph.SlotFormat(slot)
		samples, _ := r.graph.SlotSampleCount(slot)
		img, err := r.backend.CreateAttachmentImage(slot, format, uint32(r.width), uint32(r.height), samples)
		if err != nil {
			return fmt.Errorf("allocating attachment %q: %w", slot, err)
		}
		r.sequencer.BindAttachment(slot, r.registry.CreateImage(img))
	}
	return nil
}

// destroyAttachmentsLocked destroys the bound attachment images of the loaded
// graph. Handles go stale immediately; the GPU textures are released once the
// last submitted frame's token retires.
func (r *renderer) destroyAttachmentsLocked() {
	for _, slot := range r.graph.Slots() {
		if r.graph.External(slot) {
			continue
		}
		if h, ok := r.sequencer.Attachment(slot); ok {
			_ = r.registry.DestroyImage(h, r.lastToken)
		}
	}
}
