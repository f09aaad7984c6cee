package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/kilnengine/kiln-go/common"
)

// pipeline is the implementation of the Pipeline interface.
// It is a pure description: the GPU pipeline object it produces lives in the
// resource registry, not here, so descriptions can outlive device loss and be
// re-registered against a fresh device.
type pipeline struct {
	// key is the unique identifier for this pipeline, used for caching and lookups
	key string
	// pass names the render pass this pipeline targets; the pass's declared
	// attachment formats and sample count become the pipeline's color targets
	pass string

	source         string
	vertexEntry    string
	fragmentEntry  string
	vertexLayout   common.VertexLayout
	instanceLayout *common.VertexLayout

	// The following properties configure the fixed-function state during
	// creation and can be toggled/set with the builder options.

	depthTestEnabled    bool
	depthWriteEnabled   bool
	depthBias           int32
	depthBiasSlopeScale float32
	blendEnabled        bool
	cullMode            wgpu.CullMode
	topology            wgpu.PrimitiveTopology
	frontFace           wgpu.FrontFace
	writeMask           wgpu.ColorWriteMask
	blendState          *wgpu.BlendState
}

// Pipeline describes a render pipeline: its WGSL module, entry points, vertex
// layout, target pass, and fixed-function state. It holds all configuration
// required for pipeline creation including depth, blend, cull, and topology
// settings.
type Pipeline interface {
	// Key returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	Key() string

	// Pass returns the name of the render pass this pipeline targets.
	//
	// Returns:
	//   - string: the target pass name
	Pass() string

	// Source returns the WGSL source of the pipeline's shader module.
	Source() string

	// VertexEntry returns the vertex shader entry point name.
	VertexEntry() string

	// FragmentEntry returns the fragment shader entry point name, empty for
	// depth-only pipelines.
	FragmentEntry() string

	// HasFragment reports whether the pipeline has a fragment stage. Depth
	// prepass and shadow pipelines do not.
	HasFragment() bool

	// VertexLayout returns the per-vertex attribute layout.
	VertexLayout() common.VertexLayout

	// InstanceLayout returns the per-instance attribute layout, nil when the
	// pipeline is not instanced.
	InstanceLayout() *common.VertexLayout

	// DepthTestEnabled returns whether depth testing is enabled for this pipeline.
	DepthTestEnabled() bool

	// DepthWriteEnabled returns whether depth writing is enabled for this pipeline.
	DepthWriteEnabled() bool

	// DepthBias returns the depth bias value configured for this pipeline.
	DepthBias() int32

	// DepthBiasSlopeScale returns the depth bias slope scale configured for this pipeline.
	DepthBiasSlopeScale() float32

	// BlendEnabled returns whether blending is enabled for this pipeline.
	BlendEnabled() bool

	// CullMode returns the cull mode configured for this pipeline.
	CullMode() wgpu.CullMode

	// Topology returns the primitive topology configured for this pipeline.
	Topology() wgpu.PrimitiveTopology

	// FrontFace returns the front face winding order configured for this pipeline.
	FrontFace() wgpu.FrontFace

	// WriteMask returns the color write mask configured for this pipeline.
	WriteMask() wgpu.ColorWriteMask

	// BlendState returns the blend state configured for this pipeline, used
	// when blending is enabled.
	BlendState() *wgpu.BlendState
}

var _ Pipeline = &pipeline{}

// NewPipeline is the entry point to create a new Pipeline description. The
// key identifies the pipeline in the registry; pass names the render pass
// whose attachment formats the pipeline must match.
//
// Parameters:
//   - key: the unique key for this pipeline
//   - pass: the target render pass name
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline description with the specified configuration
func NewPipeline(key, pass string, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		key:               key,
		pass:              pass,
		vertexEntry:       "vs_main",
		fragmentEntry:     "fs_main",
		depthTestEnabled:  true,
		depthWriteEnabled: true,
		blendEnabled:      false,
		cullMode:          wgpu.CullModeNone,
		topology:          wgpu.PrimitiveTopologyTriangleList,
		frontFace:         wgpu.FrontFaceCCW,
		writeMask:         wgpu.ColorWriteMaskAll,
		blendState: &wgpu.BlendState{
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
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Key() string {
	return p.key
}

func (p *pipeline) Pass() string {
	return p.pass
}

func (p *pipeline) Source() string {
	return p.source
}

func (p *pipeline) VertexEntry() string {
	return p.vertexEntry
}

func (p *pipeline) FragmentEntry() string {
	return p.fragmentEntry
}

func (p *pipeline) HasFragment() bool {
	return p.fragmentEntry != ""
}

func (p *pipeline) VertexLayout() common.VertexLayout {
	return p.vertexLayout
}

func (p *pipeline) InstanceLayout() *common.VertexLayout {
	return p.instanceLayout
}

func (p *pipeline) DepthTestEnabled() bool {
	return p.depthTestEnabled
}

func (p *pipeline) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipeline) DepthBias() int32 {
	return p.depthBias
}

func (p *pipeline) DepthBiasSlopeScale() float32 {
	return p.depthBiasSlopeScale
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipeline) Topology() wgpu.PrimitiveTopology {
	return p.topology
}

func (p *pipeline) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipeline) WriteMask() wgpu.ColorWriteMask {
	return p.writeMask
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	return p.blendState
}
