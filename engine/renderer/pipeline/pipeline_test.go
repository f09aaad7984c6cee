package pipeline

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/kilnengine/kiln-go/common"
)

func TestNewPipelineDefaults(t *testing.T) {
	p := NewPipeline("gbuffer", "gbuffer_write")

	if p.Key() != "gbuffer" || p.Pass() != "gbuffer_write" {
		t.Errorf("Key/Pass = %q/%q", p.Key(), p.Pass())
	}
	if p.VertexEntry() != "vs_main" || p.FragmentEntry() != "fs_main" {
		t.Errorf("default entry points = %q/%q", p.VertexEntry(), p.FragmentEntry())
	}
	if !p.HasFragment() {
		t.Error("default pipeline should have a fragment stage")
	}
	if !p.DepthTestEnabled() || !p.DepthWriteEnabled() {
		t.Error("depth test and write should default on")
	}
	if p.BlendEnabled() {
		t.Error("blending should default off")
	}
	if p.Topology() != wgpu.PrimitiveTopologyTriangleList {
		t.Errorf("default topology = %v", p.Topology())
	}
}

func TestNewPipelineDepthOnly(t *testing.T) {
	p := NewPipeline("prepass", "depth_prepass",
		WithEntryPoints("vs_depth", ""),
		WithCullMode(wgpu.CullModeBack),
	)

	if p.HasFragment() {
		t.Error("depth-only pipeline should not have a fragment stage")
	}
	if p.VertexEntry() != "vs_depth" {
		t.Errorf("VertexEntry = %q", p.VertexEntry())
	}
	if p.CullMode() != wgpu.CullModeBack {
		t.Errorf("CullMode = %v", p.CullMode())
	}
}

func TestNewPipelineLayouts(t *testing.T) {
	vertex := common.VertexLayout{
		Stride: 24,
		Attributes: []common.VertexAttribute{
			{Location: 0, Offset: 0, Format: "float32x3"},
			{Location: 1, Offset: 12, Format: "float32x3"},
		},
	}
	instance := common.VertexLayout{
		Stride:     64,
		Attributes: []common.VertexAttribute{{Location: 2, Offset: 0, Format: "float32x4"}},
	}

	p := NewPipeline("gbuffer", "gbuffer_write",
		WithVertexLayout(vertex),
		WithInstanceLayout(instance),
	)

	if got := p.VertexLayout(); got.Stride != 24 || len(got.Attributes) != 2 {
		t.Errorf("VertexLayout = %+v", got)
	}
	il := p.InstanceLayout()
	if il == nil || il.Stride != 64 {
		t.Errorf("InstanceLayout = %+v", il)
	}

	if NewPipeline("plain", "p").InstanceLayout() != nil {
		t.Error("InstanceLayout should default to nil")
	}
}
