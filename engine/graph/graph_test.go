package graph

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
)

func TestBuildReadBeforeWriteFails(t *testing.T) {
	passes := []PassDesc{
		{
			Name:  "combine",
			Reads: []AttachmentRef{{Slot: "albedo", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageInput}},
			Writes: []AttachmentRef{
				{Slot: "combined", Format: wgpu.TextureFormatRGBA16Float, Usage: UsageColor},
			},
		},
		{
			Name: "geometry",
			Writes: []AttachmentRef{
				{Slot: "albedo", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageColor},
			},
		},
	}

	if _, err := Build(passes, nil); !errors.Is(err, ErrDanglingAttachmentRead) {
		t.Errorf("Build with read-before-write = %v, want ErrDanglingAttachmentRead", err)
	}

	// Reordering so the producer comes first makes the same set valid.
	passes[0], passes[1] = passes[1], passes[0]
	g, err := Build(passes, nil)
	if err != nil {
		t.Fatalf("Build after reorder failed: %v", err)
	}
	if g.FinalColor() != "combined" {
		t.Errorf("FinalColor = %q, want combined", g.FinalColor())
	}
}

func TestBuildFormatMismatch(t *testing.T) {
	passes := []PassDesc{
		{
			Name: "geometry",
			Writes: []AttachmentRef{
				{Slot: "normal", Format: wgpu.TextureFormatRGBA16Float, Usage: UsageColor},
			},
		},
		{
			Name: "combine",
			Reads: []AttachmentRef{
				{Slot: "normal", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageInput},
			},
			Writes: []AttachmentRef{
				{Slot: "combined", Format: wgpu.TextureFormatRGBA16Float, Usage: UsageColor},
			},
		},
	}

	if _, err := Build(passes, nil); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("Build with format mismatch = %v, want ErrFormatMismatch", err)
	}
}

func TestBuildRewriteKeepsFormat(t *testing.T) {
	depth := AttachmentRef{Slot: "depth", Format: wgpu.TextureFormatDepth32Float, Usage: UsageDepth}
	passes := []PassDesc{
		{Name: "prepass", Writes: []AttachmentRef{depth}},
		{
			Name: "geometry",
			Writes: []AttachmentRef{
				depth,
				{Slot: "albedo", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageColor},
			},
		},
	}
	if _, err := Build(passes, nil); err != nil {
		t.Fatalf("Build with shared depth failed: %v", err)
	}

	// The geometry pass changing the depth format must fail.
	passes[1].Writes[0].Format = wgpu.TextureFormatDepth24Plus
	if _, err := Build(passes, nil); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("Build with depth format change = %v, want ErrFormatMismatch", err)
	}
}

func TestBuildExternalAttachment(t *testing.T) {
	external := []AttachmentRef{
		{Slot: "swapchain", Format: wgpu.TextureFormatBGRA8Unorm, Usage: UsageColor},
	}
	passes := []PassDesc{
		{
			Name:  "present",
			Reads: []AttachmentRef{{Slot: "swapchain", Format: wgpu.TextureFormatBGRA8Unorm, Usage: UsageInput}},
			Writes: []AttachmentRef{
				{Slot: "out", Format: wgpu.TextureFormatBGRA8Unorm, Usage: UsageColor},
			},
		},
	}

	g, err := Build(passes, external)
	if err != nil {
		t.Fatalf("Build with external read failed: %v", err)
	}
	if !g.External("swapchain") {
		t.Error("swapchain should be external")
	}
	if g.External("out") {
		t.Error("out should not be external")
	}
}

func TestBuildSlotMetadata(t *testing.T) {
	passes := []PassDesc{
		{
			Name: "geometry",
			Writes: []AttachmentRef{
				{Slot: "albedo", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageColor},
			},
			SampleCount: 4,
		},
	}
	g, err := Build(passes, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	format, ok := g.SlotFormat("albedo")
	if !ok || format != wgpu.TextureFormatRGBA8Unorm {
		t.Errorf("SlotFormat(albedo) = %v, %v", format, ok)
	}
	samples, ok := g.SlotSampleCount("albedo")
	if !ok || samples != 4 {
		t.Errorf("SlotSampleCount(albedo) = %d, %v, want 4", samples, ok)
	}
	if _, ok := g.SlotFormat("missing"); ok {
		t.Error("SlotFormat should not know an undeclared slot")
	}
}

func TestDeferredPreset(t *testing.T) {
	g, err := DeferredPasses(4, wgpu.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("DeferredPasses failed: %v", err)
	}

	if len(g.Passes()) != 5 {
		t.Fatalf("preset declares %d passes, want 5", len(g.Passes()))
	}
	if g.FinalColor() != SlotSwapchain {
		t.Errorf("FinalColor = %q, want %q", g.FinalColor(), SlotSwapchain)
	}

	// Geometry slots carry the raster sample count; combine output does not.
	if samples, _ := g.SlotSampleCount(SlotAlbedo); samples != 4 {
		t.Errorf("albedo samples = %d, want 4", samples)
	}
	if samples, _ := g.SlotSampleCount(SlotCombined); samples != 1 {
		t.Errorf("combined samples = %d, want 1", samples)
	}
	if !g.External(SlotSwapchain) {
		t.Error("swapchain should be external")
	}
}
