package graph

import "github.com/cogentcore/webgpu/wgpu"

// Logical slot names of the stock deferred pipeline.
const (
	SlotDepth     = "depth"
	SlotAlbedo    = "albedo"
	SlotNormal    = "normal"
	SlotPosition  = "position"
	SlotCombined  = "combined"
	SlotSwapchain = "swapchain"
)

// G-buffer texel formats. Normals and positions need the range and precision
// of half floats; albedo is plain 8-bit color.
const (
	FormatDepth    = wgpu.TextureFormatDepth32Float
	FormatAlbedo   = wgpu.TextureFormatRGBA8Unorm
	FormatNormal   = wgpu.TextureFormatRGBA16Float
	FormatPosition = wgpu.TextureFormatRGBA16Float
	FormatCombined = wgpu.TextureFormatRGBA16Float
)

// Pass names of the stock deferred pipeline, for Bind calls.
const (
	PassDepthPrepass   = "depth_prepass"
	PassGBufferWrite   = "gbuffer_write"
	PassGBufferCombine = "gbuffer_combine"
	PassSkybox         = "skybox"
	PassPresent        = "present"
)

// DeferredPasses builds the stock deferred pipeline: a depth prepass, the
// G-buffer geometry pass, a combine pass lighting the G-buffer, a skybox pass
// filling the untouched background, and a present pass blitting the combined
// image to the swapchain.
//
// The prepass and geometry pass rasterize at sampleCount; the combine pass
// reads the multisampled G-buffer per sample and resolves to a single-sample
// combined image itself, so edge shading can pick samples instead of
// averaging them.
//
// Parameters:
//   - sampleCount: raster samples for the geometry passes; 0 or 1 disables
//     multisampling
//   - surfaceFormat: the swapchain's texel format
//
// Returns:
//   - *Graph: the validated deferred graph
//   - error: only if the preset's declarations are inconsistent
func DeferredPasses(sampleCount uint32, surfaceFormat wgpu.TextureFormat) (*Graph, error) {
	depth := AttachmentRef{Slot: SlotDepth, Format: FormatDepth, Usage: UsageDepth}
	albedo := AttachmentRef{Slot: SlotAlbedo, Format: FormatAlbedo, Usage: UsageColor}
	normal := AttachmentRef{Slot: SlotNormal, Format: FormatNormal, Usage: UsageColor}
	position := AttachmentRef{Slot: SlotPosition, Format: FormatPosition, Usage: UsageColor}
	combined := AttachmentRef{Slot: SlotCombined, Format: FormatCombined, Usage: UsageColor}
	swapchain := AttachmentRef{Slot: SlotSwapchain, Format: surfaceFormat, Usage: UsageColor}

	asInput := func(ref AttachmentRef) AttachmentRef {
		ref.Usage = UsageInput
		return ref
	}

	passes := []PassDesc{
		{
			Name:        PassDepthPrepass,
			Writes:      []AttachmentRef{depth},
			SampleCount: sampleCount,
		},
		{
			Name:        PassGBufferWrite,
			Writes:      []AttachmentRef{albedo, normal, position, depth},
			SampleCount: sampleCount,
		},
		{
			Name:   PassGBufferCombine,
			Reads:  []AttachmentRef{asInput(albedo), asInput(normal), asInput(position), asInput(depth)},
			Writes: []AttachmentRef{combined},
		},
		{
			Name:   PassSkybox,
			Reads:  []AttachmentRef{asInput(depth)},
			Writes: []AttachmentRef{combined},
		},
		{
			Name:   PassPresent,
			Reads:  []AttachmentRef{asInput(combined)},
			Writes: []AttachmentRef{swapchain},
		},
	}

	return Build(passes, []AttachmentRef{swapchain})
}
