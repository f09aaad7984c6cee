package resource

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/kilnengine/kiln-go/common"
)

// The Registry manages a closed, compile-time-known set of resource kinds.
// Each kind pairs the lifecycle guard owning the native object with the
// metadata the sequencer and pipeline layers need without touching the
// native API.

// Image is a GPU image resource. Pass attachments, sampled textures, and
// multisample targets are all Images; the Usage on the graph side decides how
// a pass binds one.
type Image struct {
	// Guard owns the native texture and its view.
	Guard *Guard

	// Format is the texel format declared at creation time. The sequencer
	// validates it against the format a pass declared for the attachment.
	Format wgpu.TextureFormat

	// Width and Height are the image extent in texels.
	Width, Height uint32

	// SampleCount is 1 for single-sampled images, >1 for multisample targets.
	SampleCount uint32
}

// Buffer is a GPU buffer resource (vertex, index, uniform, or storage).
type Buffer struct {
	// Guard owns the native buffer.
	Guard *Guard

	// Size is the buffer length in bytes.
	Size uint64

	// Usage carries the native usage flags the buffer was created with.
	Usage wgpu.BufferUsage
}

// Pipeline is a compiled GPU pipeline registered under a stable key.
type Pipeline struct {
	// Guard owns the native pipeline object.
	Guard *Guard

	// Key is the unique identifier the pipeline was registered under.
	Key string
}

// Sampler is a GPU sampler resource.
type Sampler struct {
	// Guard owns the native sampler.
	Guard *Guard
}

// Mesh groups the vertex and index buffers of one drawable, as registered by
// the asset/geometry layer.
type Mesh struct {
	// VertexBuffer and IndexBuffer refer to Buffers in the same registry.
	VertexBuffer Handle[Buffer]
	IndexBuffer  Handle[Buffer]

	// IndexCount is the number of indices to draw.
	IndexCount uint32

	// Layout describes the vertex buffer memory layout.
	Layout common.VertexLayout
}

// Material groups the shading inputs of one drawable: sampled textures, a
// sampler, and the native binding object the command layer consumes.
type Material struct {
	// Guard owns the native binding object (descriptor-set-like), if one has
	// been created. Nil until the command layer binds the material.
	Guard *Guard

	// Textures are the images this material samples.
	Textures []Handle[Image]

	// Sampler is the sampler used for the material's textures.
	Sampler Handle[Sampler]
}
