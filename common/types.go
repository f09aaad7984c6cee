// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import "unsafe"

// SliceToBytes reinterprets a slice of fixed-size values as raw bytes for GPU
// upload. The returned slice aliases the input.
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// Matrix4 is a 4x4 transform matrix stored column-major, matching the GPU-side
// layout. The core treats matrices as opaque numeric blocks; constructing and
// composing them is the math layer's concern.
type Matrix4 [16]float32

// IdentityMatrix4 returns the identity transform.
func IdentityMatrix4() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// CameraMatrices holds the per-frame camera transforms supplied by the
// application before pass sequencing begins.
type CameraMatrices struct {
	// View transforms world space into camera space.
	View Matrix4
	// Projection transforms camera space into clip space.
	Projection Matrix4
}

// ShaderStage identifies a pipeline shader stage. Shader compilation and
// reflection happen outside the core; stages are carried as opaque identifiers
// so pipelines can declare which precompiled modules they bind.
type ShaderStage int

const (
	// ShaderStageVertex is the vertex shader stage.
	ShaderStageVertex ShaderStage = iota

	// ShaderStageFragment is the fragment shader stage.
	ShaderStageFragment
)

// VertexAttribute describes a single attribute within a vertex layout.
type VertexAttribute struct {
	// Location is the shader input location for this attribute.
	Location uint32
	// Offset is the byte offset of this attribute within one vertex.
	Offset uint64
	// Format names the attribute's data format using the wgpu vertex format
	// string spelling (e.g. "float32x3").
	Format string
}

// VertexLayout describes the memory layout of one vertex buffer as supplied by
// the asset/geometry layer. The core forwards it to pipeline creation without
// interpreting it.
type VertexLayout struct {
	// Stride is the byte distance between consecutive vertices.
	Stride uint64
	// Attributes lists the attributes in this buffer.
	Attributes []VertexAttribute
}

// CompletionToken orders GPU work completion relative to CPU-side resource
// destruction. Tokens are issued by the command layer on submission and retire
// monotonically: retiring token N implies all work submitted at or before N
// has finished executing on the GPU.
type CompletionToken uint64
