package renderer

import (
	"github.com/kilnengine/kiln-go/engine/resource"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingPresentMode = &mode
	}
}

// WithReclaimer supplies a shared deferred-destruction queue instead of the
// renderer creating its own. Useful when multiple systems defer destroys
// against the same frame tokens.
//
// Parameters:
//   - rec: the Reclaimer to retire frame tokens into
//
// Returns:
//   - RendererBuilderOption: a function that applies the reclaimer option to a renderer
func WithReclaimer(rec *resource.Reclaimer) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingReclaimer = rec
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). Useful for benchmarking CPU vs GPU rendering performance.
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}
