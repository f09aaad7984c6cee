// Package graph describes the deferred rendering pipeline as data: an ordered
// list of pass descriptors, each declaring which attachments it reads and
// writes, validated once at build time and walked by the Sequencer every
// frame.
package graph

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// Graph-construction errors are fatal to pipeline setup: a graph that fails
// to build must never run a frame.
var (
	// ErrDanglingAttachmentRead is returned when a pass reads an attachment
	// that no earlier pass produced and that is not declared external.
	ErrDanglingAttachmentRead = errors.New("graph: dangling attachment read")

	// ErrFormatMismatch is returned when a pass declares a format for an
	// attachment that disagrees with the format its producer declared.
	ErrFormatMismatch = errors.New("graph: attachment format mismatch")

	// ErrPassExecutionFailure wraps any per-frame failure; it carries the
	// pass name and attachment slot that failed. It aborts the current frame
	// only — the sequencer remains usable for the next one.
	ErrPassExecutionFailure = errors.New("graph: pass execution failure")
)

// Usage is the role an attachment plays within a pass.
type Usage uint8

const (
	// UsageColor marks a color render target.
	UsageColor Usage = 1 << iota

	// UsageDepth marks a depth attachment.
	UsageDepth

	// UsageInput marks an attachment sampled as a per-fragment input in the
	// consuming pass.
	UsageInput
)

// AttachmentRef names one logical attachment slot together with the format
// and role a pass expects it in.
type AttachmentRef struct {
	// Slot is the logical attachment id, e.g. "albedo" or "depth".
	Slot string

	// Format is the texel format the pass requires for this slot.
	Format wgpu.TextureFormat

	// Usage is the role the attachment plays in this pass.
	Usage Usage
}

// PassDesc declares one rendering pass: its attachment dependencies and its
// raster sample count. Pass declarations are data, not code — a pass set can
// be constructed programmatically or loaded from configuration without
// recompiling the sequencer.
type PassDesc struct {
	// Name identifies the pass; emit callbacks are bound against it.
	Name string

	// Reads are the attachments the pass consumes. Every read must be
	// produced by an earlier pass or declared external at build time.
	Reads []AttachmentRef

	// Writes are the attachments the pass produces.
	Writes []AttachmentRef

	// SampleCount is the raster sample count of the pass; 0 means 1.
	SampleCount uint32
}

// Multisampled reports whether the pass rasterizes more than one sample per
// pixel. Multisampled attachments are never auto-resolved: consumers load each
// raster sample so custom resolve logic (e.g. nearest-depth selection) stays
// possible.
func (p PassDesc) Multisampled() bool {
	return p.SampleCount > 1
}

func (p PassDesc) samples() uint32 {
	return max(p.SampleCount, 1)
}

// slotInfo is the build-time record for one logical attachment.
type slotInfo struct {
	format      wgpu.TextureFormat
	sampleCount uint32
	external    bool
	producer    string // pass name, empty for external slots
}

// Graph is a validated, immutable pass sequence. Build it once at pipeline
// setup; attachments it references are (re)allocated on resize, which
// invalidates and reissues their handles without touching the graph itself.
type Graph struct {
	passes []PassDesc
	slots  map[string]slotInfo
	final  string
}

// Build validates the pass sequence and produces an immutable Graph.
//
// Every attachment read by a pass must have been written by an earlier pass
// or appear in external (inputs supplied before pass 0, such as the swapchain
// image). Reads and rewrites must agree with the producer's declared format.
//
// Parameters:
//   - passes: the pass descriptors, in execution order
//   - external: attachments supplied from outside the graph
//
// Returns:
//   - *Graph: the validated graph
//   - error: ErrDanglingAttachmentRead or ErrFormatMismatch with pass and
//     slot context
func Build(passes []PassDesc, external []AttachmentRef) (*Graph, error) {
	slots := make(map[string]slotInfo, len(external)+len(passes)*2)
	for _, ref := range external {
		slots[ref.Slot] = slotInfo{format: ref.Format, sampleCount: 1, external: true}
	}

	final := ""
	for _, pass := range passes {
		for _, ref := range pass.Reads {
			info, ok := slots[ref.Slot]
			if !ok {
				return nil, fmt.Errorf("%w: pass %q reads %q, which no earlier pass writes",
					ErrDanglingAttachmentRead, pass.Name, ref.Slot)
			}
			if info.format != ref.Format {
				return nil, fmt.Errorf("%w: pass %q reads %q as format %d, produced as %d",
					ErrFormatMismatch, pass.Name, ref.Slot, ref.Format, info.format)
			}
		}
		for _, ref := range pass.Writes {
			if info, ok := slots[ref.Slot]; ok {
				// Rewriting an existing slot (e.g. the depth attachment
				// across prepass and geometry pass) must keep its format.
				if info.format != ref.Format {
					return nil, fmt.Errorf("%w: pass %q writes %q as format %d, previously %d",
						ErrFormatMismatch, pass.Name, ref.Slot, ref.Format, info.format)
				}
				continue
			}
			slots[ref.Slot] = slotInfo{
				format:      ref.Format,
				sampleCount: pass.samples(),
				producer:    pass.Name,
			}
		}
		// The final color output is the last color write in declared order.
		for _, ref := range pass.Writes {
			if ref.Usage&UsageColor != 0 {
				final = ref.Slot
			}
		}
	}

	out := make([]PassDesc, len(passes))
	copy(out, passes)
	return &Graph{passes: out, slots: slots, final: final}, nil
}

// Passes returns the pass descriptors in execution order. The returned slice
// must not be modified.
func (g *Graph) Passes() []PassDesc {
	return g.passes
}

// Slots returns the logical attachment ids known to the graph, externals
// included.
func (g *Graph) Slots() []string {
	out := make([]string, 0, len(g.slots))
	for slot := range g.slots {
		out = append(out, slot)
	}
	return out
}

// SlotFormat returns the format a slot was produced (or externally declared)
// with.
//
// Parameters:
//   - slot: the logical attachment id
//
// Returns:
//   - wgpu.TextureFormat: the slot's format
//   - bool: false if the graph does not know the slot
func (g *Graph) SlotFormat(slot string) (wgpu.TextureFormat, bool) {
	info, ok := g.slots[slot]
	return info.format, ok
}

// SlotSampleCount returns the raster sample count a slot is produced at.
func (g *Graph) SlotSampleCount(slot string) (uint32, bool) {
	info, ok := g.slots[slot]
	return info.sampleCount, ok
}

// External reports whether a slot is supplied from outside the graph.
func (g *Graph) External(slot string) bool {
	return g.slots[slot].external
}

// FinalColor returns the logical slot holding the last color output of the
// graph — the resolved image the presentation layer consumes.
func (g *Graph) FinalColor() string {
	return g.final
}
