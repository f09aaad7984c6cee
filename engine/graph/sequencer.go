package graph

import (
	"fmt"
	"sync"

	"github.com/kilnengine/kiln-go/common"
	"github.com/kilnengine/kiln-go/engine/resource"
)

// FrameState tracks where the sequencer is within one frame's pass walk.
type FrameState int

const (
	// FrameIdle means no frame is in flight.
	FrameIdle FrameState = iota

	// FrameRecording means passes are being walked in declared order.
	FrameRecording

	// FrameResolved means all passes completed and the final color output is
	// ready for presentation.
	FrameResolved

	// FramePresented means the frame's commands were submitted; the next
	// RunFrame returns the sequencer to FrameIdle.
	FramePresented
)

// AccessMode is the access state of an attachment between passes. The
// sequencer issues a Transition whenever a pass needs an attachment in a
// different mode than the previous pass left it in.
type AccessMode int

const (
	// AccessUndefined is the state of every attachment at frame start;
	// transitioning out of it discards previous contents.
	AccessUndefined AccessMode = iota

	// AccessColorWrite marks the attachment as a color render target.
	AccessColorWrite

	// AccessDepthWrite marks the attachment as a depth attachment.
	AccessDepthWrite

	// AccessInputRead marks the attachment as a per-fragment shader input.
	AccessInputRead

	// AccessPresent marks the attachment as handed to the presentation layer.
	AccessPresent
)

// Transition orders one attachment's move between access modes. With an
// explicit API this becomes a barrier/layout transition; the sink owns the
// mapping.
type Transition struct {
	Slot string
	From AccessMode
	To   AccessMode
}

// BoundAttachment is an attachment resolved for the current pass: the logical
// slot, the validated handle, and the live image it currently resolves to.
type BoundAttachment struct {
	// Slot is the logical attachment id.
	Slot string

	// Handle is the registry handle the slot is currently bound to.
	Handle resource.Handle[resource.Image]

	// Image is the resolved resource; valid only within the current pass.
	Image *resource.Image

	// Usage is the role the attachment plays in this pass.
	Usage Usage

	// PerSample is set on reads of multisampled attachments: the consumer
	// must load each raster sample itself. There is no implicit single-sample
	// resolve, so custom resolve logic (e.g. nearest-depth sample selection)
	// remains possible.
	PerSample bool
}

// Draw is one drawable submitted for the frame: handles registered by the
// asset layer plus the object's model transform.
type Draw struct {
	Pipeline resource.Handle[resource.Pipeline]
	Mesh     resource.Handle[resource.Mesh]
	Material resource.Handle[resource.Material]
	Model    common.Matrix4
}

// FrameInputs carries the per-frame data the application supplies before pass
// sequencing begins.
type FrameInputs struct {
	// Camera holds the frame's view and projection transforms.
	Camera common.CameraMatrices

	// Draws lists the drawables for this frame.
	Draws []Draw
}

// PassContext is handed to a pass's emit callback with the attachments
// already validated and bound.
type PassContext struct {
	// Pass is the executing pass's name.
	Pass string

	// Reads and Writes are the bound attachments in declaration order.
	Reads  []BoundAttachment
	Writes []BoundAttachment

	// Inputs is the frame's input set.
	Inputs *FrameInputs

	// Registry resolves the mesh/material/pipeline handles in Inputs.
	Registry resource.Registry
}

// EmitFunc records one pass's GPU commands. The shader/command layer supplies
// one per pass; the sequencer only binds attachments and never interprets
// shading code.
type EmitFunc func(ctx *PassContext) error

// CommandSink is the narrow contract to the layer that actually issues GPU
// commands. The sequencer tells it when passes begin and end and which
// transitions separate them; Submit hands the recorded commands to the queue
// and returns the completion token that orders deferred destruction.
type CommandSink interface {
	// Transition moves an attachment between access modes.
	Transition(t Transition) error

	// BeginPass starts recording a pass targeting the given color and depth
	// attachments. depth is nil for color-only passes.
	BeginPass(pass string, color []BoundAttachment, depth *BoundAttachment) error

	// EndPass finishes recording the named pass.
	EndPass(pass string) error

	// Submit submits the frame's recorded commands and returns the frame's
	// completion token.
	Submit() (common.CompletionToken, error)

	// Discard abandons the frame being recorded after a pass failure: any
	// open pass is ended, recorded commands are dropped without submission,
	// and acquired presentation resources are handed back. The sink must
	// accept BeginPass again afterwards.
	Discard()
}

// sequencer is the implementation of the Sequencer interface.
type sequencer struct {
	mu *sync.Mutex

	graph    *Graph
	registry resource.Registry
	sink     CommandSink

	emits    map[string]EmitFunc
	bindings map[string]resource.Handle[resource.Image]

	state  FrameState
	access map[string]AccessMode
}

// Sequencer walks a validated Graph once per frame, in declared order,
// resolving each pass's attachments through the Registry, issuing the
// transitions between passes, and invoking the bound command-emission
// callbacks. A failure in any pass aborts the remainder of the frame and
// reports which pass and attachment failed; partially issued passes are not
// rolled back, and the sequencer is usable again for the next frame.
type Sequencer interface {
	// Bind attaches a command-emission callback to the named pass. Passes
	// without a callback fail frame execution, not graph construction.
	//
	// Parameters:
	//   - pass: the pass name from the graph
	//   - emit: the callback recording the pass's commands
	Bind(pass string, emit EmitFunc)

	// BindAttachment routes a logical attachment slot to a registry image.
	// Rebinding is how resize works: the old image's handle is destroyed,
	// a new one is created, and the slot is pointed at it.
	//
	// Parameters:
	//   - slot: the logical attachment id
	//   - h: the image handle backing the slot this frame onward
	BindAttachment(slot string, h resource.Handle[resource.Image])

	// Attachment returns the handle a slot is currently bound to.
	//
	// Returns:
	//   - resource.Handle[resource.Image]: the bound handle
	//   - bool: false if the slot is unbound
	Attachment(slot string) (resource.Handle[resource.Image], bool)

	// FinalColor returns the handle of the graph's final resolved color
	// attachment, for the presentation layer.
	FinalColor() (resource.Handle[resource.Image], bool)

	// State returns the sequencer's current frame state.
	State() FrameState

	// RunFrame executes every pass in order against the given inputs and
	// submits the recorded commands.
	//
	// Parameters:
	//   - inputs: the frame's camera and draw list
	//
	// Returns:
	//   - common.CompletionToken: the submission's completion token
	//   - error: ErrPassExecutionFailure with pass/attachment context; the
	//     frame is aborted but the sequencer stays usable
	RunFrame(inputs *FrameInputs) (common.CompletionToken, error)
}

var _ Sequencer = &sequencer{}

// NewSequencer creates a Sequencer for a built graph.
//
// Parameters:
//   - g: the validated render graph
//   - reg: the registry resolving attachment handles
//   - sink: the command layer contract
//
// Returns:
//   - Sequencer: the new sequencer, in FrameIdle
func NewSequencer(g *Graph, reg resource.Registry, sink CommandSink) Sequencer {
	return &sequencer{
		mu:       &sync.Mutex{},
		graph:    g,
		registry: reg,
		sink:     sink,
		emits:    make(map[string]EmitFunc),
		bindings: make(map[string]resource.Handle[resource.Image]),
		state:    FrameIdle,
	}
}

func (s *sequencer) Bind(pass string, emit EmitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emits[pass] = emit
}

func (s *sequencer) BindAttachment(slot string, h resource.Handle[resource.Image]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[slot] = h
}

func (s *sequencer) Attachment(slot string) (resource.Handle[resource.Image], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.bindings[slot]
	return h, ok
}

func (s *sequencer) FinalColor() (resource.Handle[resource.Image], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.bindings[s.graph.FinalColor()]
	return h, ok
}

func (s *sequencer) State() FrameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sequencer) RunFrame(inputs *FrameInputs) (common.CompletionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A presented frame has been handed off; the next RunFrame starts fresh.
	if s.state == FramePresented {
		s.state = FrameIdle
	}
	if s.state != FrameIdle {
		return 0, fmt.Errorf("%w: frame already in flight (state %d)", ErrPassExecutionFailure, s.state)
	}
	s.state = FrameRecording
	// Access state restarts every frame: the first use of each attachment
	// transitions out of AccessUndefined, discarding stale contents.
	s.access = make(map[string]AccessMode, len(s.bindings))

	for _, pass := range s.graph.Passes() {
		if err := s.runPass(pass, inputs); err != nil {
			return 0, s.abort(err)
		}
	}
	s.state = FrameResolved

	// Hand the final color output to the presentation layer.
	if final := s.graph.FinalColor(); final != "" {
		if err := s.transition(final, AccessPresent); err != nil {
			return 0, s.abort(s.failf(final, "", err))
		}
	}

	token, err := s.sink.Submit()
	if err != nil {
		return 0, s.abort(fmt.Errorf("%w: submit: %w", ErrPassExecutionFailure, err))
	}
	s.state = FramePresented
	return token, nil
}

// abort discards the partially recorded frame so the sink is left with no
// open pass and no stale commands, then returns the sequencer to idle. The
// frame's error passes through unchanged.
func (s *sequencer) abort(err error) error {
	s.sink.Discard()
	s.state = FrameIdle
	return err
}

func (s *sequencer) runPass(pass PassDesc, inputs *FrameInputs) error {
	reads, err := s.bindRefs(pass, pass.Reads)
	if err != nil {
		return err
	}
	writes, err := s.bindRefs(pass, pass.Writes)
	if err != nil {
		return err
	}

	// Move every attachment into the access mode this pass requires.
	for i := range reads {
		if err := s.transition(reads[i].Slot, AccessInputRead); err != nil {
			return s.failf(pass.Name, reads[i].Slot, err)
		}
	}
	var depth *BoundAttachment
	var color []BoundAttachment
	for i := range writes {
		to := AccessColorWrite
		if writes[i].Usage&UsageDepth != 0 {
			to = AccessDepthWrite
			depth = &writes[i]
		} else {
			color = append(color, writes[i])
		}
		if err := s.transition(writes[i].Slot, to); err != nil {
			return s.failf(pass.Name, writes[i].Slot, err)
		}
	}

	emit, ok := s.emits[pass.Name]
	if !ok {
		return s.failf(pass.Name, "", fmt.Errorf("no emit callback bound"))
	}

	if err := s.sink.BeginPass(pass.Name, color, depth); err != nil {
		return s.failf(pass.Name, "", err)
	}
	ctx := &PassContext{
		Pass:     pass.Name,
		Reads:    reads,
		Writes:   writes,
		Inputs:   inputs,
		Registry: s.registry,
	}
	if err := emit(ctx); err != nil {
		return s.failf(pass.Name, "", err)
	}
	if err := s.sink.EndPass(pass.Name); err != nil {
		return s.failf(pass.Name, "", err)
	}
	return nil
}

// bindRefs resolves a pass's attachment references against the registry in
// one atomic batch and validates each image against the declared format and
// sample count.
func (s *sequencer) bindRefs(pass PassDesc, refs []AttachmentRef) ([]BoundAttachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	batch := resource.NewBatch()
	handles := make([]resource.Handle[resource.Image], len(refs))
	for i, ref := range refs {
		h, ok := s.bindings[ref.Slot]
		if !ok {
			return nil, s.failf(pass.Name, ref.Slot, fmt.Errorf("attachment not bound"))
		}
		handles[i] = h
		batch.AddImage(h)
	}

	set, err := s.registry.Borrow(batch)
	if err != nil {
		// Report the slot, not just the handle, so a resize race is
		// diagnosable from the error alone.
		return nil, s.failf(pass.Name, refs[0].Slot, err)
	}

	bound := make([]BoundAttachment, len(refs))
	for i, ref := range refs {
		img := set.Images[i]
		if img.Format != ref.Format {
			return nil, s.failf(pass.Name, ref.Slot,
				fmt.Errorf("%w: bound image format %d, pass declares %d", ErrFormatMismatch, img.Format, ref.Format))
		}
		producedAt, _ := s.graph.SlotSampleCount(ref.Slot)
		bound[i] = BoundAttachment{
			Slot:      ref.Slot,
			Handle:    handles[i],
			Image:     img,
			Usage:     ref.Usage,
			PerSample: ref.Usage&UsageInput != 0 && producedAt > 1,
		}
	}
	return bound, nil
}

func (s *sequencer) transition(slot string, to AccessMode) error {
	from := s.access[slot]
	if from == to {
		return nil
	}
	if err := s.sink.Transition(Transition{Slot: slot, From: from, To: to}); err != nil {
		return err
	}
	s.access[slot] = to
	return nil
}

func (s *sequencer) failf(pass, slot string, cause error) error {
	if slot == "" {
		return fmt.Errorf("%w: pass %q: %w", ErrPassExecutionFailure, pass, cause)
	}
	return fmt.Errorf("%w: pass %q attachment %q: %w", ErrPassExecutionFailure, pass, slot, cause)
}
