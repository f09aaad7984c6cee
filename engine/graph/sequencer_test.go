package graph

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/kilnengine/kiln-go/common"
	"github.com/kilnengine/kiln-go/engine/resource"
)

// fakeSink enforces the same recording discipline as the real command layer:
// a pass may not begin while another is open, and only recorded frames can be
// submitted. An abort must reset both through Discard.
type fakeSink struct {
	events      []string
	transitions []Transition
	token       common.CompletionToken
	submitErr   error

	passOpen bool
	recorded bool
}

func (f *fakeSink) Transition(t Transition) error {
	f.transitions = append(f.transitions, t)
	f.events = append(f.events, fmt.Sprintf("transition %s %d->%d", t.Slot, t.From, t.To))
	return nil
}

func (f *fakeSink) BeginPass(pass string, color []BoundAttachment, depth *BoundAttachment) error {
	if f.passOpen {
		return fmt.Errorf("pass %q begun while a pass is still recording", pass)
	}
	f.passOpen = true
	f.recorded = true
	f.events = append(f.events, "begin "+pass)
	return nil
}

func (f *fakeSink) EndPass(pass string) error {
	if !f.passOpen {
		return fmt.Errorf("pass %q ended without a matching begin", pass)
	}
	f.passOpen = false
	f.events = append(f.events, "end "+pass)
	return nil
}

func (f *fakeSink) Submit() (common.CompletionToken, error) {
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	if !f.recorded {
		return 0, errors.New("no recorded commands to submit")
	}
	f.recorded = false
	f.events = append(f.events, "submit")
	f.token++
	return f.token, nil
}

func (f *fakeSink) Discard() {
	f.passOpen = false
	f.recorded = false
	f.events = append(f.events, "discard")
}

type fakeAttachment struct{}

func makeImage(t *testing.T, reg resource.Registry, format wgpu.TextureFormat, samples uint32) resource.Handle[resource.Image] {
	t.Helper()
	g, err := resource.NewGuard(
		func() (*fakeAttachment, error) { return &fakeAttachment{}, nil },
		func(*fakeAttachment) error { return nil },
	)
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	return reg.CreateImage(resource.Image{
		Guard:       g,
		Format:      format,
		Width:       8,
		Height:      8,
		SampleCount: samples,
	})
}

// testGraph builds a three-pass deferred slice: geometry produces albedo and
// depth at 4 samples, combine lights them into a single-sample image, present
// copies to the external swapchain slot.
func testGraph(t *testing.T) *Graph {
	t.Helper()
	passes := []PassDesc{
		{
			Name: "geometry",
			Writes: []AttachmentRef{
				{Slot: "albedo", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageColor},
				{Slot: "depth", Format: wgpu.TextureFormatDepth32Float, Usage: UsageDepth},
			},
			SampleCount: 4,
		},
		{
			Name: "combine",
			Reads: []AttachmentRef{
				{Slot: "albedo", Format: wgpu.TextureFormatRGBA8Unorm, Usage: UsageInput},
				{Slot: "depth", Format: wgpu.TextureFormatDepth32Float, Usage: UsageInput},
			},
			Writes: []AttachmentRef{
				{Slot: "combined", Format: wgpu.TextureFormatRGBA16Float, Usage: UsageColor},
			},
		},
		{
			Name: "present",
			Reads: []AttachmentRef{
				{Slot: "combined", Format: wgpu.TextureFormatRGBA16Float, Usage: UsageInput},
			},
			Writes: []AttachmentRef{
				{Slot: "swapchain", Format: wgpu.TextureFormatBGRA8Unorm, Usage: UsageColor},
			},
		},
	}
	external := []AttachmentRef{
		{Slot: "swapchain", Format: wgpu.TextureFormatBGRA8Unorm, Usage: UsageColor},
	}
	g, err := Build(passes, external)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func bindAll(t *testing.T, s Sequencer, reg resource.Registry) {
	t.Helper()
	s.BindAttachment("albedo", makeImage(t, reg, wgpu.TextureFormatRGBA8Unorm, 4))
	s.BindAttachment("depth", makeImage(t, reg, wgpu.TextureFormatDepth32Float, 4))
	s.BindAttachment("combined", makeImage(t, reg, wgpu.TextureFormatRGBA16Float, 1))
	s.BindAttachment("swapchain", makeImage(t, reg, wgpu.TextureFormatBGRA8Unorm, 1))
}

func bindNoopEmits(s Sequencer, names ...string) {
	for _, name := range names {
		s.Bind(name, func(*PassContext) error { return nil })
	}
}

func TestSequencerRunsPassesInOrder(t *testing.T) {
	reg := resource.NewRegistry()
	sink := &fakeSink{}
	s := NewSequencer(testGraph(t), reg, sink)
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "combine", "present")

	token, err := s.RunFrame(&FrameInputs{})
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if token != 1 {
		t.Errorf("token = %d, want 1", token)
	}
	if s.State() != FramePresented {
		t.Errorf("state after frame = %d, want FramePresented", s.State())
	}

	var order []string
	for _, ev := range sink.events {
		if strings.HasPrefix(ev, "begin ") || ev == "submit" {
			order = append(order, ev)
		}
	}
	want := []string{"begin geometry", "begin combine", "begin present", "submit"}
	if len(order) != len(want) {
		t.Fatalf("pass order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("pass order = %v, want %v", order, want)
		}
	}

	// A presented frame is handed off; the next RunFrame starts a new one.
	token, err = s.RunFrame(&FrameInputs{})
	if err != nil {
		t.Fatalf("second RunFrame failed: %v", err)
	}
	if token != 2 {
		t.Errorf("second token = %d, want 2", token)
	}
}

func TestSequencerIssuesTransitions(t *testing.T) {
	reg := resource.NewRegistry()
	sink := &fakeSink{}
	s := NewSequencer(testGraph(t), reg, sink)
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "combine", "present")

	if _, err := s.RunFrame(&FrameInputs{}); err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}

	// The albedo attachment must go undefined -> color write -> input read,
	// and the final color output must end in present mode.
	var albedo []Transition
	finalPresented := false
	for _, tr := range sink.transitions {
		if tr.Slot == "albedo" {
			albedo = append(albedo, tr)
		}
		if tr.Slot == "swapchain" && tr.To == AccessPresent {
			finalPresented = true
		}
	}
	if len(albedo) != 2 {
		t.Fatalf("albedo saw %d transitions, want 2: %v", len(albedo), albedo)
	}
	if albedo[0].From != AccessUndefined || albedo[0].To != AccessColorWrite {
		t.Errorf("first albedo transition = %+v", albedo[0])
	}
	if albedo[1].From != AccessColorWrite || albedo[1].To != AccessInputRead {
		t.Errorf("second albedo transition = %+v", albedo[1])
	}
	if !finalPresented {
		t.Error("final color output never transitioned to present")
	}
}

func TestSequencerPerSampleReads(t *testing.T) {
	reg := resource.NewRegistry()
	sink := &fakeSink{}
	s := NewSequencer(testGraph(t), reg, sink)
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "present")

	var combineReads []BoundAttachment
	s.Bind("combine", func(ctx *PassContext) error {
		combineReads = ctx.Reads
		return nil
	})

	if _, err := s.RunFrame(&FrameInputs{}); err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if len(combineReads) != 2 {
		t.Fatalf("combine saw %d reads, want 2", len(combineReads))
	}
	// The G-buffer is rasterized at 4 samples, so its consumers must load
	// each sample themselves.
	for _, read := range combineReads {
		if !read.PerSample {
			t.Errorf("read of %q should be per-sample", read.Slot)
		}
	}
}

func TestSequencerReportsFailedPassAndAttachment(t *testing.T) {
	reg := resource.NewRegistry()
	sink := &fakeSink{}
	s := NewSequencer(testGraph(t), reg, sink)
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "combine", "present")

	// Destroy the combined image out from under the sequencer; the combine
	// pass fails resolving its write target.
	h, _ := s.Attachment("combined")
	if err := reg.DestroyImage(h, 0); err != nil {
		t.Fatalf("DestroyImage failed: %v", err)
	}

	_, err := s.RunFrame(&FrameInputs{})
	if !errors.Is(err, ErrPassExecutionFailure) {
		t.Fatalf("RunFrame = %v, want ErrPassExecutionFailure", err)
	}
	if !errors.Is(err, resource.ErrStaleHandle) {
		t.Errorf("RunFrame = %v, want wrapped ErrStaleHandle", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, `"combine"`) || !strings.Contains(msg, `"combined"`) {
		t.Errorf("error %q does not name the failing pass and attachment", msg)
	}

	// The aborted frame leaves the sequencer usable: rebind and run again.
	if s.State() != FrameIdle {
		t.Fatalf("state after abort = %d, want FrameIdle", s.State())
	}
	s.BindAttachment("combined", makeImage(t, reg, wgpu.TextureFormatRGBA16Float, 1))
	if _, err := s.RunFrame(&FrameInputs{}); err != nil {
		t.Fatalf("RunFrame after rebind failed: %v", err)
	}
}

func TestSequencerUnboundAttachment(t *testing.T) {
	reg := resource.NewRegistry()
	s := NewSequencer(testGraph(t), reg, &fakeSink{})
	bindNoopEmits(s, "geometry", "combine", "present")

	_, err := s.RunFrame(&FrameInputs{})
	if !errors.Is(err, ErrPassExecutionFailure) {
		t.Fatalf("RunFrame = %v, want ErrPassExecutionFailure", err)
	}
	if !strings.Contains(err.Error(), "not bound") {
		t.Errorf("error %q should mention the unbound attachment", err)
	}
}

func TestSequencerUnboundEmit(t *testing.T) {
	reg := resource.NewRegistry()
	s := NewSequencer(testGraph(t), reg, &fakeSink{})
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "combine") // present left unbound

	_, err := s.RunFrame(&FrameInputs{})
	if !errors.Is(err, ErrPassExecutionFailure) {
		t.Fatalf("RunFrame = %v, want ErrPassExecutionFailure", err)
	}
	if !strings.Contains(err.Error(), `"present"`) {
		t.Errorf("error %q does not name the unbound pass", err)
	}
}

func TestSequencerRuntimeFormatMismatch(t *testing.T) {
	reg := resource.NewRegistry()
	s := NewSequencer(testGraph(t), reg, &fakeSink{})
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "combine", "present")

	// Rebind albedo to an image of the wrong format; the graph is fine but
	// frame execution must refuse the binding.
	s.BindAttachment("albedo", makeImage(t, reg, wgpu.TextureFormatRGBA16Float, 4))

	_, err := s.RunFrame(&FrameInputs{})
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("RunFrame = %v, want ErrFormatMismatch", err)
	}
	if !errors.Is(err, ErrPassExecutionFailure) {
		t.Errorf("runtime mismatch should also wrap ErrPassExecutionFailure, got %v", err)
	}
}

func TestSequencerEmitFailureAborts(t *testing.T) {
	reg := resource.NewRegistry()
	sink := &fakeSink{}
	s := NewSequencer(testGraph(t), reg, sink)
	bindAll(t, s, reg)
	bindNoopEmits(s, "geometry", "present")

	emitErr := errors.New("pipeline bind failed")
	s.Bind("combine", func(*PassContext) error { return emitErr })

	_, err := s.RunFrame(&FrameInputs{})
	if !errors.Is(err, emitErr) || !errors.Is(err, ErrPassExecutionFailure) {
		t.Fatalf("RunFrame = %v, want wrapped emit failure", err)
	}

	// Passes after the failing one never begin, and nothing is submitted.
	for _, ev := range sink.events {
		if ev == "begin present" || ev == "submit" {
			t.Errorf("aborted frame still recorded %q", ev)
		}
	}
}

func TestSequencerUsableAfterEmitAbort(t *testing.T) {
	reg := resource.NewRegistry()
	sink := &fakeSink{}
	s := NewSequencer(testGraph(t), reg, sink)
	bindAll(t, s, reg)
	bindNoopEmits(s, "combine", "present")

	fail := true
	s.Bind("geometry", func(*PassContext) error {
		if fail {
			return errors.New("missing bind group")
		}
		return nil
	})

	// Frame 1 fails inside the geometry pass, after its begin succeeded. The
	// sink must be told to drop the half-recorded frame.
	if _, err := s.RunFrame(&FrameInputs{}); !errors.Is(err, ErrPassExecutionFailure) {
		t.Fatalf("RunFrame = %v, want ErrPassExecutionFailure", err)
	}
	if sink.passOpen {
		t.Error("abort left a pass recording in the sink")
	}
	if n := len(sink.events); n == 0 || sink.events[n-1] != "discard" {
		t.Errorf("abort did not discard the frame, events = %v", sink.events)
	}
	if s.State() != FrameIdle {
		t.Fatalf("state after abort = %d, want FrameIdle", s.State())
	}

	// Frame 2 must record and submit against the same sink.
	fail = false
	token, err := s.RunFrame(&FrameInputs{})
	if err != nil {
		t.Fatalf("RunFrame after abort failed: %v", err)
	}
	if token != 1 {
		t.Errorf("token = %d, want 1", token)
	}
}

func TestSequencerDeferredCombineReads(t *testing.T) {
	g, err := DeferredPasses(4, wgpu.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("DeferredPasses failed: %v", err)
	}
	reg := resource.NewRegistry()
	s := NewSequencer(g, reg, &fakeSink{})

	s.BindAttachment(SlotDepth, makeImage(t, reg, FormatDepth, 4))
	s.BindAttachment(SlotAlbedo, makeImage(t, reg, FormatAlbedo, 4))
	s.BindAttachment(SlotNormal, makeImage(t, reg, FormatNormal, 4))
	s.BindAttachment(SlotPosition, makeImage(t, reg, FormatPosition, 4))
	s.BindAttachment(SlotCombined, makeImage(t, reg, FormatCombined, 1))
	s.BindAttachment(SlotSwapchain, makeImage(t, reg, wgpu.TextureFormatBGRA8Unorm, 1))
	bindNoopEmits(s, PassDepthPrepass, PassGBufferWrite, PassSkybox, PassPresent)

	var reads []BoundAttachment
	s.Bind(PassGBufferCombine, func(ctx *PassContext) error {
		reads = ctx.Reads
		return nil
	})

	if _, err := s.RunFrame(&FrameInputs{}); err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}

	// The combine pass consumes the whole G-buffer: each slot resolved to a
	// live image carrying the format its producer declared.
	want := map[string]wgpu.TextureFormat{
		SlotAlbedo:   FormatAlbedo,
		SlotNormal:   FormatNormal,
		SlotPosition: FormatPosition,
	}
	for slot, format := range want {
		found := false
		for _, read := range reads {
			if read.Slot != slot {
				continue
			}
			found = true
			if read.Image == nil {
				t.Errorf("read of %q has no resolved image", slot)
				continue
			}
			if read.Image.Format != format {
				t.Errorf("read of %q format = %d, want %d", slot, read.Image.Format, format)
			}
			if !read.PerSample {
				t.Errorf("read of %q should be per-sample", slot)
			}
		}
		if !found {
			t.Errorf("combine pass never read %q", slot)
		}
	}
}

func TestSequencerFinalColor(t *testing.T) {
	reg := resource.NewRegistry()
	s := NewSequencer(testGraph(t), reg, &fakeSink{})

	if _, ok := s.FinalColor(); ok {
		t.Error("FinalColor should be unbound before BindAttachment")
	}
	h := makeImage(t, reg, wgpu.TextureFormatBGRA8Unorm, 1)
	s.BindAttachment("swapchain", h)
	got, ok := s.FinalColor()
	if !ok || got != h {
		t.Errorf("FinalColor = %v, %v, want bound swapchain handle", got, ok)
	}
}
