package resource

import (
	"sync"

	"github.com/kilnengine/kiln-go/common"
)

// registry is the implementation of the Registry interface.
type registry struct {
	// mu serializes mutations across all stores so a batched Borrow observes
	// one consistent snapshot: Create/Destroy take the write lock, Borrow and
	// single-kind lookups the read lock.
	mu *sync.RWMutex

	images    *Store[Image]
	buffers   *Store[Buffer]
	pipelines *Store[Pipeline]
	samplers  *Store[Sampler]
	meshes    *Store[Mesh]
	materials *Store[Material]

	reclaimer *Reclaimer
}

// Registry routes typed handles to the slot store for their resource kind.
// It is the single handle namespace of the engine: every image, buffer,
// pipeline, sampler, mesh, and material lives in exactly one of its stores,
// and a handle's type parameter always selects exactly one store.
//
// Destruction is two-phase. DestroyX frees the slot immediately — the handle
// becomes stale at that point — but the native object is handed to the
// configured Reclaimer keyed by a completion token, so it is never released
// while unexecuted GPU commands may still reference it.
type Registry interface {
	// CreateImage places img in the image store and returns its handle.
	//
	// Parameters:
	//   - img: the image resource the registry takes ownership of
	//
	// Returns:
	//   - Handle[Image]: a handle valid until DestroyImage
	CreateImage(img Image) Handle[Image]

	// Image resolves an image handle.
	//
	// Parameters:
	//   - h: the handle to resolve
	//
	// Returns:
	//   - *Image: the image; do not retain across a point where h could be destroyed
	//   - error: ErrOutOfRange or ErrStaleHandle on validation failure
	Image(h Handle[Image]) (*Image, error)

	// DestroyImage frees the image's slot and schedules its native object for
	// destruction once the given completion token retires. With a zero token
	// (or no Reclaimer configured) the native object is destroyed immediately.
	//
	// Parameters:
	//   - h: the handle to destroy
	//   - after: the completion token the native destroy must wait for
	//
	// Returns:
	//   - error: slot validation failure, or the destroy procedure's error
	DestroyImage(h Handle[Image], after common.CompletionToken) error

	// CreateBuffer places buf in the buffer store and returns its handle.
	CreateBuffer(buf Buffer) Handle[Buffer]

	// Buffer resolves a buffer handle.
	Buffer(h Handle[Buffer]) (*Buffer, error)

	// DestroyBuffer frees the buffer's slot; native destruction is deferred
	// to the completion token like DestroyImage.
	DestroyBuffer(h Handle[Buffer], after common.CompletionToken) error

	// CreatePipeline places p in the pipeline store and returns its handle.
	CreatePipeline(p Pipeline) Handle[Pipeline]

	// Pipeline resolves a pipeline handle.
	Pipeline(h Handle[Pipeline]) (*Pipeline, error)

	// DestroyPipeline frees the pipeline's slot; native destruction is
	// deferred to the completion token like DestroyImage.
	DestroyPipeline(h Handle[Pipeline], after common.CompletionToken) error

	// CreateSampler places smp in the sampler store and returns its handle.
	CreateSampler(smp Sampler) Handle[Sampler]

	// Sampler resolves a sampler handle.
	Sampler(h Handle[Sampler]) (*Sampler, error)

	// DestroySampler frees the sampler's slot; native destruction is deferred
	// to the completion token like DestroyImage.
	DestroySampler(h Handle[Sampler], after common.CompletionToken) error

	// CreateMesh places m in the mesh store and returns its handle. The mesh's
	// buffer handles are not validated here; they are resolved on use.
	CreateMesh(m Mesh) Handle[Mesh]

	// Mesh resolves a mesh handle.
	Mesh(h Handle[Mesh]) (*Mesh, error)

	// DestroyMesh frees the mesh's slot. Meshes own no native object of their
	// own; their buffers are destroyed through DestroyBuffer.
	DestroyMesh(h Handle[Mesh]) error

	// CreateMaterial places m in the material store and returns its handle.
	CreateMaterial(m Material) Handle[Material]

	// Material resolves a material handle.
	Material(h Handle[Material]) (*Material, error)

	// DestroyMaterial frees the material's slot; its native binding object,
	// if any, is deferred to the completion token like DestroyImage.
	DestroyMaterial(h Handle[Material], after common.CompletionToken) error

	// Borrow resolves every handle in the batch against its store as one
	// atomic validation step: either every handle is valid and the full set
	// is returned, or the first failure is reported and nothing is borrowed.
	// Duplicate handles within a kind fail with ErrAliasingViolation.
	//
	// Parameters:
	//   - b: the batch of handles, possibly spanning different kinds
	//
	// Returns:
	//   - *Set: the resolved resources, in the order they were added per kind
	//   - error: the first validation failure
	Borrow(b *Batch) (*Set, error)
}

var _ Registry = &registry{}

// RegistryBuilderOption is a functional option applied to a registry during
// construction via NewRegistry.
type RegistryBuilderOption func(*registry)

// WithReclaimer attaches a deferred-destruction queue to the registry. All
// DestroyX calls with a non-zero completion token route their native destroy
// through it.
//
// Parameters:
//   - rec: the Reclaimer to attach
//
// Returns:
//   - RegistryBuilderOption: a function that applies the reclaimer option
func WithReclaimer(rec *Reclaimer) RegistryBuilderOption {
	return func(r *registry) {
		r.reclaimer = rec
	}
}

// NewRegistry creates a Registry with one empty store per resource kind.
//
// Parameters:
//   - options: variadic list of RegistryBuilderOption functions
//
// Returns:
//   - Registry: the new registry
func NewRegistry(options ...RegistryBuilderOption) Registry {
	r := &registry{
		mu:        &sync.RWMutex{},
		images:    NewStore[Image](),
		buffers:   NewStore[Buffer](),
		pipelines: NewStore[Pipeline](),
		samplers:  NewStore[Sampler](),
		meshes:    NewStore[Mesh](),
		materials: NewStore[Material](),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func (r *registry) CreateImage(img Image) Handle[Image] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images.Allocate(img)
}

func (r *registry) Image(h Handle[Image]) (*Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.images.Get(h)
}

func (r *registry) DestroyImage(h Handle[Image], after common.CompletionToken) error {
	r.mu.Lock()
	img, err := r.images.Free(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.release(img.Guard, after)
}

func (r *registry) CreateBuffer(buf Buffer) Handle[Buffer] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffers.Allocate(buf)
}

func (r *registry) Buffer(h Handle[Buffer]) (*Buffer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffers.Get(h)
}

func (r *registry) DestroyBuffer(h Handle[Buffer], after common.CompletionToken) error {
	r.mu.Lock()
	buf, err := r.buffers.Free(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.release(buf.Guard, after)
}

func (r *registry) CreatePipeline(p Pipeline) Handle[Pipeline] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines.Allocate(p)
}

func (r *registry) Pipeline(h Handle[Pipeline]) (*Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipelines.Get(h)
}

func (r *registry) DestroyPipeline(h Handle[Pipeline], after common.CompletionToken) error {
	r.mu.Lock()
	p, err := r.pipelines.Free(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.release(p.Guard, after)
}

func (r *registry) CreateSampler(smp Sampler) Handle[Sampler] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samplers.Allocate(smp)
}

func (r *registry) Sampler(h Handle[Sampler]) (*Sampler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.samplers.Get(h)
}

func (r *registry) DestroySampler(h Handle[Sampler], after common.CompletionToken) error {
	r.mu.Lock()
	smp, err := r.samplers.Free(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.release(smp.Guard, after)
}

func (r *registry) CreateMesh(m Mesh) Handle[Mesh] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meshes.Allocate(m)
}

func (r *registry) Mesh(h Handle[Mesh]) (*Mesh, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meshes.Get(h)
}

func (r *registry) DestroyMesh(h Handle[Mesh]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.meshes.Free(h)
	return err
}

func (r *registry) CreateMaterial(m Material) Handle[Material] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.materials.Allocate(m)
}

func (r *registry) Material(h Handle[Material]) (*Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.materials.Get(h)
}

func (r *registry) DestroyMaterial(h Handle[Material], after common.CompletionToken) error {
	r.mu.Lock()
	m, err := r.materials.Free(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.release(m.Guard, after)
}

// release destroys a guard's native object, routing through the reclaimer
// when a completion token orders the destruction after in-flight GPU work.
func (r *registry) release(g *Guard, after common.CompletionToken) error {
	if g == nil {
		return nil
	}
	if r.reclaimer != nil && after != 0 {
		r.reclaimer.Defer(after, g.Destroy)
		return nil
	}
	return g.Destroy()
}
