package resource

// Batch accumulates handles of possibly-different kinds for one atomic
// validated lookup via Registry.Borrow. A caller needing "this pipeline plus
// these three images" builds one batch instead of issuing N sequential
// fallible lookups.
type Batch struct {
	images    []Handle[Image]
	buffers   []Handle[Buffer]
	pipelines []Handle[Pipeline]
	samplers  []Handle[Sampler]
	meshes    []Handle[Mesh]
	materials []Handle[Material]
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// AddImage appends an image handle to the batch. Returns the batch for
// chaining.
func (b *Batch) AddImage(h Handle[Image]) *Batch {
	b.images = append(b.images, h)
	return b
}

// AddBuffer appends a buffer handle to the batch.
func (b *Batch) AddBuffer(h Handle[Buffer]) *Batch {
	b.buffers = append(b.buffers, h)
	return b
}

// AddPipeline appends a pipeline handle to the batch.
func (b *Batch) AddPipeline(h Handle[Pipeline]) *Batch {
	b.pipelines = append(b.pipelines, h)
	return b
}

// AddSampler appends a sampler handle to the batch.
func (b *Batch) AddSampler(h Handle[Sampler]) *Batch {
	b.samplers = append(b.samplers, h)
	return b
}

// AddMesh appends a mesh handle to the batch.
func (b *Batch) AddMesh(h Handle[Mesh]) *Batch {
	b.meshes = append(b.meshes, h)
	return b
}

// AddMaterial appends a material handle to the batch.
func (b *Batch) AddMaterial(h Handle[Material]) *Batch {
	b.materials = append(b.materials, h)
	return b
}

// Set is the result of a successful Registry.Borrow: every requested resource
// resolved, in the order its handle was added to the batch. The pointers are
// valid until any of the borrowed handles is destroyed; callers must not
// retain them past the current frame section.
type Set struct {
	// Images holds the resolved images in AddImage order.
	Images []*Image
	// Buffers holds the resolved buffers in AddBuffer order.
	Buffers []*Buffer
	// Pipelines holds the resolved pipelines in AddPipeline order.
	Pipelines []*Pipeline
	// Samplers holds the resolved samplers in AddSampler order.
	Samplers []*Sampler
	// Meshes holds the resolved meshes in AddMesh order.
	Meshes []*Mesh
	// Materials holds the resolved materials in AddMaterial order.
	Materials []*Material
}

func (r *registry) Borrow(b *Batch) (*Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Validate-then-resolve per kind; the registry read lock blocks any
	// Create/Destroy for the duration, so a failure on the fourth handle
	// cannot leave the first three pointing at slots freed mid-batch.
	images, err := r.images.GetMany(b.images)
	if err != nil {
		return nil, err
	}
	buffers, err := r.buffers.GetMany(b.buffers)
	if err != nil {
		return nil, err
	}
	pipelines, err := r.pipelines.GetMany(b.pipelines)
	if err != nil {
		return nil, err
	}
	samplers, err := r.samplers.GetMany(b.samplers)
	if err != nil {
		return nil, err
	}
	meshes, err := r.meshes.GetMany(b.meshes)
	if err != nil {
		return nil, err
	}
	materials, err := r.materials.GetMany(b.materials)
	if err != nil {
		return nil, err
	}

	return &Set{
		Images:    images,
		Buffers:   buffers,
		Pipelines: pipelines,
		Samplers:  samplers,
		Meshes:    meshes,
		Materials: materials,
	}, nil
}
