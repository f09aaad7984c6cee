package resource

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
)

func testImage(t *testing.T, format wgpu.TextureFormat, destroyed *int) Image {
	t.Helper()
	g, err := NewGuard(
		func() (*fakeTexture, error) { return &fakeTexture{}, nil },
		func(*fakeTexture) error {
			if destroyed != nil {
				*destroyed++
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	return Image{Guard: g, Format: format, Width: 4, Height: 4, SampleCount: 1}
}

func TestRegistryCreateAndResolve(t *testing.T) {
	r := NewRegistry()

	hImg := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA8Unorm, nil))
	img, err := r.Image(hImg)
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	if img.Format != wgpu.TextureFormatRGBA8Unorm {
		t.Errorf("Format = %v, want RGBA8Unorm", img.Format)
	}

	hBuf := r.CreateBuffer(Buffer{Size: 256})
	buf, err := r.Buffer(hBuf)
	if err != nil {
		t.Fatalf("Buffer failed: %v", err)
	}
	if buf.Size != 256 {
		t.Errorf("Size = %d, want 256", buf.Size)
	}
}

func TestRegistryDestroyImmediate(t *testing.T) {
	r := NewRegistry()
	destroyed := 0

	h := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA8Unorm, &destroyed))
	if err := r.DestroyImage(h, 0); err != nil {
		t.Fatalf("DestroyImage failed: %v", err)
	}
	if destroyed != 1 {
		t.Errorf("native destroy ran %d times, want 1", destroyed)
	}
	if _, err := r.Image(h); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Image after destroy = %v, want ErrStaleHandle", err)
	}
	if err := r.DestroyImage(h, 0); !errors.Is(err, ErrDoubleFree) {
		t.Errorf("second DestroyImage = %v, want ErrDoubleFree", err)
	}
}

func TestRegistryDestroyDeferred(t *testing.T) {
	rec := NewReclaimer()
	r := NewRegistry(WithReclaimer(rec))
	destroyed := 0

	h := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA8Unorm, &destroyed))
	if err := r.DestroyImage(h, 3); err != nil {
		t.Fatalf("DestroyImage failed: %v", err)
	}

	// The handle is stale immediately, but the native destroy waits for the
	// completion token.
	if _, err := r.Image(h); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Image after deferred destroy = %v, want ErrStaleHandle", err)
	}
	if rec.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", rec.Pending())
	}

	rec.Retire(3)
	rec.Drain()
	if destroyed != 1 {
		t.Errorf("native destroy ran %d times after retire, want 1", destroyed)
	}
}

func TestRegistryBorrowHeterogeneous(t *testing.T) {
	r := NewRegistry()

	hPipe := r.CreatePipeline(Pipeline{Key: "gbuffer_write"})
	hAlbedo := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA8Unorm, nil))
	hNormal := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA16Float, nil))
	hPosition := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA16Float, nil))

	set, err := r.Borrow(NewBatch().
		AddPipeline(hPipe).
		AddImage(hAlbedo).
		AddImage(hNormal).
		AddImage(hPosition))
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	if len(set.Pipelines) != 1 || set.Pipelines[0].Key != "gbuffer_write" {
		t.Error("pipeline missing from borrowed set")
	}
	if len(set.Images) != 3 {
		t.Fatalf("borrowed %d images, want 3", len(set.Images))
	}
	wantFormats := []wgpu.TextureFormat{
		wgpu.TextureFormatRGBA8Unorm,
		wgpu.TextureFormatRGBA16Float,
		wgpu.TextureFormatRGBA16Float,
	}
	for i, img := range set.Images {
		if img.Format != wantFormats[i] {
			t.Errorf("image %d format = %v, want %v", i, img.Format, wantFormats[i])
		}
	}
}

func TestRegistryBorrowAllOrNothing(t *testing.T) {
	r := NewRegistry()

	hImg := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA8Unorm, nil))
	hBuf := r.CreateBuffer(Buffer{Size: 64})
	if err := r.DestroyBuffer(hBuf, 0); err != nil {
		t.Fatalf("DestroyBuffer failed: %v", err)
	}

	set, err := r.Borrow(NewBatch().AddImage(hImg).AddBuffer(hBuf))
	if !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Borrow with stale buffer = %v, want ErrStaleHandle", err)
	}
	if set != nil {
		t.Error("Borrow must return no set on failure")
	}
}

func TestRegistryBorrowAliasing(t *testing.T) {
	r := NewRegistry()
	h := r.CreateImage(testImage(t, wgpu.TextureFormatRGBA8Unorm, nil))

	if _, err := r.Borrow(NewBatch().AddImage(h).AddImage(h)); !errors.Is(err, ErrAliasingViolation) {
		t.Errorf("Borrow with duplicate handle = %v, want ErrAliasingViolation", err)
	}
}

func TestRegistryMeshAndMaterial(t *testing.T) {
	r := NewRegistry()

	hVtx := r.CreateBuffer(Buffer{Size: 96})
	hIdx := r.CreateBuffer(Buffer{Size: 12})
	hMesh := r.CreateMesh(Mesh{VertexBuffer: hVtx, IndexBuffer: hIdx, IndexCount: 3})

	mesh, err := r.Mesh(hMesh)
	if err != nil {
		t.Fatalf("Mesh failed: %v", err)
	}
	if _, err := r.Buffer(mesh.VertexBuffer); err != nil {
		t.Errorf("mesh vertex buffer did not resolve: %v", err)
	}

	if err := r.DestroyMesh(hMesh); err != nil {
		t.Fatalf("DestroyMesh failed: %v", err)
	}
	// Mesh destruction does not touch the underlying buffers.
	if _, err := r.Buffer(hVtx); err != nil {
		t.Errorf("vertex buffer should survive mesh destroy: %v", err)
	}
}
