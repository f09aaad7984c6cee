package graph

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
	"gopkg.in/yaml.v3"
)

// passConfig is the on-disk form of a pass set. Pass declarations are plain
// data, so a pipeline layout can live in configuration next to the shaders it
// belongs to.
type passConfig struct {
	Passes   []passEntry       `yaml:"passes"`
	External []attachmentEntry `yaml:"external"`
}

type passEntry struct {
	Name    string            `yaml:"name"`
	Samples uint32            `yaml:"samples"`
	Reads   []attachmentEntry `yaml:"reads"`
	Writes  []attachmentEntry `yaml:"writes"`
}

type attachmentEntry struct {
	Slot   string `yaml:"slot"`
	Format string `yaml:"format"`
	Usage  string `yaml:"usage"`
}

// formatNames maps the config-file format names onto texel formats. Only the
// formats the deferred pipeline actually targets are listed; unknown names
// fail loading rather than defaulting.
var formatNames = map[string]wgpu.TextureFormat{
	"rgba8unorm":      wgpu.TextureFormatRGBA8Unorm,
	"rgba8unorm-srgb": wgpu.TextureFormatRGBA8UnormSrgb,
	"bgra8unorm":      wgpu.TextureFormatBGRA8Unorm,
	"bgra8unorm-srgb": wgpu.TextureFormatBGRA8UnormSrgb,
	"rgba16float":     wgpu.TextureFormatRGBA16Float,
	"rgba32float":     wgpu.TextureFormatRGBA32Float,
	"rg16float":       wgpu.TextureFormatRG16Float,
	"r32float":        wgpu.TextureFormatR32Float,
	"depth32float":    wgpu.TextureFormatDepth32Float,
	"depth24plus":     wgpu.TextureFormatDepth24Plus,
}

// ParseFormat resolves a config-file format name.
//
// Parameters:
//   - name: the format name, e.g. "rgba16float"
//
// Returns:
//   - wgpu.TextureFormat: the matching format
//   - error: if the name is not recognized
func ParseFormat(name string) (wgpu.TextureFormat, error) {
	f, ok := formatNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("graph: unknown attachment format %q", name)
	}
	return f, nil
}

// ParseUsage resolves a usage expression like "color" or "depth|input".
//
// Parameters:
//   - expr: one or more usage names joined by '|'
//
// Returns:
//   - Usage: the combined usage bits
//   - error: if any name is not recognized
func ParseUsage(expr string) (Usage, error) {
	var u Usage
	for _, part := range strings.Split(expr, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "color":
			u |= UsageColor
		case "depth":
			u |= UsageDepth
		case "input":
			u |= UsageInput
		case "":
		default:
			return 0, fmt.Errorf("graph: unknown attachment usage %q", part)
		}
	}
	if u == 0 {
		return 0, fmt.Errorf("graph: attachment usage %q resolves to nothing", expr)
	}
	return u, nil
}

// LoadPasses reads a pass-set definition from YAML and builds the graph.
//
// Parameters:
//   - r: the YAML document
//
// Returns:
//   - *Graph: the validated graph
//   - error: parse errors, unknown formats/usages, or Build failures
func LoadPasses(r io.Reader) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("graph: reading pass config: %w", err)
	}

	var cfg passConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("graph: parsing pass config: %w", err)
	}
	if len(cfg.Passes) == 0 {
		return nil, fmt.Errorf("graph: pass config declares no passes")
	}

	passes := make([]PassDesc, 0, len(cfg.Passes))
	for _, entry := range cfg.Passes {
		if entry.Name == "" {
			return nil, fmt.Errorf("graph: pass config contains an unnamed pass")
		}
		reads, err := parseRefs(entry.Name, entry.Reads)
		if err != nil {
			return nil, err
		}
		writes, err := parseRefs(entry.Name, entry.Writes)
		if err != nil {
			return nil, err
		}
		passes = append(passes, PassDesc{
			Name:        entry.Name,
			Reads:       reads,
			Writes:      writes,
			SampleCount: entry.Samples,
		})
	}

	external, err := parseRefs("external", cfg.External)
	if err != nil {
		return nil, err
	}
	return Build(passes, external)
}

// LoadPassesFile is LoadPasses over a file path.
func LoadPassesFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("graph: opening pass config: %w", err)
	}
	defer f.Close()
	return LoadPasses(f)
}

func parseRefs(owner string, entries []attachmentEntry) ([]AttachmentRef, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	refs := make([]AttachmentRef, 0, len(entries))
	for _, e := range entries {
		if e.Slot == "" {
			return nil, fmt.Errorf("graph: %s declares an attachment without a slot", owner)
		}
		format, err := ParseFormat(e.Format)
		if err != nil {
			return nil, fmt.Errorf("%w (in %s)", err, owner)
		}
		usage, err := ParseUsage(e.Usage)
		if err != nil {
			return nil, fmt.Errorf("%w (in %s)", err, owner)
		}
		refs = append(refs, AttachmentRef{Slot: e.Slot, Format: format, Usage: usage})
	}
	return refs, nil
}
