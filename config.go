package vmemu

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/vmemu/internal/vmm/geometry"
)

// configDocument is the on-disk shape accepted by LoadConfig: the same
// fields as Config, using short snake_case names so a YAML file reads
// like a plain sizing table.
type configDocument struct {
	PageSize     int  `yaml:"page_size"`
	AddressSpace int  `yaml:"address_space"`
	MemSize      int  `yaml:"mem_size"`
	EntrySize    int  `yaml:"entry_size"`
	TLBEntries   int  `yaml:"tlb_entries"`
	MmapBacked   bool `yaml:"mmap_backed"`
}

// LoadConfig parses a YAML document into a Config, applying the same
// defaults as New for any field the document omits, and validating
// that the resulting geometry is internally consistent before
// returning it.
func LoadConfig(r io.Reader) (Config, error) {
	defaults := defaultConfig()
	doc := configDocument{
		PageSize:     defaults.PageSize,
		AddressSpace: defaults.AddressSpace,
		MemSize:      defaults.MemSize,
		EntrySize:    defaults.EntrySize,
		TLBEntries:   defaults.TLBEntries,
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("vmemu: read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Config{}, fmt.Errorf("vmemu: parse config: %w", err)
		}
	}

	cfg := Config{
		PageSize:     doc.PageSize,
		AddressSpace: doc.AddressSpace,
		MemSize:      doc.MemSize,
		EntrySize:    doc.EntrySize,
		TLBEntries:   doc.TLBEntries,
		MmapBacked:   doc.MmapBacked,
		Logger:       defaults.Logger,
	}

	if cfg.TLBEntries <= 0 {
		return Config{}, fmt.Errorf("vmemu: tlb_entries must be positive, got %d", cfg.TLBEntries)
	}
	if _, err := geometry.Compute(cfg.PageSize, cfg.AddressSpace, cfg.EntrySize); err != nil {
		return Config{}, fmt.Errorf("vmemu: invalid geometry: %w", err)
	}
	if cfg.MemSize <= 0 || cfg.MemSize%cfg.PageSize != 0 {
		return Config{}, fmt.Errorf("vmemu: mem_size %d must be a positive multiple of page_size %d", cfg.MemSize, cfg.PageSize)
	}

	return cfg, nil
}
