package vmemu

import "log/slog"

// Config holds the geometry and runtime parameters that shape a VM,
// all tunable through Option values at construction time.
type Config struct {
	// PageSize is the number of bytes per page; must be a power of two.
	PageSize int
	// AddressSpace is the width, in bits, of a virtual address.
	AddressSpace int
	// MemSize is the total number of physical bytes available.
	MemSize int
	// EntrySize is the number of bytes per page-table entry.
	EntrySize int
	// TLBEntries is the fixed capacity of the software TLB.
	TLBEntries int
	// MmapBacked selects an anonymous-mmap-backed physical store
	// instead of a plain Go slice.
	MmapBacked bool
	// Logger receives structured diagnostics: allocation and free
	// failures, and TLB statistics logged via LogTLBStats. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func defaultConfig() Config {
	return Config{
		PageSize:     4096,
		AddressSpace: 32,
		MemSize:      1 << 30,
		EntrySize:    8,
		TLBEntries:   512,
		Logger:       slog.Default(),
	}
}

// Option configures a VM at construction time. Options are produced by
// the With* functions in this package.
type Option interface {
	apply(*Config)
}

type pageSizeOption struct{ n int }

func (o pageSizeOption) apply(c *Config) { c.PageSize = o.n }

// WithPageSize sets PAGE_SIZE, in bytes. Must be a power of two.
func WithPageSize(n int) Option { return pageSizeOption{n} }

type addressSpaceOption struct{ bits int }

func (o addressSpaceOption) apply(c *Config) { c.AddressSpace = o.bits }

// WithAddressSpace sets ADDRESS_SPACE, the width of a virtual address
// in bits.
func WithAddressSpace(bits int) Option { return addressSpaceOption{bits} }

type memSizeOption struct{ n int }

func (o memSizeOption) apply(c *Config) { c.MemSize = o.n }

// WithMemSize sets MEM_SIZE, the total number of physical bytes.
func WithMemSize(n int) Option { return memSizeOption{n} }

type entrySizeOption struct{ n int }

func (o entrySizeOption) apply(c *Config) { c.EntrySize = o.n }

// WithEntrySize sets ENTRY_SIZE, the number of bytes per page-table
// entry.
func WithEntrySize(n int) Option { return entrySizeOption{n} }

type tlbEntriesOption struct{ n int }

func (o tlbEntriesOption) apply(c *Config) { c.TLBEntries = o.n }

// WithTLBEntries sets TLB_ENTRIES, the fixed TLB capacity.
func WithTLBEntries(n int) Option { return tlbEntriesOption{n} }

type mmapBackedOption struct{}

func (mmapBackedOption) apply(c *Config) { c.MmapBacked = true }

// WithMmapBacking backs the physical store with an anonymous mmap
// (via golang.org/x/sys/unix) instead of a Go slice. The VM's Close
// method must be called to release the mapping.
func WithMmapBacking() Option { return mmapBackedOption{} }

type loggerOption struct{ logger *slog.Logger }

func (o loggerOption) apply(c *Config) { c.Logger = o.logger }

// WithLogger sets the structured logger used for diagnostics
// (allocation failures, non-contiguous rejections, TLB stats).
func WithLogger(logger *slog.Logger) Option { return loggerOption{logger} }
