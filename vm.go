// Package vmemu implements a user-space virtual memory manager that
// emulates an OS-style paging subsystem over a single contiguous
// backing buffer. Client code allocates, frees, reads, and writes
// byte ranges through opaque virtual addresses; the VM translates
// every access through a multi-level page table, caches translations
// in a software TLB, and guarantees that only pages it has mapped are
// reachable.
//
// All pages are resident: there is no page replacement, no protection
// bits, no copy-on-write, and no isolation between clients of the same
// VM. A VM is a single global address space guarded by one mutex.
package vmemu

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinyrange/vmemu/internal/vmm/addr"
	"github.com/tinyrange/vmemu/internal/vmm/bitmap"
	"github.com/tinyrange/vmemu/internal/vmm/geometry"
	"github.com/tinyrange/vmemu/internal/vmm/pagetable"
	"github.com/tinyrange/vmemu/internal/vmm/physical"
	"github.com/tinyrange/vmemu/internal/vmm/tlb"
)

// VM is a single virtual memory manager instance. The zero value is
// not usable; construct one with New. A VM is safe for concurrent use
// by multiple goroutines: every exported method acquires the VM's
// mutex on entry and releases it on every exit path.
type VM struct {
	mu  sync.Mutex
	cfg Config

	initialized bool
	geom        geometry.Geometry
	store       *physical.Store
	vbitmap     *bitmap.Bitmap
	table       *pagetable.Table
	cache       *tlb.TLB

	ppnPointer int64
	vpnPointer int64
}

// New constructs a VM with the given options applied over the default
// configuration (4096-byte pages, 32-bit address space, 1GiB of
// physical memory, 8-byte entries, 512 TLB entries). The physical
// store, directory, and TLB are not allocated until the first call to
// Alloc, so constructing a VM that is never used costs nothing.
func New(opts ...Option) *VM {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return &VM{cfg: cfg}
}

// Stats is a snapshot of TLB accounting and live-page counts.
type Stats struct {
	Translations      uint64
	TLBMisses         uint64
	MissRate          float64
	PhysicalPagesUsed int
	VirtualPagesUsed  int
}

func (vm *VM) init() error {
	if vm.initialized {
		return nil
	}
	geom, err := geometry.Compute(vm.cfg.PageSize, vm.cfg.AddressSpace, vm.cfg.EntrySize)
	if err != nil {
		return err
	}
	store, err := physical.New(vm.cfg.MemSize, vm.cfg.PageSize, vm.cfg.EntrySize, vm.cfg.MmapBacked)
	if err != nil {
		return err
	}
	table := pagetable.New(store, geom)
	table.InitDirectory()

	vm.geom = geom
	vm.store = store
	vm.table = table
	vm.vbitmap = bitmap.New(store.PageCount())
	vm.cache = tlb.New(vm.cfg.TLBEntries)
	vm.ppnPointer = int64(geom.PagesPerDirectory)
	vm.vpnPointer = 0
	vm.initialized = true
	return nil
}

func (vm *VM) pageCeil(n int) int {
	return (n + vm.cfg.PageSize - 1) / vm.cfg.PageSize
}

// Alloc reserves ceil(numBytes/PAGE_SIZE) contiguous virtual pages and
// maps each to a physical frame, returning the address of the first
// byte (offset zero). numBytes must be positive.
func (vm *VM) Alloc(ctx context.Context, numBytes int) (uint64, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if numBytes <= 0 {
		return 0, fault("alloc", 0, ErrInvalidArguments)
	}
	if err := vm.init(); err != nil {
		return 0, fault("alloc", 0, err)
	}

	numPages := vm.pageCeil(numBytes)
	vpnStart, ok := vm.vbitmap.AllocateRun(int(vm.vpnPointer), numPages)
	if !ok {
		vm.cfg.Logger.ErrorContext(ctx, "alloc failed: not enough contiguous virtual memory", "bytes", numBytes, "pages", numPages)
		return 0, fault("alloc", 0, ErrExhaustedVirtual)
	}

	for i := 0; i < numPages; i++ {
		vpn := uint64(vpnStart + i)
		ppn, err := vm.table.Walk(vpn, pagetable.Map, &vm.ppnPointer)
		if err != nil {
			// A partial-map failure is not rolled back: the virtual
			// bitmap reservation for this run stays in place so a
			// later Free reclaims the mapped prefix and any orphaned
			// table frames.
			vm.cfg.Logger.ErrorContext(ctx, "alloc failed: not enough physical memory", "bytes", numBytes, "pages", numPages)
			return 0, fault("alloc", 0, ErrExhaustedPhysical)
		}
		vm.cache.Insert(int64(vpn), ppn)
	}

	return addr.Pack(uint64(vpnStart), 0, vm.geom.OffsetBits), nil
}

// rangeAllocated reports whether every VPN in [vpnStart, vpnStart+n)
// is currently reserved in the virtual bitmap. Must be called with
// vm.mu held.
func (vm *VM) rangeAllocated(vpnStart uint64, n int) bool {
	for i := 0; i < n; i++ {
		vpn := int(vpnStart) + i
		if vpn < 0 || vpn >= vm.vbitmap.Len() || vm.vbitmap.IsFree(vpn) {
			return false
		}
	}
	return true
}

// Free is the inverse of Alloc: it unmaps and releases
// ceil(numBytes/PAGE_SIZE) pages starting at the page containing addr
// (the in-page offset of addr is ignored), rejecting the call if that
// range is not fully allocated.
func (vm *VM) Free(ctx context.Context, address uint64, numBytes int) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if numBytes <= 0 {
		return fault("free", address, ErrInvalidArguments)
	}
	if !vm.initialized {
		return fault("free", address, ErrNonContiguous)
	}

	numPages := vm.pageCeil(numBytes)
	vpnStart := addr.UnpackVPN(address, vm.geom.OffsetBits)
	if !vm.rangeAllocated(vpnStart, numPages) {
		vm.cfg.Logger.ErrorContext(ctx, "free failed: non-contiguous free", "addr", fmt.Sprintf("0x%x", address), "bytes", numBytes)
		return fault("free", address, ErrNonContiguous)
	}

	if int64(vpnStart) < vm.vpnPointer {
		vm.vpnPointer = int64(vpnStart)
	}

	for i := 0; i < numPages; i++ {
		vpn := vpnStart + uint64(i)
		vm.cache.Invalidate(int64(vpn))
		// A VPN left unmapped by a failed Alloc has no frame to release.
		if _, err := vm.table.Walk(vpn, pagetable.Unmap, &vm.ppnPointer); err != nil && err != pagetable.ErrNotMapped {
			return fault("free", address, err)
		}
		vm.vbitmap.Clear(int(vpn))
	}
	vm.table.Reclaim()
	return nil
}

// translate resolves vpn to a physical page number, querying the TLB
// first and falling back to a table walk on a miss. Must be called
// with vm.mu held.
func (vm *VM) translate(vpn uint64) (int64, error) {
	if ppn, hit := vm.cache.Lookup(int64(vpn)); hit {
		return ppn, nil
	}
	ppn, err := vm.table.Walk(vpn, pagetable.Translate, &vm.ppnPointer)
	if err != nil {
		return 0, err
	}
	vm.cache.Insert(int64(vpn), ppn)
	return ppn, nil
}

// Write copies src into the virtual range starting at addr. The
// covered VPN range must be fully allocated.
func (vm *VM) Write(ctx context.Context, address uint64, src []byte) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.copyAt(ctx, "write", address, src, true)
}

// Read copies into dst from the virtual range starting at addr. The
// covered VPN range must be fully allocated.
func (vm *VM) Read(ctx context.Context, address uint64, dst []byte) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.copyAt(ctx, "read", address, dst, false)
}

// copyAt implements the shared body of Write and Read: decode the
// address, verify the spanned range is allocated, then walk VPN by
// VPN copying up to PAGE_SIZE bytes per page (less for the first and
// last pages). Must be called with vm.mu held.
func (vm *VM) copyAt(ctx context.Context, op string, address uint64, buf []byte, toMemory bool) error {
	if len(buf) == 0 {
		return fault(op, address, ErrInvalidArguments)
	}
	if !vm.initialized {
		return fault(op, address, ErrNonContiguous)
	}

	vpnStart := addr.UnpackVPN(address, vm.geom.OffsetBits)
	offset := int(addr.UnpackOffset(address, vm.geom.OffsetBits))
	numPages := vm.pageCeil(offset + len(buf))

	if !vm.rangeAllocated(vpnStart, numPages) {
		vm.cfg.Logger.ErrorContext(ctx, "non-contiguous "+op, "addr", fmt.Sprintf("0x%x", address), "bytes", len(buf))
		return fault(op, address, ErrNonContiguous)
	}

	pos := 0
	remaining := len(buf)
	for i := 0; i < numPages; i++ {
		vpn := vpnStart + uint64(i)
		ppn, err := vm.translate(vpn)
		if err != nil {
			return fault(op, address, err)
		}

		page := vm.store.PageBytes(ppn)
		start := 0
		if i == 0 {
			start = offset
		}
		chunk := vm.cfg.PageSize - start
		if chunk > remaining {
			chunk = remaining
		}

		if toMemory {
			copy(page[start:start+chunk], buf[pos:pos+chunk])
		} else {
			copy(buf[pos:pos+chunk], page[start:start+chunk])
		}
		pos += chunk
		remaining -= chunk
	}
	return nil
}

// LogTLBStats emits translations, tlb_misses, and the derived miss
// rate to the VM's configured logger.
func (vm *VM) LogTLBStats(ctx context.Context) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if !vm.initialized {
		vm.cfg.Logger.InfoContext(ctx, "tlb stats", "translations", uint64(0), "tlb_misses", uint64(0), "miss_rate", 0.0)
		return
	}
	vm.cfg.Logger.InfoContext(ctx, "tlb stats",
		"translations", vm.cache.Translations,
		"tlb_misses", vm.cache.Misses,
		"miss_rate", vm.cache.MissRate(),
	)
}

// Stats returns a snapshot of TLB accounting and live-page counts.
func (vm *VM) Stats() Stats {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if !vm.initialized {
		return Stats{}
	}
	return Stats{
		Translations:      vm.cache.Translations,
		TLBMisses:         vm.cache.Misses,
		MissRate:          vm.cache.MissRate(),
		PhysicalPagesUsed: vm.store.Bitmap().PopCount(),
		VirtualPagesUsed:  vm.vbitmap.PopCount(),
	}
}

// Close releases resources held by the VM, such as an mmap-backed
// physical store created with WithMmapBacking. A VM that was never
// allocated from, or that uses the default slice-backed store, can be
// dropped without calling Close.
func (vm *VM) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if !vm.initialized {
		return nil
	}
	return vm.store.Close()
}
