// Package pagetable implements the multi-level page-table walk, the
// directory lifecycle, and the post-order reclamation sweep described
// in the paging geometry derived by package geometry.
package pagetable

import (
	"errors"

	"github.com/tinyrange/vmemu/internal/vmm/addr"
	"github.com/tinyrange/vmemu/internal/vmm/geometry"
	"github.com/tinyrange/vmemu/internal/vmm/physical"
)

// ErrNotMapped is returned when a walk reaches an unmapped entry
// during TRANSLATE or UNMAP. The spec leaves this case undefined by
// contract (callers must guarantee the VPN is allocated); this
// implementation fails closed instead of reading through a garbage
// pointer.
var ErrNotMapped = errors.New("pagetable: vpn is not mapped")

// ErrExhaustedPhysical is returned when a MAP walk cannot find enough
// contiguous physical frames for a new table or data page.
var ErrExhaustedPhysical = errors.New("pagetable: no physical frames available")

// Mode selects the walk's behavior at the leaf.
type Mode int

const (
	Translate Mode = iota
	Map
	Unmap
)

// directoryPPN is the fixed physical page hosting the top-level table.
const directoryPPN int64 = 0

// Table is a multi-level page table rooted at physical page 0.
type Table struct {
	store *physical.Store
	geom  geometry.Geometry
}

// New wraps a physical store with the given geometry. It does not
// initialize the directory; call InitDirectory once, at first use.
func New(store *physical.Store, geom geometry.Geometry) *Table {
	return &Table{store: store, geom: geom}
}

// InitDirectory reserves the directory's physical frames and fills
// every directory entry with the "not present" sentinel.
func (t *Table) InitDirectory() {
	for i := 0; i < t.geom.PagesPerDirectory; i++ {
		t.store.Bitmap().Set(i)
	}
	t.store.FillEntries(directoryPPN, t.geom.EntriesPerDirectory, physical.None)
}

// Walk performs a single-VPN table walk in the given mode. vpn is the
// internal, 0-based virtual page number. ppnHint is both read and
// updated: callers pass their current allocation hint (ppn_pointer)
// and Walk advances it past any frames it allocates. When no frames
// are free at or above the hint, the search restarts from frame 0.
//
// On MAP, a successful walk leaves every intermediate table it
// touched resident, even if deeper allocation later fails in the same
// call: per the spec, failed-midway maps are not rolled back, because
// the caller's virtual bitmap reservation already covers the VPN and
// a subsequent Free will reclaim the orphaned frames.
func (t *Table) Walk(vpn uint64, mode Mode, ppnHint *int64) (int64, error) {
	tablePPN := directoryPPN
	for level := t.geom.Levels - 1; level >= 0; level-- {
		width := t.geom.LevelWidth(level)
		idx := int(addr.Extract(vpn, t.geom.LevelShift(level), width))
		entry := t.store.ReadEntry(tablePPN, idx)

		if level > 0 {
			if entry == physical.None {
				if mode != Map {
					return 0, ErrNotMapped
				}
				newPPN, ok := t.store.Bitmap().AllocateRun(int(*ppnHint), t.geom.PagesPerTable)
				if !ok {
					newPPN, ok = t.store.Bitmap().AllocateRun(0, t.geom.PagesPerTable)
				}
				if !ok {
					return 0, ErrExhaustedPhysical
				}
				entry = int64(newPPN)
				t.store.FillEntries(entry, t.geom.EntriesPerTable, physical.None)
				t.store.WriteEntry(tablePPN, idx, entry)
				*ppnHint = entry + int64(t.geom.PagesPerTable)
			}
			tablePPN = entry
			continue
		}

		// Leaf level.
		switch mode {
		case Translate:
			if entry == physical.None {
				return 0, ErrNotMapped
			}
			return entry, nil
		case Map:
			if entry == physical.None {
				newPPN, ok := t.store.Bitmap().AllocateRun(int(*ppnHint), 1)
				if !ok {
					newPPN, ok = t.store.Bitmap().AllocateRun(0, 1)
				}
				if !ok {
					return 0, ErrExhaustedPhysical
				}
				entry = int64(newPPN)
				t.store.WriteEntry(tablePPN, idx, entry)
				*ppnHint = entry + 1
			}
			return entry, nil
		case Unmap:
			if entry == physical.None {
				return 0, ErrNotMapped
			}
			t.store.Bitmap().Clear(int(entry))
			t.store.WriteEntry(tablePPN, idx, physical.None)
			return entry, nil
		}
	}
	// Unreachable: Levels is always >= 1, so the loop always returns
	// from the level == 0 iteration above.
	panic("pagetable: walk fell through without reaching a leaf")
}

// Reclaim performs a post-order sweep from the directory, freeing the
// physical frames of any intermediate table that has become entirely
// empty. The directory itself is never reclaimed.
func (t *Table) Reclaim() {
	t.sweep(directoryPPN, t.geom.Levels-1)
}

// sweep returns whether the table at ppn (at the given level) is
// empty after the recursive reclamation of its children.
func (t *Table) sweep(ppn int64, level int) bool {
	count := t.geom.EntriesAt(level)
	empty := true
	for i := 0; i < count; i++ {
		e := t.store.ReadEntry(ppn, i)
		if e == physical.None {
			continue
		}
		if level == 0 {
			// A live leaf entry: this table still holds a mapping.
			empty = false
			continue
		}
		if t.sweep(e, level-1) {
			for p := 0; p < t.geom.PagesPerTable; p++ {
				t.store.Bitmap().Clear(int(e) + p)
			}
			t.store.WriteEntry(ppn, i, physical.None)
		} else {
			empty = false
		}
	}
	return empty
}
