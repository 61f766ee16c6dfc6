package pagetable

import (
	"testing"

	"github.com/tinyrange/vmemu/internal/vmm/geometry"
	"github.com/tinyrange/vmemu/internal/vmm/physical"
)

// newFixture builds a small, easy-to-reason-about two-level geometry:
// 64-byte pages, 8-byte entries, 12-bit address space (6 offset bits,
// 6 VPN bits split into two 3-bit levels).
func newFixture(t *testing.T) (*Table, *physical.Store, geometry.Geometry) {
	t.Helper()
	geom, err := geometry.Compute(64, 12, 8)
	if err != nil {
		t.Fatalf("geometry.Compute: %v", err)
	}
	if geom.Levels != 2 {
		t.Fatalf("fixture assumes 2 levels, got %d", geom.Levels)
	}
	store, err := physical.New(64*64, 64, 8, false)
	if err != nil {
		t.Fatalf("physical.New: %v", err)
	}
	pt := New(store, geom)
	pt.InitDirectory()
	return pt, store, geom
}

func TestMapThenTranslate(t *testing.T) {
	pt, _, _ := newFixture(t)
	hint := int64(1)

	ppn, err := pt.Walk(5, Map, &hint)
	if err != nil {
		t.Fatalf("Walk(Map): %v", err)
	}

	got, err := pt.Walk(5, Translate, &hint)
	if err != nil {
		t.Fatalf("Walk(Translate): %v", err)
	}
	if got != ppn {
		t.Fatalf("Translate returned %d, want %d (the mapped ppn)", got, ppn)
	}
}

func TestTranslateUnmappedFails(t *testing.T) {
	pt, _, _ := newFixture(t)
	hint := int64(1)
	if _, err := pt.Walk(3, Translate, &hint); err != ErrNotMapped {
		t.Fatalf("Walk(Translate) on unmapped vpn = %v, want ErrNotMapped", err)
	}
}

func TestNoAliasing(t *testing.T) {
	pt, _, _ := newFixture(t)
	hint := int64(1)
	seen := map[int64]bool{}
	for vpn := uint64(0); vpn < 20; vpn++ {
		ppn, err := pt.Walk(vpn, Map, &hint)
		if err != nil {
			t.Fatalf("Walk(Map, vpn=%d): %v", vpn, err)
		}
		if seen[ppn] {
			t.Fatalf("ppn %d mapped twice (vpn=%d)", ppn, vpn)
		}
		seen[ppn] = true
	}
}

func TestUnmapThenReclaim(t *testing.T) {
	pt, store, geom := newFixture(t)
	hint := int64(1)

	// Map every VPN that falls under the same level-1 table (indices
	// 0..entriesPerTable-1 share directory index 0).
	n := geom.EntriesPerTable
	ppns := make([]int64, n)
	for vpn := 0; vpn < n; vpn++ {
		ppn, err := pt.Walk(uint64(vpn), Map, &hint)
		if err != nil {
			t.Fatalf("Walk(Map, vpn=%d): %v", vpn, err)
		}
		ppns[vpn] = ppn
	}

	before := store.Bitmap().PopCount()

	for vpn := 0; vpn < n; vpn++ {
		if _, err := pt.Walk(uint64(vpn), Unmap, &hint); err != nil {
			t.Fatalf("Walk(Unmap, vpn=%d): %v", vpn, err)
		}
	}
	pt.Reclaim()

	after := store.Bitmap().PopCount()
	// Every data page frame and the now-empty level-1 table's frame
	// should have been released; only the directory's own frames
	// remain set.
	freed := before - after
	if freed != n+geom.PagesPerTable {
		t.Fatalf("freed %d physical frames, want %d (n data pages + 1 table)", freed, n+geom.PagesPerTable)
	}
	for i := 0; i < geom.PagesPerDirectory; i++ {
		if store.Bitmap().IsFree(i) {
			t.Fatalf("directory frame %d should remain reserved", i)
		}
	}
}

func TestReclaimLeavesPartiallyEmptyTableAlone(t *testing.T) {
	pt, store, geom := newFixture(t)
	hint := int64(1)

	n := geom.EntriesPerTable
	for vpn := 0; vpn < n; vpn++ {
		if _, err := pt.Walk(uint64(vpn), Map, &hint); err != nil {
			t.Fatalf("Walk(Map, vpn=%d): %v", vpn, err)
		}
	}
	// Unmap all but one VPN in the table.
	for vpn := 1; vpn < n; vpn++ {
		if _, err := pt.Walk(uint64(vpn), Unmap, &hint); err != nil {
			t.Fatalf("Walk(Unmap, vpn=%d): %v", vpn, err)
		}
	}
	pt.Reclaim()

	if _, err := pt.Walk(0, Translate, &hint); err != nil {
		t.Fatalf("vpn 0 should still translate after partial reclaim: %v", err)
	}
	_ = store
}

func TestExhaustedPhysicalDuringMap(t *testing.T) {
	geom, err := geometry.Compute(64, 12, 8)
	if err != nil {
		t.Fatalf("geometry.Compute: %v", err)
	}
	// Only enough frames for the directory, one level-1 table, and one data page.
	store, err := physical.New(64*(geom.PagesPerDirectory+geom.PagesPerTable+1), 64, 8, false)
	if err != nil {
		t.Fatalf("physical.New: %v", err)
	}
	pt := New(store, geom)
	pt.InitDirectory()

	hint := int64(1)
	if _, err := pt.Walk(0, Map, &hint); err != nil {
		t.Fatalf("first Walk(Map) should have enough frames for table+data page: %v", err)
	}
	if _, err := pt.Walk(uint64(geom.EntriesPerTable), Map, &hint); err != ErrExhaustedPhysical {
		t.Fatalf("second Walk(Map) into a new table = %v, want ErrExhaustedPhysical", err)
	}
}
