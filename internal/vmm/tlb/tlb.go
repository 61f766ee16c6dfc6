// Package tlb implements a fixed-size, fully associative software
// translation lookaside buffer.
package tlb

// none is the sentinel VPN/PPN value marking an empty slot.
const none = -1

type entry struct {
	vpn int64
	ppn int64
}

// TLB is a fixed-capacity (vpn -> ppn) cache with a trivial
// fill-empty-else-evict-slot-0 replacement policy.
type TLB struct {
	entries      []entry
	Translations uint64
	Misses       uint64
}

// New returns a TLB with the given number of slots, all empty.
func New(size int) *TLB {
	t := &TLB{entries: make([]entry, size)}
	for i := range t.entries {
		t.entries[i] = entry{vpn: none, ppn: none}
	}
	return t
}

// Lookup queries the TLB for vpn. It always increments Translations;
// a miss also increments Misses. The second return value reports
// whether the lookup was a hit.
func (t *TLB) Lookup(vpn int64) (ppn int64, hit bool) {
	t.Translations++
	for i := range t.entries {
		if t.entries[i].vpn == vpn && t.entries[i].ppn != none {
			return t.entries[i].ppn, true
		}
	}
	t.Misses++
	return 0, false
}

// Insert places (vpn, ppn) into the first empty slot, or overwrites
// slot 0 if the TLB is full.
func (t *TLB) Insert(vpn, ppn int64) {
	for i := range t.entries {
		if t.entries[i].vpn == none {
			t.entries[i] = entry{vpn: vpn, ppn: ppn}
			return
		}
	}
	t.entries[0] = entry{vpn: vpn, ppn: ppn}
}

// Invalidate clears the first slot matching vpn, if any.
func (t *TLB) Invalidate(vpn int64) {
	for i := range t.entries {
		if t.entries[i].vpn == vpn {
			t.entries[i] = entry{vpn: none, ppn: none}
			return
		}
	}
}

// InvalidateAll clears every slot. Not called by any VM operation
// today; kept for test setup that needs a clean TLB mid-test.
func (t *TLB) InvalidateAll() {
	for i := range t.entries {
		t.entries[i] = entry{vpn: none, ppn: none}
	}
}

// MissRate returns tlb_misses / translations, or 0 when no
// translation has occurred yet.
func (t *TLB) MissRate() float64 {
	if t.Translations == 0 {
		return 0
	}
	return float64(t.Misses) / float64(t.Translations)
}
