package tlb

import "testing"

func TestLookupMissThenHit(t *testing.T) {
	c := New(4)
	if _, hit := c.Lookup(5); hit {
		t.Fatal("expected miss on empty TLB")
	}
	if c.Misses != 1 || c.Translations != 1 {
		t.Fatalf("Misses=%d Translations=%d, want 1,1", c.Misses, c.Translations)
	}
	c.Insert(5, 9)
	ppn, hit := c.Lookup(5)
	if !hit || ppn != 9 {
		t.Fatalf("Lookup(5) = (%d,%v), want (9,true)", ppn, hit)
	}
	if c.Translations != 2 {
		t.Fatalf("Translations = %d, want 2", c.Translations)
	}
	if c.Misses != 1 {
		t.Fatalf("Misses = %d, want 1 (second lookup was a hit)", c.Misses)
	}
}

func TestInsertFillsEmptySlotsBeforeEvicting(t *testing.T) {
	c := New(2)
	c.Insert(1, 10)
	c.Insert(2, 20)
	if ppn, hit := c.Lookup(1); !hit || ppn != 10 {
		t.Fatalf("expected vpn 1 to survive, got (%d,%v)", ppn, hit)
	}
	// Both slots full: inserting a third entry must evict slot 0, not
	// slot 1, per the spec's replacement policy.
	c.Insert(3, 30)
	if _, hit := c.Lookup(1); hit {
		t.Fatal("expected vpn 1 to have been evicted from slot 0")
	}
	if ppn, hit := c.Lookup(2); !hit || ppn != 20 {
		t.Fatalf("expected vpn 2 to survive in slot 1, got (%d,%v)", ppn, hit)
	}
}

func TestInvalidate(t *testing.T) {
	c := New(4)
	c.Insert(7, 70)
	c.Invalidate(7)
	if _, hit := c.Lookup(7); hit {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestMissRateZeroBeforeAnyTranslation(t *testing.T) {
	c := New(4)
	if c.MissRate() != 0 {
		t.Fatalf("MissRate() = %v, want 0 before any translation", c.MissRate())
	}
}

func TestInvalidateAll(t *testing.T) {
	c := New(4)
	c.Insert(1, 10)
	c.Insert(2, 20)
	c.InvalidateAll()
	if _, hit := c.Lookup(1); hit {
		t.Fatal("expected miss after InvalidateAll")
	}
	if _, hit := c.Lookup(2); hit {
		t.Fatal("expected miss after InvalidateAll")
	}
}

func TestMissesNeverExceedTranslations(t *testing.T) {
	c := New(4)
	for i := int64(0); i < 20; i++ {
		c.Lookup(i % 3)
		if i%2 == 0 {
			c.Insert(i%3, i)
		}
	}
	if c.Misses > c.Translations {
		t.Fatalf("Misses (%d) > Translations (%d)", c.Misses, c.Translations)
	}
}
