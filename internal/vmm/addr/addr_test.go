package addr

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	const offsetBits = 12
	for v := uint64(0); v < 64; v++ {
		for o := uint64(0); o < 4096; o += 731 {
			a := Pack(v, o, offsetBits)
			if got := UnpackVPN(a, offsetBits); got != v {
				t.Fatalf("UnpackVPN(Pack(%d,%d)) = %d, want %d", v, o, got, v)
			}
			if got := UnpackOffset(a, offsetBits); got != o {
				t.Fatalf("UnpackOffset(Pack(%d,%d)) = %d, want %d", v, o, got, o)
			}
		}
	}
}

func TestPackReservesNullAddress(t *testing.T) {
	if a := Pack(0, 0, 12); a == 0 {
		t.Fatal("Pack(0, 0, ...) must not be the null address")
	}
}

func TestExtract(t *testing.T) {
	x := uint64(0b1011_0110)
	if got := Extract(x, 1, 3); got != 0b011 {
		t.Fatalf("Extract = %b, want %b", got, 0b011)
	}
	if got := Extract(x, 0, 8); got != x {
		t.Fatalf("Extract(whole word) = %b, want %b", got, x)
	}
}

func TestExtractGuardsOutOfRange(t *testing.T) {
	cases := []struct{ i, n int }{
		{-1, 4}, {64, 1}, {0, 0}, {0, -1}, {60, 10},
	}
	for _, c := range cases {
		if got := Extract(0xffffffffffffffff, c.i, c.n); got != 0 {
			t.Errorf("Extract(_, %d, %d) = %d, want 0", c.i, c.n, got)
		}
	}
}
