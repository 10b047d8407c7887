package bufferpool

import (
	"testing"

	"github.com/psaab/dpchan/pkg/layout"
	"github.com/psaab/dpchan/pkg/ring"
)

func newTestPool(t *testing.T, nb uint64) (*Pool, *ring.Ring) {
	t.Helper()
	l, err := layout.Compute(layout.Params{Ne: 8, Na: 8, Nb: nb, BufferSize: 256, PageSize: 4096})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	free, err := ring.New(4, nb, ring.MultiProducer, ring.MultiConsumer)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	mem := make([]byte, nb*l.FrameSize)
	var leaked uint64
	p, err := New(mem, l, free, &leaked)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.InitFrames()
	if err := p.SeedFree(); err != nil {
		t.Fatalf("SeedFree: %v", err)
	}
	return p, free
}

func TestSeedFreeCoversAllIndicesOnce(t *testing.T) {
	p, _ := newTestPool(t, 64)
	if got := p.FreeCount(); got != 64 {
		t.Fatalf("FreeCount after seed = %d, want 64", got)
	}
}

func TestFrameInvariantsAfterInit(t *testing.T) {
	p, _ := newTestPool(t, 16)
	for i := uint32(0); i < 16; i++ {
		if err := p.Verify(i); err != nil {
			t.Fatalf("Verify(%d): %v", i, err)
		}
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p, _ := newTestPool(t, 64)
	idx := p.AllocBulk(16)
	if len(idx) != 16 {
		t.Fatalf("AllocBulk = %d, want 16", len(idx))
	}
	if got := p.FreeCount(); got != 48 {
		t.Fatalf("FreeCount after alloc = %d, want 48", got)
	}
	if err := p.FreeBulk(idx); err != nil {
		t.Fatalf("FreeBulk: %v", err)
	}
	if got := p.FreeCount(); got != 64 {
		t.Fatalf("FreeCount after free = %d, want 64 (round-trip law violated)", got)
	}
}

func TestAllocMinimumNb(t *testing.T) {
	p, _ := newTestPool(t, 1)
	first := p.AllocBulk(1)
	if len(first) != 1 {
		t.Fatalf("first alloc = %d, want 1", len(first))
	}
	second := p.AllocBulk(1)
	if len(second) != 0 {
		t.Fatalf("second alloc on exhausted single-buffer pool = %d, want 0", len(second))
	}
}

func TestAllocBulkShortCountIsNotError(t *testing.T) {
	p, _ := newTestPool(t, 4)
	idx := p.AllocBulk(10)
	if len(idx) != 4 {
		t.Fatalf("AllocBulk(10) on a 4-frame pool = %d, want 4", len(idx))
	}
}

func TestResetMutableFieldsOnAlloc(t *testing.T) {
	p, _ := newTestPool(t, 4)
	idx := p.AllocBulk(1)
	if len(idx) != 1 {
		t.Fatalf("AllocBulk = %d", len(idx))
	}
	hdr, _ := p.Frame(idx[0])
	next := hdr[offNext : offNext+4]
	for _, b := range next {
		// NoNext is all-0xFF bytes.
		if b != 0xFF {
			t.Fatalf("expected reset next-chain field to be NoNext sentinel")
		}
	}
}

func TestNoDuplicateIndicesOnFreeRing(t *testing.T) {
	p, free := newTestPool(t, 32)
	seen := make(map[uint32]bool)
	dst := make([]uint32, 32)
	n := free.DequeueU32(dst)
	if n != 32 {
		t.Fatalf("expected to drain all 32 indices, got %d", n)
	}
	for _, v := range dst {
		if seen[v] {
			t.Fatalf("duplicate index %d on free ring", v)
		}
		seen[v] = true
	}
	if len(seen) != 32 {
		t.Fatalf("expected 32 distinct indices, got %d", len(seen))
	}
	_ = p
}
