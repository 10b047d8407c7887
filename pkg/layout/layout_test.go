package layout

import "testing"

func baseParams() Params {
	return Params{Ne: 256, Na: 256, Nb: 64, BufferSize: 2048, PageSize: 4096}
}

func TestComputeDeterministic(t *testing.T) {
	p := baseParams()
	a, err := Compute(p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("Compute not deterministic: %+v vs %+v", a, b)
	}
}

func TestComputeRejectsNonPowerOfTwo(t *testing.T) {
	p := baseParams()
	p.Nb = 3
	if _, err := Compute(p); err != ErrNotPowerOfTwo {
		t.Fatalf("expected ErrNotPowerOfTwo, got %v", err)
	}
}

func TestComputeRejectsOversizeBuffer(t *testing.T) {
	p := baseParams()
	p.BufferSize = p.PageSize + 1
	if _, err := Compute(p); err != ErrBufferTooLarge {
		t.Fatalf("expected ErrBufferTooLarge, got %v", err)
	}
}

func TestComputeAcceptsBufferEqualToPageSize(t *testing.T) {
	p := baseParams()
	p.BufferSize = p.PageSize
	if _, err := Compute(p); err != nil {
		t.Fatalf("expected buffer_size == page_size to succeed, got %v", err)
	}
}

func TestComputeMinimumNb(t *testing.T) {
	p := baseParams()
	p.Nb = 1
	l, err := Compute(p)
	if err != nil {
		t.Fatalf("Compute with Nb=1: %v", err)
	}
	if l.Size == 0 {
		t.Fatalf("expected non-zero size")
	}
}

func TestPoolSizeAtLeastBufferCount(t *testing.T) {
	p := baseParams()
	l, err := Compute(p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	poolBytes := l.Size - l.PoolOffset
	// pool region may be page-rounded up, so it must be AT LEAST Nb*F.
	if poolBytes < p.Nb*l.FrameSize {
		t.Fatalf("pool region %d bytes too small for %d frames of %d bytes",
			poolBytes, p.Nb, l.FrameSize)
	}
}

func TestOffsetsWithinRegion(t *testing.T) {
	p := baseParams()
	l, err := Compute(p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	offsets := []uint64{l.HeaderOffset, l.StatsOffset, l.CtrlSQOffset, l.CtrlCQOffset, l.E2AOffset, l.A2EOffset, l.FreeOffset, l.PoolOffset}
	for _, o := range offsets {
		if o >= l.Size {
			t.Fatalf("offset %d outside region of size %d", o, l.Size)
		}
	}
}

func TestFrameSizeIsPowerOfTwo(t *testing.T) {
	l, err := Compute(baseParams())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if l.FrameSize&(l.FrameSize-1) != 0 {
		t.Fatalf("frame size %d is not a power of two", l.FrameSize)
	}
}
