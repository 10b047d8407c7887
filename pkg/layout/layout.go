// Package layout computes the canonical byte layout of a dataplane channel
// region: total size and every component's offset, as a pure function of
// ring capacities and buffer size. It is the single authority both channel
// initialization and any offline sizing tool must agree with bit for bit.
package layout

import (
	"errors"
	"fmt"
)

// ErrNotPowerOfTwo is returned when a ring or pool capacity is not a power
// of two.
var ErrNotPowerOfTwo = errors.New("layout: capacity must be a power of two")

// ErrBufferTooLarge is returned when buffer_size exceeds the page size.
var ErrBufferTooLarge = errors.New("layout: buffer_size exceeds page size")

const (
	// HeaderBytes is the fixed size of the channel header (ctx): magic,
	// version, name, size, layout offsets, data-plane parameters. Counters
	// live in the statistics block, not here.
	HeaderBytes = 512

	// StatsBytes is the fixed size of the statistics block.
	StatsBytes = 256

	// FrameHeaderBytes is the reserved header inside every buffer frame:
	// immutable magic, index and size, plus mutable metadata.
	FrameHeaderBytes = 64

	// MaxHeadroom is the reserved space at the start of a frame's payload
	// area for prepending network headers.
	MaxHeadroom = 128

	// ringElemBytes is the element size for index-carrying rings (free ring,
	// both data rings): a single 32-bit buffer index.
	ringElemBytes = 4

	// ctrlElemBytes is the element size for the control SQ/CQ rings: a
	// fixed-size control entry (opcode + payload slots).
	ctrlElemBytes = 64

	// CacheLine is the assumed cache line size used to pad ring metadata
	// and round ring footprints.
	CacheLine = 64

	// ControlRingCapacity is the fixed capacity of both control rings.
	ControlRingCapacity = 2
)

// Params describes the inputs to Compute: ring capacities and the
// application-visible buffer size.
type Params struct {
	Ne         uint64 // engine->app data ring capacity
	Na         uint64 // app->engine data ring capacity
	Nb         uint64 // buffer pool / free ring capacity
	BufferSize uint64 // application-visible bytes per buffer frame
	PageSize   uint64 // backing page size (2MiB hugepage or system page)
	HugePage   bool   // true selects 2MiB hugepage alignment semantics
}

// Layout is the computed, deterministic placement of every channel
// component within a region of Size bytes.
type Layout struct {
	Params Params

	FrameSize uint64 // F = next_pow2(buffer_size + reserved_header + max_headroom)

	HeaderOffset  uint64
	StatsOffset   uint64
	CtrlSQOffset  uint64
	CtrlCQOffset  uint64
	E2AOffset     uint64
	A2EOffset     uint64
	FreeOffset    uint64
	PoolOffset    uint64 // page-aligned
	Size          uint64 // total region size, page-aligned
}

// Compute is the canonical sizing function: layout(Ne, Na, Nb, buffer_size,
// huge_page?) -> (S, offsets). Equal inputs always yield an equal result.
func Compute(p Params) (Layout, error) {
	if !isPow2(p.Ne) || !isPow2(p.Na) || !isPow2(p.Nb) {
		return Layout{}, ErrNotPowerOfTwo
	}
	if p.PageSize == 0 {
		if p.HugePage {
			p.PageSize = 2 << 20
		} else {
			p.PageSize = 4096
		}
	}
	if p.BufferSize > p.PageSize {
		return Layout{}, ErrBufferTooLarge
	}

	frameSize := nextPow2(p.BufferSize + FrameHeaderBytes + MaxHeadroom)

	l := Layout{Params: p, FrameSize: frameSize}

	offset := uint64(0)
	l.HeaderOffset = offset
	offset += HeaderBytes

	l.StatsOffset = offset
	offset += StatsBytes

	ringBytes, err := ringFootprint(ctrlElemBytes, ControlRingCapacity)
	if err != nil {
		return Layout{}, err
	}
	l.CtrlSQOffset = offset
	offset += ringBytes

	l.CtrlCQOffset = offset
	offset += ringBytes

	e2aBytes, err := ringFootprint(ringElemBytes, p.Ne)
	if err != nil {
		return Layout{}, err
	}
	l.E2AOffset = offset
	offset += e2aBytes

	a2eBytes, err := ringFootprint(ringElemBytes, p.Na)
	if err != nil {
		return Layout{}, err
	}
	l.A2EOffset = offset
	offset += a2eBytes

	freeBytes, err := ringFootprint(ringElemBytes, p.Nb)
	if err != nil {
		return Layout{}, err
	}
	l.FreeOffset = offset
	offset += freeBytes

	offset = roundUp(offset, p.PageSize)
	l.PoolOffset = offset
	offset += p.Nb * frameSize

	l.Size = roundUp(offset, p.PageSize)
	return l, nil
}

// ringFootprint mirrors ring.BytesFor without importing pkg/ring, keeping
// layout dependency-free and safe to call before any ring exists.
func ringFootprint(elemSize uintptr, capacity uint64) (uint64, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return 0, ErrNotPowerOfTwo
	}
	const cursorBlockBytes = 4 * 8
	raw := roundUp(cursorBlockBytes, CacheLine) + uint64(elemSize)*capacity
	return roundUp(raw, CacheLine), nil
}

// MinRegionSize is a convenience for operators: compute the region size for
// a set of parameters without needing the full offset table.
func MinRegionSize(p Params) (uint64, error) {
	l, err := Compute(p)
	if err != nil {
		return 0, err
	}
	return l.Size, nil
}

// Describe renders a human-readable summary of the layout, used by the
// dpchanctl size subcommand and log lines at channel creation.
func (l Layout) Describe() string {
	return fmt.Sprintf(
		"size=%d frame=%d header@%d stats@%d ctrl_sq@%d ctrl_cq@%d e2a@%d a2e@%d free@%d pool@%d",
		l.Size, l.FrameSize, l.HeaderOffset, l.StatsOffset, l.CtrlSQOffset,
		l.CtrlCQOffset, l.E2AOffset, l.A2EOffset, l.FreeOffset, l.PoolOffset)
}

func (l Layout) String() string { return l.Describe() }

func isPow2(n uint64) bool { return n != 0 && n&(n-1) == 0 }

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func roundUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
