// Package bufferpool implements the fixed-size message buffer pool: a
// contiguous array of frames addressed by 32-bit index, each carrying a
// reserved header (immutable magic, index and size, plus mutable per-use
// metadata) and a payload area with headroom.
//
// Ownership of a frame is tracked entirely by the free-buffer ring (owned
// by pkg/channel, not this package): a frame belongs to whoever last
// dequeued its index from any ring, until the index is re-enqueued here.
package bufferpool

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/psaab/dpchan/pkg/layout"
	"github.com/psaab/dpchan/pkg/ring"
)

// FrameMagic identifies an initialized buffer frame. Immutable after init.
const FrameMagic = 0xB0F5F4A6

// Frame header field offsets within a frame's reserved header.
const (
	offMagic    = 0
	offIndex    = 4
	offSize     = 8
	offPayload  = 12 // mutable: current payload length
	offNext     = 16 // mutable: next-in-chain index for scatter/gather, ^uint32(0) == none
	offFlowID   = 20 // mutable: flow identifier placeholder, collaborator-owned
)

// NoNext is the sentinel "no next frame" chain value.
const NoNext = ^uint32(0)

// ErrLeaked is returned by FreeBulk when the bounded retry budget is
// exhausted; the caller's indices are considered leaked and the pool's leak
// counter has already been incremented.
var ErrLeaked = errors.New("bufferpool: free retry budget exhausted, buffers leaked")

// freeRetryLimit is the minimum bounded-retry count for the free path,
// absorbing transient MPMC commit-order contention on the free ring.
const freeRetryLimit = 5

// Pool is the buffer frame array plus the free-buffer ring that tracks
// which indices are currently unallocated.
type Pool struct {
	mem       []byte
	frameSize uint64
	count     uint64
	free      *ring.Ring

	leaked   *uint64 // shared counter, lives in the channel statistics block
}

// New wires a Pool over mem (a slice view of the region's buffer-pool
// bytes), sized per l, with free indicating the ring used to hold currently
// unallocated indices. leaked is a pointer into the channel's shared
// statistics block, incremented whenever FreeBulk exhausts its retry
// budget.
func New(mem []byte, l layout.Layout, free *ring.Ring, leaked *uint64) (*Pool, error) {
	need := l.Params.Nb * l.FrameSize
	if uint64(len(mem)) < need {
		return nil, fmt.Errorf("bufferpool: backing slice too small: have %d, need %d", len(mem), need)
	}
	if free.Capacity() < l.Params.Nb {
		return nil, errors.New("bufferpool: free ring capacity smaller than pool size")
	}
	return &Pool{
		mem:       mem,
		frameSize: l.FrameSize,
		count:     l.Params.Nb,
		free:      free,
		leaked:    leaked,
	}, nil
}

// Count returns the total number of frames in the pool.
func (p *Pool) Count() uint64 { return p.count }

// FrameSize returns the fixed byte size of one frame.
func (p *Pool) FrameSize() uint64 { return p.frameSize }

// BaseAddr returns the address of the first byte of the pool, for the
// NIC-driver DMA-registration collaborator named in the channel's external
// interfaces. dpchan never calls into that collaborator; it only exposes
// this range.
func (p *Pool) BaseAddr() uintptr {
	if len(p.mem) == 0 {
		return 0
	}
	return uintptr(unsafePointer(&p.mem[0]))
}

// InitFrames writes every frame's immutable header fields once, at region
// creation. Called exactly once, before the free ring is seeded.
func (p *Pool) InitFrames() {
	for i := uint64(0); i < p.count; i++ {
		f := p.frameBytes(uint32(i))
		binary.LittleEndian.PutUint32(f[offMagic:], FrameMagic)
		binary.LittleEndian.PutUint32(f[offIndex:], uint32(i))
		binary.LittleEndian.PutUint32(f[offSize:], uint32(p.frameSize))
		binary.LittleEndian.PutUint32(f[offPayload:], 0)
		binary.LittleEndian.PutUint32(f[offNext:], NoNext)
		binary.LittleEndian.PutUint32(f[offFlowID:], 0)
	}
}

// SeedFree enqueues every index 0..count-1 onto the free ring in a single
// bulk operation. The operation must consume all slots (free ring capacity
// equals or exceeds count by construction in New).
func (p *Pool) SeedFree() error {
	idx := make([]uint32, p.count)
	for i := range idx {
		idx[i] = uint32(i)
	}
	if n := p.free.EnqueueU32(idx); n != len(idx) {
		return fmt.Errorf("bufferpool: seeding free ring: wanted %d, enqueued %d", len(idx), n)
	}
	return nil
}

func (p *Pool) frameBytes(index uint32) []byte {
	off := uint64(index) * p.frameSize
	return p.mem[off : off+p.frameSize]
}

// Frame returns the reserved header view and payload slice (including
// headroom) for a given index. The pointer is process-local: it is
// recomputed from this process's own mapping base, never a value that
// crossed a process boundary.
func (p *Pool) Frame(index uint32) (header []byte, payload []byte) {
	f := p.frameBytes(index)
	return f[:layout.FrameHeaderBytes], f[layout.FrameHeaderBytes:]
}

// Verify checks the invariant that a frame's immutable fields were never
// corrupted: magic matches and index matches position. Used by attach-time
// validation and tests, not on the fast path.
func (p *Pool) Verify(index uint32) error {
	f := p.frameBytes(index)
	magic := binary.LittleEndian.Uint32(f[offMagic:])
	idx := binary.LittleEndian.Uint32(f[offIndex:])
	if magic != FrameMagic {
		return fmt.Errorf("bufferpool: frame %d magic mismatch: got 0x%x", index, magic)
	}
	if idx != index {
		return fmt.Errorf("bufferpool: frame %d index field mismatch: got %d", index, idx)
	}
	return nil
}

// AllocBulk dequeues up to want indices from the free ring, resets each
// frame's mutable header fields to an empty state, and returns the
// allocated indices. A short (possibly zero) count is not an error: it is
// back-pressure from an exhausted free ring.
//
// The free ring's own Dequeue is all-or-nothing, so a short result is
// produced by first clamping the request to an approximate snapshot of
// what's available before issuing the all-or-nothing dequeue for that
// clamped count. Under concurrent contention the snapshot can go stale
// between the clamp and the dequeue, in which case this degrades to
// reporting 0 rather than retrying — callers already treat 0 as ordinary
// back-pressure.
func (p *Pool) AllocBulk(want int) []uint32 {
	if want <= 0 {
		return nil
	}
	n := uint64(want)
	if avail := p.free.Len(); n > avail {
		n = avail
	}
	if n == 0 {
		return nil
	}
	dst := make([]uint32, n)
	got := p.free.DequeueU32(dst)
	if got == 0 {
		return nil
	}
	out := dst[:got]
	for _, idx := range out {
		p.resetMutable(idx)
	}
	return out
}

func (p *Pool) resetMutable(index uint32) {
	f := p.frameBytes(index)
	binary.LittleEndian.PutUint32(f[offPayload:], 0)
	binary.LittleEndian.PutUint32(f[offNext:], NoNext)
	binary.LittleEndian.PutUint32(f[offFlowID:], 0)
}

// FreeBulk re-enqueues idx onto the free ring. The free ring can never
// overflow by construction (capacity >= pool count), so failure here means
// transient contention among concurrent multi-producer enqueuers, not a
// capacity problem; the call retries up to the bounded minimum before
// giving up and reporting the indices leaked.
func (p *Pool) FreeBulk(idx []uint32) error {
	if len(idx) == 0 {
		return nil
	}
	for attempt := 0; attempt < freeRetryLimit; attempt++ {
		if n := p.free.EnqueueU32(idx); n == len(idx) {
			return nil
		}
	}
	if p.leaked != nil {
		atomicAdd(p.leaked, uint64(len(idx)))
	}
	return ErrLeaked
}

// FreeCount returns a snapshot of how many frames are currently on the free
// ring. Approximate under concurrency.
func (p *Pool) FreeCount() uint64 {
	return p.free.Len()
}
