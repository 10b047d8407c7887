package channel

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/psaab/dpchan/pkg/layout"
)

// Magic is the channel-context publication token. Writing it is the final
// step of initialization; a zero or mismatched magic means "not ready."
const Magic = 0xD9C4A401

// Version is the current on-wire channel header version.
const Version = 1

// Header field byte offsets within the HeaderBytes block, with native
// alignment. Multi-byte fields are written little-endian whatever the host
// byte order; only the magic is accessed in host order, via sync/atomic.
const (
	hMagic      = 0
	hVersion    = 4
	hSize       = 8
	hName       = 16 // 256 bytes, NUL-terminated
	hNe         = 272
	hNa         = 280
	hNb         = 288
	hBufferSize = 296
	hFrameSize  = 304
	hHugePage   = 312
	hCtrlSQOff  = 320
	hCtrlCQOff  = 328
	hE2AOff     = 336
	hA2EOff     = 344
	hFreeOff    = 352
	hPoolOff    = 360
)

const nameFieldLen = 256

// headerView is a thin accessor over the header bytes of a region. All
// fields except the magic are written once at creation and are read-only
// thereafter; writes here only ever happen during Create, before the
// magic is published.
type headerView struct {
	b []byte
}

func newHeaderView(region []byte) headerView {
	return headerView{b: region[:layout.HeaderBytes]}
}

func (h headerView) magic() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&h.b[hMagic])))
}

// publishMagic stores v with an atomic (release-ordered) store, the Go
// stand-in for the channel's "full memory barrier, write magic, full
// memory barrier" publication protocol: the store itself is the barrier a
// peer's paired atomic load on magic() synchronizes with.
func (h headerView) publishMagic(v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&h.b[hMagic])), v)
}

func (h headerView) version() uint32     { return binary.LittleEndian.Uint32(h.b[hVersion:]) }
func (h headerView) setVersion(v uint32) { binary.LittleEndian.PutUint32(h.b[hVersion:], v) }

func (h headerView) size() uint64     { return binary.LittleEndian.Uint64(h.b[hSize:]) }
func (h headerView) setSize(v uint64) { binary.LittleEndian.PutUint64(h.b[hSize:], v) }

func (h headerView) name() string {
	nb := h.b[hName : hName+nameFieldLen]
	n := 0
	for n < len(nb) && nb[n] != 0 {
		n++
	}
	return string(nb[:n])
}

func (h headerView) setName(name string) {
	nb := h.b[hName : hName+nameFieldLen]
	for i := range nb {
		nb[i] = 0
	}
	copy(nb, name)
}

func (h headerView) setLayout(l layout.Layout) {
	binary.LittleEndian.PutUint64(h.b[hNe:], l.Params.Ne)
	binary.LittleEndian.PutUint64(h.b[hNa:], l.Params.Na)
	binary.LittleEndian.PutUint64(h.b[hNb:], l.Params.Nb)
	binary.LittleEndian.PutUint64(h.b[hBufferSize:], l.Params.BufferSize)
	binary.LittleEndian.PutUint64(h.b[hFrameSize:], l.FrameSize)
	hp := uint32(0)
	if l.Params.HugePage {
		hp = 1
	}
	binary.LittleEndian.PutUint32(h.b[hHugePage:], hp)
	binary.LittleEndian.PutUint64(h.b[hCtrlSQOff:], l.CtrlSQOffset)
	binary.LittleEndian.PutUint64(h.b[hCtrlCQOff:], l.CtrlCQOffset)
	binary.LittleEndian.PutUint64(h.b[hE2AOff:], l.E2AOffset)
	binary.LittleEndian.PutUint64(h.b[hA2EOff:], l.A2EOffset)
	binary.LittleEndian.PutUint64(h.b[hFreeOff:], l.FreeOffset)
	binary.LittleEndian.PutUint64(h.b[hPoolOff:], l.PoolOffset)
}

func (h headerView) readLayout() layout.Layout {
	var l layout.Layout
	l.Params.Ne = binary.LittleEndian.Uint64(h.b[hNe:])
	l.Params.Na = binary.LittleEndian.Uint64(h.b[hNa:])
	l.Params.Nb = binary.LittleEndian.Uint64(h.b[hNb:])
	l.Params.BufferSize = binary.LittleEndian.Uint64(h.b[hBufferSize:])
	l.FrameSize = binary.LittleEndian.Uint64(h.b[hFrameSize:])
	l.Params.HugePage = binary.LittleEndian.Uint32(h.b[hHugePage:]) != 0
	l.CtrlSQOffset = binary.LittleEndian.Uint64(h.b[hCtrlSQOff:])
	l.CtrlCQOffset = binary.LittleEndian.Uint64(h.b[hCtrlCQOff:])
	l.E2AOffset = binary.LittleEndian.Uint64(h.b[hE2AOff:])
	l.A2EOffset = binary.LittleEndian.Uint64(h.b[hA2EOff:])
	l.FreeOffset = binary.LittleEndian.Uint64(h.b[hFreeOff:])
	l.PoolOffset = binary.LittleEndian.Uint64(h.b[hPoolOff:])
	// The statistics block always directly follows the header (see
	// layout.Compute); it is not stored in the header itself.
	l.StatsOffset = layout.HeaderBytes
	l.Size = h.size()
	return l
}
