package channel

import (
	"sync/atomic"
	"unsafe"

	"github.com/psaab/dpchan/pkg/layout"
)

// Statistics-block counter byte offsets. Every counter is an 8-byte atomic
// accessed in place inside the shared region; both engine and app may
// increment their own counters concurrently.
const (
	sAllocCount         = 0
	sFreeCount          = 8
	sLeakedCount         = 16
	sCtrlSQEnqueued     = 24
	sCtrlCQEnqueued     = 32
	sE2AEnqueued        = 40
	sA2EEnqueued        = 48
	sBackPressureEvents = 56
)

// statsView is an accessor over the statistics block.
type statsView struct {
	b []byte
}

func newStatsView(region []byte, offset uint64) statsView {
	return statsView{b: region[offset : offset+layout.StatsBytes]}
}

func (s statsView) counterPtr(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.b[off]))
}

func (s statsView) add(off int, delta uint64) {
	atomic.AddUint64(s.counterPtr(off), delta)
}

func (s statsView) load(off int) uint64 {
	return atomic.LoadUint64(s.counterPtr(off))
}

// ChannelStats is a diagnostic snapshot of a channel's statistics block,
// read by the Prometheus collector and by dpchanctl's "stats" command.
type ChannelStats struct {
	AllocCount         uint64
	FreeCount          uint64
	LeakedCount        uint64
	CtrlSQEnqueued     uint64
	CtrlCQEnqueued     uint64
	E2AEnqueued        uint64
	A2EEnqueued        uint64
	BackPressureEvents uint64
	FreeRingCount      uint64
}

func (s statsView) snapshot(freeRingCount uint64) ChannelStats {
	return ChannelStats{
		AllocCount:         s.load(sAllocCount),
		FreeCount:          s.load(sFreeCount),
		LeakedCount:        s.load(sLeakedCount),
		CtrlSQEnqueued:     s.load(sCtrlSQEnqueued),
		CtrlCQEnqueued:     s.load(sCtrlCQEnqueued),
		E2AEnqueued:        s.load(sE2AEnqueued),
		A2EEnqueued:        s.load(sA2EEnqueued),
		BackPressureEvents: s.load(sBackPressureEvents),
		FreeRingCount:      freeRingCount,
	}
}
