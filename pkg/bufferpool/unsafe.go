package bufferpool

import (
	"sync/atomic"
	"unsafe"
)

func unsafePointer(b *byte) unsafe.Pointer {
	return unsafe.Pointer(b)
}

func atomicAdd(p *uint64, delta uint64) {
	atomic.AddUint64(p, delta)
}
