package ring

import "encoding/binary"

// EnqueueU32 bulk-enqueues 32-bit buffer indices (the free ring and the two
// data rings all carry indices, not payload bytes — payload lives in the
// pool frame the index addresses). All-or-nothing: returns len(vals) or 0.
func (r *Ring) EnqueueU32(vals []uint32) int {
	if r.elemSize != 4 {
		panic("ring: EnqueueU32 on ring not sized for 4-byte elements")
	}
	bufs := make([][]byte, len(vals))
	scratch := make([]byte, 4*len(vals))
	for i, v := range vals {
		b := scratch[i*4 : i*4+4]
		binary.LittleEndian.PutUint32(b, v)
		bufs[i] = b
	}
	return r.enqueueRaw(bufs)
}

// DequeueU32 bulk-dequeues up to len(dst) indices. Returns the count
// actually dequeued (0 or len(dst), never partial).
func (r *Ring) DequeueU32(dst []uint32) int {
	if r.elemSize != 4 {
		panic("ring: DequeueU32 on ring not sized for 4-byte elements")
	}
	bufs := make([][]byte, len(dst))
	scratch := make([]byte, 4*len(dst))
	for i := range dst {
		bufs[i] = scratch[i*4 : i*4+4]
	}
	n := r.dequeueRaw(bufs)
	for i := 0; i < n; i++ {
		dst[i] = binary.LittleEndian.Uint32(bufs[i])
	}
	return n
}

// EnqueueBytes bulk-enqueues raw fixed-size elements, one []byte per slot.
// Each element of batch must have length equal to the ring's element size.
// Used for control-ring entries, which are small fixed-size structs encoded
// by the caller.
func (r *Ring) EnqueueBytes(batch [][]byte) int {
	return r.enqueueRaw(batch)
}

// DequeueBytes bulk-dequeues into dst, each element pre-allocated to the
// ring's element size.
func (r *Ring) DequeueBytes(dst [][]byte) int {
	return r.dequeueRaw(dst)
}
