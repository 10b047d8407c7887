package channel

import "encoding/binary"

// ControlEntrySize is the fixed element size of the control SQ/CQ rings.
const ControlEntrySize = 64

// ControlOp identifies the kind of control request or completion.
type ControlOp uint32

const (
	OpListen    ControlOp = 1
	OpConnect   ControlOp = 2
	OpTeardown  ControlOp = 3
	OpCompleted ControlOp = 100 // Op value for completion entries
)

// ControlEntry is a fixed-size control-ring element. The flow/listener
// state machines that interpret FlowID and Payload are external
// collaborators; the channel moves these bytes without inspecting them
// beyond Op/FlowID/Status.
type ControlEntry struct {
	Op      ControlOp
	FlowID  uint64
	Status  int32
	Payload [44]byte // opaque to the channel; collaborator-defined
}

// Encode writes e into a ControlEntrySize-byte buffer.
func (e ControlEntry) Encode() []byte {
	b := make([]byte, ControlEntrySize)
	binary.LittleEndian.PutUint32(b[0:], uint32(e.Op))
	binary.LittleEndian.PutUint64(b[4:], e.FlowID)
	binary.LittleEndian.PutUint32(b[12:], uint32(e.Status))
	copy(b[16:], e.Payload[:])
	return b
}

// DecodeControlEntry parses a ControlEntrySize-byte buffer back into a
// ControlEntry.
func DecodeControlEntry(b []byte) ControlEntry {
	var e ControlEntry
	e.Op = ControlOp(binary.LittleEndian.Uint32(b[0:]))
	e.FlowID = binary.LittleEndian.Uint64(b[4:])
	e.Status = int32(binary.LittleEndian.Uint32(b[12:]))
	copy(e.Payload[:], b[16:16+len(e.Payload)])
	return e
}
