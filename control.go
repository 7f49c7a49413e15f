package shmduplex

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// Command values posted by the Creator in the c2aCommand field.
const (
	// CommandIdle means no work is pending.
	CommandIdle = int32(0)
	// CommandDataReady means the Creator has placed a message in the C2A buffer.
	CommandDataReady = int32(1)
	// CommandShutdown asks the Acceptor to terminate.
	CommandShutdown = int32(99)
)

// Status values published by the Acceptor in the a2cStatus field.
const (
	// StatusReady means the A2C buffer is free and the Creator is ready
	// for the next response.
	StatusReady = int32(0)
	// StatusResponseReady means a response of a2cDataLen bytes is in the A2C buffer.
	StatusResponseReady = int32(1)
	// StatusError signals a failed exchange; a2cDataLen is zero.
	StatusError = int32(-1)
)

// ControlBlockSize is the fixed size of the control block in bytes. The
// Creator allocates the segment as control block + C2A buffer + A2C buffer.
const ControlBlockSize = 128

// ErrControlBlockTooSmall is returned when a mapped region cannot hold the
// control block.
var ErrControlBlockTooSmall = errors.New("mapped region smaller than control block")

// ControlBlock is the fixed-layout header shared with the Creator process.
// The field order, sizes and offsets must match the Creator's definition
// byte for byte; padding is explicit so the layout holds on any 64-bit
// platform with natural alignment.
//
// Layout:
//
//	0x00  c2aCommand      int32   Creator->Acceptor command
//	0x08  c2aDataLen      uint64  valid bytes in the C2A buffer
//	0x10  a2cStatus       int32   Acceptor->Creator status
//	0x18  a2cDataLen      uint64  valid bytes in the A2C buffer
//	0x20  definedC2ASize  uint64  C2A buffer capacity, set at creation
//	0x28  definedA2CSize  uint64  A2C buffer capacity, set at creation
//	0x30  reserved        [80]byte pads the record to 128 bytes
type ControlBlock struct {
	c2aCommand     int32
	pad0           [4]byte
	c2aDataLen     uint64
	a2cStatus      int32
	pad1           [4]byte
	a2cDataLen     uint64
	definedC2ASize uint64
	definedA2CSize uint64
	reserved       [80]byte
}

// ControlBlockAt interprets the leading bytes of mem as a ControlBlock,
// in place. Writes through the returned pointer are immediately visible to
// the peer process sharing the mapping; no copy is ever taken, because the
// command/status handshake depends on each peer observing the other's
// stores directly.
func ControlBlockAt(mem []byte) (*ControlBlock, error) {
	if len(mem) < ControlBlockSize {
		return nil, errors.Wrapf(ErrControlBlockTooSmall, "have %d bytes, need %d", len(mem), ControlBlockSize)
	}
	return (*ControlBlock)(unsafe.Pointer(&mem[0])), nil
}

// Command returns the current Creator->Acceptor command.
func (cb *ControlBlock) Command() int32 {
	return atomic.LoadInt32(&cb.c2aCommand)
}

// SetCommand stores a Creator->Acceptor command. The Acceptor only ever
// writes CommandIdle here, as acknowledgement.
func (cb *ControlBlock) SetCommand(cmd int32) {
	atomic.StoreInt32(&cb.c2aCommand, cmd)
}

// C2ADataLen returns the number of valid bytes in the C2A buffer.
func (cb *ControlBlock) C2ADataLen() uint64 {
	return atomic.LoadUint64(&cb.c2aDataLen)
}

// SetC2ADataLen stores the C2A payload length. Only the Creator writes this
// in normal operation; the setter exists for tests standing in for it.
func (cb *ControlBlock) SetC2ADataLen(n uint64) {
	atomic.StoreUint64(&cb.c2aDataLen, n)
}

// Status returns the current Acceptor->Creator status.
func (cb *ControlBlock) Status() int32 {
	return atomic.LoadInt32(&cb.a2cStatus)
}

// SetStatus stores the Acceptor->Creator status.
func (cb *ControlBlock) SetStatus(status int32) {
	atomic.StoreInt32(&cb.a2cStatus, status)
}

// A2CDataLen returns the number of valid bytes in the A2C buffer.
func (cb *ControlBlock) A2CDataLen() uint64 {
	return atomic.LoadUint64(&cb.a2cDataLen)
}

// SetA2CDataLen stores the A2C payload length. Respond always stores the
// length before flipping the status to StatusResponseReady, so the Creator
// never observes a stale length for a ready response.
func (cb *ControlBlock) SetA2CDataLen(n uint64) {
	atomic.StoreUint64(&cb.a2cDataLen, n)
}

// DefinedC2ASize returns the C2A buffer capacity declared by the Creator.
func (cb *ControlBlock) DefinedC2ASize() uint64 {
	return atomic.LoadUint64(&cb.definedC2ASize)
}

// DefinedA2CSize returns the A2C buffer capacity declared by the Creator.
func (cb *ControlBlock) DefinedA2CSize() uint64 {
	return atomic.LoadUint64(&cb.definedA2CSize)
}

// setDefinedSizes populates the declared capacities. Normally the Creator's
// job; used by tests building segments from scratch.
func (cb *ControlBlock) setDefinedSizes(c2a, a2c uint64) {
	atomic.StoreUint64(&cb.definedC2ASize, c2a)
	atomic.StoreUint64(&cb.definedA2CSize, a2c)
}
