package shmduplex

import (
	"fmt"

	"github.com/pkg/errors"
)

// Buffer size errors reported while resolving geometry.
var (
	// ErrZeroBufferSize means the Creator has not populated the declared
	// buffer sizes, or populated them with zero. Fatal at startup.
	ErrZeroBufferSize = errors.New("declared buffer size is zero")
)

// BoundsError reports a payload access that would fall outside a buffer's
// declared capacity or outside the mapped region.
type BoundsError struct {
	Op     string // "read inbound" or "write outbound"
	Offset uint64 // buffer offset within the segment
	Length uint64 // requested length
	Limit  uint64 // capacity or mapped size that was exceeded
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s of %d bytes at offset %d exceeds limit %d", e.Op, e.Length, e.Offset, e.Limit)
}

// bufferMap resolves the two payload buffers from the declared sizes in the
// control block. The C2A buffer starts immediately after the control block;
// the A2C buffer immediately after the C2A buffer. The declared sizes are
// read once at startup and never change for the life of the Acceptor.
type bufferMap struct {
	mem    []byte
	c2aOff uint64
	c2aCap uint64
	a2cOff uint64
	a2cCap uint64
}

// resolveBuffers reads the declared capacities from cb and computes buffer
// geometry over mem. A zero declared size is a fatal initialization error.
// Declared sizes that overrun the mapped region only produce a warning:
// the Creator's declaration is authoritative for the layout, and every
// actual access is still bounds-checked against the mapped size.
func resolveBuffers(mem []byte, cb *ControlBlock) (*bufferMap, error) {
	c2aCap := cb.DefinedC2ASize()
	a2cCap := cb.DefinedA2CSize()
	if c2aCap == 0 || a2cCap == 0 {
		return nil, errors.Wrapf(ErrZeroBufferSize, "c2a=%d a2c=%d", c2aCap, a2cCap)
	}

	b := &bufferMap{
		mem:    mem,
		c2aOff: ControlBlockSize,
		c2aCap: c2aCap,
		a2cOff: ControlBlockSize + c2aCap,
		a2cCap: a2cCap,
	}

	expected := ControlBlockSize + c2aCap + a2cCap
	if expected > uint64(len(mem)) {
		log.Warnf("Declared layout (%d bytes: control=%d c2a=%d a2c=%d) exceeds mapped size (%d bytes)",
			expected, ControlBlockSize, c2aCap, a2cCap, len(mem))
	}
	log.Infof("Resolved buffers: C2A offset=%d cap=%d, A2C offset=%d cap=%d", b.c2aOff, b.c2aCap, b.a2cOff, b.a2cCap)
	return b, nil
}

// c2aReadable returns the largest inbound length any read can succeed
// with: the declared C2A capacity clamped to the mapped span behind the
// control block. When the Creator over-declares, this is what actually
// backs the buffer.
func (b *bufferMap) c2aReadable() uint64 {
	mapped := uint64(len(b.mem))
	if b.c2aOff >= mapped {
		return 0
	}
	if avail := mapped - b.c2aOff; avail < b.c2aCap {
		return avail
	}
	return b.c2aCap
}

// checkInbound validates a requested inbound length against both the
// declared C2A capacity and the mapped region, without touching the buffer.
func (b *bufferMap) checkInbound(length uint64) error {
	if length > b.c2aCap {
		return &BoundsError{Op: "read inbound", Offset: b.c2aOff, Length: length, Limit: b.c2aCap}
	}
	if b.c2aOff+length > uint64(len(b.mem)) {
		return &BoundsError{Op: "read inbound", Offset: b.c2aOff, Length: length, Limit: uint64(len(b.mem))}
	}
	return nil
}

// readInbound copies length bytes out of the C2A buffer into dst, which
// must be at least length bytes. The request is checked against both the
// declared C2A capacity and the mapped region.
func (b *bufferMap) readInbound(dst []byte, length uint64) error {
	if err := b.checkInbound(length); err != nil {
		return err
	}
	copy(dst, b.mem[b.c2aOff:b.c2aOff+length])
	return nil
}

// writeOutbound copies data into the A2C buffer. The request is checked
// against both the declared A2C capacity and the mapped region before any
// byte is written.
func (b *bufferMap) writeOutbound(data []byte) error {
	length := uint64(len(data))
	if length > b.a2cCap {
		return &BoundsError{Op: "write outbound", Offset: b.a2cOff, Length: length, Limit: b.a2cCap}
	}
	if b.a2cOff+length > uint64(len(b.mem)) {
		return &BoundsError{Op: "write outbound", Offset: b.a2cOff, Length: length, Limit: uint64(len(b.mem))}
	}
	copy(b.mem[b.a2cOff:b.a2cOff+length], data)
	return nil
}
