package shmduplex

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// TestControlBlockSize verifies the record occupies exactly 128 bytes, the
// size the Creator pads its definition to.
func TestControlBlockSize(t *testing.T) {
	if size := unsafe.Sizeof(ControlBlock{}); size != ControlBlockSize {
		t.Errorf("Expected ControlBlock size %d, got %d", ControlBlockSize, size)
	}
}

// TestControlBlockFieldOffsets pins every field to the offset the Creator's
// definition uses.
func TestControlBlockFieldOffsets(t *testing.T) {
	var cb ControlBlock
	tests := []struct {
		name   string
		offset uintptr
		want   uintptr
	}{
		{"c2aCommand", unsafe.Offsetof(cb.c2aCommand), 0x00},
		{"c2aDataLen", unsafe.Offsetof(cb.c2aDataLen), 0x08},
		{"a2cStatus", unsafe.Offsetof(cb.a2cStatus), 0x10},
		{"a2cDataLen", unsafe.Offsetof(cb.a2cDataLen), 0x18},
		{"definedC2ASize", unsafe.Offsetof(cb.definedC2ASize), 0x20},
		{"definedA2CSize", unsafe.Offsetof(cb.definedA2CSize), 0x28},
		{"reserved", unsafe.Offsetof(cb.reserved), 0x30},
	}
	for _, tt := range tests {
		if tt.offset != tt.want {
			t.Errorf("Expected %s at offset 0x%02x, got 0x%02x", tt.name, tt.want, tt.offset)
		}
	}
}

// TestControlBlockAtTooSmall rejects regions that cannot hold the record.
func TestControlBlockAtTooSmall(t *testing.T) {
	mem := make([]byte, ControlBlockSize-1)
	if _, err := ControlBlockAt(mem); err == nil {
		t.Error("Expected error for undersized region, got nil")
	}
}

// TestControlBlockInPlace verifies the view aliases the backing memory
// rather than copying it: stores through the accessors land in the raw
// bytes, and raw stores are observed by the accessors.
func TestControlBlockInPlace(t *testing.T) {
	mem := make([]byte, 256)
	cb, err := ControlBlockAt(mem)
	if err != nil {
		t.Fatalf("ControlBlockAt failed: %v", err)
	}

	cb.SetCommand(CommandShutdown)
	if got := int32(binary.LittleEndian.Uint32(mem[0x00:])); got != CommandShutdown {
		t.Errorf("Expected raw command %d, got %d", CommandShutdown, got)
	}

	cb.SetA2CDataLen(0xdeadbeef)
	if got := binary.LittleEndian.Uint64(mem[0x18:]); got != 0xdeadbeef {
		t.Errorf("Expected raw a2c length 0xdeadbeef, got 0x%x", got)
	}

	binary.LittleEndian.PutUint64(mem[0x20:], 4096)
	if got := cb.DefinedC2ASize(); got != 4096 {
		t.Errorf("Expected declared C2A size 4096, got %d", got)
	}

	binary.LittleEndian.PutUint32(mem[0x10:], uint32(StatusResponseReady))
	if got := cb.Status(); got != StatusResponseReady {
		t.Errorf("Expected status %d, got %d", StatusResponseReady, got)
	}
}

// TestControlBlockStatusError verifies the error status round-trips as a
// negative value through the raw bytes.
func TestControlBlockStatusError(t *testing.T) {
	mem := make([]byte, ControlBlockSize)
	cb, err := ControlBlockAt(mem)
	if err != nil {
		t.Fatalf("ControlBlockAt failed: %v", err)
	}
	cb.SetStatus(StatusError)
	if got := cb.Status(); got != StatusError {
		t.Errorf("Expected status %d, got %d", StatusError, got)
	}
	if got := int32(binary.LittleEndian.Uint32(mem[0x10:])); got != -1 {
		t.Errorf("Expected raw status -1, got %d", got)
	}
}
