package shmduplex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSegmentName = "shmduplex_test_segment"

// createSegmentFile builds a segment-sized file in dir, standing in for the
// object the Creator would allocate under /dev/shm.
func createSegmentFile(t *testing.T, dir, name string, totalSize int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create segment file: %v", err)
	}
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		t.Fatalf("Failed to size segment file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close segment file: %v", err)
	}
	return path
}

// fakeCreator plays the Creator role through its own mapping of the same
// segment file, so tests exercise the Acceptor across a real shared view.
type fakeCreator struct {
	seg    *Segment
	ctrl   *ControlBlock
	c2aCap uint64
	a2cCap uint64
}

// newFakeCreator allocates a segment in dir with the given declared buffer
// capacities and populates the control block the way the Creator would.
func newFakeCreator(t *testing.T, dir string, c2aCap, a2cCap uint64) *fakeCreator {
	t.Helper()
	total := int64(ControlBlockSize) + int64(c2aCap) + int64(a2cCap)
	createSegmentFile(t, dir, testSegmentName, total)

	seg, err := AttachSegment(testSegmentName, &AttachOptions{Dir: dir, Attempts: 1})
	if err != nil {
		t.Fatalf("Creator failed to map segment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })

	ctrl, err := seg.ControlBlock()
	if err != nil {
		t.Fatalf("Creator failed to view control block: %v", err)
	}
	ctrl.setDefinedSizes(c2aCap, a2cCap)

	return &fakeCreator{seg: seg, ctrl: ctrl, c2aCap: c2aCap, a2cCap: a2cCap}
}

// post places data in the C2A buffer and raises the data-ready command.
func (fc *fakeCreator) post(t *testing.T, data []byte) {
	t.Helper()
	if uint64(len(data)) > fc.c2aCap {
		t.Fatalf("test payload of %d bytes exceeds C2A capacity %d", len(data), fc.c2aCap)
	}
	copy(fc.seg.Mem()[ControlBlockSize:], data)
	fc.ctrl.SetC2ADataLen(uint64(len(data)))
	fc.ctrl.SetCommand(CommandDataReady)
}

// response reads back the published A2C payload.
func (fc *fakeCreator) response() []byte {
	n := fc.ctrl.A2CDataLen()
	off := uint64(ControlBlockSize) + fc.c2aCap
	out := make([]byte, n)
	copy(out, fc.seg.Mem()[off:off+n])
	return out
}

// consume acknowledges the current response so the Acceptor may publish
// the next one.
func (fc *fakeCreator) consume() {
	fc.ctrl.SetStatus(StatusReady)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
