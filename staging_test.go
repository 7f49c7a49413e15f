package shmduplex

import (
	"sync"
	"testing"
)

func newStagingFixture(t *testing.T, c2aCap uint64, mappedSize int) *stagingPool {
	t.Helper()
	b, _ := newTestBufferMap(t, c2aCap, 64, mappedSize)
	return newStagingPool(b, 4)
}

// TestStagingPoolSizedToGeometry sizes buffers to the declared C2A capacity
// when the mapping fully backs it.
func TestStagingPoolSizedToGeometry(t *testing.T) {
	pool := newStagingFixture(t, 64, int(ControlBlockSize)+128)
	if pool.bufSize != 64 {
		t.Errorf("Expected staging size 64, got %d", pool.bufSize)
	}

	buf := pool.get(10)
	if len(buf) != 10 {
		t.Errorf("Expected buffer length 10, got %d", len(buf))
	}
	if cap(buf) != 64 {
		t.Errorf("Expected buffer capacity 64, got %d", cap(buf))
	}
}

// TestStagingPoolClampsToMappedSpan caps the staging size at the bytes the
// mapping actually provides behind the control block, so an over-declared
// header cannot drive the allocation.
func TestStagingPoolClampsToMappedSpan(t *testing.T) {
	mapped := 4096
	pool := newStagingFixture(t, 1<<50, mapped)

	want := mapped - ControlBlockSize
	if pool.bufSize != want {
		t.Errorf("Expected staging size clamped to %d, got %d", want, pool.bufSize)
	}

	buf := pool.get(100)
	if len(buf) != 100 || cap(buf) != want {
		t.Errorf("Expected length 100 capacity %d, got length %d capacity %d",
			want, len(buf), cap(buf))
	}
}

// TestStagingPoolReuse verifies a returned buffer backs the next request.
func TestStagingPoolReuse(t *testing.T) {
	pool := newStagingFixture(t, 64, int(ControlBlockSize)+128)

	first := pool.get(32)
	first[0] = 0xaa
	pool.put(first)

	second := pool.get(16)
	if &first[0] != &second[0] {
		t.Error("Expected pooled buffer to be reused after put")
	}
}

// TestStagingPoolOversizeRequestNotRetained allocates requests beyond the
// clamped size directly and refuses to retain them.
func TestStagingPoolOversizeRequestNotRetained(t *testing.T) {
	pool := newStagingFixture(t, 64, int(ControlBlockSize)+128)

	big := pool.get(100)
	if len(big) != 100 {
		t.Fatalf("Expected oversize request to still yield %d bytes, got %d", 100, len(big))
	}
	pool.put(big)

	next := pool.get(64)
	if cap(next) != pool.bufSize {
		t.Errorf("Expected fresh buffer at clamped capacity %d, got %d", pool.bufSize, cap(next))
	}
	if len(next) == len(big) {
		t.Error("Expected oversize buffer to be discarded, not recycled")
	}
}

// TestStagingPoolZeroSpan degrades to plain allocation when the mapping
// ends at the control block.
func TestStagingPoolZeroSpan(t *testing.T) {
	b := &bufferMap{mem: make([]byte, ControlBlockSize), c2aOff: ControlBlockSize, c2aCap: 64}
	pool := newStagingPool(b, 4)
	if pool.bufSize != 0 {
		t.Errorf("Expected zero staging size, got %d", pool.bufSize)
	}

	buf := pool.get(5)
	if len(buf) != 5 {
		t.Errorf("Expected buffer length 5, got %d", len(buf))
	}
}

// TestStagingPoolConcurrent exercises get/put from many goroutines, the
// pattern the exchange loop and tests standing in for the Creator produce.
func TestStagingPoolConcurrent(t *testing.T) {
	pool := newStagingFixture(t, 1024, int(ControlBlockSize)+2048)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := pool.get(512)
				if len(buf) != 512 {
					t.Errorf("Expected buffer length 512, got %d", len(buf))
				}
				buf[0] = byte(j)
				pool.put(buf)
			}
		}()
	}
	wg.Wait()
}
