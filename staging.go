package shmduplex

// stagingPool recycles the scratch buffers used to copy inbound payloads
// out of the C2A buffer before the processor runs. Buffers are sized to the
// largest inbound read that can actually succeed — the declared C2A
// capacity clamped to the mapped span behind it — so a Creator declaring an
// absurd capacity can fail exchanges but never force an absurd allocation.
//
// Allocation is lazy: nothing is held until a buffer is first returned.
// The channel-based design gives lock-free get/put without a mutex.
type stagingPool struct {
	pool    chan []byte
	bufSize int
}

// newStagingPool builds a pool for the resolved buffer geometry, retaining
// up to depth buffers of the clamped inbound size.
func newStagingPool(b *bufferMap, depth int) *stagingPool {
	return &stagingPool{
		pool:    make(chan []byte, depth),
		bufSize: int(b.c2aReadable()),
	}
}

// get returns a buffer of length n, reusing a pooled one when n fits the
// clamped inbound size. Requests beyond that size are allocated directly
// and will be discarded by put; they can only come from a length field that
// the bounds check is about to reject anyway.
func (p *stagingPool) get(n int) []byte {
	if n <= p.bufSize {
		select {
		case buf := <-p.pool:
			return buf[:n]
		default:
			return make([]byte, n, p.bufSize)
		}
	}
	return make([]byte, n)
}

// put returns a buffer to the pool for reuse. Buffers that were not
// allocated at the clamped size, and buffers beyond the pool depth, are
// left for the garbage collector.
func (p *stagingPool) put(buf []byte) {
	if cap(buf) != p.bufSize {
		return
	}
	select {
	case p.pool <- buf[:cap(buf)]:
	default:
	}
}
