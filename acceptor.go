package shmduplex

import (
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Processor is the opaque content-processing hook. It receives the raw
// inbound payload and returns the raw outbound payload. The protocol engine
// treats it as a black box: a returned error (or a panic) is substituted
// with a fixed error payload and never disturbs the exchange loop.
type Processor func(input []byte) ([]byte, error)

var (
	// DefaultPollInterval is how long the loop sleeps between command polls.
	DefaultPollInterval = 5 * time.Millisecond
	// DefaultResponseTimeout bounds the wait for the Creator to consume the
	// previous response before a new one is published.
	DefaultResponseTimeout = 5 * time.Second
)

const (
	// statusPollInterval is the sleep between status re-checks while
	// busy-waiting for the Creator.
	statusPollInterval = 5 * time.Millisecond
	// errorSignalWait bounds the best-effort error signal after a failed
	// write, shorter than the normal response timeout.
	errorSignalWait = 500 * time.Millisecond
	// unknownCommandDelay is the extra pause after a protocol violation.
	unknownCommandDelay = 10 * time.Millisecond
	// loopErrorDelay is the pause after an unexpected failure inside one
	// exchange, before polling resumes.
	loopErrorDelay = time.Second
	// inboundPoolDepth is the number of staging buffers kept for inbound
	// payload copies.
	inboundPoolDepth = 4
)

// Errors reported by the exchange loop and the respond path.
var (
	// ErrNotConnected is returned by Run when Connect has not succeeded.
	ErrNotConnected = errors.New("acceptor is not connected to a segment")
	// ErrPeerTimeout means the Creator did not become ready within the
	// response timeout. The exchange is abandoned; the loop continues.
	ErrPeerTimeout = errors.New("timed out waiting for creator readiness")
	// ErrShuttingDown means shutdown was requested while waiting on the peer.
	ErrShuttingDown = errors.New("shutdown requested")
)

// Fixed payloads substituted when an exchange cannot produce a real response.
var (
	payloadProcessingFailed = []byte("error: processing failed in acceptor")
	payloadEmptyMessage     = []byte("acknowledged empty creator message")
)

// Acceptor is the shared-memory peer that attaches to a Creator-owned
// segment, polls the control block for commands, runs the processor on each
// inbound message and publishes the response. All synchronization with the
// Creator happens through control block fields; there are no OS-level locks.
//
// The zero value is not usable; construct with NewAcceptor, then Connect,
// then Run. Run blocks until a shutdown command, a signal, or Stop.
//
// Example:
//
//	acc := shmduplex.NewAcceptor("/my_segment", nil)
//	if err := acc.Connect(); err != nil {
//		log.Fatal(err)
//	}
//	defer acc.Close()
//	if err := acc.Run(); err != nil {
//		log.Fatal(err)
//	}
type Acceptor struct {
	name      string
	processor Processor

	pollInterval    time.Duration
	responseTimeout time.Duration
	attachOpts      AttachOptions

	seg  *Segment
	ctrl *ControlBlock
	bufs *bufferMap
	pool *stagingPool

	running atomic.Bool
}

// NewAcceptor returns an Acceptor for the named segment. If processor is
// nil the sample GradientProcessor is used.
func NewAcceptor(name string, processor Processor) *Acceptor {
	if processor == nil {
		processor = GradientProcessor
	}
	return &Acceptor{
		name:            name,
		processor:       processor,
		pollInterval:    DefaultPollInterval,
		responseTimeout: DefaultResponseTimeout,
	}
}

// SetPollInterval sets the idle polling interval.
func (a *Acceptor) SetPollInterval(d time.Duration) {
	a.pollInterval = d
}

// SetResponseTimeout sets the bound on waiting for Creator readiness.
func (a *Acceptor) SetResponseTimeout(d time.Duration) {
	a.responseTimeout = d
}

// SetAttachOptions overrides the segment attach behavior.
func (a *Acceptor) SetAttachOptions(opts AttachOptions) {
	a.attachOpts = opts
}

// Connect attaches to the segment, validates the control block and resolves
// buffer geometry. Any failure here is fatal for the process: no protocol
// state has been published yet, so the Creator observes nothing partial.
func (a *Acceptor) Connect() error {
	seg, err := AttachSegment(a.name, &a.attachOpts)
	if err != nil {
		return err
	}

	ctrl, err := seg.ControlBlock()
	if err != nil {
		seg.Close()
		return err
	}

	bufs, err := resolveBuffers(seg.Mem(), ctrl)
	if err != nil {
		seg.Close()
		return err
	}

	a.seg = seg
	a.ctrl = ctrl
	a.bufs = bufs
	a.pool = newStagingPool(bufs, inboundPoolDepth)

	log.Infof("Initialization complete. C2A capacity=%d, A2C capacity=%d. Polling for creator commands",
		bufs.c2aCap, bufs.a2cCap)
	return nil
}

// Run polls the control block until a shutdown command, an interrupt or
// terminate signal, or Stop. It is a single cooperative loop: every wait
// site re-checks the running flag, so shutdown is honored within one poll
// interval, and a write already in progress always completes first.
func (a *Acceptor) Run() error {
	if a.seg == nil {
		return ErrNotConnected
	}
	a.running.Store(true)

	sigCh := make(chan os.Signal, 1)
	setSignalsForChannel(sigCh)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("Received signal %v. Attempting graceful shutdown", sig)
			a.Stop()
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(done)
	}()

	for a.running.Load() {
		a.step()
	}
	log.Info("Polling loop stopped")
	return nil
}

// Stop requests a cooperative shutdown. The loop exits within one poll
// interval; a respond already in progress finishes or aborts at its next
// wait iteration first.
func (a *Acceptor) Stop() {
	a.running.Store(false)
}

// Close tears down the mapped view. Safe to call after Run returns and
// idempotent. The underlying named object is never unlinked.
func (a *Acceptor) Close() error {
	if a.seg == nil {
		return nil
	}
	log.Info("Cleaning up resources")
	err := a.seg.Close()
	a.seg = nil
	a.ctrl = nil
	a.bufs = nil
	return err
}

// step handles a single poll iteration. A panic escaping an exchange is
// contained here so one poisoned message cannot kill the loop.
func (a *Acceptor) step() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Unexpected failure in exchange loop: %v", r)
			a.ctrl.SetCommand(CommandIdle)
			time.Sleep(loopErrorDelay)
		}
	}()

	switch cmd := a.ctrl.Command(); cmd {
	case CommandIdle:
		time.Sleep(a.pollInterval)

	case CommandDataReady:
		a.exchange()

	case CommandShutdown:
		log.Info("Received shutdown command from creator. Acknowledging and exiting")
		a.ctrl.SetCommand(CommandIdle)
		a.running.Store(false)

	default:
		log.Warnf("Unknown command %d received from creator. Resetting", cmd)
		a.ctrl.SetCommand(CommandIdle)
		time.Sleep(unknownCommandDelay)
	}
}

// exchange handles one DataReady message end to end: bounds-check the
// declared length, read the payload, run the processor, respond, and only
// then acknowledge by resetting the command field. The late acknowledgement
// guarantees the Creator never reuses the C2A buffer while it is still
// being read, and never pairs a fresh command with a stale response status.
func (a *Acceptor) exchange() {
	dataLen := a.ctrl.C2ADataLen()
	log.Infof("Received command: process %d bytes from creator", dataLen)

	if dataLen > a.bufs.c2aCap {
		// Untrusted length field. Skip the buffer read entirely and signal
		// an error instead.
		log.Errorf("Inbound length %d exceeds declared C2A capacity %d. Signaling error", dataLen, a.bufs.c2aCap)
		a.signalError(a.responseTimeout)
		a.ctrl.SetCommand(CommandIdle)
		return
	}

	var response []byte
	if dataLen == 0 {
		response = payloadEmptyMessage
	} else {
		// Validate the length before staging so an over-declared capacity
		// paired with a large length field cannot trigger an allocation
		// the mapping could never satisfy.
		if err := a.bufs.checkInbound(dataLen); err != nil {
			log.Errorf("Failed to read inbound payload: %v", err)
			a.signalError(a.responseTimeout)
			a.ctrl.SetCommand(CommandIdle)
			return
		}
		buf := a.pool.get(int(dataLen))
		if err := a.bufs.readInbound(buf, dataLen); err != nil {
			log.Errorf("Failed to read inbound payload: %v", err)
			a.pool.put(buf)
			a.signalError(a.responseTimeout)
			a.ctrl.SetCommand(CommandIdle)
			return
		}

		out, err := a.invokeProcessor(buf)
		a.pool.put(buf)
		if err != nil {
			log.Errorf("Processor failed: %v", err)
			response = payloadProcessingFailed
		} else {
			response = out
			log.Infof("Processing complete. Response size: %d bytes", len(response))
		}
	}

	if err := a.respond(response); err != nil {
		log.Errorf("Respond failed: %v", err)
	}

	a.ctrl.SetCommand(CommandIdle)
	log.Debug("Acknowledged creator command (c2a command reset to 0)")
}

// invokeProcessor calls the processor with panic containment.
func (a *Acceptor) invokeProcessor(input []byte) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = errors.Errorf("processor panic: %v", r)
		}
	}()
	return a.processor(input)
}

// respond publishes a response through the A2C buffer:
//
//  1. A response larger than the declared A2C capacity is never written;
//     the error status is signalled instead.
//  2. Busy-wait (bounded) for the Creator to have consumed the previous
//     response (status back to StatusReady).
//  3. Write the payload, bounds-checked against the mapped region.
//  4. Flush the written pages, best effort.
//  5. Publish the length, then the ready status. The Creator reads exactly
//     the published length after observing the status, so the length store
//     must come first.
func (a *Acceptor) respond(data []byte) error {
	length := uint64(len(data))

	if length > a.bufs.a2cCap {
		log.Errorf("Response size %d exceeds declared A2C capacity %d. Signaling error", length, a.bufs.a2cCap)
		if err := a.awaitStatus(StatusReady, a.responseTimeout); err != nil {
			return err
		}
		a.ctrl.SetA2CDataLen(0)
		a.ctrl.SetStatus(StatusError)
		return &BoundsError{Op: "write outbound", Offset: a.bufs.a2cOff, Length: length, Limit: a.bufs.a2cCap}
	}

	if err := a.awaitStatus(StatusReady, a.responseTimeout); err != nil {
		// Timeout or shutdown: abort without touching shared state.
		return err
	}

	if debug {
		log.Debugf("PRE-WRITE hex preview: %s", hexPreview(data, 30))
	}

	if err := a.bufs.writeOutbound(data); err != nil {
		a.signalError(errorSignalWait)
		return err
	}

	if err := a.seg.Flush(int(a.bufs.a2cOff), len(data)); err != nil {
		// MAP_SHARED visibility does not depend on msync succeeding.
		log.Warnf("Flush of response pages failed: %v", err)
	}

	a.ctrl.SetA2CDataLen(length)
	a.ctrl.SetStatus(StatusResponseReady)

	log.Infof("Response (%d bytes) written to A2C buffer at offset %d. Status set to %d",
		length, a.bufs.a2cOff, StatusResponseReady)
	return nil
}

// signalError publishes the error status (length 0, status -1) after a
// bounded wait for the Creator to be ready. Best effort: if the wait fails
// the error goes unsignalled and the Creator's own timeout must cover it.
func (a *Acceptor) signalError(wait time.Duration) {
	if err := a.awaitStatus(StatusReady, wait); err != nil {
		log.Warnf("Could not signal error to creator: %v", err)
		return
	}
	a.ctrl.SetA2CDataLen(0)
	a.ctrl.SetStatus(StatusError)
}

// awaitStatus busy-waits until the A2C status equals want, shutdown is
// requested, or the timeout elapses. This is the single poll-sleep-timeout
// helper shared by every wait site.
func (a *Acceptor) awaitStatus(want int32, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for a.ctrl.Status() != want {
		if !a.running.Load() {
			return ErrShuttingDown
		}
		if time.Now().After(deadline) {
			return ErrPeerTimeout
		}
		time.Sleep(statusPollInterval)
	}
	return nil
}
