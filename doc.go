// Package shmduplex implements the Acceptor peer of a bidirectional
// inter-process channel built on a POSIX shared memory segment.
//
// A separate Creator process allocates a named segment, lays out a fixed
// 128-byte control block followed by two payload buffers, and drives a
// simple command/status handshake through it. The Acceptor attaches to the
// existing segment, polls the control block for work, runs an injectable
// processing function on each inbound message, and publishes the response
// through the second buffer. All synchronization between the two processes
// happens by polling shared memory fields; no OS-level locks or semaphores
// are involved.
//
// # Memory Layout
//
// The segment starts with the control block, whose layout is shared byte
// for byte with the Creator:
//
//	offset 0x00  c2a command     (int32)   0=idle 1=data ready 99=shutdown
//	offset 0x08  c2a data length (uint64)
//	offset 0x10  a2c status      (int32)   0=ready 1=response ready -1=error
//	offset 0x18  a2c data length (uint64)
//	offset 0x20  declared C2A buffer capacity (uint64)
//	offset 0x28  declared A2C buffer capacity (uint64)
//	offset 0x30  reserved padding to 128 bytes
//
// The Creator-to-Acceptor buffer follows at offset 128, then the
// Acceptor-to-Creator buffer immediately after it. The two capacities are
// fixed when the Creator builds the segment and are read once at startup.
//
// # Protocol
//
// The Acceptor owns the a2c half of the control block and only ever reads
// the c2a half, except to reset the command field to 0 as acknowledgement.
// One message per direction may be in flight: the Acceptor acknowledges a
// command only after its response is fully published, and it publishes the
// response length strictly before flipping the status to "response ready",
// so the Creator always observes a valid length.
//
// # Usage
//
//	acc := shmduplex.NewAcceptor("/my_segment", func(in []byte) ([]byte, error) {
//		return transform(in), nil
//	})
//	if err := acc.Connect(); err != nil {
//		log.Fatal(err)
//	}
//	defer acc.Close()
//	if err := acc.Run(); err != nil {
//		log.Fatal(err)
//	}
//
// Run blocks until the Creator posts the shutdown command, the process
// receives SIGINT or SIGTERM, or Stop is called. The Acceptor holds a
// non-owning view of the segment: closing it unmaps and closes the
// descriptor but never unlinks the named object, whose lifetime belongs to
// the Creator.
//
// The cmd/shm-acceptor binary wraps the package as a standalone process
// taking the segment name as its single argument.
package shmduplex
