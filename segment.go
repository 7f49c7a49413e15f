//go:build !windows
// +build !windows

package shmduplex

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// DefaultSegmentDir is where POSIX named shared memory objects live.
	DefaultSegmentDir = "/dev/shm"
	// DefaultAttachAttempts is the number of times to try opening the segment.
	DefaultAttachAttempts = 5
	// DefaultAttachBackoff multiplies the retry delay after each failure.
	DefaultAttachBackoff = 1.5
)

// DefaultAttachDelay is the delay before the second attach attempt.
var DefaultAttachDelay = 100 * time.Millisecond

// AttachOptions controls how AttachSegment locates and retries the segment.
// The zero value selects the defaults.
type AttachOptions struct {
	// Dir is the directory holding the named object. Defaults to /dev/shm.
	Dir string
	// Attempts is the maximum number of open attempts.
	Attempts int
	// InitialDelay is the sleep before the second attempt.
	InitialDelay time.Duration
	// BackoffFactor grows the delay after every failed attempt.
	BackoffFactor float64
}

func (o *AttachOptions) withDefaults() AttachOptions {
	opts := AttachOptions{
		Dir:           DefaultSegmentDir,
		Attempts:      DefaultAttachAttempts,
		InitialDelay:  DefaultAttachDelay,
		BackoffFactor: DefaultAttachBackoff,
	}
	if o == nil {
		return opts
	}
	if o.Dir != "" {
		opts.Dir = o.Dir
	}
	if o.Attempts > 0 {
		opts.Attempts = o.Attempts
	}
	if o.InitialDelay > 0 {
		opts.InitialDelay = o.InitialDelay
	}
	if o.BackoffFactor > 1 {
		opts.BackoffFactor = o.BackoffFactor
	}
	return opts
}

// Segment is a non-owning mapped view of a shared memory object created by
// the Creator peer. Closing a Segment unmaps the view and closes the
// descriptor; it never unlinks the underlying object, whose lifetime belongs
// to the Creator.
type Segment struct {
	// Name is the identifier the segment was opened with.
	Name string

	file *os.File
	mem  []byte
}

// segmentPath resolves a POSIX shm name to its backing path. A leading "/"
// in the name is the POSIX convention, not a directory component.
func segmentPath(dir, name string) string {
	return filepath.Join(dir, strings.TrimPrefix(name, "/"))
}

// AttachSegment opens an existing named shared memory object and maps it
// read-write, shared. The object must already exist: the Creator allocates
// it before the Acceptor starts, so failure to open is retried with
// exponential backoff to cover the startup race, but the object is never
// created here.
func AttachSegment(name string, opts *AttachOptions) (*Segment, error) {
	o := opts.withDefaults()
	path := segmentPath(o.Dir, name)

	var file *os.File
	var err error
	delay := o.InitialDelay
	for attempt := 1; attempt <= o.Attempts; attempt++ {
		file, err = os.OpenFile(path, os.O_RDWR, 0)
		if err == nil {
			log.Infof("Opened shared memory %q (attempt %d/%d)", path, attempt, o.Attempts)
			break
		}
		if attempt == o.Attempts {
			return nil, errors.Wrapf(err, "failed to open shared memory %q after %d attempts", path, o.Attempts)
		}
		log.Warnf("Open shared memory %q failed (attempt %d/%d): %v. Retrying in %v",
			path, attempt, o.Attempts, err, delay)
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * o.BackoffFactor)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "failed to stat shared memory %q", path)
	}
	size := info.Size()
	if size < ControlBlockSize {
		file.Close()
		return nil, errors.Errorf("shared memory %q too small: %d bytes, need at least %d", path, size, ControlBlockSize)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "failed to mmap shared memory %q (%d bytes)", path, size)
	}

	log.Infof("Mapped shared memory %q: %d bytes", path, len(mem))
	return &Segment{Name: name, file: file, mem: mem}, nil
}

// Size returns the total size of the mapped region in bytes.
func (s *Segment) Size() int {
	return len(s.mem)
}

// Mem returns the mapped region. The slice is only valid until Close.
func (s *Segment) Mem() []byte {
	return s.mem
}

// ControlBlock returns the in-place control block view of the segment.
func (s *Segment) ControlBlock() (*ControlBlock, error) {
	return ControlBlockAt(s.mem)
}

// Flush asks the kernel to schedule writeback of the given mapped span.
// The span is widened to page boundaries as msync requires. Visibility to
// the peer does not depend on this for a MAP_SHARED mapping, so callers
// treat a failure as a warning.
func (s *Segment) Flush(off, length int) error {
	if length <= 0 {
		return nil
	}
	page := unix.Getpagesize()
	start := (off / page) * page
	end := off + length
	if end > len(s.mem) {
		end = len(s.mem)
	}
	if start >= end {
		return nil
	}
	return unix.Msync(s.mem[start:end], unix.MS_ASYNC)
}

// Close releases the view in acquire order: unmap the region, then close
// the descriptor. The named object itself is left alone; destroying it is
// the Creator's exclusive responsibility.
func (s *Segment) Close() error {
	var firstErr error
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil {
			log.Warnf("Failed to munmap shared memory %q: %v", s.Name, err)
			firstErr = err
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			log.Warnf("Failed to close shared memory descriptor %q: %v", s.Name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		s.file = nil
	}
	return firstErr
}
