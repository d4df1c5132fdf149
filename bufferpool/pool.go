// Package bufferpool tracks per-endpoint buffer ownership: the fixed set of
// kernel buffers an EndpointPool was allocated with, and how many of them are
// currently kernel-owned versus userspace-owned.
//
// This generalizes the teacher's byte-slice reuse pool (sync.Pool plus atomic
// get/put counters) from "hand out a buffer of at least this size" to "track
// which of these N fixed kernel buffers the kernel currently owns" — the
// counters survive the adaptation, the reuse semantics don't: unlike a
// sync.Pool, buffer index 3 is always buffer index 3, never recycled into a
// differently-sized allocation.
package bufferpool

import (
	"fmt"
	"sync/atomic"
)

// MemoryKind is the backing-memory model for a pool's buffers.
type MemoryKind int

const (
	// MemoryMapped buffers are mapped into this process via mmap; Address is
	// non-owning (owned by the kernel driver, unmapped on pool teardown).
	MemoryMapped MemoryKind = iota
	// MemoryUserPointer buffers are allocated by this process; Address is
	// owned and must outlive every enqueue of that index.
	MemoryUserPointer
)

// Buffer is a single kernel buffer descriptor.
type Buffer struct {
	// Index is this buffer's position in its pool, stable for the pool's lifetime.
	Index uint32
	// Length is the buffer's capacity in bytes, immutable after allocation.
	Length uint32
	// BytesUsed is the portion of Length actually carrying frame data.
	BytesUsed uint32
	// Kind is this buffer's backing-memory model.
	Kind MemoryKind
	// Address is the buffer's backing memory: a mapped region for
	// MemoryMapped, or process-owned memory for MemoryUserPointer.
	Address []byte
	// Flags carries kernel-reported buffer flags observed on dequeue (e.g.
	// the error bit).
	Flags uint32
}

// ErrFlag is the kernel buffer-error flag bit (v4l2_buffer.flags &
// V4L2_BUF_FLAG_ERROR in the endpoint this buffer came from).
const ErrFlag = 0x40

// HasError reports whether the kernel marked this buffer as errored on dequeue.
func (b Buffer) HasError() bool {
	return b.Flags&ErrFlag != 0
}

// Pool is the ordered sequence of buffers allocated for one endpoint (either
// the capture side or the gadget output side), plus the enqueue/dequeue
// bookkeeping the dual-queue orchestrator relies on to never over-enqueue.
//
// In this agent exactly one goroutine (the event loop) ever touches a given
// Pool. Only the counters and the streaming flag are atomic; the buffer
// descriptors that SetBuffer and Reset write are not synchronized.
type Pool struct {
	mode    MemoryKind
	buffers []Buffer

	enqueued  atomic.Int64
	dequeued  atomic.Int64
	streaming atomic.Bool
}

// New creates a Pool from the given buffers, already allocated and (for
// MemoryMapped) already mapped. Mapped-mode pools require at least two
// buffers for ping-pong streaming (B3); user-pointer pools have no such
// floor since the application itself supplies a fresh pointer per enqueue.
func New(mode MemoryKind, buffers []Buffer) (*Pool, error) {
	if mode == MemoryMapped && len(buffers) < 2 {
		return nil, fmt.Errorf("bufferpool: mapped mode requires at least 2 buffers, got %d", len(buffers))
	}
	return &Pool{mode: mode, buffers: buffers}, nil
}

// Mode returns the pool's buffer memory model.
func (p *Pool) Mode() MemoryKind {
	return p.mode
}

// Size returns the number of buffers in the pool.
func (p *Pool) Size() int {
	return len(p.buffers)
}

// Buffer returns the descriptor for buffer i.
func (p *Pool) Buffer(i uint32) (Buffer, error) {
	if int(i) >= len(p.buffers) {
		return Buffer{}, fmt.Errorf("bufferpool: index %d out of range (size %d)", i, len(p.buffers))
	}
	return p.buffers[i], nil
}

// SetBuffer replaces buffer i's descriptor, used after a dequeue reports
// updated BytesUsed/Flags, or before an enqueue reports new BytesUsed.
func (p *Pool) SetBuffer(i uint32, buf Buffer) error {
	if int(i) >= len(p.buffers) {
		return fmt.Errorf("bufferpool: index %d out of range (size %d)", i, len(p.buffers))
	}
	p.buffers[i] = buf
	return nil
}

// Enqueue records that one buffer has been handed to the kernel. Callers must
// issue the kernel enqueue call themselves; this only updates bookkeeping,
// and returns an error if doing so would violate invariant P1 (enqueued −
// dequeued must stay within [0, pool size]).
func (p *Pool) Enqueue() error {
	if p.Outstanding() >= int64(len(p.buffers)) {
		return fmt.Errorf("bufferpool: enqueue would exceed pool size %d", len(p.buffers))
	}
	p.enqueued.Add(1)
	return nil
}

// Dequeue records that one buffer has been returned from the kernel to userspace.
func (p *Pool) Dequeue() error {
	if p.Outstanding() <= 0 {
		return fmt.Errorf("bufferpool: dequeue with nothing outstanding")
	}
	p.dequeued.Add(1)
	return nil
}

// Outstanding returns the number of buffers currently kernel-owned
// (enqueued − dequeued). Invariant P1: always within [0, Size()].
func (p *Pool) Outstanding() int64 {
	return p.enqueued.Load() - p.dequeued.Load()
}

// SetStreaming records whether this endpoint's queue is currently streaming.
func (p *Pool) SetStreaming(streaming bool) {
	p.streaming.Store(streaming)
}

// Streaming reports whether this endpoint's queue is currently streaming.
func (p *Pool) Streaming() bool {
	return p.streaming.Load()
}

// Stats summarizes a pool's bookkeeping for diagnostics and tests.
type Stats struct {
	Size        int
	Enqueued    int64
	Dequeued    int64
	Outstanding int64
	Streaming   bool
}

// Stats returns a snapshot of the pool's current bookkeeping.
func (p *Pool) Stats() Stats {
	enq := p.enqueued.Load()
	deq := p.dequeued.Load()
	return Stats{
		Size:        len(p.buffers),
		Enqueued:    enq,
		Dequeued:    deq,
		Outstanding: enq - deq,
		Streaming:   p.streaming.Load(),
	}
}

// Reset clears a pool's buffers and counters, modeling "request-buffers 0"
// teardown (§4.4 rule #6): the pool becomes size 0 and not streaming. Callers
// are responsible for unmapping MemoryMapped buffers' Address slices first.
func (p *Pool) Reset() {
	p.buffers = nil
	p.enqueued.Store(0)
	p.dequeued.Store(0)
	p.streaming.Store(false)
}
