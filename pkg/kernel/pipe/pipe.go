// Package pipe implements the bounded byte ring shared by exactly one
// reader-end and one writer-end. It is grounded directly on
// kernel_pipe.c's isBuffFull/isBuffEmpty/pipe_write/pipe_read, with the
// wait-loop-over-a-shared-lock structure taken from the v6 Unix port's
// pipe.go (pip.read.L = &p.Sys.Big) rather than the channel-based pipe the
// rest of this corpus otherwise reaches for: a channel can't express an
// exact byte capacity, short writes, or the broadcast-before-teardown
// ordering the ring buffer needs.
package pipe

import (
	"sync"

	"corekernel/pkg/kernel/fcb"
	"corekernel/pkg/kernel/klock"
)

// BufferSize is the ring's backing array size; usable capacity is
// BufferSize-1 bytes, per the EMPTY/FULL convention below.
const BufferSize = 8192

// Pipe is a single ring buffer with two condition variables guarding the
// empty/full boundary. All fields are only ever touched while the kernel's
// big lock (mu) is held.
type Pipe struct {
	mu       *sync.Mutex
	hasSpace *sync.Cond
	hasData  *sync.Cond

	buf  [BufferSize]byte
	r, w int

	// reader/writer are the FCB handles of the two ends; nil means that
	// end has been closed. Presence, not identity, is what matters.
	reader, writer *fcb.FCB
}

// New builds a pipe with both ends initially open, bound to the caller's
// FCB handles.
func New(mu *sync.Mutex, reader, writer *fcb.FCB) *Pipe {
	p := &Pipe{mu: mu, reader: reader, writer: writer}
	p.hasSpace = klock.NewCond(mu)
	p.hasData = klock.NewCond(mu)
	return p
}

func (p *Pipe) full() bool  { return (p.w+1)%BufferSize == p.r }
func (p *Pipe) empty() bool { return p.r == p.w }

// Write copies up to len(buf) bytes into the ring, blocking while it is
// full and the reader end is still open. Short writes are expected: the
// caller loops until all bytes are accepted.
func (p *Pipe) Write(buf []byte) int {
	if buf == nil {
		return -1
	}
	if p.reader == nil || p.writer == nil {
		return -1
	}
	for p.reader != nil && p.full() {
		p.hasSpace.Wait()
	}
	if p.reader == nil {
		return -1
	}
	n := 0
	for n < len(buf) && !p.full() {
		p.buf[p.w] = buf[n]
		n++
		p.w = (p.w + 1) % BufferSize
	}
	p.hasData.Broadcast()
	return n
}

// Read copies up to len(buf) bytes out of the ring, blocking while it is
// empty and the writer end is still open. Returns 0 for end-of-stream once
// the writer has closed and the ring has drained.
func (p *Pipe) Read(buf []byte) int {
	if buf == nil {
		return -1
	}
	if p.reader == nil {
		return -1
	}
	for p.writer != nil && p.empty() {
		p.hasData.Wait()
	}
	if p.reader == nil {
		return -1
	}
	if p.empty() {
		return 0
	}
	n := 0
	for n < len(buf) && !p.empty() {
		buf[n] = p.buf[p.r]
		n++
		p.r = (p.r + 1) % BufferSize
	}
	p.hasSpace.Broadcast()
	return n
}

// CloseWriter half-closes the write end. Double-close is reported as -1.
func (p *Pipe) CloseWriter() int {
	if p.writer == nil {
		return -1
	}
	p.writer = nil
	p.hasData.Broadcast()
	return 0
}

// CloseReader half-closes the read end. Double-close is reported as -1.
func (p *Pipe) CloseReader() int {
	if p.reader == nil {
		return -1
	}
	p.reader = nil
	p.hasSpace.Broadcast()
	return 0
}

// ReaderStream adapts the pipe's read end to fcb.Stream for use as a
// standalone anonymous pipe (as opposed to the pipes wired up internally
// by a socket rendezvous, which call Read/Write/Close* directly).
func (p *Pipe) ReaderStream() fcb.Stream { return readEnd{p} }

// WriterStream adapts the pipe's write end to fcb.Stream.
func (p *Pipe) WriterStream() fcb.Stream { return writeEnd{p} }

type readEnd struct{ p *Pipe }

func (e readEnd) Read(buf []byte) int  { return e.p.Read(buf) }
func (e readEnd) Write(buf []byte) int { return -1 }
func (e readEnd) Open() int            { return -1 }
func (e readEnd) Close() int           { return e.p.CloseReader() }

type writeEnd struct{ p *Pipe }

func (e writeEnd) Read(buf []byte) int  { return -1 }
func (e writeEnd) Write(buf []byte) int { return e.p.Write(buf) }
func (e writeEnd) Open() int            { return -1 }
func (e writeEnd) Close() int           { return e.p.CloseWriter() }
