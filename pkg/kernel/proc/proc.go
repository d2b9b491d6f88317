// Package proc implements the Process & Thread Table: a fixed-size array
// of process slots (PCBs), per-process thread descriptors (PTCBs), and the
// operations that create, join, detach, exit, and reap them. It is
// grounded directly on kernel_threads.c and kernel_proc.c.
package proc

import (
	"sync"

	"corekernel/pkg/kernel/fcb"
)

// Pid identifies a process slot. NoProc means "no such process."
type Pid int

const NoProc Pid = -1

// Fid identifies a file descriptor within a process's FIDT. NoFile means
// "no such descriptor."
type Fid int

const NoFile Fid = -1

// Size constants named in the external interface. MaxProc and MaxFileID are
// the default table/FIDT sizes used when a caller doesn't override them
// through kernel.Config; NewTable takes the live sizes as parameters rather
// than hardcoding against these.
const (
	MaxProc             = 64
	MaxFileID           = 16
	ProcInfoMaxArgsSize = 128
)

// State is a PCB's lifecycle stage.
type State int

const (
	Free State = iota
	Alive
	Zombie
)

// Task is the entry point run by a spawned thread. Go has no ambient
// "current process" register, so the handle that would normally be read
// from thread-local state (CURPROC/CURTHREAD) is passed explicitly as
// self instead.
type Task func(self *Thread, argl int, args []byte) int

// Tid is a generation-tagged arena slot identifying a PTCB, rather than a
// raw pointer cast to an integer: a stale handle into a reused slot is
// caught by the generation mismatch instead of silently resolving to the
// wrong thread.
type Tid struct {
	Pid  Pid
	slot int
	gen  uint64
}

// NoThread is the zero Tid; no valid thread ever has generation 0.
var NoThread = Tid{}

// PTCB is a single thread descriptor, owned by its process's thread arena.
type PTCB struct {
	tid Tid

	task Task
	argl int
	args []byte

	exited   bool
	detached bool
	exitval  int
	refCount int

	exitCV *sync.Cond
}

type threadSlot struct {
	gen uint64
	t   *PTCB
}

// PCB is a single process slot.
type PCB struct {
	pid    Pid
	state  State
	parent *PCB

	children       map[Pid]*PCB
	exitedChildren []*PCB

	mainTask Task
	argl     int
	args     []byte

	fidt []*fcb.FCB

	exitval     int
	threadCount int
	threads     []threadSlot

	childExit *sync.Cond
}

// Pid returns the process's own identity.
func (p *PCB) Pid() Pid { return p.pid }

// PPid returns the process's parent's identity, or NoProc for pid 0/1.
func (p *PCB) PPid() Pid {
	if p.parent == nil {
		return NoProc
	}
	return p.parent.pid
}

// State returns the process's current lifecycle stage.
func (p *PCB) State() State { return p.state }

// ThreadCount returns the number of PTCBs not yet exited.
func (p *PCB) ThreadCount() int { return p.threadCount }

// Fid returns the FCB bound to a local descriptor, or nil if absent.
func (p *PCB) Fid(fid Fid) *fcb.FCB {
	if fid < 0 || int(fid) >= len(p.fidt) {
		return nil
	}
	return p.fidt[fid]
}

// ReserveFids finds n free local descriptor slots and allocates n fresh
// FCBs for them from alloc, or fails without reserving anything.
func (p *PCB) ReserveFids(n int, alloc *fcb.Allocator) ([]Fid, []*fcb.FCB, bool) {
	free := make([]int, 0, n)
	for i, f := range p.fidt {
		if f == nil {
			free = append(free, i)
			if len(free) == n {
				break
			}
		}
	}
	if len(free) < n {
		return nil, nil, false
	}
	fcbs, ok := alloc.Reserve(n)
	if !ok {
		return nil, nil, false
	}
	fids := make([]Fid, n)
	for i, idx := range free {
		p.fidt[idx] = fcbs[i]
		fids[i] = Fid(idx)
	}
	return fids, fcbs, true
}

// CloseFid drops the process's reference to a local descriptor, invoking
// the underlying stream's Close once the FCB's refcount reaches zero.
func (p *PCB) CloseFid(fid Fid) int {
	f := p.Fid(fid)
	if f == nil {
		return -1
	}
	p.fidt[fid] = nil
	return f.Decref()
}
