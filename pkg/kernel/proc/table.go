package proc

import (
	"sync"

	"go.uber.org/zap"

	"corekernel/pkg/kernel/fcb"
	"corekernel/pkg/kernel/klock"
)

// Table is the process table: a slot array sized at construction (the
// caller's kernel.Config.MaxProcesses) plus a free list. Slot 0 is
// permanently occupied by the idle process, matching the spec's carve-out
// that pid 0 is ALIVE with zero threads by construction.
type Table struct {
	mu    *sync.Mutex
	log   *zap.Logger
	alloc *fcb.Allocator

	maxFileID int

	slots []*PCB
	free  []Pid

	idle *PCB
}

// NewTable builds a process table bound to the kernel's big lock and FCB
// allocator, with pid 0 (idle) already occupied. maxProcesses sizes the
// table itself; maxFileID sizes every PCB's FIDT as it is allocated.
func NewTable(mu *sync.Mutex, alloc *fcb.Allocator, log *zap.Logger, maxProcesses, maxFileID int) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	tb := &Table{mu: mu, log: log, alloc: alloc, maxFileID: maxFileID, slots: make([]*PCB, maxProcesses)}
	for pid := maxProcesses - 1; pid >= 1; pid-- {
		tb.free = append(tb.free, Pid(pid))
	}
	idle := &PCB{pid: 0, state: Alive, fidt: make([]*fcb.FCB, maxFileID)}
	idle.childExit = klock.NewCond(mu)
	tb.slots[0] = idle
	tb.idle = idle
	return tb
}

func (tb *Table) allocate() *PCB {
	if len(tb.free) == 0 {
		return nil
	}
	pid := tb.free[len(tb.free)-1]
	tb.free = tb.free[:len(tb.free)-1]
	pcb := &PCB{
		pid:      pid,
		state:    Alive,
		children: make(map[Pid]*PCB),
		fidt:     make([]*fcb.FCB, tb.maxFileID),
	}
	pcb.childExit = klock.NewCond(tb.mu)
	tb.slots[pid] = pcb
	return pcb
}

func (tb *Table) release(pcb *PCB) {
	tb.slots[pcb.pid] = nil
	tb.free = append(tb.free, pcb.pid)
}

func (tb *Table) at(pid Pid) *PCB {
	if pid < 0 || int(pid) >= len(tb.slots) {
		return nil
	}
	return tb.slots[pid]
}

// Init returns pid 1 ("init"), or nil if it has not been booted yet.
func (tb *Table) Init() *PCB { return tb.at(1) }

// Snapshot copies out every non-FREE slot in ascending pid order, for the
// process introspection stream.
func (tb *Table) Snapshot() []*PCB {
	out := make([]*PCB, 0, len(tb.slots))
	for pid := 1; pid < len(tb.slots); pid++ {
		if p := tb.slots[pid]; p != nil && p.state != Free {
			out = append(out, p)
		}
	}
	return out
}
