package proc

import (
	"runtime"

	"go.uber.org/zap"

	"corekernel/pkg/kernel/fcb"
	"corekernel/pkg/kernel/klock"
)

// Thread is the Go-idiomatic substitute for an implicit CURPROC/CURTHREAD
// register: every syscall that needs "the calling process/thread" is a
// method on one of these instead of reading thread-local state that Go's
// standard library doesn't expose.
type Thread struct {
	tb   *Table
	pcb  *PCB
	ptcb *PTCB
}

// Pid returns the owning process's identity (GetPid).
func (t *Thread) Pid() Pid { return t.pcb.pid }

// PPid returns the owning process's parent identity (GetPPid).
func (t *Thread) PPid() Pid { return t.pcb.PPid() }

// ThreadSelf returns this thread's own identity.
func (t *Thread) ThreadSelf() Tid { return t.ptcb.tid }

// PCB exposes the owning process control block for callers in sibling
// packages (socket/pipe wiring) that need FCB access; not part of the
// syscall surface itself.
func (t *Thread) PCB() *PCB { return t.pcb }

// Alloc exposes the table's FCB allocator, for the same reason as PCB.
func (t *Thread) Alloc() *fcb.Allocator { return t.tb.alloc }

// Boot creates pid 1 ("init") exactly as Exec creates any other process,
// with the permanently-resident idle process (pid 0) standing in for a
// boot loader as the caller. It exists only to get the system off the
// ground.
func (tb *Table) Boot(task Task, argl int, args []byte) Pid {
	return tb.execAs(tb.idle, task, argl, args)
}

// Exec spawns a new process as a child of the caller.
func (t *Thread) Exec(task Task, argl int, args []byte) Pid {
	return t.tb.execAs(t.pcb, task, argl, args)
}

func (tb *Table) execAs(caller *PCB, task Task, argl int, args []byte) Pid {
	child := tb.allocate()
	if child == nil {
		return NoProc
	}

	if child.pid > 1 {
		child.parent = caller
		caller.children[child.pid] = child
		for i, f := range caller.fidt {
			if f != nil {
				f.Incref()
				child.fidt[i] = f
			}
		}
	}

	var owned []byte
	if args != nil {
		owned = make([]byte, argl)
		copy(owned, args)
	}
	child.argl = argl
	child.args = owned
	child.mainTask = task

	if task == nil {
		return child.pid
	}

	self := &Thread{tb: tb, pcb: child, ptcb: tb.spawnPTCB(child, task, argl, owned)}
	go func() {
		ret := task(self, argl, owned)
		// task() itself locks/unlocks around every syscall it makes but
		// leaves the big lock free on return; re-acquire it before the
		// terminal Exit call, which releases it for good via the
		// runtime.Goexit unwind inside ThreadExit.
		tb.mu.Lock()
		defer tb.mu.Unlock()
		self.Exit(ret)
	}()

	tb.log.Debug("process created",
		zap.Int("pid", int(child.pid)),
		zap.Int("ppid", int(child.PPid())))
	return child.pid
}

// CreateThread spawns a new thread in the caller's own process.
func (t *Thread) CreateThread(task Task, argl int, args []byte) Tid {
	if task == nil {
		return NoThread
	}
	ptcb := t.tb.spawnPTCB(t.pcb, task, argl, args)
	self := &Thread{tb: t.tb, pcb: t.pcb, ptcb: ptcb}
	tb := t.tb
	go func() {
		ret := task(self, argl, args)
		tb.mu.Lock()
		defer tb.mu.Unlock()
		self.ThreadExit(ret)
	}()
	return ptcb.tid
}

// spawnPTCB allocates a thread-table slot in pcb's arena. The goroutine is
// not started here: the caller starts it only after this call returns, so
// the PCB/PTCB bookkeeping is always complete before the thread can run —
// contention on the kernel's big lock enforces the ordering, since the
// new goroutine's first syscall blocks until this call's holder releases
// the lock.
func (tb *Table) spawnPTCB(pcb *PCB, task Task, argl int, args []byte) *PTCB {
	idx := -1
	for i, s := range pcb.threads {
		if s.t == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		idx = len(pcb.threads)
		pcb.threads = append(pcb.threads, threadSlot{})
	}
	pcb.threads[idx].gen++
	gen := pcb.threads[idx].gen

	ptcb := &PTCB{
		tid:      Tid{Pid: pcb.pid, slot: idx, gen: gen},
		task:     task,
		argl:     argl,
		args:     args,
		refCount: 0,
	}
	ptcb.exitCV = klock.NewCond(tb.mu)
	pcb.threads[idx].t = ptcb
	pcb.threadCount++
	return ptcb
}

// resolveTid looks up the PTCB named by tid within pcb, validating that the
// generation still matches (so a stale handle from a freed slot never
// resolves to a reused one).
func (pcb *PCB) resolveTid(tid Tid) *PTCB {
	if tid.Pid != pcb.pid {
		return nil
	}
	if tid.slot < 0 || tid.slot >= len(pcb.threads) {
		return nil
	}
	slot := pcb.threads[tid.slot]
	if slot.t == nil || slot.gen != tid.gen {
		return nil
	}
	return slot.t
}

// ThreadJoin blocks until tid exits or becomes detached.
func (t *Thread) ThreadJoin(tid Tid, exitval *int) int {
	if tid == t.ptcb.tid {
		return -1
	}
	target := t.pcb.resolveTid(tid)
	if target == nil {
		return -1
	}
	if target.detached {
		return -1
	}

	target.refCount++
	for !target.exited && !target.detached {
		target.exitCV.Wait()
	}
	target.refCount--

	if target.detached {
		return -1
	}
	if exitval != nil {
		*exitval = target.exitval
	}
	if target.refCount == 0 {
		t.pcb.threads[tid.slot].t = nil
	}
	return 0
}

// ThreadDetach marks tid detached, releasing any blocked joiners with a
// failure outcome.
func (t *Thread) ThreadDetach(tid Tid) int {
	target := t.pcb.resolveTid(tid)
	if target == nil {
		return -1
	}
	if target.exited {
		return -1
	}
	target.detached = true
	target.exitCV.Broadcast()
	return 0
}

// ThreadExit records the caller's exit value, retires its PTCB slot
// bookkeeping, runs process cleanup if this was the last thread, and then
// terminates the goroutine permanently via runtime.Goexit — the stdlib
// primitive matching "yields permanently" with no Go equivalent of a
// thread-local CURTHREAD to clean up after.
func (t *Thread) ThreadExit(exitval int) {
	pcb, ptcb := t.pcb, t.ptcb

	ptcb.exitval = exitval
	ptcb.exited = true
	pcb.threadCount--
	ptcb.exitCV.Broadcast()

	if pcb.threadCount == 0 {
		t.tb.cleanupLastThread(pcb)
	}

	runtime.Goexit()
}

// Exit is the process-level exit syscall: it records the overall process
// exit value, drains every remaining child if the caller is init (pid 1),
// then finishes the calling thread exactly like ThreadExit.
func (t *Thread) Exit(exitval int) {
	t.pcb.exitval = exitval
	if t.pcb.pid == 1 {
		for {
			if pid := t.WaitChild(NoProc, nil); pid == NoProc {
				break
			}
		}
	}
	t.ThreadExit(exitval)
}

func (tb *Table) cleanupLastThread(pcb *PCB) {
	if pcb.pid != 1 {
		init := tb.Init()
		for _, child := range pcb.children {
			child.parent = init
			init.children[child.pid] = child
		}
		pcb.children = make(map[Pid]*PCB)

		if len(pcb.exitedChildren) > 0 {
			init.exitedChildren = append(init.exitedChildren, pcb.exitedChildren...)
			pcb.exitedChildren = nil
			init.childExit.Broadcast()
		}

		parent := pcb.parent
		delete(parent.children, pcb.pid)
		parent.exitedChildren = append(parent.exitedChildren, pcb)
		parent.childExit.Broadcast()
	}

	pcb.args = nil
	for i, f := range pcb.fidt {
		if f != nil {
			f.Decref()
			pcb.fidt[i] = nil
		}
	}
	pcb.threads = nil
	pcb.mainTask = nil
	pcb.state = Zombie

	tb.log.Debug("process became zombie", zap.Int("pid", int(pcb.pid)))
}

// WaitChild reaps a ZOMBIE child, either a specific one or any.
func (t *Thread) WaitChild(cpid Pid, status *int) Pid {
	parent := t.pcb

	if cpid != NoProc {
		child := t.tb.at(cpid)
		if child == nil || child.parent != parent {
			return NoProc
		}
		for child.state != Zombie {
			parent.childExit.Wait()
		}
		removeChild(&parent.exitedChildren, child)
		if status != nil {
			*status = child.exitval
		}
		t.tb.release(child)
		return cpid
	}

	for {
		if len(parent.children) == 0 && len(parent.exitedChildren) == 0 {
			return NoProc
		}
		if len(parent.exitedChildren) > 0 {
			child := parent.exitedChildren[0]
			parent.exitedChildren = parent.exitedChildren[1:]
			if status != nil {
				*status = child.exitval
			}
			pid := child.pid
			t.tb.release(child)
			return pid
		}
		parent.childExit.Wait()
	}
}

func removeChild(list *[]*PCB, target *PCB) {
	for i, c := range *list {
		if c == target {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}
