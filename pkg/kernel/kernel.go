package kernel

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"corekernel/pkg/kernel/fcb"
	"corekernel/pkg/kernel/pipe"
	"corekernel/pkg/kernel/proc"
	"corekernel/pkg/kernel/socket"
)

// Re-exported identifier types, so callers depend only on this package.
type (
	Pid  = proc.Pid
	Fid  = proc.Fid
	Tid  = proc.Tid
	Port = socket.Port
)

const (
	NoProc = proc.NoProc
	NoFile = proc.NoFile
	NoPort = socket.NoPort
)

// NoThread is the zero Tid value; no valid thread ever has generation 0.
var NoThread = proc.NoThread

// ShutdownMode selects which half of a connected socket to close.
type ShutdownMode = socket.ShutdownMode

const (
	ShutdownRead  = socket.ShutdownRead
	ShutdownWrite = socket.ShutdownWrite
	ShutdownBoth  = socket.ShutdownBoth
)

// Task is the entry point run by a spawned process or thread.
type Task func(self *Thread, argl int, args []byte) int

// Kernel owns every primitive's shared state: the process table, the port
// map, and the FCB allocator, all built against the same lock.
type Kernel struct {
	mu  *sync.Mutex
	log *zap.Logger
	cfg Config

	tb    *proc.Table
	pm    *socket.PortMap
	alloc *fcb.Allocator
}

// New builds a kernel from cfg, ready to Boot. A nil logger defaults to a
// no-op logger, matching zap's own convention for optional logging.
func New(cfg Config, log *zap.Logger) *Kernel {
	if log == nil {
		log = zap.NewNop()
	}
	mu := &sync.Mutex{}
	alloc := fcb.NewAllocator(cfg.MaxOpenFiles)
	return &Kernel{
		mu:    mu,
		log:   log,
		cfg:   cfg,
		tb:    proc.NewTable(mu, alloc, log, cfg.MaxProcesses, cfg.MaxFileDescriptors),
		pm:    socket.NewPortMap(mu, log, socket.Port(cfg.MaxPort)),
		alloc: alloc,
	}
}

// Boot creates pid 1 ("init") and starts running task on it, standing in
// for the out-of-scope boot loader. Returns NoProc if the table somehow
// has no free slot, which cannot happen on a freshly built Kernel.
func (k *Kernel) Boot(task Task, argl int, args []byte) Pid {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tb.Boot(k.wrap(task), argl, args)
}

// wrap adapts a kernel.Task to the proc package's Task signature, closing
// over k so every spawned proc.Thread is seen by user code as a
// kernel.Thread instead.
func (k *Kernel) wrap(task Task) proc.Task {
	if task == nil {
		return nil
	}
	return func(self *proc.Thread, argl int, args []byte) int {
		return task(&Thread{k: k, pt: self}, argl, args)
	}
}

// Thread is a handle to one running thread within one process, the unit
// every syscall in this package is a method on.
type Thread struct {
	k  *Kernel
	pt *proc.Thread
}

func (t *Thread) lock()   { t.k.mu.Lock() }
func (t *Thread) unlock() { t.k.mu.Unlock() }

// GetPid returns the owning process's identity.
func (t *Thread) GetPid() Pid {
	t.lock()
	defer t.unlock()
	return t.pt.Pid()
}

// GetPPid returns the owning process's parent identity.
func (t *Thread) GetPPid() Pid {
	t.lock()
	defer t.unlock()
	return t.pt.PPid()
}

// ThreadSelf returns this thread's own identity.
func (t *Thread) ThreadSelf() Tid {
	t.lock()
	defer t.unlock()
	return t.pt.ThreadSelf()
}

// Exec spawns a new process as a child of the caller.
func (t *Thread) Exec(task Task, argl int, args []byte) Pid {
	t.lock()
	defer t.unlock()
	return t.pt.Exec(t.k.wrap(task), argl, args)
}

// CreateThread spawns a new thread in the caller's own process.
func (t *Thread) CreateThread(task Task, argl int, args []byte) Tid {
	t.lock()
	defer t.unlock()
	return t.pt.CreateThread(t.k.wrap(task), argl, args)
}

// ThreadJoin blocks until tid exits or becomes detached.
func (t *Thread) ThreadJoin(tid Tid, exitval *int) int {
	t.lock()
	defer t.unlock()
	return t.pt.ThreadJoin(tid, exitval)
}

// ThreadDetach marks tid detached.
func (t *Thread) ThreadDetach(tid Tid) int {
	t.lock()
	defer t.unlock()
	return t.pt.ThreadDetach(tid)
}

// ThreadExit terminates the calling thread permanently; it never returns.
// The lock is released by the deferred unlock running during the
// runtime.Goexit unwind triggered inside pt.ThreadExit.
func (t *Thread) ThreadExit(exitval int) {
	t.lock()
	defer t.unlock()
	t.pt.ThreadExit(exitval)
}

// Exit terminates the calling process-level thread, draining all children
// first if the caller is init; it never returns.
func (t *Thread) Exit(exitval int) {
	t.lock()
	defer t.unlock()
	t.pt.Exit(exitval)
}

// WaitChild reaps a zombie child, either a specific one or any.
func (t *Thread) WaitChild(cpid Pid, status *int) Pid {
	t.lock()
	defer t.unlock()
	return t.pt.WaitChild(cpid, status)
}

// Pipe reserves two fresh descriptors and connects them with a pipe:
// rfid's Read end and wfid's Write end.
func (t *Thread) Pipe() (rfid, wfid Fid, result int) {
	t.lock()
	defer t.unlock()

	fids, fcbs, ok := t.pt.PCB().ReserveFids(2, t.pt.Alloc())
	if !ok {
		return NoFile, NoFile, -1
	}
	p := pipe.New(t.k.mu, fcbs[0], fcbs[1])
	fcbs[0].Stream = p.ReaderStream()
	fcbs[1].Stream = p.WriterStream()
	return fids[0], fids[1], 0
}

// Socket reserves one fresh descriptor bound to a fresh UNBOUND socket
// endpoint requesting the given port. A port outside [0, MaxPort] fails.
func (t *Thread) Socket(port Port) (Fid, int) {
	t.lock()
	defer t.unlock()

	if port < 0 || port > Port(t.k.cfg.MaxPort) {
		return NoFile, -1
	}
	fids, fcbs, ok := t.pt.PCB().ReserveFids(1, t.pt.Alloc())
	if !ok {
		return NoFile, -1
	}
	s := socket.New(t.k.pm, port)
	s.FCB = fcbs[0]
	fcbs[0].Stream = s
	return fids[0], 0
}

func (t *Thread) socketAt(fid Fid) *socket.Socket {
	f := t.pt.PCB().Fid(fid)
	if f == nil {
		return nil
	}
	s, _ := f.Stream.(*socket.Socket)
	return s
}

// Listen marks fid's socket a LISTENER bound to its requested port.
func (t *Thread) Listen(fid Fid) int {
	t.lock()
	defer t.unlock()

	s := t.socketAt(fid)
	if s == nil {
		return -1
	}
	return t.k.pm.Listen(s)
}

// Accept blocks until a Connect request arrives on fid's listener, then
// admits it and returns a fresh PEER descriptor for the server side of
// the rendezvous.
func (t *Thread) Accept(fid Fid) (Fid, int) {
	t.lock()
	defer t.unlock()

	listener := t.socketAt(fid)
	if listener == nil || listener.Type != socket.Listener {
		return NoFile, -1
	}

	req, ok := t.k.pm.AcceptBegin(listener)
	if !ok {
		return NoFile, -1
	}

	fids, fcbs, ok := t.pt.PCB().ReserveFids(1, t.pt.Alloc())
	if !ok {
		t.k.pm.AcceptFail(listener, req)
		return NoFile, -1
	}
	server := socket.New(t.k.pm, listener.Port)
	server.FCB = fcbs[0]
	fcbs[0].Stream = server

	t.k.pm.AcceptComplete(listener, req, server)
	return fids[0], 0
}

// Connect performs the client half of the rendezvous on fid's socket,
// blocking up to timeout for the listener on port to admit it.
func (t *Thread) Connect(fid Fid, port Port, timeout time.Duration) int {
	t.lock()
	defer t.unlock()

	s := t.socketAt(fid)
	if s == nil {
		return -1
	}
	return t.k.pm.Connect(s, port, timeout)
}

// ShutDown half- or fully-closes fid's connected socket without releasing
// the descriptor itself.
func (t *Thread) ShutDown(fid Fid, how ShutdownMode) int {
	t.lock()
	defer t.unlock()

	s := t.socketAt(fid)
	if s == nil {
		return -1
	}
	return s.ShutDown(how)
}

// OpenInfo reserves a fresh descriptor bound to a process-table
// introspection stream, snapshotted at this call.
func (t *Thread) OpenInfo() (Fid, int) {
	t.lock()
	defer t.unlock()

	fids, fcbs, ok := t.pt.PCB().ReserveFids(1, t.pt.Alloc())
	if !ok {
		return NoFile, -1
	}
	fcbs[0].Stream = t.k.tb.OpenInfo()
	return fids[0], 0
}

// Read reads from fid's underlying stream into buf.
func (t *Thread) Read(fid Fid, buf []byte) int {
	t.lock()
	defer t.unlock()

	f := t.pt.PCB().Fid(fid)
	if f == nil || f.Stream == nil {
		return -1
	}
	return f.Stream.Read(buf)
}

// Write writes buf to fid's underlying stream.
func (t *Thread) Write(fid Fid, buf []byte) int {
	t.lock()
	defer t.unlock()

	f := t.pt.PCB().Fid(fid)
	if f == nil || f.Stream == nil {
		return -1
	}
	return f.Stream.Write(buf)
}

// Close drops the caller's reference to fid, closing its underlying
// stream once every referent has done the same.
func (t *Thread) Close(fid Fid) int {
	t.lock()
	defer t.unlock()

	return t.pt.PCB().CloseFid(fid)
}
