// Package socket implements the three-state local stream endpoint
// (unbound / listener / peer) and the Connect/Accept rendezvous protocol
// that pairs two endpoints with a pipe in each direction. It is grounded
// directly on kernel_socket.c: the refcount discipline, the
// connection_request queue, and the pipe cross-linking on a successful
// Accept all mirror that source's control flow.
package socket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"corekernel/pkg/kernel/fcb"
	"corekernel/pkg/kernel/klock"
	"corekernel/pkg/kernel/pipe"
)

// Port identifies a listening endpoint. NoPort means "not bound."
type Port int

const (
	NoPort Port = 0
	// MaxPort is the default upper bound of the port namespace, used when a
	// caller doesn't override it through kernel.Config.MaxPort. NewPortMap
	// takes the live bound as a parameter rather than hardcoding against it.
	MaxPort Port = 1023
)

// Type is the socket's current role.
type Type int

const (
	Unbound Type = iota
	Listener
	Peer
)

// ShutdownMode selects which half of a peer socket to close.
type ShutdownMode int

const (
	ShutdownRead ShutdownMode = iota
	ShutdownWrite
	ShutdownBoth
)

// Request is a single in-flight Connect call queued on a listener.
// Ownership is by move: it lives in at most one of {listener.queue,
// nowhere} at a time once Accept has popped it.
type Request struct {
	admitted    int
	client      *Socket
	connectedCV *sync.Cond
	// TraceID exists purely for structured-logging correlation between the
	// Connect and Accept sides of a rendezvous; the kernel never branches
	// on it.
	TraceID uuid.UUID
}

// Socket is a control block for one endpoint. Only the fields relevant to
// its current Type are meaningful; Type never regresses (Unbound ->
// Listener or Unbound -> Peer, never back).
type Socket struct {
	Type Type
	Port Port
	FCB  *fcb.FCB

	pm      *PortMap
	refs    int
	retired bool

	// Listener payload.
	queue        []*Request
	reqAvailable *sync.Cond

	// Peer payload.
	Peer      *Socket
	ReadPipe  *pipe.Pipe
	WritePipe *pipe.Pipe
}

// New builds a fresh UNBOUND socket for the given requested port, bound to
// the port map that will own its Close dispatch.
func New(pm *PortMap, port Port) *Socket {
	return &Socket{Type: Unbound, Port: port, pm: pm}
}

func (s *Socket) incref() { s.refs++ }

func (pm *PortMap) decref(s *Socket) {
	s.refs--
	if s.retired && s.refs < 0 {
		pm.log.Debug("socket control block unreferenced", zap.Int("port", int(s.Port)))
	}
}

// PortMap is the global port namespace: port_map[1..maxPort] -> LISTENER
// socket or absent, sized at construction by the caller's
// kernel.Config.MaxPort.
type PortMap struct {
	mu      *sync.Mutex
	log     *zap.Logger
	maxPort Port
	table   []*Socket
}

// NewPortMap builds an empty port map bound to the kernel's big lock, with
// ports 1..maxPort usable.
func NewPortMap(mu *sync.Mutex, log *zap.Logger, maxPort Port) *PortMap {
	if log == nil {
		log = zap.NewNop()
	}
	return &PortMap{mu: mu, log: log, maxPort: maxPort, table: make([]*Socket, maxPort+1)}
}

// Listen installs s into the port map as a LISTENER. Must be called with
// the big lock held.
func (pm *PortMap) Listen(s *Socket) int {
	if s.Type != Unbound {
		return -1
	}
	if s.Port < 1 || s.Port > pm.maxPort {
		return -1
	}
	if pm.table[s.Port] != nil {
		return -1
	}
	pm.table[s.Port] = s
	s.Type = Listener
	s.queue = nil
	s.reqAvailable = klock.NewCond(pm.mu)
	return 0
}

// Connect performs the client half of the rendezvous: push a request onto
// the listener's queue, wake it, and wait up to timeout for admission. A
// close of the listener ends the wait early with failure.
func (pm *PortMap) Connect(client *Socket, port Port, timeout time.Duration) int {
	if client.Type != Unbound {
		return -1
	}
	if port < 1 || port > pm.maxPort {
		return -1
	}
	listener := pm.table[port]
	if listener == nil || listener.Type != Listener {
		return -1
	}

	req := &Request{client: client, connectedCV: klock.NewCond(pm.mu), TraceID: uuid.New()}
	listener.queue = append(listener.queue, req)
	listener.reqAvailable.Signal()
	listener.incref()

	deadline := time.Now().Add(timeout)
	for req.admitted == 0 && !listener.retired {
		if klock.TimedWait(req.connectedCV, deadline) {
			break
		}
	}

	pm.decref(listener)
	result := req.admitted - 1

	for i, r := range listener.queue {
		if r == req {
			listener.queue = append(listener.queue[:i], listener.queue[i+1:]...)
			break
		}
	}

	pm.log.Debug("connect completed",
		zap.String("trace", req.TraceID.String()),
		zap.Int("port", int(port)),
		zap.Int("result", result))
	return result
}

// AcceptBegin implements the server half's wait loop: block until a
// request is queued or the port is vacated. Returns ok=false exactly when
// the caller should return NOFILE without having popped anything.
func (pm *PortMap) AcceptBegin(listener *Socket) (*Request, bool) {
	listener.incref()
	for len(listener.queue) == 0 && pm.table[listener.Port] == listener {
		listener.reqAvailable.Wait()
	}
	if pm.table[listener.Port] != listener {
		pm.decref(listener)
		return nil, false
	}
	req := listener.queue[0]
	listener.queue = listener.queue[1:]
	return req, true
}

// AcceptFail completes a popped request with failure: the client observes
// admitted==0 and returns -1 from Connect.
func (pm *PortMap) AcceptFail(listener *Socket, req *Request) {
	req.connectedCV.Signal()
	pm.decref(listener)
}

// AcceptComplete wires up the two fresh pipes and marks both sockets PEER.
// client.read == server.write and client.write == server.read, per the
// rendezvous invariant.
func (pm *PortMap) AcceptComplete(listener *Socket, req *Request, server *Socket) {
	client := req.client

	clientRead := pipe.New(pm.mu, client.FCB, server.FCB)
	clientWrite := pipe.New(pm.mu, server.FCB, client.FCB)

	client.Type = Peer
	client.ReadPipe = clientRead
	client.WritePipe = clientWrite
	client.Peer = server

	server.Type = Peer
	server.ReadPipe = clientWrite
	server.WritePipe = clientRead
	server.Peer = client

	req.admitted = 1
	pm.decref(listener)
	req.connectedCV.Signal()

	pm.log.Debug("rendezvous admitted", zap.String("trace", req.TraceID.String()))
}

// Close implements fcb.Stream's Close for a socket, dispatched by type.
func (s *Socket) Close() int {
	return s.pm.closeSocket(s)
}

func (pm *PortMap) closeSocket(s *Socket) int {
	switch s.Type {
	case Peer:
		if s.WritePipe != nil {
			s.WritePipe.CloseWriter()
		}
		if s.ReadPipe != nil {
			s.ReadPipe.CloseReader()
		}
	case Listener:
		for _, req := range s.queue {
			req.connectedCV.Broadcast()
		}
		s.queue = nil
		if s.reqAvailable != nil {
			s.reqAvailable.Broadcast()
		}
		if pm.table[s.Port] == s {
			pm.table[s.Port] = nil
		}
	case Unbound:
		// nothing to release
	}
	s.retired = true
	pm.decref(s)
	return 0
}

// Read delegates to the peer socket's read pipe.
func (s *Socket) Read(buf []byte) int {
	if s.Type != Peer || s.ReadPipe == nil {
		return -1
	}
	return s.ReadPipe.Read(buf)
}

// Write delegates to the peer socket's write pipe.
func (s *Socket) Write(buf []byte) int {
	if s.Type != Peer || s.WritePipe == nil {
		return -1
	}
	return s.WritePipe.Write(buf)
}

// Open is never valid for a socket stream.
func (s *Socket) Open() int { return -1 }

// ShutDown half- or fully-closes a peer socket's pipes without tearing
// down the FCB itself.
func (s *Socket) ShutDown(how ShutdownMode) int {
	if s.Type != Peer {
		return -1
	}
	switch how {
	case ShutdownRead:
		if s.ReadPipe != nil {
			s.ReadPipe.CloseReader()
			s.ReadPipe = nil
		}
	case ShutdownWrite:
		if s.WritePipe != nil {
			s.WritePipe.CloseWriter()
			s.WritePipe = nil
		}
	case ShutdownBoth:
		if s.ReadPipe != nil {
			s.ReadPipe.CloseReader()
			s.ReadPipe = nil
		}
		if s.WritePipe != nil {
			s.WritePipe.CloseWriter()
			s.WritePipe = nil
		}
	default:
		return -1
	}
	return 0
}
