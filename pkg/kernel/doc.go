/*
Package kernel assembles the Process & Thread Table, the byte pipe, and the
rendezvous-based local stream socket behind a single facade bound to one
big lock, in the manner of the v6 Unix port's System{Procs, Big}: every
blocking primitive in the subordinate packages is constructed against the
same *sync.Mutex, so holding it anywhere in the kernel excludes every
other kernel call everywhere else.

It provides:

  - Process lifecycle management (Exec, WaitChild, Exit) built on a fixed
    size process table (64 slots by default) with generation-tagged thread
    identities
  - Threads within a process (CreateThread, ThreadJoin, ThreadDetach,
    ThreadExit) sharing one FIDT and one exit value
  - A bounded byte pipe with short writes and broadcast wakeups
  - A port-addressed rendezvous socket pairing two endpoints with a pipe
    in each direction on a successful Accept
  - Process introspection (OpenInfo) as a read-only fixed-record stream

# Concurrency model

There is no scheduler here and no preemption: every syscall runs to
completion or blocks on a condition variable built against the kernel's
own lock. A goroutine that calls ThreadExit or Exit never returns; it
terminates via runtime.Goexit after recording its exit value and running
whatever cleanup the last-thread-out triggers.

# Out of scope

Virtual memory, a filesystem, device drivers, and network sockets are not
part of this kernel. The FD table proper — the thing that would normally
own descriptor numbers and dispatch Read/Write/Close to whatever stream a
descriptor names — is treated as an external collaborator; this package
exposes the minimum bridge (Read, Write, Close on *Thread) needed to drive
a pipe or a socket from outside it.
*/
package kernel
