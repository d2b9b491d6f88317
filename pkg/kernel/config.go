package kernel

import (
	"corekernel/pkg/kernel/proc"
	"corekernel/pkg/kernel/socket"
)

// Config bundles the kernel's fixed-size resource limits and operating
// parameters. The zero value is not usable; build one with DefaultConfig
// and override individual fields. MaxProcesses, MaxFileDescriptors, and
// MaxPort are threaded into proc.NewTable/socket.NewPortMap at New time;
// PipeBufferSize is not (see DESIGN.md).
type Config struct {
	// MaxProcesses bounds the process table (PCB slot count).
	MaxProcesses int
	// MaxFileDescriptors bounds each process's FIDT.
	MaxFileDescriptors int
	// MaxPort bounds the port namespace (ports 1..MaxPort are usable).
	MaxPort int
	// PipeBufferSize records the pipe ring size. New does not read it:
	// every pipe, including a socket's pair of internal pipes, uses the
	// fixed pipe.BufferSize.
	PipeBufferSize int
	// MaxOpenFiles bounds how many FCBs may be allocated system-wide,
	// independent of any single process's FIDT size. Capacity is not
	// reclaimed when an FCB is closed.
	MaxOpenFiles int
}

// DefaultConfig returns the limits named in the external interface: 64
// processes, 16 descriptors per process, ports 1-1023, an 8KiB pipe ring.
func DefaultConfig() Config {
	return Config{
		MaxProcesses:       proc.MaxProc,
		MaxFileDescriptors: proc.MaxFileID,
		MaxPort:            int(socket.MaxPort),
		PipeBufferSize:     8192,
		MaxOpenFiles:       1024,
	}
}
