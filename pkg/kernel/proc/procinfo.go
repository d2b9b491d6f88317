package proc

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// infoRecord is the fixed-width record copied out by the process
// introspection stream for a single PCB: pid, ppid, alive (0/1), thread
// count, main_task identifier, argl, args. It is an in-kernel record, not a
// wire format exchanged with another process, so it is encoded with the
// standard library's encoding/binary rather than a corpus serialization
// library.
type infoRecord struct {
	Pid         int32
	PPid        int32
	Alive       int32
	ThreadCount int32
	MainTask    uint64
	Argl        int32
	Args        [ProcInfoMaxArgsSize]byte
}

const infoRecordSize = 4*5 + 8 + ProcInfoMaxArgsSize

// InfoStream is an fcb.Stream that yields one infoRecord per Read call,
// walking the table snapshot taken at Open time. It implements OpenInfo.
type InfoStream struct {
	rows   []*PCB
	cursor int
}

// OpenInfo snapshots the table and returns a stream over it. The snapshot
// is taken once, at open time: rows created or reaped after Open do not
// appear or disappear mid-iteration.
func (tb *Table) OpenInfo() *InfoStream {
	return &InfoStream{rows: tb.Snapshot()}
}

// Open is never valid on the introspection stream.
func (s *InfoStream) Open() int { return -1 }

// Write is never valid on the introspection stream.
func (s *InfoStream) Write(buf []byte) int { return -1 }

// Close releases the stream's held snapshot.
func (s *InfoStream) Close() int {
	s.rows = nil
	return 0
}

// Read copies the next process's fixed-width record into buf, returning
// infoRecordSize, or 0 once every row has been delivered. buf must be at
// least infoRecordSize bytes; a short buffer is reported as -1.
func (s *InfoStream) Read(buf []byte) int {
	if len(buf) < infoRecordSize {
		return -1
	}
	for s.cursor < len(s.rows) {
		p := s.rows[s.cursor]
		s.cursor++
		if p.state == Free {
			continue
		}

		alive := int32(0)
		if p.state == Alive {
			alive = 1
		}
		rec := infoRecord{
			Pid:         int32(p.pid),
			PPid:        int32(p.PPid()),
			Alive:       alive,
			ThreadCount: int32(p.threadCount),
			Argl:        int32(p.argl),
		}
		if p.mainTask != nil {
			rec.MainTask = uint64(reflect.ValueOf(p.mainTask).Pointer())
		}
		n := p.argl
		if n > ProcInfoMaxArgsSize {
			n = ProcInfoMaxArgsSize
		}
		if n > 0 && p.args != nil {
			copy(rec.Args[:n], p.args[:n])
		}

		var out bytes.Buffer
		binary.Write(&out, binary.LittleEndian, &rec)
		copy(buf, out.Bytes())
		return infoRecordSize
	}
	return 0
}
