package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootAndWait(t *testing.T, k *Kernel, task Task, done chan struct{}) {
	k.Boot(task, 0, nil)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never completed")
	}
}

func TestPipeRoundTrip(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})
	var n int
	var payload string

	bootAndWait(t, k, func(self *Thread, argl int, args []byte) int {
		defer close(done)

		r, w, rc := self.Pipe()
		require.Equal(t, 0, rc)

		self.Write(w, []byte("hello there"))
		self.Close(w)

		buf := make([]byte, 32)
		n = self.Read(r, buf)
		payload = string(buf[:n])
		self.Close(r)
		return 0
	}, done)

	assert.Equal(t, "hello there", payload)
}

func TestPipeReadReturnsZeroAfterWriterCloses(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})
	var second int

	bootAndWait(t, k, func(self *Thread, argl int, args []byte) int {
		defer close(done)

		r, w, _ := self.Pipe()
		self.Write(w, []byte("x"))
		self.Close(w)

		buf := make([]byte, 8)
		self.Read(r, buf)
		second = self.Read(r, buf)
		return 0
	}, done)

	assert.Equal(t, 0, second)
}

func TestSocketRendezvousEchoesAcrossProcesses(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})

	const port Port = 42
	serverReady := make(chan struct{})
	var received string

	server := func(self *Thread, argl int, args []byte) int {
		fid, rc := self.Socket(port)
		if rc != 0 {
			return -1
		}
		if self.Listen(fid) != 0 {
			return -1
		}
		close(serverReady)

		peer, rc := self.Accept(fid)
		if rc != 0 {
			return -1
		}
		buf := make([]byte, 32)
		n := self.Read(peer, buf)
		received = string(buf[:n])
		self.Close(peer)
		self.Close(fid)
		return 0
	}

	client := func(self *Thread, argl int, args []byte) int {
		<-serverReady
		fid, rc := self.Socket(NoPort)
		if rc != 0 {
			return -1
		}
		if rc := self.Connect(fid, port, time.Second); rc != 0 {
			return -1
		}
		self.Write(fid, []byte("marco"))
		self.Close(fid)
		return 0
	}

	init := func(self *Thread, argl int, args []byte) int {
		defer close(done)
		self.Exec(server, 0, nil)
		self.Exec(client, 0, nil)

		for {
			if self.WaitChild(NoProc, nil) == NoProc {
				break
			}
		}
		return 0
	}

	bootAndWait(t, k, init, done)
	assert.Equal(t, "marco", received)
}

func TestConnectFailsWithNoListener(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})
	var result int

	bootAndWait(t, k, func(self *Thread, argl int, args []byte) int {
		defer close(done)
		fid, _ := self.Socket(NoPort)
		result = self.Connect(fid, 999, 50*time.Millisecond)
		return 0
	}, done)

	assert.Equal(t, -1, result)
}

func TestWaitChildReapsZombieChildren(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})
	var status int
	var reaped Pid

	bootAndWait(t, k, func(self *Thread, argl int, args []byte) int {
		defer close(done)
		childPid := self.Exec(func(inner *Thread, argl int, args []byte) int {
			return 5
		}, 0, nil)
		reaped = self.WaitChild(childPid, &status)
		return 0
	}, done)

	assert.Equal(t, 5, status)
	assert.NotEqual(t, NoProc, reaped)
}

func TestOrphanedProcessIsReparentedToInit(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})

	grandchildRelease := make(chan struct{})
	grandchildDone := make(chan Pid, 1)
	grandchildPPid := make(chan Pid, 1)
	var gotPPid Pid

	grandchild := func(self *Thread, argl int, args []byte) int {
		grandchildDone <- self.GetPid()
		<-grandchildRelease
		grandchildPPid <- self.GetPPid()
		return 0
	}

	parent := func(self *Thread, argl int, args []byte) int {
		self.Exec(grandchild, 0, nil)
		return 3
	}

	init := func(self *Thread, argl int, args []byte) int {
		defer close(done)
		parentPid := self.Exec(parent, 0, nil)

		<-grandchildDone
		self.WaitChild(parentPid, nil)

		close(grandchildRelease)
		gotPPid = <-grandchildPPid
		return 0
	}

	bootAndWait(t, k, init, done)
	assert.Equal(t, Pid(1), gotPPid, "grandchild must be reparented to init once its parent exits")
}

func TestOpenInfoReportsEveryLiveProcess(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})
	var records int

	bootAndWait(t, k, func(self *Thread, argl int, args []byte) int {
		defer close(done)
		self.Exec(func(inner *Thread, argl int, args []byte) int { return 0 }, 0, nil)

		fid, rc := self.OpenInfo()
		require.Equal(t, 0, rc)

		buf := make([]byte, 256)
		for {
			n := self.Read(fid, buf)
			if n <= 0 {
				break
			}
			records++
		}
		self.Close(fid)
		return 0
	}, done)

	assert.Equal(t, 2, records, "init and its unreaped child must both appear in the table snapshot")
}

func TestFCBIsInheritedAcrossExec(t *testing.T) {
	k := New(DefaultConfig(), nil)
	done := make(chan struct{})
	var childSawPayload string

	bootAndWait(t, k, func(self *Thread, argl int, args []byte) int {
		defer close(done)

		r, w, _ := self.Pipe()
		self.Write(w, []byte("inherited"))
		self.Close(w)

		childDone := make(chan struct{})
		self.Exec(func(inner *Thread, argl int, args []byte) int {
			buf := make([]byte, 32)
			n := inner.Read(r, buf)
			childSawPayload = string(buf[:n])
			close(childDone)
			return 0
		}, 0, nil)

		<-childDone
		return 0
	}, done)

	assert.Equal(t, "inherited", childSawPayload)
}
