package socket

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corekernel/pkg/kernel/fcb"
)

func newTestPortMap() (*PortMap, *sync.Mutex) {
	mu := &sync.Mutex{}
	return NewPortMap(mu, nil, MaxPort), mu
}

func newBoundFCB(alloc *fcb.Allocator) *fcb.FCB {
	fcbs, _ := alloc.Reserve(1)
	return fcbs[0]
}

func TestListenRejectsDuplicatePort(t *testing.T) {
	pm, mu := newTestPortMap()
	alloc := fcb.NewAllocator(8)

	mu.Lock()
	defer mu.Unlock()

	a := New(pm, 5)
	a.FCB = newBoundFCB(alloc)
	require.Equal(t, 0, pm.Listen(a))

	b := New(pm, 5)
	b.FCB = newBoundFCB(alloc)
	assert.Equal(t, -1, pm.Listen(b))
}

func TestConnectTimesOutWithNoAccept(t *testing.T) {
	pm, mu := newTestPortMap()
	alloc := fcb.NewAllocator(8)

	mu.Lock()
	listener := New(pm, 9)
	listener.FCB = newBoundFCB(alloc)
	require.Equal(t, 0, pm.Listen(listener))
	mu.Unlock()

	client := New(pm, NoPort)
	client.FCB = newBoundFCB(alloc)

	mu.Lock()
	defer mu.Unlock()
	start := time.Now()
	result := pm.Connect(client, 9, 40*time.Millisecond)
	assert.Equal(t, -1, result)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRendezvousConnectsAndEchoes(t *testing.T) {
	pm, mu := newTestPortMap()
	alloc := fcb.NewAllocator(8)

	mu.Lock()
	listener := New(pm, 11)
	listener.FCB = newBoundFCB(alloc)
	require.Equal(t, 0, pm.Listen(listener))
	mu.Unlock()

	client := New(pm, NoPort)
	client.FCB = newBoundFCB(alloc)

	connectResult := make(chan int, 1)
	go func() {
		mu.Lock()
		defer mu.Unlock()
		connectResult <- pm.Connect(client, 11, 2*time.Second)
	}()

	mu.Lock()
	req, ok := pm.AcceptBegin(listener)
	require.True(t, ok)

	server := New(pm, listener.Port)
	server.FCB = newBoundFCB(alloc)
	pm.AcceptComplete(listener, req, server)
	mu.Unlock()

	require.Equal(t, 0, <-connectResult)
	require.Equal(t, Peer, client.Type)
	require.Equal(t, Peer, server.Type)

	mu.Lock()
	n := client.Write([]byte("ping"))
	mu.Unlock()
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	mu.Lock()
	n = server.Read(buf)
	mu.Unlock()
	require.Equal(t, 4, n)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestAcceptBeginWakesOnListenerClose(t *testing.T) {
	pm, mu := newTestPortMap()
	alloc := fcb.NewAllocator(8)

	mu.Lock()
	listener := New(pm, 13)
	listener.FCB = newBoundFCB(alloc)
	require.Equal(t, 0, pm.Listen(listener))
	mu.Unlock()

	done := make(chan bool, 1)
	go func() {
		mu.Lock()
		defer mu.Unlock()
		_, ok := pm.AcceptBegin(listener)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	listener.Close()
	mu.Unlock()

	select {
	case ok := <-done:
		assert.False(t, ok, "Accept on a closed listener must report failure")
	case <-time.After(time.Second):
		t.Fatal("AcceptBegin never woke after Close")
	}
}
