package klock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimedWaitReturnsTrueOnDeadline(t *testing.T) {
	var mu sync.Mutex
	cv := NewCond(&mu)

	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	elapsed := TimedWait(cv, start.Add(30*time.Millisecond))
	assert.True(t, elapsed)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTimedWaitReturnsFalseOnEarlySignal(t *testing.T) {
	var mu sync.Mutex
	cv := NewCond(&mu)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		cv.Broadcast()
		mu.Unlock()
	}()

	mu.Lock()
	defer mu.Unlock()
	elapsed := TimedWait(cv, time.Now().Add(2*time.Second))
	assert.False(t, elapsed)
}

func TestTimedWaitPastDeadlineReturnsImmediately(t *testing.T) {
	var mu sync.Mutex
	cv := NewCond(&mu)

	mu.Lock()
	defer mu.Unlock()
	start := time.Now()
	elapsed := TimedWait(cv, start.Add(-time.Second))
	assert.True(t, elapsed)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
