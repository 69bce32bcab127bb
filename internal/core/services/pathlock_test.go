package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPathLocks_SerialisesSamePath(t *testing.T) {
	locks := newPathLocks()
	var active, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("/a.md")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, locks.len(), "idle entries are dropped")
}

func TestPathLocks_DifferentPathsIndependent(t *testing.T) {
	locks := newPathLocks()
	unlockA := locks.Lock("/a.md")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("/b.md")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different path blocked")
	}
}
