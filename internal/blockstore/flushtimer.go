package blockstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// The flush timer is a process singleton. Start/stop coordinate through a
// condition variable so StopFlushTimer can block until the loop has fully
// exited (tests rely on this for determinism).
var flushLock = &sync.Mutex{}
var flushCVar = sync.NewCond(flushLock)
var flushRunning bool
var flushDoneCh chan struct{}

func StartFlushTimer(period time.Duration) error {
	flushLock.Lock()
	defer flushLock.Unlock()
	if flushRunning {
		return fmt.Errorf("flush timer already running")
	}
	flushRunning = true
	flushDoneCh = make(chan struct{})
	go runFlushLoop(period, flushDoneCh)
	return nil
}

// StopFlushTimer requests a stop and waits for the loop to exit. Calling it
// when the timer is not running is a no-op.
func StopFlushTimer() {
	flushLock.Lock()
	defer flushLock.Unlock()
	if !flushRunning {
		return
	}
	close(flushDoneCh)
	for flushRunning {
		flushCVar.Wait()
	}
}

func runFlushLoop(period time.Duration, doneCh chan struct{}) {
	defer func() {
		flushLock.Lock()
		flushRunning = false
		flushCVar.Broadcast()
		flushLock.Unlock()
	}()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-doneCh:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), period)
		if err := FlushCache(ctx); err != nil {
			log.Printf("[blockstore] flush error: %v", err)
		}
		cancel()
	}
}
