package capture

import (
	"sync"
	"time"
)

// Ticker schedules repeating callbacks.
type Ticker interface {
	// Every calls fn every interval until the returned handle is stopped.
	// Calls for one handle never overlap.
	Every(interval time.Duration, fn func()) Handle
}

// Handle cancels a scheduled callback.
type Handle interface {
	// Stop prevents future calls. It does not wait for a call in progress
	// and is safe to call from inside the callback.
	Stop()
}

// ClockTicker is the Ticker backed by time.Ticker.
type ClockTicker struct{}

// Every starts a goroutine that calls fn on each tick until stopped.
func (ClockTicker) Every(interval time.Duration, fn func()) Handle {
	h := &clockHandle{done: make(chan struct{})}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-t.C:
				// Stop may race with a ready tick; done wins.
				select {
				case <-h.done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return h
}

type clockHandle struct {
	once sync.Once
	done chan struct{}
}

func (h *clockHandle) Stop() {
	h.once.Do(func() { close(h.done) })
}
