package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// minStallTimeout is the shortest silence treated as a lost stream
const minStallTimeout = 2 * time.Second

// heartbeat records when a stream last delivered a block. beat is safe to
// call from a real-time callback.
type heartbeat struct {
	last atomic.Int64
}

func (h *heartbeat) beat() {
	h.last.Store(time.Now().UnixNano())
}

func (h *heartbeat) silentFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.last.Load()))
}

// starvationCheck fails once no block has arrived for timeout
func starvationCheck(h *heartbeat, name string, timeout time.Duration) func() error {
	return func() error {
		if silent := h.silentFor(time.Now()); silent > timeout {
			return fmt.Errorf("%w: no audio from %q for %s", ErrStreamStopped, name, silent.Round(time.Millisecond))
		}
		return nil
	}
}

// stallTimeout allows twenty blocks of silence, and never less than
// minStallTimeout
func stallTimeout(sampleRate, framesPerBuffer int) time.Duration {
	if sampleRate <= 0 || framesPerBuffer <= 0 {
		return minStallTimeout
	}
	blocks := 20 * time.Duration(framesPerBuffer) * time.Second / time.Duration(sampleRate)
	return max(blocks, minStallTimeout)
}

// streamWatch polls check while a stream runs. The first error it returns
// goes to onError and ends the watch.
type streamWatch struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func watchStream(interval time.Duration, check func() error, onError func(error)) *streamWatch {
	w := &streamWatch{quit: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-w.quit:
				return
			case <-t.C:
			}
			if err := check(); err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
		}
	}()
	return w
}

// stop ends the watch and waits for it. Safe on a nil watch and more than once.
func (w *streamWatch) stop() {
	if w == nil {
		return
	}
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
