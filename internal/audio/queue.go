package audio

import (
	"sync"
	"sync/atomic"
)

// Queue is the bounded handoff between a capture callback and the goroutine
// writing its file. It has exactly one producer and one consumer.
//
// The underlying channel is never closed: a push racing with Close must not
// panic on the real-time thread, so close is signalled on a separate channel.
type Queue struct {
	blocks    chan SampleBlock
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity blocks
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		blocks: make(chan SampleBlock, capacity),
		done:   make(chan struct{}),
	}
}

// TryPush enqueues b without blocking. It returns false and counts a drop
// when the queue is full or closed.
func (q *Queue) TryPush(b SampleBlock) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.blocks <- b:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until a block is available or the queue is closed. After Close
// it keeps returning queued blocks in push order and reports false once the
// queue is empty.
func (q *Queue) Pop() (SampleBlock, bool) {
	select {
	case b := <-q.blocks:
		return b, true
	case <-q.done:
	}
	select {
	case b := <-q.blocks:
		return b, true
	default:
		return SampleBlock{}, false
	}
}

// Close marks the end of the stream. Calling it more than once is a no-op.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

// Drain discards everything still queued, handing each block to fn, and
// returns how many blocks were discarded. Used after the consumer has failed.
func (q *Queue) Drain(fn func(SampleBlock)) int {
	n := 0
	for {
		select {
		case b := <-q.blocks:
			if fn != nil {
				fn(b)
			}
			n++
		default:
			return n
		}
	}
}

func (q *Queue) Closed() bool    { return q.closed.Load() }
func (q *Queue) Len() int        { return len(q.blocks) }
func (q *Queue) Cap() int        { return cap(q.blocks) }
func (q *Queue) Pushed() uint64  { return q.pushed.Load() }
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// BlockPool is a fixed free list of sample buffers so that steady-state
// callbacks reuse memory instead of allocating. Get and Put never block.
type BlockPool struct {
	free chan []int16
}

// NewBlockPool preallocates count buffers able to hold size samples each
func NewBlockPool(count, size int) *BlockPool {
	if count < 1 {
		count = 1
	}
	p := &BlockPool{free: make(chan []int16, count)}
	for i := 0; i < count; i++ {
		p.free <- make([]int16, 0, size)
	}
	return p
}

// Get returns a buffer of length n, or nil if every buffer is in flight or
// the next one is too small. Get never allocates, so it is safe on a
// real-time thread; size the pool with Grow before callbacks start.
func (p *BlockPool) Get(n int) []int16 {
	select {
	case b := <-p.free:
		if cap(b) < n {
			p.Put(b)
			return nil
		}
		return b[:n]
	default:
		return nil
	}
}

// Grow replaces idle buffers smaller than size. Buffers in flight are not
// touched, so call it before the stream starts.
func (p *BlockPool) Grow(size int) {
	for i := len(p.free); i > 0; i-- {
		var b []int16
		select {
		case b = <-p.free:
		default:
			return
		}
		if cap(b) < size {
			b = make([]int16, 0, size)
		}
		p.Put(b)
	}
}

// Put returns a buffer to the pool. Buffers beyond the pool's size are dropped.
func (p *BlockPool) Put(b []int16) {
	if b == nil {
		return
	}
	select {
	case p.free <- b[:0]:
	default:
	}
}

// Available returns the number of idle buffers
func (p *BlockPool) Available() int { return len(p.free) }
