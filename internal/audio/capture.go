package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrCaptureNotOpen = errors.New("capture stream is not open")

// CaptureStats is a point-in-time view of a capture's counters
type CaptureStats struct {
	Blocks  uint64 `json:"blocks"`
	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`
}

// Capture owns one input stream. Its callback converts each block and hands
// it to the queue without ever blocking; when no buffer is free or the queue
// is full the block is dropped and counted.
type Capture struct {
	name  string
	dev   Device
	queue *Queue
	pool  *BlockPool
	stop  *atomic.Bool
	log   *slog.Logger

	stream Stream
	config StreamConfig

	seq        atomic.Uint64
	frames     atomic.Uint64
	poolMisses atomic.Uint64
	badBlocks  atomic.Uint64

	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error

	failOnce sync.Once
	failed   chan struct{}
	failErr  error
}

// NewCapture creates a capture unit for dev. The shared stop flag is only
// read; once it is set the callback discards everything it receives.
func NewCapture(name string, dev Device, queue *Queue, pool *BlockPool, stop *atomic.Bool, log *slog.Logger) *Capture {
	if log == nil {
		log = slog.Default()
	}
	if stop == nil {
		stop = new(atomic.Bool)
	}
	return &Capture{
		name:   name,
		dev:    dev,
		queue:  queue,
		pool:   pool,
		stop:   stop,
		log:    log.With("pipeline", name),
		failed: make(chan struct{}),
	}
}

// Open opens the device stream and returns the configuration it negotiated
func (c *Capture) Open() (StreamConfig, error) {
	stream, err := c.dev.Open(c.handle, c.fail)
	if err != nil {
		return StreamConfig{}, err
	}
	cfg := stream.Config()
	if err := cfg.Validate(); err != nil {
		stream.Close()
		return StreamConfig{}, fmt.Errorf("device %q: %w", c.dev.Info().Name, err)
	}

	c.stream = stream
	c.config = cfg
	c.log.Debug("Capture stream opened", "device", c.dev.Info().Name, "config", cfg.String())
	return cfg, nil
}

// Start begins delivering blocks
func (c *Capture) Start() error {
	if c.stream == nil {
		return ErrCaptureNotOpen
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream on %q: %w", c.dev.Info().Name, err)
	}
	return nil
}

// handle runs on the backend's real-time thread
func (c *Capture) handle(in Samples) {
	if c.stopped.Load() || c.stop.Load() {
		return
	}

	n := in.Len(c.config.Format)
	if n == 0 {
		return
	}
	buf := c.pool.Get(n)
	if buf == nil {
		c.poolMisses.Add(1)
		return
	}
	n, err := ConvertSamples(buf, in, c.config.Format)
	if err != nil {
		c.pool.Put(buf)
		c.badBlocks.Add(1)
		return
	}

	block := SampleBlock{Config: c.config, Samples: buf[:n], Seq: c.seq.Add(1)}
	if !c.queue.TryPush(block) {
		c.pool.Put(buf)
		return
	}
	c.frames.Add(uint64(block.Frames()))
}

func (c *Capture) fail(err error) {
	c.failOnce.Do(func() {
		c.failErr = err
		close(c.failed)
	})
}

// Failed is closed when the backend reports that the running stream broke
func (c *Capture) Failed() <-chan struct{} { return c.failed }

// Err returns the failure reported by the backend, if any
func (c *Capture) Err() error {
	select {
	case <-c.failed:
		return c.failErr
	default:
		return nil
	}
}

// Stop halts and closes the stream. Only the first call does any work.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		if c.stream == nil {
			return
		}
		if err := c.stream.Stop(); err != nil {
			c.stopErr = fmt.Errorf("failed to stop stream: %w", err)
		}
		if err := c.stream.Close(); err != nil && c.stopErr == nil {
			c.stopErr = fmt.Errorf("failed to close stream: %w", err)
		}
		c.log.Debug("Capture stream stopped", "blocks", c.seq.Load(), "dropped", c.Dropped())
	})
	return c.stopErr
}

func (c *Capture) Config() StreamConfig { return c.config }
func (c *Capture) Device() Device       { return c.dev }

// Dropped counts blocks lost on the real-time side for any reason
func (c *Capture) Dropped() uint64 {
	return c.queue.Dropped() + c.poolMisses.Load() + c.badBlocks.Load()
}

func (c *Capture) Stats() CaptureStats {
	return CaptureStats{
		Blocks:  c.queue.Pushed(),
		Frames:  c.frames.Load(),
		Dropped: c.Dropped(),
	}
}
