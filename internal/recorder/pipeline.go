package recorder

import (
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/meetrec/internal/audio"
)

// Role names one of the two pipelines of a session
type Role string

const (
	RoleMic    Role = "mic"
	RoleSystem Role = "system"
)

// PipelineState is the lifecycle of a single pipeline
type PipelineState string

const (
	PipelinePending   PipelineState = "pending"
	PipelineRecording PipelineState = "recording"
	PipelineStopping  PipelineState = "stopping"
	PipelineFinalized PipelineState = "finalized"
	PipelineFailed    PipelineState = "failed"
	PipelineSkipped   PipelineState = "skipped"
)

// PipelineSpec is what a session needs to record one stream
type PipelineSpec struct {
	Device audio.Device
	Path   string
}

// pipeline couples one capture with one sink through a queue. Nothing in it
// is shared with the sibling pipeline.
type pipeline struct {
	role Role
	spec PipelineSpec
	sess *Session
	log  *slog.Logger

	queue   *audio.Queue
	pool    *audio.BlockPool
	capture *audio.Capture
	sink    *Sink
	config  audio.StreamConfig

	mu      sync.Mutex
	state   PipelineState
	err     error
	started time.Time
	ended   time.Time

	startErr error
	sinkDone chan struct{}
	sinkErr  error

	stopOnce sync.Once
	stopReq  chan struct{}
	done     chan struct{}
}

func newPipeline(role Role, spec PipelineSpec, sess *Session) *pipeline {
	return &pipeline{
		role:    role,
		spec:    spec,
		sess:    sess,
		log:     sess.log.With("pipeline", string(role)),
		state:   PipelinePending,
		stopReq: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// open negotiates the stream and creates the file. On failure the pipeline
// is finished and its error recorded.
func (p *pipeline) open() error {
	opts := p.sess.opts
	p.queue = audio.NewQueue(opts.QueueCapacity)
	p.pool = audio.NewBlockPool(opts.QueueCapacity+2, opts.FramesPerBuffer*2)
	p.capture = audio.NewCapture(string(p.role), p.spec.Device, p.queue, p.pool, p.sess.stop, p.sess.log)

	cfg, err := p.capture.Open()
	if err != nil {
		return p.finishEarly(newPipelineError(p.role, KindDevice, err))
	}
	p.config = cfg
	p.pool.Grow(blockCapacity(cfg, opts.FramesPerBuffer))

	sink, err := OpenSink(p.role, p.spec.Path, cfg, opts.OpenFile, opts.CheckpointInterval, p.sess.log)
	if err != nil {
		p.capture.Stop()
		return p.finishEarly(err)
	}
	p.sink = sink

	p.log.Info("Pipeline opened", "device", p.spec.Device.Info().Name, "path", p.spec.Path, "config", cfg.String())
	p.sess.emit(Event{Pipeline: p.role, Type: EventOpened, Path: p.spec.Path})
	return nil
}

// blockCapacity is the largest callback block the pool is sized for: four
// requested buffers or 100ms, whichever is more. Larger blocks are dropped.
func blockCapacity(cfg audio.StreamConfig, framesPerBuffer int) int {
	return max(4*framesPerBuffer, cfg.SampleRate/10) * cfg.Channels
}

func (p *pipeline) finishEarly(err error) error {
	p.mu.Lock()
	p.state = PipelineFailed
	p.err = err
	p.ended = time.Now()
	p.mu.Unlock()

	p.log.Error("Pipeline failed to open", "error", err)
	p.sess.emit(Event{Pipeline: p.role, Type: EventFailed, Path: p.spec.Path, Kind: KindOf(err), Err: err})
	close(p.done)
	return err
}

// start launches the sink, then the capture, then the supervisor
func (p *pipeline) start() {
	p.sinkDone = make(chan struct{})
	go func() {
		defer close(p.sinkDone)
		p.sinkErr = p.sink.Run(p.queue, p.pool)
	}()

	if err := p.capture.Start(); err != nil {
		p.startErr = newPipelineError(p.role, KindDevice, err)
	}

	p.mu.Lock()
	p.state = PipelineRecording
	p.started = time.Now()
	p.mu.Unlock()

	go p.supervise()
}

func (p *pipeline) requestStop() {
	p.stopOnce.Do(func() { close(p.stopReq) })
}

// supervise waits for a stop request or a failure, then tears the pipeline
// down: stop the capture, close the queue, let the sink drain and finalize.
func (p *pipeline) supervise() {
	failure := p.startErr
	sinkFinished := false

	if failure == nil {
		select {
		case <-p.stopReq:
		case <-p.sinkDone:
			sinkFinished = true
			failure = p.sinkErr
		case <-p.capture.Failed():
			failure = newPipelineError(p.role, KindDevice, p.capture.Err())
		}
	}

	p.setState(PipelineStopping)
	if failure != nil {
		p.log.Error("Pipeline failed, stopping it", "error", failure)
	}

	// a stream that broke without a callback reports it here
	if err := p.capture.Stop(); err != nil {
		if failure == nil {
			failure = newPipelineError(p.role, KindDevice, err)
			p.log.Error("Capture stream failed", "error", err)
		} else {
			p.log.Warn("Failed to stop capture cleanly", "error", err)
		}
	}
	p.sess.emit(Event{Pipeline: p.role, Type: EventStopped, Path: p.spec.Path})
	p.queue.Close()

	if sinkFinished {
		if n := p.queue.Drain(func(b audio.SampleBlock) { p.pool.Put(b.Samples) }); n > 0 {
			p.log.Warn("Discarded queued blocks after write failure", "blocks", n)
		}
	} else {
		<-p.sinkDone
		if failure == nil {
			failure = p.sinkErr
		} else if p.sinkErr != nil {
			p.log.Error("Sink failed while stopping", "error", p.sinkErr)
		}
	}

	p.finish(failure)
}

func (p *pipeline) finish(failure error) {
	finalizeErr := p.sink.Finalize()
	dropped := p.capture.Dropped()

	p.mu.Lock()
	p.err = failure
	p.ended = time.Now()
	if failure != nil {
		p.state = PipelineFailed
	} else {
		p.state = PipelineFinalized
	}
	p.mu.Unlock()

	if finalizeErr == nil {
		p.log.Info("Pipeline finalized", "path", p.spec.Path, "frames", p.sink.FramesWritten(), "bytes", p.sink.Size(), "dropped", dropped)
		p.sess.emit(Event{Pipeline: p.role, Type: EventFinalized, Path: p.spec.Path, Size: p.sink.Size(), Frames: p.sink.FramesWritten()})
	}
	if dropped > 0 {
		p.log.Warn("Blocks were dropped", "dropped", dropped)
		p.sess.emit(Event{Pipeline: p.role, Type: EventOverrun, Dropped: dropped, Kind: KindChannelOverrun})
	}
	if failure != nil {
		p.sess.emit(Event{Pipeline: p.role, Type: EventFailed, Path: p.spec.Path, Kind: KindOf(failure), Err: failure})
	}
	close(p.done)
	p.sess.finished <- p.role
}

func (p *pipeline) setState(s PipelineState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *pipeline) report() PipelineReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := PipelineReport{
		Role:   p.role,
		Path:   p.spec.Path,
		Config: p.config,
		Err:    p.err,
	}
	if p.spec.Device != nil {
		r.Device = p.spec.Device.Info().Name
	}
	if !p.started.IsZero() && !p.ended.IsZero() {
		r.Duration = p.ended.Sub(p.started)
	}
	if p.sink != nil {
		r.Frames = p.sink.FramesWritten()
		r.Size = p.sink.Size()
	}
	if p.capture != nil {
		r.Dropped = p.capture.Dropped()
	}

	switch {
	case p.err != nil:
		r.Outcome = OutcomeFailed
		r.Kind = KindOf(p.err)
	case r.Dropped > 0:
		r.Outcome = OutcomeSucceededWithDrops
		r.Kind = KindChannelOverrun
	default:
		r.Outcome = OutcomeSucceeded
	}
	return r
}

func (p *pipeline) snapshot() PipelineSnapshot {
	p.mu.Lock()
	state, err := p.state, p.err
	p.mu.Unlock()

	snap := PipelineSnapshot{
		Role:   p.role,
		State:  state,
		Path:   p.spec.Path,
		Config: p.config,
	}
	if p.spec.Device != nil {
		snap.Device = p.spec.Device.Info().Name
	}
	if err != nil {
		snap.Error = err.Error()
	}
	if p.queue != nil {
		snap.QueueDepth = p.queue.Len()
		snap.QueueCapacity = p.queue.Cap()
	}
	if p.capture != nil {
		stats := p.capture.Stats()
		snap.Blocks = stats.Blocks
		snap.Dropped = stats.Dropped
	}
	if p.sink != nil {
		snap.Frames = p.sink.FramesWritten()
		snap.Bytes = p.sink.Size()
	}
	return snap
}
