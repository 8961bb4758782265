package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State of a recording session. Finalized is terminal.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultQueueCapacity   = 64
	DefaultFramesPerBuffer = 1024
	DefaultPollInterval    = 50 * time.Millisecond
)

var (
	ErrNoMicrophone   = errors.New("a microphone pipeline is required")
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
)

// Options configures a Session
type Options struct {
	Mic PipelineSpec

	// System is nil when system audio is not recorded
	System *PipelineSpec

	QueueCapacity   int
	FramesPerBuffer int

	// CheckpointInterval bounds how long written audio can stay undeclared
	// in the header. Zero checkpoints after every block.
	CheckpointInterval time.Duration

	// StopOnPipelineFailure ends the whole session as soon as one pipeline
	// fails instead of letting the sibling keep recording
	StopOnPipelineFailure bool

	PollInterval time.Duration
	OpenFile     FileOpener

	// Stop is the shared flag set by the shutdown coordinator. The session
	// only reads it.
	Stop *atomic.Bool

	// OnEvent is called from pipeline goroutines and must be safe for
	// concurrent use. It must not call back into the Session.
	OnEvent func(Event)

	Logger *slog.Logger
}

// Session records a microphone and, optionally, system audio into separate
// files. The two pipelines share nothing but the stop flag.
type Session struct {
	opts Options
	stop *atomic.Bool
	log  *slog.Logger

	state    atomic.Int32
	starting atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	finished chan Role

	mu        sync.Mutex
	started   time.Time
	pipelines []*pipeline
	system    bool
	report    *Report
}

// NewSession validates opts and fills in defaults
func NewSession(opts Options) (*Session, error) {
	if opts.Mic.Device == nil || opts.Mic.Path == "" {
		return nil, ErrNoMicrophone
	}
	if opts.System != nil && (opts.System.Device == nil || opts.System.Path == "") {
		return nil, errors.New("system pipeline needs both a device and a path")
	}
	if opts.System != nil && opts.System.Path == opts.Mic.Path {
		return nil, fmt.Errorf("both pipelines would write to %s", opts.Mic.Path)
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OpenFile == nil {
		opts.OpenFile = CreateFile
	}
	if opts.Stop == nil {
		opts.Stop = new(atomic.Bool)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Session{
		opts:     opts,
		stop:     opts.Stop,
		log:      opts.Logger,
		stopCh:   make(chan struct{}),
		finished: make(chan Role, 2),
	}, nil
}

// Start opens both pipelines and starts capturing. A pipeline that fails to
// open is reported as failed and does not prevent the other from recording;
// Start only returns an error when nothing could be started.
func (s *Session) Start() error {
	if !s.starting.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = time.Now()
	mic := newPipeline(RoleMic, s.opts.Mic, s)
	s.pipelines = append(s.pipelines, mic)
	if s.opts.System != nil {
		s.system = true
		s.pipelines = append(s.pipelines, newPipeline(RoleSystem, *s.opts.System, s))
	} else {
		s.log.Info("System audio skipped")
		s.emit(Event{Pipeline: RoleSystem, Type: EventSkipped})
	}

	var opened []*pipeline
	var errs []error
	for _, p := range s.pipelines {
		if err := p.open(); err != nil {
			errs = append(errs, err)
			continue
		}
		opened = append(opened, p)
	}

	if len(opened) == 0 {
		s.state.Store(int32(StateFinalized))
		s.report = s.buildReport()
		return fmt.Errorf("no pipeline could be started: %w", errors.Join(errs...))
	}

	for _, p := range opened {
		p.start()
	}
	s.state.Store(int32(StateRecording))
	s.log.Info("Recording started", "pipelines", len(opened))
	return nil
}

// Wait blocks until the session is over and returns the per-pipeline
// report. The session stops when the shared stop flag is set, when Stop is
// called, when ctx is cancelled, or when every running pipeline has failed.
func (s *Session) Wait(ctx context.Context) (*Report, error) {
	switch s.State() {
	case StateIdle:
		return nil, ErrNotStarted
	case StateFinalized:
		return s.Report(), nil
	}

	running := 0
	s.mu.Lock()
	for _, p := range s.pipelines {
		if p.sink != nil {
			running++
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	reason := ""
	for reason == "" {
		if s.stop.Load() {
			reason = "stop flag set"
			break
		}
		select {
		case <-ctx.Done():
			reason = "context done"
		case <-s.stopCh:
			reason = "stop requested"
		case role := <-s.finished:
			running--
			s.log.Warn("Pipeline ended on its own", "pipeline", string(role), "remaining", running)
			if running == 0 {
				reason = "all pipelines ended"
			} else if s.opts.StopOnPipelineFailure {
				reason = fmt.Sprintf("%s pipeline failed", role)
			}
		case <-ticker.C:
		}
	}

	s.state.Store(int32(StateStopping))
	s.log.Info("Stopping recording", "reason", reason)

	for _, p := range s.pipelines {
		p.requestStop()
	}
	for _, p := range s.pipelines {
		<-p.done
	}

	s.mu.Lock()
	s.report = s.buildReport()
	report := s.report
	s.mu.Unlock()
	s.state.Store(int32(StateFinalized))

	s.log.Info("Recording finalized", "mic", report.Mic.String(), "system", report.System.String())
	return report, nil
}

// Run starts the session and waits for it to finish
func (s *Session) Run(ctx context.Context) (*Report, error) {
	if err := s.Start(); err != nil {
		if r := s.Report(); r != nil {
			return r, err
		}
		return nil, err
	}
	return s.Wait(ctx)
}

// Stop asks a running session to finish. It does not touch the shared stop
// flag, which belongs to the shutdown coordinator.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Report returns the final report, or nil before the session is finalized
func (s *Session) Report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// caller holds s.mu
func (s *Session) buildReport() *Report {
	r := &Report{
		Started: s.started,
		Ended:   time.Now(),
		System:  PipelineReport{Role: RoleSystem, Outcome: OutcomeSkipped},
	}
	for _, p := range s.pipelines {
		switch p.role {
		case RoleMic:
			r.Mic = p.report()
		case RoleSystem:
			r.System = p.report()
		}
	}
	return r
}

// Snapshot returns the live status of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:     s.State(),
		StartedAt: s.started,
	}
	if !s.started.IsZero() {
		snap.Elapsed = time.Since(s.started)
		if s.report != nil {
			snap.Elapsed = s.report.Ended.Sub(s.started)
		}
	}
	for _, p := range s.pipelines {
		snap.Pipelines = append(snap.Pipelines, p.snapshot())
	}
	if !s.system && !s.started.IsZero() {
		snap.Pipelines = append(snap.Pipelines, PipelineSnapshot{Role: RoleSystem, State: PipelineSkipped})
	}
	return snap
}

func (s *Session) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(e)
	}
}
