package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/meetrec/internal/audio"
	"github.com/audiolibrelab/meetrec/internal/wav"
)

// FileOpener creates the output file for a pipeline
type FileOpener func(path string) (wav.File, error)

// CreateFile is the default FileOpener. The parent directory must exist.
func CreateFile(path string) (wav.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Sink owns one output file and is the only consumer of its pipeline's queue
type Sink struct {
	role     Role
	path     string
	w        *wav.Writer
	interval time.Duration
	log      *slog.Logger

	lastCheckpoint time.Time

	frames atomic.Int64
	bytes  atomic.Int64

	finalizeOnce sync.Once
	finalizeErr  error
}

// OpenSink creates path and writes a provisional header for cfg. Blocks are
// made durable at most every interval; zero checkpoints after every block.
func OpenSink(role Role, path string, cfg audio.StreamConfig, open FileOpener, interval time.Duration, log *slog.Logger) (*Sink, error) {
	if open == nil {
		open = CreateFile
	}
	if log == nil {
		log = slog.Default()
	}

	f, err := open(path)
	if err != nil {
		return nil, newPipelineError(role, KindFileOpen, fmt.Errorf("failed to create %s: %w", path, err))
	}
	w, err := wav.Create(f, cfg.Channels, cfg.SampleRate)
	if err != nil {
		f.Close()
		return nil, newPipelineError(role, KindFileOpen, err)
	}

	s := &Sink{
		role:           role,
		path:           path,
		w:              w,
		interval:       interval,
		log:            log.With("pipeline", string(role)),
		lastCheckpoint: time.Now(),
	}
	s.bytes.Store(w.Size())
	return s, nil
}

// Run consumes q until it is closed and drained, then finalizes the file.
// Every buffer goes back to pool once written. A write failure finalizes
// what has been written so far and returns a WriteError; the caller is
// responsible for stopping the producer and discarding the rest of the queue.
func (s *Sink) Run(q *audio.Queue, pool *audio.BlockPool) error {
	for {
		block, ok := q.Pop()
		if !ok {
			break
		}

		err := s.w.WriteSamples(block.Samples)
		pool.Put(block.Samples)
		s.frames.Store(s.w.Frames())
		s.bytes.Store(s.w.Size())
		if err != nil {
			return s.abort(err)
		}

		if time.Since(s.lastCheckpoint) >= s.interval {
			if err := s.w.Checkpoint(); err != nil {
				return s.abort(err)
			}
			s.lastCheckpoint = time.Now()
		}
	}

	if err := s.Finalize(); err != nil {
		return newPipelineError(s.role, KindWrite, err)
	}
	return nil
}

func (s *Sink) abort(cause error) error {
	s.log.Error("Write failed, finalizing what was written", "path", s.path, "frames", s.w.Frames(), "error", cause)
	if err := s.Finalize(); err != nil {
		s.log.Warn("Best-effort finalize failed", "path", s.path, "error", err)
	}
	return newPipelineError(s.role, KindWrite, cause)
}

// Finalize rewrites the header with the final length and closes the file.
// Only the first call does any work.
func (s *Sink) Finalize() error {
	s.finalizeOnce.Do(func() {
		s.finalizeErr = s.w.Finalize()
		s.bytes.Store(wav.HeaderSize + s.w.CommittedBytes())
		if s.finalizeErr == nil {
			s.log.Debug("File finalized", "path", s.path, "frames", s.w.Frames(), "bytes", s.bytes.Load())
		}
	})
	return s.finalizeErr
}

func (s *Sink) Path() string { return s.path }

// FramesWritten is safe to call from any goroutine
func (s *Sink) FramesWritten() int64 { return s.frames.Load() }

// Size is the file size; after finalization it is the size declared valid
// by the header.
func (s *Sink) Size() int64 { return s.bytes.Load() }
