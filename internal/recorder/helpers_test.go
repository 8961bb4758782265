package recorder

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/meetrec/internal/audio"
	"github.com/audiolibrelab/meetrec/internal/wav"
)

var errDiskFull = errors.New("no space left on device")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualDevice lets a test deliver callbacks by hand
type manualDevice struct {
	name    string
	config  audio.StreamConfig
	openErr error
	stopErr error
	// onOpen runs inside Open, before the stream exists
	onOpen func()

	mu      sync.Mutex
	cb      audio.Callback
	onError func(error)
}

func newManualDevice(name string, channels int) *manualDevice {
	return &manualDevice{
		name:   name,
		config: audio.StreamConfig{Channels: channels, SampleRate: 48000, Format: audio.FormatFloat32},
	}
}

func (d *manualDevice) Info() audio.DeviceInfo {
	return audio.DeviceInfo{Name: d.name, Channels: d.config.Channels, SampleRate: d.config.SampleRate, Format: d.config.Format}
}

func (d *manualDevice) Open(cb audio.Callback, onError func(error)) (audio.Stream, error) {
	if d.onOpen != nil {
		d.onOpen()
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	d.cb = cb
	d.onError = onError
	d.mu.Unlock()
	return &manualStream{config: d.config, stopErr: d.stopErr}, nil
}

// emit delivers one block of n samples at the given level
func (d *manualDevice) emit(n int, level float32) {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = level
	}
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	cb(audio.Samples{F32: samples})
}

func (d *manualDevice) disconnect(err error) {
	d.mu.Lock()
	onError := d.onError
	d.mu.Unlock()
	onError(err)
}

type manualStream struct {
	config  audio.StreamConfig
	stopErr error
}

func (s *manualStream) Config() audio.StreamConfig { return s.config }
func (s *manualStream) Start() error               { return nil }
func (s *manualStream) Stop() error                { return s.stopErr }
func (s *manualStream) Close() error               { return nil }

// faultyFile fails sample writes after a number of successful ones
type faultyFile struct {
	*os.File
	okWrites int

	mu     sync.Mutex
	writes int
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if len(p) > wav.HeaderSize {
		f.mu.Lock()
		f.writes++
		n := f.writes
		f.mu.Unlock()
		if n > f.okWrites {
			return 0, errDiskFull
		}
	}
	return f.File.Write(p)
}

// gatedFile blocks every sample write until the gate is opened
type gatedFile struct {
	*os.File
	writing chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (f *gatedFile) Write(p []byte) (int, error) {
	if len(p) > wav.HeaderSize {
		f.once.Do(func() { close(f.writing) })
		<-f.gate
	}
	return f.File.Write(p)
}

// openers routes each output path to its own FileOpener
func openers(m map[string]FileOpener) FileOpener {
	return func(path string) (wav.File, error) {
		if open, ok := m[filepath.Base(path)]; ok {
			return open(path)
		}
		return CreateFile(path)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(role Role, typ EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Pipeline == role && e.Type == typ {
			return true
		}
	}
	return false
}

func (l *eventLog) find(role Role, typ EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Pipeline == role && e.Type == typ {
			return e, true
		}
	}
	return Event{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pipelineState(s *Session, role Role) PipelineState {
	for _, p := range s.Snapshot().Pipelines {
		if p.Role == role {
			return p.State
		}
	}
	return ""
}

func inspectValid(t *testing.T, path string) *wav.Info {
	t.Helper()
	info, err := wav.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect(%s) error = %v", path, err)
	}
	if !info.Consistent() {
		t.Errorf("%s: header declares %d bytes, body has %d", path, info.Declared, info.Body)
	}
	return info
}
