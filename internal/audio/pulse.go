package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

// PulseBackend talks to a PulseAudio (or pipewire-pulse) server directly.
// Every sink has a ".monitor" source, which makes system audio capturable
// without installing a loopback driver.
type PulseBackend struct {
	client *pulse.Client
	opts   BackendOptions
	log    *slog.Logger
}

func NewPulseBackend(opts BackendOptions) (*PulseBackend, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("meetrec"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PulseAudio: %w", err)
	}
	return &PulseBackend{client: client, opts: opts, log: opts.logger()}, nil
}

func (b *PulseBackend) Type() BackendType { return BackendTypePulse }

func (b *PulseBackend) Close() error {
	b.client.Close()
	return nil
}

func (b *PulseBackend) Devices() ([]Device, error) {
	sources, err := b.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
	}
	var defaultID string
	if def, err := b.client.DefaultSource(); err == nil {
		defaultID = def.ID()
	}

	devices := make([]Device, 0, len(sources))
	for i, src := range sources {
		devices = append(devices, &pulseDevice{
			backend: b,
			index:   i,
			source:  src,
			isDef:   src.ID() == defaultID,
		})
	}
	return devices, nil
}

func (b *PulseBackend) DefaultDevice() (Device, error) {
	def, err := b.client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("failed to get default source: %w", err)
	}
	devices, err := b.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.(*pulseDevice).source.ID() == def.ID() {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: default source %q", ErrDeviceNotFound, def.Name())
}

type pulseDevice struct {
	backend *PulseBackend
	index   int
	source  *pulse.Source
	isDef   bool
}

func (d *pulseDevice) Info() DeviceInfo {
	return DeviceInfo{
		Index:      d.index,
		Name:       d.source.Name(),
		Channels:   d.channels(),
		SampleRate: d.sampleRate(),
		Format:     FormatFloat32,
		Default:    d.isDef,
		Loopback:   strings.HasSuffix(d.source.ID(), ".monitor") || isLoopbackName(d.source.Name()),
	}
}

func (d *pulseDevice) channels() int {
	if len(d.source.Channels()) >= 2 {
		return 2
	}
	return 1
}

func (d *pulseDevice) sampleRate() int {
	if d.backend.opts.SampleRate > 0 {
		return d.backend.opts.SampleRate
	}
	return d.source.SampleRate()
}

// pulseWatchInterval is how often a running record stream is checked for
// a lost server connection
const pulseWatchInterval = 250 * time.Millisecond

func (d *pulseDevice) Open(cb Callback, onError func(error)) (Stream, error) {
	cfg := StreamConfig{
		Channels:   d.channels(),
		SampleRate: d.sampleRate(),
		Format:     FormatFloat32,
	}

	layout := pulse.RecordMono
	if cfg.Channels == 2 {
		layout = pulse.RecordStereo
	}
	opts := []pulse.RecordOption{
		pulse.RecordSource(d.source),
		pulse.RecordSampleRate(cfg.SampleRate),
		layout,
	}
	if d.backend.opts.FramesPerBuffer > 0 {
		// fragment size is in bytes
		opts = append(opts, pulse.RecordBufferFragmentSize(uint32(d.backend.opts.FramesPerBuffer*cfg.Channels*4)))
	}

	writer := pulse.Float32Writer(func(in []float32) (int, error) {
		cb(Samples{F32: in})
		return len(in), nil
	})
	stream, err := d.backend.client.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open record stream on %q: %w", d.source.Name(), err)
	}
	return &pulseStream{stream: stream, config: cfg, name: d.source.Name(), onError: onError}, nil
}

// pulseStream learns about a lost connection only through RecordStream's
// state, so a watch polls it while recording.
type pulseStream struct {
	stream  *pulse.RecordStream
	config  StreamConfig
	name    string
	onError func(error)

	mu    sync.Mutex
	watch *streamWatch
}

func (s *pulseStream) Config() StreamConfig { return s.config }

func (s *pulseStream) Start() error {
	s.stream.Start()
	s.mu.Lock()
	s.watch = watchStream(pulseWatchInterval, s.check, s.onError)
	s.mu.Unlock()
	return nil
}

func (s *pulseStream) check() error {
	if err := s.stream.Error(); err != nil {
		return fmt.Errorf("%w: record stream on %q failed: %v", ErrStreamStopped, s.name, err)
	}
	if s.stream.Closed() {
		return fmt.Errorf("%w: record stream on %q was closed", ErrStreamStopped, s.name)
	}
	return nil
}

func (s *pulseStream) Stop() error {
	s.stopWatch()
	s.stream.Stop()
	if err := s.stream.Error(); err != nil {
		return fmt.Errorf("record stream failed: %w", err)
	}
	return nil
}

func (s *pulseStream) Close() error {
	s.stopWatch()
	s.stream.Close()
	return nil
}

func (s *pulseStream) stopWatch() {
	s.mu.Lock()
	w := s.watch
	s.watch = nil
	s.mu.Unlock()
	w.stop()
}
