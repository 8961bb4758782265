package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend captures through PortAudio. Streams run in callback mode,
// so blocks arrive on PortAudio's own real-time thread.
type PortAudioBackend struct {
	opts BackendOptions
	log  *slog.Logger
}

// NewPortAudioBackend initializes PortAudio. Close must be called to release it.
func NewPortAudioBackend(opts BackendOptions) (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioBackend{opts: opts, log: opts.logger()}, nil
}

func (b *PortAudioBackend) Type() BackendType { return BackendTypePortAudio }

func (b *PortAudioBackend) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

func (b *PortAudioBackend) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultInputDevice()

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		devices = append(devices, &portAudioDevice{
			backend: b,
			index:   i,
			info:    info,
			isDef:   info == defaultDevice,
		})
	}
	return devices, nil
}

func (b *PortAudioBackend) DefaultDevice() (Device, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default input device: %w", err)
	}
	devices, err := b.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.(*portAudioDevice).info == info {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: default input %q", ErrDeviceNotFound, info.Name)
}

type portAudioDevice struct {
	backend *PortAudioBackend
	index   int
	info    *portaudio.DeviceInfo
	isDef   bool
}

func (d *portAudioDevice) Info() DeviceInfo {
	return DeviceInfo{
		Index:      d.index,
		Name:       d.info.Name,
		Channels:   d.channels(),
		SampleRate: d.sampleRate(),
		Format:     FormatFloat32,
		Default:    d.isDef,
		Loopback:   isLoopbackName(d.info.Name),
	}
}

// Multi-channel interfaces are captured as stereo at most; the file keeps
// whatever the stream delivers.
func (d *portAudioDevice) channels() int {
	return min(d.info.MaxInputChannels, 2)
}

func (d *portAudioDevice) sampleRate() int {
	if d.backend.opts.SampleRate > 0 {
		return d.backend.opts.SampleRate
	}
	return int(d.info.DefaultSampleRate)
}

func (d *portAudioDevice) Open(cb Callback, onError func(error)) (Stream, error) {
	params := portaudio.LowLatencyParameters(d.info, nil)
	params.Input.Channels = d.channels()
	params.SampleRate = float64(d.sampleRate())
	if d.backend.opts.FramesPerBuffer > 0 {
		params.FramesPerBuffer = d.backend.opts.FramesPerBuffer
	}

	ps := &portAudioStream{name: d.info.Name, onError: onError}
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		ps.heartbeat.beat()
		cb(Samples{F32: in})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open PortAudio stream on %q: %w", d.info.Name, err)
	}

	cfg := StreamConfig{
		Channels:   params.Input.Channels,
		SampleRate: int(params.SampleRate),
		Format:     FormatFloat32,
	}
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		cfg.SampleRate = int(info.SampleRate)
	}
	ps.stream = stream
	ps.config = cfg
	ps.timeout = stallTimeout(cfg.SampleRate, params.FramesPerBuffer)
	return ps, nil
}

// portAudioStream has no disconnect notification: an unplugged device just
// stops calling back, so a watchdog reports a stream that has gone silent.
type portAudioStream struct {
	stream  *portaudio.Stream
	config  StreamConfig
	name    string
	onError func(error)
	timeout time.Duration

	heartbeat heartbeat
	mu        sync.Mutex
	watch     *streamWatch
}

func (s *portAudioStream) Config() StreamConfig { return s.config }

func (s *portAudioStream) Start() error {
	s.heartbeat.beat()
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.watch = watchStream(s.timeout/4, starvationCheck(&s.heartbeat, s.name, s.timeout), s.onError)
	s.mu.Unlock()
	return nil
}

func (s *portAudioStream) Stop() error {
	s.stopWatch()
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	s.stopWatch()
	return s.stream.Close()
}

func (s *portAudioStream) stopWatch() {
	s.mu.Lock()
	w := s.watch
	s.watch = nil
	s.mu.Unlock()
	w.stop()
}

// isLoopbackName recognizes the usual names of virtual capture devices that
// carry the system output mix.
func isLoopbackName(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range []string{"monitor", "loopback", "blackhole", "soundflower", "stereo mix", "what u hear", "vb-audio"} {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}
