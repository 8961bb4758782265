package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var ErrSimulatedDisconnect = errors.New("simulated device disconnect")

// SyntheticBackend generates test tones in real time. It stands in for
// hardware when running without an audio subsystem.
type SyntheticBackend struct {
	devices []Device
}

func NewSyntheticBackend(opts BackendOptions) *SyntheticBackend {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = rate / 100
	}
	return &SyntheticBackend{devices: []Device{
		&SyntheticDevice{
			Index:           0,
			Name:            "Synthetic Microphone",
			Config:          StreamConfig{Channels: 1, SampleRate: rate, Format: FormatFloat32},
			FramesPerBuffer: frames,
			Frequency:       440,
			Amplitude:       0.5,
			Default:         true,
		},
		&SyntheticDevice{
			Index:           1,
			Name:            "Synthetic System Monitor",
			Config:          StreamConfig{Channels: 2, SampleRate: rate, Format: FormatFloat32},
			FramesPerBuffer: frames,
			Frequency:       220,
			Amplitude:       0.25,
			Loopback:        true,
		},
	}}
}

func (b *SyntheticBackend) Type() BackendType          { return BackendTypeSynthetic }
func (b *SyntheticBackend) Close() error               { return nil }
func (b *SyntheticBackend) Devices() ([]Device, error) { return b.devices, nil }

func (b *SyntheticBackend) DefaultDevice() (Device, error) {
	return b.devices[0], nil
}

// SyntheticDevice emits a sine wave, one block every FramesPerBuffer/SampleRate
type SyntheticDevice struct {
	Index           int
	Name            string
	Config          StreamConfig
	FramesPerBuffer int
	Frequency       float64
	Amplitude       float64
	Default         bool
	Loopback        bool

	// FailAfter makes the stream report a disconnect after that many blocks
	FailAfter int
	// StallAfter makes the stream go silent after that many blocks without
	// reporting anything, the way an unplugged device can. A watchdog
	// reports the silence after StallTimeout.
	StallAfter   int
	StallTimeout time.Duration
}

func (d *SyntheticDevice) Info() DeviceInfo {
	return DeviceInfo{
		Index:      d.Index,
		Name:       d.Name,
		Channels:   d.Config.Channels,
		SampleRate: d.Config.SampleRate,
		Format:     d.Config.Format,
		Default:    d.Default,
		Loopback:   d.Loopback,
	}
}

func (d *SyntheticDevice) Open(cb Callback, onError func(error)) (Stream, error) {
	if err := d.Config.Validate(); err != nil {
		return nil, fmt.Errorf("synthetic device %q: %w", d.Name, err)
	}
	if d.Config.Format != FormatFloat32 {
		return nil, fmt.Errorf("synthetic device %q: %w: %s", d.Name, ErrUnsupportedFormat, d.Config.Format)
	}
	frames := d.FramesPerBuffer
	if frames <= 0 {
		frames = d.Config.SampleRate / 100
	}
	return &syntheticStream{
		device:  d,
		frames:  frames,
		cb:      cb,
		onError: onError,
		buf:     make([]float32, frames*d.Config.Channels),
	}, nil
}

type syntheticStream struct {
	device  *SyntheticDevice
	frames  int
	cb      Callback
	onError func(error)
	buf     []float32

	mu      sync.Mutex
	quit    chan struct{}
	done    chan struct{}
	watch   *streamWatch
	phase   float64
	emitted int

	heartbeat heartbeat
}

func (s *syntheticStream) Config() StreamConfig { return s.device.Config }

func (s *syntheticStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return nil
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	if s.device.StallAfter > 0 {
		timeout := s.device.StallTimeout
		if timeout <= 0 {
			timeout = stallTimeout(s.device.Config.SampleRate, s.frames)
		}
		s.heartbeat.beat()
		s.watch = watchStream(timeout/4, starvationCheck(&s.heartbeat, s.device.Name, timeout), s.onError)
	}
	go s.run(s.quit, s.done)
	return nil
}

func (s *syntheticStream) run(quit, done chan struct{}) {
	defer close(done)

	period := time.Duration(s.frames) * time.Second / time.Duration(s.device.Config.SampleRate)
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-quit:
			return
		case <-t.C:
		}

		if s.device.FailAfter > 0 && s.emitted >= s.device.FailAfter {
			if s.onError != nil {
				s.onError(fmt.Errorf("%w: %q", ErrSimulatedDisconnect, s.device.Name))
			}
			return
		}
		if s.device.StallAfter > 0 && s.emitted >= s.device.StallAfter {
			continue
		}
		s.fill()
		s.heartbeat.beat()
		s.cb(Samples{F32: s.buf})
		s.emitted++
	}
}

func (s *syntheticStream) fill() {
	channels := s.device.Config.Channels
	step := 2 * math.Pi * s.device.Frequency / float64(s.device.Config.SampleRate)
	for f := 0; f < s.frames; f++ {
		v := float32(s.device.Amplitude * math.Sin(s.phase))
		for c := 0; c < channels; c++ {
			s.buf[f*channels+c] = v
		}
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

func (s *syntheticStream) Stop() error {
	s.mu.Lock()
	quit, done, watch := s.quit, s.done, s.watch
	s.quit, s.done, s.watch = nil, nil, nil
	s.mu.Unlock()

	watch.stop()
	if quit == nil {
		return nil
	}
	close(quit)
	<-done
	return nil
}

func (s *syntheticStream) Close() error {
	return s.Stop()
}
