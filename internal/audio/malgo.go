package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures through miniaudio, which picks the host API itself
// (WASAPI, Core Audio, ALSA/PulseAudio). Devices open in their native
// format and the raw bytes are converted in the callback.
type MalgoBackend struct {
	ctx  *malgo.AllocatedContext
	opts BackendOptions
	log  *slog.Logger
}

func NewMalgoBackend(opts BackendOptions) (*MalgoBackend, error) {
	log := opts.logger()
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx, opts: opts, log: log}, nil
}

func (b *MalgoBackend) Type() BackendType { return BackendTypeMalgo }

func (b *MalgoBackend) Close() error {
	err := b.ctx.Uninit()
	b.ctx.Free()
	if err != nil {
		return fmt.Errorf("failed to release miniaudio context: %w", err)
	}
	return nil
}

func (b *MalgoBackend) Devices() ([]Device, error) {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		d := &malgoDevice{backend: b, index: i, info: info}
		if full, err := b.ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared); err == nil {
			d.info = full
		} else {
			b.log.Debug("Could not query device formats", "device", info.Name(), "error", err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (b *MalgoBackend) DefaultDevice() (Device, error) {
	devices, err := b.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Info().Default {
			return d, nil
		}
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return nil, fmt.Errorf("%w: no capture devices", ErrDeviceNotFound)
}

type malgoDevice struct {
	backend *MalgoBackend
	index   int
	info    malgo.DeviceInfo
}

func (d *malgoDevice) Info() DeviceInfo {
	info := DeviceInfo{
		Index:    d.index,
		Name:     d.info.Name(),
		Default:  d.info.IsDefault != 0,
		Loopback: isLoopbackName(d.info.Name()),
	}
	if d.info.FormatCount > 0 {
		native := d.info.Formats[0]
		info.Channels = int(native.Channels)
		info.SampleRate = int(native.SampleRate)
		info.Format = fromMalgoFormat(native.Format)
	}
	return info
}

func (d *malgoDevice) Open(cb Callback, onError func(error)) (Stream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.DeviceID = d.info.ID.Pointer()
	cfg.Capture.Format = malgo.FormatUnknown
	cfg.Capture.Channels = 0
	cfg.SampleRate = uint32(d.backend.opts.SampleRate)
	if d.backend.opts.FramesPerBuffer > 0 {
		cfg.PeriodSizeInFrames = uint32(d.backend.opts.FramesPerBuffer)
	}
	cfg.Alsa.NoMMap = 1

	s := &malgoStream{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			cb(Samples{Raw: in})
		},
		Stop: func() {
			if !s.stopping.Load() && onError != nil {
				onError(fmt.Errorf("%w: %q", ErrStreamStopped, d.info.Name()))
			}
		},
	}

	device, err := malgo.InitDevice(d.backend.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %q: %w", d.info.Name(), err)
	}

	s.device = device
	s.config = StreamConfig{
		Channels:   int(device.CaptureChannels()),
		SampleRate: int(device.SampleRate()),
		Format:     fromMalgoFormat(device.CaptureFormat()),
	}
	if err := s.config.Validate(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("device %q negotiated an unusable format: %w", d.info.Name(), err)
	}
	return s, nil
}

type malgoStream struct {
	device   *malgo.Device
	config   StreamConfig
	stopping atomic.Bool
}

func (s *malgoStream) Config() StreamConfig { return s.config }
func (s *malgoStream) Start() error         { return s.device.Start() }

func (s *malgoStream) Stop() error {
	s.stopping.Store(true)
	return s.device.Stop()
}

func (s *malgoStream) Close() error {
	s.stopping.Store(true)
	s.device.Uninit()
	return nil
}

func fromMalgoFormat(f malgo.FormatType) SampleFormat {
	switch f {
	case malgo.FormatU8:
		return FormatUint8
	case malgo.FormatS16:
		return FormatInt16
	case malgo.FormatS24:
		return FormatInt24
	case malgo.FormatS32:
		return FormatInt32
	case malgo.FormatF32:
		return FormatFloat32
	}
	return ""
}
