package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeMalgo     BackendType = "malgo"
	BackendTypePulse     BackendType = "pulse"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeSynthetic BackendType = "synthetic"
	BackendTypeAuto      BackendType = "auto"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrStreamStopped  = errors.New("stream stopped by the audio subsystem")
)

// Callback receives one block of native samples on the backend's real-time
// thread. It must not block.
type Callback func(in Samples)

// DeviceInfo is what the catalog knows about an input device before it is opened
type DeviceInfo struct {
	Index      int          `json:"index"`
	Name       string       `json:"name"`
	Channels   int          `json:"channels"`
	SampleRate int          `json:"sample_rate"`
	Format     SampleFormat `json:"format,omitempty"`
	Default    bool         `json:"default"`
	Loopback   bool         `json:"loopback"`
}

// Device is an input device that can be opened as a capture stream. The
// stream's configuration is negotiated by the device, not chosen by the caller.
type Device interface {
	Info() DeviceInfo

	// Open prepares a stream that will deliver blocks to cb once started.
	// onError reports failures that happen after the stream is running,
	// such as the device disappearing; it may be called from any goroutine.
	Open(cb Callback, onError func(error)) (Stream, error)
}

// Stream is an opened capture stream
type Stream interface {
	Config() StreamConfig
	Start() error
	Stop() error
	Close() error
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	// List available input devices, in catalog order
	Devices() ([]Device, error)

	// The device the host would record from by default
	DefaultDevice() (Device, error)

	// Get the backend type
	Type() BackendType

	// Release the audio subsystem
	Close() error
}

// BackendOptions carries the stream parameters requested from every device.
// Zero values leave the choice to the device.
type BackendOptions struct {
	FramesPerBuffer int
	SampleRate      int
	Logger          *slog.Logger
}

func (o BackendOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// NewBackend creates the backend named by the configuration
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	backendType, err := ParseBackendType(name)
	if err != nil {
		return nil, err
	}
	opts.logger().Debug("Initializing audio backend", "backend", backendType)

	switch backendType {
	case BackendTypeMalgo:
		return NewMalgoBackend(opts)
	case BackendTypePulse:
		return NewPulseBackend(opts)
	case BackendTypePipeWire:
		return NewPipeWireBackend(opts)
	case BackendTypeSynthetic:
		return NewSyntheticBackend(opts), nil
	default:
		return NewPortAudioBackend(opts)
	}
}

// ParseBackendType determines which backend to use based on configuration
func ParseBackendType(name string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(name))) {
	case "", BackendTypeAuto, BackendTypePortAudio:
		return BackendTypePortAudio, nil
	case BackendTypeMalgo, "miniaudio":
		return BackendTypeMalgo, nil
	case BackendTypePulse, "pulseaudio":
		return BackendTypePulse, nil
	case BackendTypePipeWire, "pw":
		return BackendTypePipeWire, nil
	case BackendTypeSynthetic, "simulate":
		return BackendTypeSynthetic, nil
	}
	return "", fmt.Errorf("unknown audio backend %q", name)
}

// GetAvailableBackends returns the backends compiled into this binary
func GetAvailableBackends() []BackendType {
	return []BackendType{
		BackendTypePortAudio,
		BackendTypeMalgo,
		BackendTypePulse,
		BackendTypePipeWire,
		BackendTypeSynthetic,
	}
}

// FindDevice resolves query against devices. A query is either a catalog
// index or a case-insensitive name; an exact name match wins over a
// substring match, and an ambiguous substring is an error.
func FindDevice(devices []Device, query string) (Device, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty device query", ErrDeviceNotFound)
	}

	if idx, err := strconv.Atoi(query); err == nil {
		for _, d := range devices {
			if d.Info().Index == idx {
				return d, nil
			}
		}
		return nil, fmt.Errorf("%w: no device with index %d", ErrDeviceNotFound, idx)
	}

	lower := strings.ToLower(query)
	var matches []Device
	for _, d := range devices {
		name := strings.ToLower(d.Info().Name)
		if name == lower {
			return d, nil
		}
		if strings.Contains(name, lower) {
			matches = append(matches, d)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, query)
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, d := range matches {
		names[i] = d.Info().Name
	}
	return nil, fmt.Errorf("device query %q is ambiguous: %s", query, strings.Join(names, ", "))
}
