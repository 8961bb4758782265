package audio

import (
	"errors"
	"fmt"
)

// SampleFormat is the native sample encoding a device delivers to its callback
type SampleFormat string

const (
	FormatFloat32 SampleFormat = "f32"
	FormatInt16   SampleFormat = "s16"
	FormatInt24   SampleFormat = "s24"
	FormatInt32   SampleFormat = "s32"
	FormatUint8   SampleFormat = "u8"
)

var ErrUnsupportedFormat = errors.New("unsupported sample format")

// BytesPerSample returns the packed size of one sample, or 0 for unknown formats
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatFloat32, FormatInt32:
		return 4
	case FormatInt24:
		return 3
	case FormatInt16:
		return 2
	case FormatUint8:
		return 1
	}
	return 0
}

// StreamConfig describes a stream as negotiated with the device. It does not
// change once the stream is open.
type StreamConfig struct {
	Channels   int          `json:"channels" yaml:"channels"`
	SampleRate int          `json:"sample_rate" yaml:"sample_rate"`
	Format     SampleFormat `json:"format" yaml:"format"`
}

func (c StreamConfig) Validate() error {
	if c.Channels < 1 {
		return fmt.Errorf("channel count must be positive, got %d", c.Channels)
	}
	if c.SampleRate < 1 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Format.BytesPerSample() == 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.Format)
	}
	return nil
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("%dch %dHz %s", c.Channels, c.SampleRate, c.Format)
}

// SampleBlock is one callback's worth of interleaved samples, already
// converted to 16-bit PCM. The producer gives up the Samples slice on push.
type SampleBlock struct {
	Config  StreamConfig
	Samples []int16
	Seq     uint64
}

// Frames returns the number of frames in the block
func (b SampleBlock) Frames() int {
	if b.Config.Channels < 1 {
		return 0
	}
	return len(b.Samples) / b.Config.Channels
}

// Samples is a view over the buffer a backend hands to its callback. Exactly
// one field is set: typed slices for backends that decode for us, Raw for
// backends delivering packed little-endian bytes in the stream's format.
type Samples struct {
	F32 []float32
	I16 []int16
	I32 []int32
	Raw []byte
}

// Len returns the number of samples in the view when interpreted as format
func (s Samples) Len(format SampleFormat) int {
	switch {
	case s.F32 != nil:
		return len(s.F32)
	case s.I16 != nil:
		return len(s.I16)
	case s.I32 != nil:
		return len(s.I32)
	case s.Raw != nil:
		if n := format.BytesPerSample(); n > 0 {
			return len(s.Raw) / n
		}
	}
	return 0
}
