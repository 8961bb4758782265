package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

var ErrShortBuffer = errors.New("destination buffer too small")

// Float32ToInt16 converts a normalized float sample to 16-bit PCM. Positive
// values scale by 32767 and negative values by 32768 so both ends of [-1, 1]
// land exactly on the int16 limits. Results are rounded to nearest and
// saturated; NaN becomes silence.
func Float32ToInt16(v float32) int16 {
	if v != v {
		return 0
	}
	s := float64(v)
	if s < 0 {
		s *= 32768
	} else {
		s *= 32767
	}
	return saturate16(math.Round(s))
}

// Int32ToInt16 keeps the top 16 bits of a 32-bit sample, rounding to nearest
func Int32ToInt16(v int32) int16 {
	return saturate16(float64((int64(v) + 1<<15) >> 16))
}

// Int24ToInt16 converts a sign-extended 24-bit sample
func Int24ToInt16(v int32) int16 {
	return saturate16(float64((int64(v) + 1<<7) >> 8))
}

// Uint8ToInt16 converts unsigned 8-bit PCM (silence at 128)
func Uint8ToInt16(v uint8) int16 {
	return int16(int(v)-128) << 8
}

func saturate16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ConvertSamples converts src, interpreted in format, into dst and returns the
// number of samples written. Interleaving is preserved. It does not allocate,
// so it is safe to call from a real-time callback.
func ConvertSamples(dst []int16, src Samples, format SampleFormat) (int, error) {
	n := src.Len(format)
	if n > len(dst) {
		return 0, ErrShortBuffer
	}

	switch {
	case src.F32 != nil:
		for i, v := range src.F32 {
			dst[i] = Float32ToInt16(v)
		}
	case src.I16 != nil:
		copy(dst, src.I16)
	case src.I32 != nil:
		for i, v := range src.I32 {
			dst[i] = Int32ToInt16(v)
		}
	case src.Raw != nil:
		return convertRaw(dst, src.Raw[:n*format.BytesPerSample()], format)
	}
	return n, nil
}

func convertRaw(dst []int16, raw []byte, format SampleFormat) (int, error) {
	switch format {
	case FormatFloat32:
		n := len(raw) / 4
		for i := 0; i < n; i++ {
			dst[i] = Float32ToInt16(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return n, nil
	case FormatInt16:
		n := len(raw) / 2
		for i := 0; i < n; i++ {
			dst[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return n, nil
	case FormatInt32:
		n := len(raw) / 4
		for i := 0; i < n; i++ {
			dst[i] = Int32ToInt16(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return n, nil
	case FormatInt24:
		n := len(raw) / 3
		for i := 0; i < n; i++ {
			b := raw[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			dst[i] = Int24ToInt16(v)
		}
		return n, nil
	case FormatUint8:
		for i, v := range raw {
			dst[i] = Uint8ToInt16(v)
		}
		return len(raw), nil
	}
	return 0, ErrUnsupportedFormat
}
