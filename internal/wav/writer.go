// Package wav writes 16-bit PCM WAV files incrementally. The header is kept
// valid on disk while recording: it starts out declaring an empty body and is
// patched at every checkpoint with the length that has been synced so far.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	HeaderSize    = 44
	BitsPerSample = 16
	formatPCM     = 1

	// the RIFF size field is 32 bits and also counts the 36 header bytes after it
	maxDataBytes = math.MaxUint32 - (HeaderSize - 8)
)

var (
	ErrFinalized = errors.New("wav: writer already finalized")
	ErrTooLarge  = errors.New("wav: data exceeds the 4 GiB RIFF limit")
)

// File is the subset of *os.File the writer needs
type File interface {
	io.Writer
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// Writer appends interleaved int16 samples to a WAV file
type Writer struct {
	f          File
	channels   int
	sampleRate int

	dataBytes int64 // bytes appended to the body
	committed int64 // body length declared by the on-disk header
	buf       []byte

	finalized bool
	finalErr  error
}

// Create writes a provisional header to f declaring an empty body
func Create(f File, channels, sampleRate int) (*Writer, error) {
	if channels < 1 || channels > math.MaxUint16 {
		return nil, fmt.Errorf("wav: invalid channel count %d", channels)
	}
	if sampleRate < 1 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	w := &Writer{f: f, channels: channels, sampleRate: sampleRate}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wav: failed to seek to start: %w", err)
	}
	if _, err := f.Write(w.header(0)); err != nil {
		return nil, fmt.Errorf("wav: failed to write header: %w", err)
	}
	return w, nil
}

func (w *Writer) header(dataBytes uint32) []byte {
	blockAlign := uint16(w.channels * BitsPerSample / 8)
	byteRate := uint32(w.sampleRate) * uint32(blockAlign)

	h := make([]byte, HeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataBytes)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataBytes)
	return h
}

// WriteSamples appends samples to the body. The header is not touched until
// the next Checkpoint or Finalize.
func (w *Writer) WriteSamples(samples []int16) error {
	if w.finalized {
		return ErrFinalized
	}
	if len(samples) == 0 {
		return nil
	}
	size := len(samples) * 2
	if w.dataBytes+int64(size) > maxDataBytes {
		return ErrTooLarge
	}

	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	buf := w.buf[:size]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	n, err := w.f.Write(buf)
	w.dataBytes += int64(n)
	if err != nil {
		return fmt.Errorf("wav: failed to write samples: %w", err)
	}
	return nil
}

// Checkpoint makes everything written so far durable and then declares it in
// the header. Data is synced before the header is patched so the header
// never claims bytes that are not on disk.
func (w *Writer) Checkpoint() error {
	if w.finalized {
		return ErrFinalized
	}
	return w.checkpoint()
}

func (w *Writer) checkpoint() error {
	declared := w.declarable()
	if declared == w.committed {
		return nil
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wav: failed to sync data: %w", err)
	}
	if err := w.patchHeader(uint32(declared)); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wav: failed to sync header: %w", err)
	}
	w.committed = declared
	return nil
}

// declarable rounds the body length down to whole frames, which matters only
// after a short write left a partial frame at the end.
func (w *Writer) declarable() int64 {
	align := int64(w.channels * BitsPerSample / 8)
	return w.dataBytes - w.dataBytes%align
}

// dropPartialFrame cuts the bytes of a frame left incomplete by a short
// write, so the finalized body is exactly what the header declares.
func (w *Writer) dropPartialFrame() error {
	whole := w.declarable()
	if whole == w.dataBytes {
		return nil
	}
	if err := w.f.Truncate(HeaderSize + whole); err != nil {
		return fmt.Errorf("wav: failed to drop partial frame: %w", err)
	}
	w.dataBytes = whole
	return nil
}

func (w *Writer) patchHeader(dataBytes uint32) error {
	var field [4]byte

	binary.LittleEndian.PutUint32(field[:], 36+dataBytes)
	if _, err := w.f.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("wav: failed to seek to RIFF size: %w", err)
	}
	if _, err := w.f.Write(field[:]); err != nil {
		return fmt.Errorf("wav: failed to patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(field[:], dataBytes)
	if _, err := w.f.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("wav: failed to seek to data size: %w", err)
	}
	if _, err := w.f.Write(field[:]); err != nil {
		return fmt.Errorf("wav: failed to patch data size: %w", err)
	}

	if _, err := w.f.Seek(HeaderSize+w.dataBytes, io.SeekStart); err != nil {
		return fmt.Errorf("wav: failed to seek to end of data: %w", err)
	}
	return nil
}

// Finalize writes the final header and closes the file. It is safe to call
// more than once; later calls return the result of the first.
func (w *Writer) Finalize() error {
	if w.finalized {
		return w.finalErr
	}
	w.finalized = true

	err := w.dropPartialFrame()
	if err == nil {
		err = w.checkpoint()
	}
	if cerr := w.f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("wav: failed to close file: %w", cerr)
	}
	w.finalErr = err
	return err
}

func (w *Writer) Channels() int   { return w.channels }
func (w *Writer) SampleRate() int { return w.sampleRate }
func (w *Writer) Finalized() bool { return w.finalized }

// Frames returns the number of whole frames written to the body
func (w *Writer) Frames() int64 {
	return w.dataBytes / int64(w.channels*BitsPerSample/8)
}

// DataBytes returns the body length written so far
func (w *Writer) DataBytes() int64 { return w.dataBytes }

// CommittedBytes returns the body length currently declared on disk
func (w *Writer) CommittedBytes() int64 { return w.committed }

// Size returns the file size implied by what has been written
func (w *Writer) Size() int64 { return HeaderSize + w.dataBytes }
