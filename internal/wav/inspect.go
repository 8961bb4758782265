package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

var ErrInvalidFile = errors.New("not a valid WAV file")

// Info describes a WAV file as found on disk
type Info struct {
	Path        string        `json:"path"`
	Channels    int           `json:"channels"`
	SampleRate  int           `json:"sample_rate"`
	BitDepth    int           `json:"bit_depth"`
	AudioFormat int           `json:"audio_format"`
	DataOffset  int64         `json:"data_offset"`
	Declared    int64         `json:"declared_bytes"`
	Body        int64         `json:"body_bytes"`
	FileSize    int64         `json:"file_size"`
	Frames      int64         `json:"frames"`
	Duration    time.Duration `json:"duration"`
}

// Consistent reports whether the header declares exactly the body on disk
func (i *Info) Consistent() bool {
	return i.Declared == i.Body
}

// Truncated reports a header claiming more data than the file holds. A
// recording interrupted between checkpoints has the opposite problem, which
// players tolerate.
func (i *Info) Truncated() bool {
	return i.Declared > i.Body
}

// Inspect parses the header of the WAV file at path
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < HeaderSize {
		return nil, fmt.Errorf("%w: %s is only %d bytes", ErrInvalidFile, path, st.Size())
	}

	d := gowav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %s has no format chunk", ErrInvalidFile, path)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Path:        path,
		Channels:    int(d.NumChans),
		SampleRate:  int(d.SampleRate),
		BitDepth:    int(d.BitDepth),
		AudioFormat: int(d.WavAudioFormat),
		DataOffset:  offset,
		Declared:    d.PCMLen(),
		Body:        st.Size() - offset,
		FileSize:    st.Size(),
	}
	if frameSize := int64(info.Channels * info.BitDepth / 8); frameSize > 0 {
		info.Frames = info.Declared / frameSize
		info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}

// ReadSamples decodes the whole body of the file at path
func ReadSamples(path string) (*audio.IntBuffer, error) {
	info, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	format := &audio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate}
	if info.Declared == 0 {
		return &audio.IntBuffer{Format: format, SourceBitDepth: info.BitDepth}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := gowav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return buf, nil
}
