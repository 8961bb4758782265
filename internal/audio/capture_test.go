package audio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDevice hands the registered callback back to the test so blocks can
// be delivered deterministically.
type fakeDevice struct {
	name    string
	config  StreamConfig
	openErr error

	cb      Callback
	onError func(error)
	stream  *fakeStream
}

func (d *fakeDevice) Info() DeviceInfo {
	return DeviceInfo{Name: d.name, Channels: d.config.Channels, SampleRate: d.config.SampleRate, Format: d.config.Format}
}

func (d *fakeDevice) Open(cb Callback, onError func(error)) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.cb = cb
	d.onError = onError
	d.stream = &fakeStream{config: d.config}
	return d.stream, nil
}

type fakeStream struct {
	config  StreamConfig
	started bool
	stops   int
	closes  int
}

func (s *fakeStream) Config() StreamConfig { return s.config }
func (s *fakeStream) Start() error         { s.started = true; return nil }
func (s *fakeStream) Stop() error          { s.stops++; return nil }
func (s *fakeStream) Close() error         { s.closes++; return nil }

func newTestCapture(dev Device, capacity int, stop *atomic.Bool) (*Capture, *Queue) {
	q := NewQueue(capacity)
	pool := NewBlockPool(capacity+2, 480)
	return NewCapture("mic", dev, q, pool, stop, nil), q
}

func TestCapture_ConvertsAndPushes(t *testing.T) {
	dev := &fakeDevice{name: "test", config: StreamConfig{Channels: 2, SampleRate: 48000, Format: FormatFloat32}}
	c, q := newTestCapture(dev, 4, nil)

	cfg, err := c.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if cfg != dev.config {
		t.Errorf("Expected negotiated config %v, got %v", dev.config, cfg)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	dev.cb(Samples{F32: []float32{1.0, -1.0, 0.0, 0.0}})

	b, ok := q.Pop()
	if !ok {
		t.Fatal("Expected a block")
	}
	if b.Frames() != 2 {
		t.Errorf("Expected 2 frames, got %d", b.Frames())
	}
	if b.Samples[0] != 32767 || b.Samples[1] != -32768 {
		t.Errorf("Unexpected converted samples: %v", b.Samples)
	}
	if b.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", b.Seq)
	}

	stats := c.Stats()
	if stats.Blocks != 1 || stats.Frames != 2 || stats.Dropped != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestCapture_DropsWhenQueueFull(t *testing.T) {
	dev := &fakeDevice{name: "test", config: StreamConfig{Channels: 1, SampleRate: 48000, Format: FormatFloat32}}
	c, q := newTestCapture(dev, 2, nil)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	block := make([]float32, 480)
	for i := 0; i < 5; i++ {
		dev.cb(Samples{F32: block})
	}

	if q.Len() != 2 {
		t.Errorf("Expected 2 queued blocks, got %d", q.Len())
	}
	if c.Dropped() != 3 {
		t.Errorf("Expected 3 dropped blocks, got %d", c.Dropped())
	}
}

func TestCapture_DropsBlockLargerThanPool(t *testing.T) {
	dev := &fakeDevice{name: "test", config: StreamConfig{Channels: 1, SampleRate: 48000, Format: FormatFloat32}}
	c, q := newTestCapture(dev, 4, nil)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	dev.cb(Samples{F32: make([]float32, 960)})
	dev.cb(Samples{F32: make([]float32, 480)})

	if q.Len() != 1 {
		t.Errorf("Expected only the fitting block to be queued, got %d", q.Len())
	}
	if c.Dropped() != 1 {
		t.Errorf("Expected the oversized block to count as dropped, got %d", c.Dropped())
	}
}

func TestCapture_IgnoresBlocksAfterStopFlag(t *testing.T) {
	stop := new(atomic.Bool)
	dev := &fakeDevice{name: "test", config: StreamConfig{Channels: 1, SampleRate: 48000, Format: FormatFloat32}}
	c, q := newTestCapture(dev, 4, stop)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	stop.Store(true)
	dev.cb(Samples{F32: make([]float32, 10)})

	if q.Len() != 0 {
		t.Errorf("Expected no blocks after stop flag, got %d", q.Len())
	}
}

func TestCapture_StopIsIdempotent(t *testing.T) {
	dev := &fakeDevice{name: "test", config: StreamConfig{Channels: 1, SampleRate: 16000, Format: FormatInt16}}
	c, q := newTestCapture(dev, 4, nil)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if dev.stream.stops != 1 || dev.stream.closes != 1 {
		t.Errorf("Expected stream stopped and closed once, got %d stops and %d closes", dev.stream.stops, dev.stream.closes)
	}

	dev.cb(Samples{I16: []int16{1, 2, 3}})
	if q.Len() != 0 {
		t.Error("Expected callback to be ignored after Stop")
	}
}

func TestCapture_OpenFailure(t *testing.T) {
	openErr := errors.New("no such device")
	c, _ := newTestCapture(&fakeDevice{name: "gone", openErr: openErr}, 4, nil)

	if _, err := c.Open(); !errors.Is(err, openErr) {
		t.Errorf("Expected open error, got %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrCaptureNotOpen) {
		t.Errorf("Expected ErrCaptureNotOpen, got %v", err)
	}
}

func TestCapture_RejectsInvalidNegotiatedConfig(t *testing.T) {
	dev := &fakeDevice{name: "odd", config: StreamConfig{Channels: 0, SampleRate: 48000, Format: FormatFloat32}}
	c, _ := newTestCapture(dev, 4, nil)

	if _, err := c.Open(); err == nil {
		t.Error("Expected error for zero-channel stream")
	}
	if dev.stream.closes != 1 {
		t.Errorf("Expected rejected stream to be closed, got %d closes", dev.stream.closes)
	}
}

func TestCapture_ReportsDeviceFailure(t *testing.T) {
	dev := &fakeDevice{name: "usb", config: StreamConfig{Channels: 1, SampleRate: 48000, Format: FormatFloat32}}
	c, _ := newTestCapture(dev, 4, nil)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.Err() != nil {
		t.Fatalf("Expected no error before failure, got %v", c.Err())
	}

	unplugged := errors.New("unplugged")
	dev.onError(unplugged)
	dev.onError(errors.New("second report"))

	select {
	case <-c.Failed():
	case <-time.After(time.Second):
		t.Fatal("Expected Failed channel to close")
	}
	if !errors.Is(c.Err(), unplugged) {
		t.Errorf("Expected first failure to be kept, got %v", c.Err())
	}
}

func TestSyntheticDevice_DeliversBlocks(t *testing.T) {
	dev := &SyntheticDevice{
		Name:            "tone",
		Config:          StreamConfig{Channels: 2, SampleRate: 8000, Format: FormatFloat32},
		FramesPerBuffer: 80,
		Frequency:       440,
		Amplitude:       0.5,
	}
	c, q := newTestCapture(dev, 16, nil)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	b, ok := q.Pop()
	if !ok {
		t.Fatal("Expected a block from the synthetic device")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if b.Frames() != 80 {
		t.Errorf("Expected 80 frames, got %d", b.Frames())
	}
	for i := 0; i < len(b.Samples); i += 2 {
		if b.Samples[i] != b.Samples[i+1] {
			t.Fatalf("Expected identical channels at frame %d", i/2)
		}
		if b.Samples[i] > 16384 || b.Samples[i] < -16384 {
			t.Fatalf("Sample %d exceeds amplitude: %d", i, b.Samples[i])
		}
	}
}

func TestSyntheticDevice_FailAfter(t *testing.T) {
	dev := &SyntheticDevice{
		Name:            "flaky",
		Config:          StreamConfig{Channels: 1, SampleRate: 8000, Format: FormatFloat32},
		FramesPerBuffer: 80,
		FailAfter:       2,
	}
	c, _ := newTestCapture(dev, 16, nil)
	if _, err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	select {
	case <-c.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected simulated disconnect")
	}
	if !errors.Is(c.Err(), ErrSimulatedDisconnect) {
		t.Errorf("Expected ErrSimulatedDisconnect, got %v", c.Err())
	}
}
