package audio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStarvationCheck(t *testing.T) {
	var h heartbeat
	h.beat()
	check := starvationCheck(&h, "USB Mic", 40*time.Millisecond)

	if err := check(); err != nil {
		t.Fatalf("Expected no error right after a block, got %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	err := check()
	if !errors.Is(err, ErrStreamStopped) {
		t.Fatalf("Expected ErrStreamStopped after silence, got %v", err)
	}

	h.beat()
	if err := check(); err != nil {
		t.Errorf("Expected a fresh block to clear the check, got %v", err)
	}
}

func TestStallTimeout(t *testing.T) {
	tests := []struct {
		rate, frames int
		want         time.Duration
	}{
		{48000, 1024, minStallTimeout},
		{8000, 4000, 10 * time.Second},
		{16000, 3200, 4 * time.Second},
		{0, 0, minStallTimeout},
		{48000, 0, minStallTimeout},
	}
	for _, tt := range tests {
		if got := stallTimeout(tt.rate, tt.frames); got != tt.want {
			t.Errorf("stallTimeout(%d, %d) = %s, expected %s", tt.rate, tt.frames, got, tt.want)
		}
	}
}

func TestWatchStream_ReportsFirstErrorOnce(t *testing.T) {
	var calls, reports atomic.Int32
	errCh := make(chan error, 4)
	w := watchStream(5*time.Millisecond, func() error {
		if calls.Add(1) < 3 {
			return nil
		}
		return ErrStreamStopped
	}, func(err error) {
		reports.Add(1)
		errCh <- err
	})

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStreamStopped) {
			t.Errorf("Expected ErrStreamStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the watch to report")
	}

	w.stop()
	w.stop()
	if got := reports.Load(); got != 1 {
		t.Errorf("Expected one report, got %d", got)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected the watch to end after the failing check, got %d checks", got)
	}
}

func TestWatchStream_StopBeforeFailure(t *testing.T) {
	var reported atomic.Bool
	w := watchStream(time.Millisecond, func() error { return nil }, func(error) { reported.Store(true) })
	time.Sleep(10 * time.Millisecond)
	w.stop()
	if reported.Load() {
		t.Error("Expected no report from a healthy stream")
	}

	var none *streamWatch
	none.stop()
}

func TestSyntheticDevice_StallIsReported(t *testing.T) {
	dev := &SyntheticDevice{
		Name:            "stalling",
		Config:          StreamConfig{Channels: 1, SampleRate: 8000, Format: FormatFloat32},
		FramesPerBuffer: 80,
		StallAfter:      2,
		StallTimeout:    50 * time.Millisecond,
	}

	var blocks atomic.Int32
	errCh := make(chan error, 1)
	stream, err := dev.Open(func(Samples) { blocks.Add(1) }, func(err error) { errCh <- err })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := stream.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStreamStopped) {
			t.Errorf("Expected ErrStreamStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the stall to be reported")
	}
	if got := blocks.Load(); got != 2 {
		t.Errorf("Expected 2 blocks before the stall, got %d", got)
	}
}
