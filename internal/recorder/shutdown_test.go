package recorder

import (
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestShutdownCoordinator_FirstSignalOnlySetsFlag(t *testing.T) {
	flag := new(atomic.Bool)
	c := NewShutdownCoordinator(flag, SecondSignalForce, discardLogger())
	exited := -1
	c.Exit = func(code int) { exited = code }

	c.Handle(os.Interrupt)
	if !flag.Load() {
		t.Error("Expected stop flag to be set after first signal")
	}
	if exited != -1 {
		t.Errorf("Expected no exit on first signal, got exit(%d)", exited)
	}

	c.Handle(os.Interrupt)
	if exited != ExitInterrupted {
		t.Errorf("Expected exit(%d) on second signal, got %d", ExitInterrupted, exited)
	}
	if c.Received() != 2 {
		t.Errorf("Expected 2 signals received, got %d", c.Received())
	}
}

func TestShutdownCoordinator_IgnorePolicy(t *testing.T) {
	flag := new(atomic.Bool)
	c := NewShutdownCoordinator(flag, SecondSignalIgnore, discardLogger())
	c.Exit = func(code int) { t.Errorf("Unexpected exit(%d)", code) }

	for i := 0; i < 3; i++ {
		c.Handle(syscall.SIGTERM)
	}
	if !flag.Load() {
		t.Error("Expected stop flag to be set")
	}
}

func TestShutdownCoordinator_Listen(t *testing.T) {
	flag := new(atomic.Bool)
	c := NewShutdownCoordinator(flag, SecondSignalForce, discardLogger())
	c.Exit = func(int) {}
	c.Listen(syscall.SIGUSR1)

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	waitFor(t, "stop flag", flag.Load)

	c.Close()
	c.Close()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Listener did not exit after Close")
	}
}

func TestParseSecondSignalPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    SecondSignalPolicy
		wantErr bool
	}{
		{"", SecondSignalForce, false},
		{"force", SecondSignalForce, false},
		{" Ignore ", SecondSignalIgnore, false},
		{"wait", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSecondSignalPolicy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSecondSignalPolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
