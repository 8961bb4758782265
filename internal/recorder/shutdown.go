package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
)

// ExitInterrupted is the exit status used when a second signal forces exit
const ExitInterrupted = 130

// SecondSignalPolicy decides what a signal received during shutdown does
type SecondSignalPolicy string

const (
	// exit immediately; files keep the length of their last checkpoint
	SecondSignalForce SecondSignalPolicy = "force"
	// keep draining
	SecondSignalIgnore SecondSignalPolicy = "ignore"
)

func ParseSecondSignalPolicy(s string) (SecondSignalPolicy, error) {
	switch SecondSignalPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SecondSignalForce:
		return SecondSignalForce, nil
	case SecondSignalIgnore:
		return SecondSignalIgnore, nil
	}
	return "", fmt.Errorf("invalid second signal policy %q (expected force or ignore)", s)
}

// ShutdownCoordinator turns interrupt signals into the shared stop flag. The
// first signal sets the flag and nothing else; all teardown happens in the
// session, which observes the flag.
type ShutdownCoordinator struct {
	flag   *atomic.Bool
	policy SecondSignalPolicy
	log    *slog.Logger

	// Exit is called for a forced exit; replaced in tests
	Exit func(code int)

	signals   chan os.Signal
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	received  atomic.Int32
}

func NewShutdownCoordinator(flag *atomic.Bool, policy SecondSignalPolicy, log *slog.Logger) *ShutdownCoordinator {
	if log == nil {
		log = slog.Default()
	}
	return &ShutdownCoordinator{
		flag:    flag,
		policy:  policy,
		log:     log,
		Exit:    os.Exit,
		signals: make(chan os.Signal, 2),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Listen subscribes to sigs and handles them until Close
func (c *ShutdownCoordinator) Listen(sigs ...os.Signal) {
	signal.Notify(c.signals, sigs...)
	go c.loop()
}

func (c *ShutdownCoordinator) loop() {
	defer close(c.done)
	for {
		select {
		case sig := <-c.signals:
			c.Handle(sig)
		case <-c.quit:
			return
		}
	}
}

// Handle processes one signal
func (c *ShutdownCoordinator) Handle(sig os.Signal) {
	n := c.received.Add(1)
	if c.flag.CompareAndSwap(false, true) {
		c.log.Info("Stopping recording...", "signal", sig.String(), "second_signal", string(c.policy))
		return
	}

	switch c.policy {
	case SecondSignalIgnore:
		c.log.Info("Already stopping, waiting for files to be finalized", "signal", sig.String(), "count", n)
	default:
		c.log.Warn("Forced exit before finalization", "signal", sig.String())
		c.Exit(ExitInterrupted)
	}
}

// Received returns how many signals have been handled
func (c *ShutdownCoordinator) Received() int {
	return int(c.received.Load())
}

// Close unsubscribes from signals and stops the listener
func (c *ShutdownCoordinator) Close() {
	c.closeOnce.Do(func() {
		signal.Stop(c.signals)
		close(c.quit)
	})
}

// Done is closed once a listener started by Listen has exited
func (c *ShutdownCoordinator) Done() <-chan struct{} {
	return c.done
}
