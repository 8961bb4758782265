package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pwStopTimeout bounds how long pw-record gets to exit after SIGINT
const pwStopTimeout = 5 * time.Second

// PipeWireBackend captures through the pw-link and pw-record tools. Devices are
// the nodes of the PipeWire graph that expose capture, monitor or application
// output ports.
type PipeWireBackend struct {
	opts BackendOptions
	log  *slog.Logger

	// listPorts returns the output of "pw-link -o"
	listPorts func() ([]byte, error)
	// recordCommand builds the process streaming raw s16le samples to stdout
	recordCommand func(target string, cfg StreamConfig) *exec.Cmd
}

func NewPipeWireBackend(opts BackendOptions) (*PipeWireBackend, error) {
	if _, err := exec.LookPath("pw-record"); err != nil {
		return nil, fmt.Errorf("pw-record not found, install the PipeWire tools: %w", err)
	}
	return &PipeWireBackend{
		opts: opts,
		log:  opts.logger(),
		listPorts: func() ([]byte, error) {
			return exec.Command("pw-link", "-o").Output()
		},
		recordCommand: pwRecordCommand,
	}, nil
}

func pwRecordCommand(target string, cfg StreamConfig) *exec.Cmd {
	return exec.Command("pw-record",
		"--target", target,
		"--rate", strconv.Itoa(cfg.SampleRate),
		"--channels", strconv.Itoa(cfg.Channels),
		"--format", "s16",
		"-")
}

func (b *PipeWireBackend) Type() BackendType { return BackendTypePipeWire }
func (b *PipeWireBackend) Close() error      { return nil }

func (b *PipeWireBackend) Devices() ([]Device, error) {
	output, err := b.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	nodes := parsePorts(string(output))
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.name]++
	}

	devices := make([]Device, 0, len(nodes))
	for i, n := range nodes {
		devices = append(devices, &pipeWireDevice{
			backend:    b,
			index:      i,
			node:       n,
			duplicates: counts[n.name],
		})
	}
	return devices, nil
}

// DefaultDevice returns the first node with capture ports
func (b *PipeWireBackend) DefaultDevice() (Device, error) {
	devices, err := b.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if !d.Info().Loopback {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no PipeWire node with capture ports", ErrDeviceNotFound)
}

// pwNode groups the ports "pw-link -o" prints as node:port
type pwNode struct {
	name  string
	ports []string
}

func (n pwNode) loopback() bool {
	for _, p := range n.ports {
		if !strings.HasPrefix(p, "capture_") {
			return true
		}
	}
	return false
}

// parsePorts groups recordable ports by node, in the order they are listed.
// A node name listed again after another node starts a new entry, which is
// how two applications with the same name show up.
func parsePorts(output string) []pwNode {
	var nodes []pwNode
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx <= 0 {
			continue
		}
		node, port := line[:idx], line[idx+1:]
		if !isRecordablePort(port) {
			continue
		}

		last := len(nodes) - 1
		if last >= 0 && nodes[last].name == node && !containsPort(nodes[last].ports, port) {
			nodes[last].ports = append(nodes[last].ports, port)
			continue
		}
		nodes = append(nodes, pwNode{name: node, ports: []string{port}})
	}
	return nodes
}

func isRecordablePort(port string) bool {
	for _, prefix := range []string{"capture_", "monitor_", "output_"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

func containsPort(ports []string, port string) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

type pipeWireDevice struct {
	backend    *PipeWireBackend
	index      int
	node       pwNode
	duplicates int
}

func (d *pipeWireDevice) Info() DeviceInfo {
	return DeviceInfo{
		Index:      d.index,
		Name:       d.node.name,
		Channels:   d.config().Channels,
		SampleRate: d.config().SampleRate,
		Format:     FormatInt16,
		Loopback:   d.node.loopback(),
	}
}

func (d *pipeWireDevice) config() StreamConfig {
	channels := len(d.node.ports)
	if channels > 2 {
		channels = 2
	}
	rate := d.backend.opts.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	return StreamConfig{Channels: channels, SampleRate: rate, Format: FormatInt16}
}

func (d *pipeWireDevice) Open(cb Callback, onError func(error)) (Stream, error) {
	if d.duplicates > 1 {
		return nil, fmt.Errorf("duplicate sources detected for '%s' (%d nodes). Please close conflicting applications", d.node.name, d.duplicates)
	}
	cfg := d.config()
	frames := d.backend.opts.FramesPerBuffer
	if frames <= 0 {
		frames = cfg.SampleRate / 100
	}
	return &pipeWireStream{
		device:  d,
		config:  cfg,
		cb:      cb,
		onError: onError,
		buf:     make([]byte, frames*cfg.Channels*cfg.Format.BytesPerSample()),
		log:     d.backend.log.With("node", d.node.name),
	}, nil
}

type pipeWireStream struct {
	device  *pipeWireDevice
	config  StreamConfig
	cb      Callback
	onError func(error)
	buf     []byte
	log     *slog.Logger

	mu       sync.Mutex
	proc     *pwProcess
	stopping bool
}

// pwProcess is one pw-record run. err and stderr are set before done closes.
type pwProcess struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	stderr string
}

func (s *pipeWireStream) Config() StreamConfig { return s.config }

func (s *pipeWireStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return nil
	}

	cmd := s.device.backend.recordCommand(s.device.node.name, s.config)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := new(strings.Builder)
	cmd.Stderr = stderr

	s.log.Debug("Starting pw-record", "command", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pw-record: %w", err)
	}

	s.proc = &pwProcess{cmd: cmd, done: make(chan struct{})}
	s.stopping = false
	go s.run(s.proc, stdout, stderr)
	return nil
}

// run delivers whole blocks until the process closes its output, then reaps
// it. Exiting before Stop was called is reported as a lost stream.
func (s *pipeWireStream) run(proc *pwProcess, stdout io.Reader, stderr *strings.Builder) {
	var readErr error
	for {
		if _, readErr = io.ReadFull(stdout, s.buf); readErr != nil {
			break
		}
		s.cb(Samples{Raw: s.buf})
	}

	// stderr is only complete once Wait has returned
	proc.err = proc.cmd.Wait()
	proc.stderr = strings.TrimSpace(stderr.String())
	close(proc.done)

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping || s.onError == nil {
		return
	}

	cause := proc.err
	if cause == nil {
		cause = readErr
		if errors.Is(cause, io.ErrUnexpectedEOF) {
			cause = io.EOF
		}
	}
	err := fmt.Errorf("%w: pw-record on %q ended: %v", ErrStreamStopped, s.device.node.name, cause)
	if proc.stderr != "" {
		err = fmt.Errorf("%w: %s", err, proc.stderr)
	}
	s.onError(err)
}

func (s *pipeWireStream) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.stopping = true
	s.mu.Unlock()

	if proc == nil {
		return nil
	}

	if err := proc.cmd.Process.Signal(os.Interrupt); err != nil {
		s.log.Debug("Failed to interrupt pw-record, killing it", "error", err)
		proc.cmd.Process.Kill()
	}

	select {
	case <-proc.done:
	case <-time.After(pwStopTimeout):
		s.log.Warn("pw-record did not exit within timeout, force killing")
		proc.cmd.Process.Kill()
		<-proc.done
	}

	var exitErr *exec.ExitError
	if proc.err != nil && !errors.As(proc.err, &exitErr) {
		return fmt.Errorf("pw-record failed: %w", proc.err)
	}
	return nil
}

func (s *pipeWireStream) Close() error {
	return s.Stop()
}
