package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/audiolibrelab/meetrec/internal/audio"
	"github.com/audiolibrelab/meetrec/internal/metrics"
	"github.com/audiolibrelab/meetrec/internal/recorder"
	"github.com/audiolibrelab/meetrec/internal/server"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the microphone and system audio",
	Long: `Record the microphone and the system audio simultaneously, each into its
own WAV file named after the start time, e.g. 10-19-2026-14-05-mic.wav and
10-19-2026-14-05-system.wav.

Devices come from --mic/--system, then from the configuration, then from the
host defaults. Use --system disabled to record the microphone only, or
--interactive to pick devices from a list.

Press Ctrl+C to stop. A second Ctrl+C exits immediately unless
shutdown.second_signal is set to "ignore".`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().String("mic", "", "microphone device name, substring or index (overrides config)")
	recordCmd.Flags().String("system", "", "system audio device name, substring or index, or 'disabled' (overrides config)")
	recordCmd.Flags().String("backend", "", "audio backend: portaudio, malgo, pulse, pipewire, synthetic (overrides config)")
	recordCmd.Flags().String("listen", "", "serve status and metrics on this address, e.g. 127.0.0.1:9273 (overrides config)")
	recordCmd.Flags().BoolP("interactive", "i", false, "choose devices from a list")
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long")
}

func runRecord(cmd *cobra.Command, args []string) error {
	micQuery, _ := cmd.Flags().GetString("mic")
	systemQuery, _ := cmd.Flags().GetString("system")
	backendName, _ := cmd.Flags().GetString("backend")
	listen, _ := cmd.Flags().GetString("listen")
	interactive, _ := cmd.Flags().GetBool("interactive")
	duration, _ := cmd.Flags().GetDuration("duration")

	if micQuery == "" {
		micQuery = cfg.Devices.Microphone
	}
	if systemQuery == "" {
		systemQuery = cfg.Devices.System
	}
	if backendName == "" {
		backendName = cfg.Audio.Backend
	}
	if listen == "" {
		listen = cfg.Server.Address
	}

	checkpoint, err := cfg.CheckpointEvery()
	if err != nil {
		return fmt.Errorf("invalid checkpoint interval: %w", err)
	}
	policy, err := recorder.ParseSecondSignalPolicy(cfg.Shutdown.SecondSignal)
	if err != nil {
		return err
	}

	backend, err := audio.NewBackend(backendName, audio.BackendOptions{
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		SampleRate:      cfg.Audio.SampleRate,
		Logger:          slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}
	defer backend.Close()

	mic, system, err := chooseDevices(cmd, backend, micQuery, systemQuery, interactive)
	if err != nil {
		return err
	}

	start := time.Now()
	opts := recorder.Options{
		Mic:                   recorder.PipelineSpec{Device: mic, Path: cfg.RecordingPath(start, string(recorder.RoleMic))},
		QueueCapacity:         cfg.Audio.QueueCapacity,
		FramesPerBuffer:       cfg.Audio.FramesPerBuffer,
		CheckpointInterval:    checkpoint,
		StopOnPipelineFailure: cfg.Recording.StopOnPipelineFailure,
		Logger:                slog.Default(),
	}
	if system != nil {
		opts.System = &recorder.PipelineSpec{Device: system, Path: cfg.RecordingPath(start, string(recorder.RoleSystem))}
	}

	stop := new(atomic.Bool)
	opts.Stop = stop
	coordinator := recorder.NewShutdownCoordinator(stop, policy, slog.Default())
	coordinator.Listen(os.Interrupt, syscall.SIGTERM)
	defer coordinator.Close()

	var m *metrics.Metrics
	if listen != "" {
		m = metrics.NewMetrics()
	}
	opts.OnEvent = eventPrinter(cmd.OutOrStdout(), m)

	session, err := recorder.NewSession(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if m != nil {
		if err := m.WatchSession(session); err != nil {
			return fmt.Errorf("failed to register session metrics: %w", err)
		}
		srv := server.New(session, m, cfg.OutputDirectory, slog.Default())
		serverCtx, stopServer := context.WithCancel(context.Background())
		defer stopServer()
		go func() {
			if err := srv.Serve(serverCtx, listen); err != nil {
				slog.Error("Status server failed", "error", err)
			}
		}()
	}

	if err := session.Start(); err != nil {
		if report := session.Report(); report != nil {
			printReport(cmd.OutOrStdout(), report)
		}
		return fmt.Errorf("recording could not start: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Recording... press Ctrl+C to stop")

	report, err := session.Wait(ctx)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)

	if !report.Succeeded() {
		return fmt.Errorf("recording finished with errors: %w", report.Err())
	}
	return nil
}

// chooseDevices resolves the microphone and the optional system device
func chooseDevices(cmd *cobra.Command, backend audio.Backend, micQuery, systemQuery string, interactive bool) (audio.Device, audio.Device, error) {
	devices, err := backend.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s devices: %w", backend.Type(), err)
	}
	if len(devices) == 0 {
		return nil, nil, fmt.Errorf("%w: the %s backend reports no input devices", audio.ErrDeviceNotFound, backend.Type())
	}

	defaultDev, err := backend.DefaultDevice()
	if err != nil {
		slog.Debug("No default input device", "backend", backend.Type(), "error", err)
	}

	selector := newDeviceSelector(devices, defaultDev, interactive, cmd.InOrStdin(), cmd.OutOrStdout())
	mic, err := selector.microphone(micQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("microphone: %w", err)
	}
	system, err := selector.system(systemQuery, mic)
	if err != nil {
		return nil, nil, fmt.Errorf("system audio: %w", err)
	}

	slog.Info("Microphone selected", "device", mic.Info().Name)
	if system != nil {
		slog.Info("System audio selected", "device", system.Info().Name)
	} else {
		slog.Info("System audio will not be recorded")
	}
	return mic, system, nil
}

// eventPrinter reports lifecycle events to the user and to the metrics, if any
func eventPrinter(out io.Writer, m *metrics.Metrics) func(recorder.Event) {
	return func(e recorder.Event) {
		if m != nil {
			m.RecordEvent(e)
		}
		switch e.Type {
		case recorder.EventOpened:
			fmt.Fprintf(out, "[%s] recording to %s\n", e.Pipeline, e.Path)
		case recorder.EventSkipped:
			fmt.Fprintf(out, "[%s] skipped\n", e.Pipeline)
		case recorder.EventFailed:
			fmt.Fprintf(out, "[%s] failed: %v\n", e.Pipeline, e.Err)
		case recorder.EventOverrun:
			fmt.Fprintf(out, "[%s] %d blocks dropped, the disk could not keep up\n", e.Pipeline, e.Dropped)
		}
	}
}

// printReport prints one line per pipeline with its outcome and file size
func printReport(out io.Writer, report *recorder.Report) {
	fmt.Fprintln(out, "\n=== RECORDING SUMMARY ===")
	for _, p := range report.Pipelines() {
		line := fmt.Sprintf("%-6s %s", p.Role, p.String())
		if p.Path != "" && p.Size > 0 {
			line += fmt.Sprintf("  %s (%s, %s)", p.Path, formatBytes(p.Size), p.Duration.Round(time.Second))
		}
		if p.Err != nil {
			line += fmt.Sprintf("\n       %v", p.Err)
		}
		fmt.Fprintln(out, line)
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
