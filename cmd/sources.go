package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/meetrec/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio input devices",
	Long: `List the input devices of an audio backend with their index, channel
count and default sample rate. Loopback and monitor devices, which capture
what the computer plays, are marked and can be used as the system device.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backendName, _ := cmd.Flags().GetString("backend")
		if backendName == "" && cfg != nil {
			backendName = cfg.Audio.Backend
		}

		opts := audio.BackendOptions{Logger: slog.Default()}
		if cfg != nil {
			opts.FramesPerBuffer = cfg.Audio.FramesPerBuffer
			opts.SampleRate = cfg.Audio.SampleRate
		}
		backend, err := audio.NewBackend(backendName, opts)
		if err != nil {
			return fmt.Errorf("failed to initialize audio backend: %w", err)
		}
		defer backend.Close()

		return listAvailableSources(cmd.OutOrStdout(), backend)
	},
}

func init() {
	sourcesCmd.Flags().String("backend", "", "audio backend: portaudio, malgo, pulse, pipewire, synthetic (overrides config)")
}

// listAvailableSources lists the input devices of backend
func listAvailableSources(out io.Writer, backend audio.Backend) error {
	devices, err := backend.Devices()
	if err != nil {
		return fmt.Errorf("failed to get %s devices: %w", backend.Type(), err)
	}

	fmt.Fprintf(out, "Audio input devices (%s, %s)\n", backend.Type(), runtime.GOOS)
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")
	if len(devices) == 0 {
		fmt.Fprintln(out, "  no input devices found")
		return nil
	}
	printDevices(out, devices)

	loopback := 0
	for _, d := range devices {
		if d.Info().Loopback {
			loopback++
		}
	}

	fmt.Fprintf(out, "\nUsage:\n")
	fmt.Fprintf(out, "  • record --mic <index|name> --system <index|name|disabled>\n")
	fmt.Fprintf(out, "  • or set devices.microphone and devices.system in the config file\n")
	if loopback == 0 {
		fmt.Fprintf(out, "  • no loopback device found: system audio needs a monitor source\n")
		fmt.Fprintf(out, "    (PulseAudio/PipeWire) or a virtual device such as BlackHole\n")
	}
	return nil
}
