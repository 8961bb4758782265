package cmd

import (
	"fmt"
	"time"

	"github.com/audiolibrelab/meetrec/internal/recorder"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and the file paths of the next recording",
	Long:  `Display the resolved configuration with inheritance indicators and the file paths a recording started now would use. Shows which values come from the base configuration and which from the selected profile.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		now := time.Now()

		// Display file paths
		fmt.Fprintf(out, "=== FILE PATHS ===\n")
		fmt.Fprintf(out, "mic: %s\n", cfg.RecordingPath(now, string(recorder.RoleMic)))
		if cfg.SystemDisabled() {
			fmt.Fprintf(out, "system: disabled\n")
		} else {
			fmt.Fprintf(out, "system: %s\n", cfg.RecordingPath(now, string(recorder.RoleSystem)))
		}

		fmt.Fprintf(out, "\n=== RESOLVED CONFIGURATION ===\n")
		profileName := cfg.Profile
		if profileName == "" {
			profileName = "(none)"
		}
		fmt.Fprintf(out, "config_file: %s\n", configPath())
		fmt.Fprintf(out, "profile: %s\n", profileName)

		fmt.Fprintf(out, "\n[Audio]\n")
		fmt.Fprintf(out, "backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(cfg.Inheritance.Backend))
		if cfg.Audio.SampleRate > 0 {
			fmt.Fprintf(out, "sample_rate: %d\n", cfg.Audio.SampleRate)
		} else {
			fmt.Fprintf(out, "sample_rate: device default\n")
		}
		fmt.Fprintf(out, "frames_per_buffer: %d\n", cfg.Audio.FramesPerBuffer)
		fmt.Fprintf(out, "queue_capacity: %d\n", cfg.Audio.QueueCapacity)
		fmt.Fprintf(out, "checkpoint_interval: %s\n", cfg.Audio.CheckpointInterval)

		fmt.Fprintf(out, "\n[Devices]\n")
		fmt.Fprintf(out, "microphone: %s %s\n", orDefault(cfg.Devices.Microphone), getInheritanceIndicator(cfg.Inheritance.Microphone))
		fmt.Fprintf(out, "system: %s %s\n", orDefault(cfg.Devices.System), getInheritanceIndicator(cfg.Inheritance.System))

		fmt.Fprintf(out, "\n[Recording]\n")
		fmt.Fprintf(out, "output_directory: %s\n", cfg.OutputDirectory)
		fmt.Fprintf(out, "filename_layout: %s\n", cfg.Recording.FilenameLayout)
		fmt.Fprintf(out, "stop_on_pipeline_failure: %t\n", cfg.Recording.StopOnPipelineFailure)
		fmt.Fprintf(out, "second_signal: %s\n", cfg.Shutdown.SecondSignal)
		if cfg.Server.Address != "" {
			fmt.Fprintf(out, "server: %s\n", cfg.Server.Address)
		}
		return nil
	},
}

func orDefault(device string) string {
	if device == "" {
		return "(default)"
	}
	return device
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
