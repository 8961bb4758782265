package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/audiolibrelab/meetrec/internal/wav"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Check that recorded WAV files are complete and readable",
	Long: `Read the header of each WAV file and compare the declared data length
with what is actually on disk. A file left by an interrupted recording may hold
more audio than its header declares; players will stop at the declared length.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bad := 0
		for _, path := range args {
			if !verifyFile(cmd.OutOrStdout(), path) {
				bad++
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d files failed verification", bad, len(args))
		}
		return nil
	},
}

// verifyFile prints a report for path and returns whether it is valid
func verifyFile(out io.Writer, path string) bool {
	info, err := wav.Inspect(path)
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		return false
	}

	fmt.Fprintf(out, "%s %s\n", verdict(info), path)
	fmt.Fprintf(out, "    %d ch, %d Hz, %d bit, %s, %s\n",
		info.Channels, info.SampleRate, info.BitDepth,
		info.Duration.Round(time.Millisecond), formatBytes(info.FileSize))

	switch {
	case info.Truncated():
		fmt.Fprintf(out, "    header declares %d bytes but only %d are present\n", info.Declared, info.Body)
		return false
	case !info.Consistent():
		fmt.Fprintf(out, "    %d bytes after the declared data (recording was interrupted before finalization)\n", info.Body-info.Declared)
	}
	return true
}

func verdict(info *wav.Info) string {
	if info.Consistent() {
		return "✓"
	}
	if info.Truncated() {
		return "✗"
	}
	return "!"
}
