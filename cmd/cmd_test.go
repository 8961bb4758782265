package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/audiolibrelab/meetrec/internal/wav"
)

// runCLI executes the root command with args and returns its output
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile, profile, verboseLevel, cfg = "", "", 0, nil
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meetrec.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecordCommand_Synthetic(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "recordings")
	configFile := writeConfig(t, `
output_directory: `+outDir+`
audio:
  backend: synthetic
  checkpoint_interval: 0s
`)

	out, err := runCLI(t, "--config", configFile, "record", "--duration", "300ms")
	if err != nil {
		t.Fatalf("record failed: %v\n%s", err, out)
	}

	for _, want := range []string{"RECORDING SUMMARY", "mic    succeeded", "system succeeded"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}

	mics, _ := filepath.Glob(filepath.Join(outDir, "*-mic.wav"))
	systems, _ := filepath.Glob(filepath.Join(outDir, "*-system.wav"))
	if len(mics) != 1 || len(systems) != 1 {
		t.Fatalf("Expected one mic and one system file, got %v %v", mics, systems)
	}

	mic, err := wav.Inspect(mics[0])
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if !mic.Consistent() || mic.Channels != 1 || mic.Frames == 0 {
		t.Errorf("Unexpected mic file: %+v", mic)
	}
	sys, err := wav.Inspect(systems[0])
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if !sys.Consistent() || sys.Channels != 2 {
		t.Errorf("Unexpected system file: %+v", sys)
	}
}

func TestRecordCommand_SystemDisabled(t *testing.T) {
	outDir := t.TempDir()
	configFile := writeConfig(t, "output_directory: "+outDir+"\n")

	out, err := runCLI(t, "--config", configFile, "record", "--backend", "synthetic", "--system", "disabled", "--duration", "100ms")
	if err != nil {
		t.Fatalf("record failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "system skipped") {
		t.Errorf("Expected system to be skipped:\n%s", out)
	}
	if systems, _ := filepath.Glob(filepath.Join(outDir, "*-system.wav")); len(systems) != 0 {
		t.Errorf("Expected no system file, got %v", systems)
	}
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.wav")
	f, err := os.Create(good)
	if err != nil {
		t.Fatal(err)
	}
	w, err := wav.Create(f, 2, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSamples(make([]int16, 882)); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "verify", good)
	if err != nil {
		t.Fatalf("verify failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ "+good) || !strings.Contains(out, "2 ch, 44100 Hz, 16 bit, 10ms") {
		t.Errorf("Unexpected verify output:\n%s", out)
	}

	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(bad, []byte("not a wav file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "verify", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 files") {
		t.Errorf("Expected one failed file, got %v\n%s", err, out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "meetrec.yaml")

	if out, err := runCLI(t, "--config", configFile, "config", "init", "--output", filepath.Join(dir, "rec")); err != nil {
		t.Fatalf("config init failed: %v\n%s", err, out)
	}
	if _, err := runCLI(t, "--config", configFile, "config", "init"); err == nil {
		t.Error("Expected config init to refuse overwriting without --force")
	}

	out, err := runCLI(t, "--config", configFile, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v\n%s", err, out)
	}
	for _, want := range []string{"output_directory: " + filepath.Join(dir, "rec"), "backend: auto", "second_signal: force"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected config show to contain %q:\n%s", want, out)
		}
	}
}

func TestSourcesCommand(t *testing.T) {
	out, err := runCLI(t, "sources", "--backend", "synthetic")
	if err != nil {
		t.Fatalf("sources failed: %v", err)
	}
	if !strings.Contains(out, "Synthetic System Monitor (2 ch, 48000 Hz) [loopback]") {
		t.Errorf("Unexpected sources output:\n%s", out)
	}
}
