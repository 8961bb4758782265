package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/meetrec/internal/audio"
)

// DisabledDevice as a system device skips the system audio pipeline
const DisabledDevice = "disabled"

// DefaultFilenameLayout is the time layout for recording names (mm-dd-yyyy-hh-mm)
const DefaultFilenameLayout = "01-02-2006-15-04"

type Config struct {
	OutputDirectory string              `mapstructure:"output_directory" yaml:"output_directory"`
	ActiveProfile   string              `mapstructure:"active_profile" yaml:"active_profile,omitempty"`
	Audio           AudioConfig         `mapstructure:"audio" yaml:"audio"`
	Devices         DevicesConfig       `mapstructure:"devices" yaml:"devices"`
	Recording       RecordingConfig     `mapstructure:"recording" yaml:"recording"`
	Shutdown        ShutdownConfig      `mapstructure:"shutdown" yaml:"shutdown"`
	Server          ServerConfig        `mapstructure:"server" yaml:"server"`
	Profiles        map[string]*Profile `mapstructure:"profiles" yaml:"profiles,omitempty"`

	// Profile is the name of the profile applied by LoadWithProfile, if any
	Profile string `mapstructure:"-" yaml:"-"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"` // portaudio, malgo, pulse, pipewire, synthetic, auto
	SampleRate      int    `mapstructure:"sample_rate" yaml:"sample_rate,omitempty"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"`
	QueueCapacity   int    `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// Go duration string, "0s" rewrites the header after every block
	CheckpointInterval string `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
}

type DevicesConfig struct {
	Microphone string `mapstructure:"microphone" yaml:"microphone,omitempty"`
	System     string `mapstructure:"system" yaml:"system,omitempty"`
}

type RecordingConfig struct {
	FilenameLayout        string `mapstructure:"filename_layout" yaml:"filename_layout"`
	StopOnPipelineFailure bool   `mapstructure:"stop_on_pipeline_failure" yaml:"stop_on_pipeline_failure"`
}

type ShutdownConfig struct {
	SecondSignal string `mapstructure:"second_signal" yaml:"second_signal"` // force, ignore
}

type ServerConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// Profile overrides the device selection and backend of the base config
type Profile struct {
	Audio   ProfileAudio  `mapstructure:"audio" yaml:"audio,omitempty"`
	Devices DevicesConfig `mapstructure:"devices" yaml:"devices,omitempty"`
}

type ProfileAudio struct {
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`
}

// InheritanceInfo records, per overridable field, whether the value comes
// from the base config ("inherited") or the profile ("profile-specific")
type InheritanceInfo struct {
	Backend    string
	Microphone string
	System     string
}

var defaults = map[string]any{
	"output_directory":                   "",
	"active_profile":                     "",
	"audio.backend":                      "auto",
	"audio.sample_rate":                  0,
	"audio.frames_per_buffer":            1024,
	"audio.queue_capacity":               64,
	"audio.checkpoint_interval":          "1s",
	"devices.microphone":                 "",
	"devices.system":                     "",
	"recording.filename_layout":          DefaultFilenameLayout,
	"recording.stop_on_pipeline_failure": false,
	"shutdown.second_signal":             "force",
	"server.address":                     "",
}

// DefaultConfigPath returns $HOME/.config/meetrec.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "meetrec.yaml"
	}
	return filepath.Join(home, ".config", "meetrec.yaml")
}

// Default returns the configuration written by "config init"
func Default() *Config {
	return &Config{
		OutputDirectory: "~/Recordings/meetrec",
		Audio: AudioConfig{
			Backend:            "auto",
			FramesPerBuffer:    1024,
			QueueCapacity:      64,
			CheckpointInterval: "1s",
		},
		Recording: RecordingConfig{FilenameLayout: DefaultFilenameLayout},
		Shutdown:  ShutdownConfig{SecondSignal: "force"},
	}
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("MEETREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadWithProfile reads configFile, applies the named profile (or the
// active_profile of the file when profile is empty), validates the result and
// makes sure the output directory exists.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found, create one with 'meetrec config init': %w", configFile, err)
		}
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	name := profile
	if name == "" {
		name = cfg.ActiveProfile
	}
	if err := cfg.applyProfile(name); err != nil {
		return nil, err
	}

	cfg.OutputDirectory = expandPath(cfg.OutputDirectory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := EnsureOutputDirectory(cfg.OutputDirectory); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProfile overlays a profile on the base settings. Unset profile fields
// fall back to the base config.
func (c *Config) applyProfile(name string) error {
	c.Inheritance = &InheritanceInfo{Backend: "inherited", Microphone: "inherited", System: "inherited"}
	if name == "" {
		return nil
	}

	p, ok := c.Profiles[name]
	if !ok || p == nil {
		return fmt.Errorf("configuration profile '%s' not found", name)
	}
	c.Profile = name

	if p.Audio.Backend != "" {
		c.Audio.Backend = p.Audio.Backend
		c.Inheritance.Backend = "profile-specific"
	}
	if p.Devices.Microphone != "" {
		c.Devices.Microphone = p.Devices.Microphone
		c.Inheritance.Microphone = "profile-specific"
	}
	if p.Devices.System != "" {
		c.Devices.System = p.Devices.System
		c.Inheritance.System = "profile-specific"
	}
	return nil
}

// Validate checks every field and reports the first problem with its key path
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDirectory) == "" {
		return fmt.Errorf("'output_directory' is required")
	}
	if _, err := audio.ParseBackendType(c.Audio.Backend); err != nil {
		return fmt.Errorf("audio.backend: %w", err)
	}
	if c.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate: must be >= 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio.frames_per_buffer: must be > 0, got: %d", c.Audio.FramesPerBuffer)
	}
	if c.Audio.QueueCapacity <= 0 {
		return fmt.Errorf("audio.queue_capacity: must be > 0, got: %d", c.Audio.QueueCapacity)
	}
	if _, err := c.CheckpointEvery(); err != nil {
		return fmt.Errorf("audio.checkpoint_interval: %w", err)
	}
	if err := validateLayout(c.Recording.FilenameLayout); err != nil {
		return fmt.Errorf("recording.filename_layout: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Shutdown.SecondSignal)) {
	case "", "force", "ignore":
	default:
		return fmt.Errorf("shutdown.second_signal: must be 'force' or 'ignore', got: %s", c.Shutdown.SecondSignal)
	}
	for name, p := range c.Profiles {
		if p == nil {
			continue
		}
		if p.Audio.Backend != "" {
			if _, err := audio.ParseBackendType(p.Audio.Backend); err != nil {
				return fmt.Errorf("profiles.%s.audio.backend: %w", name, err)
			}
		}
	}
	return nil
}

// CheckpointEvery parses audio.checkpoint_interval
func (c *Config) CheckpointEvery() (time.Duration, error) {
	if c.Audio.CheckpointInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Audio.CheckpointInterval)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must be >= 0, got: %s", d)
	}
	return d, nil
}

// SystemDisabled reports whether system audio recording is turned off
func (c *Config) SystemDisabled() bool {
	return strings.EqualFold(strings.TrimSpace(c.Devices.System), DisabledDevice)
}

// RecordingPath returns the output file for one pipeline of a recording
// started at start, e.g. <dir>/10-19-2026-14-05-mic.wav
func (c *Config) RecordingPath(start time.Time, role string) string {
	layout := c.Recording.FilenameLayout
	if layout == "" {
		layout = DefaultFilenameLayout
	}
	return filepath.Join(c.OutputDirectory, fmt.Sprintf("%s-%s.wav", start.Format(layout), role))
}

// a layout with no time fields would give every recording the same name
func validateLayout(layout string) error {
	if layout == "" {
		return nil
	}
	if strings.ContainsAny(layout, `/\`) {
		return fmt.Errorf("must not contain path separators, got: %s", layout)
	}
	ref := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	if ref.Format(layout) == layout {
		return fmt.Errorf("must contain time fields, got: %s", layout)
	}
	return nil
}

// EnsureOutputDirectory creates dir when missing and fails when it exists but
// is not a directory
func EnsureOutputDirectory(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("output directory %s exists but is not a directory", dir)
		}
		return nil
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
		return nil
	default:
		return fmt.Errorf("failed to access output directory %s: %w", dir, err)
	}
}

// Save writes c as YAML. An existing file is only replaced when force is set.
func (c *Config) Save(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
		}
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

// YAML renders the configuration as it would be written to disk
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	return data, nil
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, profile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if profile != "" && !v.IsSet("profiles."+profile) {
		return fmt.Errorf("configuration profile '%s' not found", profile)
	}
	v.Set("active_profile", profile)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
