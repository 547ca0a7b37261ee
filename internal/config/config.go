package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error" or "none"
	File  string `toml:"file"`
}

// AudioConfig holds mixing and recording settings.
type AudioConfig struct {
	SampleRate     int    `toml:"sample_rate"`
	BufferMs       int    `toml:"buffer_ms"`
	MaxDurationSec int    `toml:"max_duration_sec"` // 0 = unlimited
	Monitor        string `toml:"monitor"`          // "speaker" or "none"
	ChimeStart     string `toml:"chime_start"`
	ChimeStop      string `toml:"chime_stop"`
	ChimeEnabled   bool   `toml:"chime_enabled"`
}

// BackendConfig selects where devices are listed and recordings saved.
type BackendConfig struct {
	Mode        string `toml:"mode"`     // "auto", "native" or "fallback"
	HostURL     string `toml:"host_url"` // overrides JAMSESSION_HOST
	InputDevice string `toml:"input_device"`
}

// HostConfig holds native host settings.
type HostConfig struct {
	Addr          string `toml:"addr"`
	RecordingsDir string `toml:"recordings_dir"`
}

// HotkeyConfig binds a global key that toggles recording. An empty Key
// disables it.
type HotkeyConfig struct {
	Key    string `toml:"key"`    // "KEY_F9" on Linux, "Ctrl+F9" on macOS
	Device string `toml:"device"` // Linux input device, auto-detected if empty
}

// ParticipantConfig declares a local source joining the session.
type ParticipantConfig struct {
	ID     string `toml:"id"`
	Source string `toml:"source"` // "path.wav" or "tone:<hz>"
	Volume *int   `toml:"volume"`
	Loop   bool   `toml:"loop"`
}

// InitialVolume returns the configured volume percent, or
// DefaultParticipantVolume when unset.
func (p ParticipantConfig) InitialVolume() int {
	if p.Volume == nil {
		return DefaultParticipantVolume
	}
	return *p.Volume
}

// CustomTheme defines a user color palette for the TUI. Colors left
// empty keep the default theme's.
type CustomTheme struct {
	Name   string `toml:"name"`
	Live   string `toml:"live"`   // recording badge, meter, selection
	Chrome string `toml:"chrome"` // border, labels, key help
	Take   string `toml:"take"`   // last recording
	Fault  string `toml:"fault"`
	Ready  string `toml:"ready"`
	Busy   string `toml:"busy"`
	Panel  string `toml:"panel"`
	Body   string `toml:"body"`
	Muted  string `toml:"muted"`
}

// Config is the top-level configuration.
type Config struct {
	Theme        string              `toml:"theme"`
	Log          LogConfig           `toml:"log"`
	Audio        AudioConfig         `toml:"audio"`
	Backend      BackendConfig       `toml:"backend"`
	Host         HostConfig          `toml:"host"`
	Hotkey       HotkeyConfig        `toml:"hotkey"`
	Participants []ParticipantConfig `toml:"participant"`
	CustomThemes []CustomTheme       `toml:"custom_theme"`
}

// DefaultParticipantVolume is the volume a participant starts at.
const DefaultParticipantVolume = 80

// Default returns a Config populated with all default values.
func Default() *Config {
	return &Config{
		Theme: "studio",
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Audio: AudioConfig{
			SampleRate:     48000,
			BufferMs:       100,
			MaxDurationSec: 0,
			Monitor:        "speaker",
			ChimeStart:     "",
			ChimeStop:      "",
			ChimeEnabled:   true,
		},
		Backend: BackendConfig{
			Mode:        "auto",
			HostURL:     "",
			InputDevice: "",
		},
		Host: HostConfig{
			Addr:          "127.0.0.1:7878",
			RecordingsDir: "audio",
		},
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case "auto", "native", "fallback":
	default:
		return fmt.Errorf("backend.mode: unknown mode %q", c.Backend.Mode)
	}
	switch c.Audio.Monitor {
	case "speaker", "none":
	default:
		return fmt.Errorf("audio.monitor: unknown monitor %q", c.Audio.Monitor)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.MaxDurationSec < 0 {
		return fmt.Errorf("audio.max_duration_sec must not be negative, got %d", c.Audio.MaxDurationSec)
	}
	seen := make(map[string]bool)
	for i, p := range c.Participants {
		if p.ID == "" {
			return fmt.Errorf("participant %d: id is empty", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("participant %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if p.Source == "" {
			return fmt.Errorf("participant %q: source is empty", p.ID)
		}
	}
	return nil
}

// DefaultPath returns the default config file path (~/.config/jamsession/config.toml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jamsession", "config.toml")
}

// Save writes the config as TOML to the given path, creating parent
// directories if needed. The write is atomic: data is written to a
// temporary file and renamed into place so a crash mid-write cannot
// corrupt the existing config.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".jamsession-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := Encode(tmp, cfg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg *Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Load reads the TOML config from path. If the file does not exist,
// it returns the default config without error.
func Load(path string) (*Config, error) {
	cfg := Default()

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
