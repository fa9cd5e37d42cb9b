package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Detector kinds
const (
	DetectorBackground = "background" // Simple background subtraction
	DetectorWave       = "wave"       // Oscillating gesture (eg a hand wave)
)

type CameraConfig struct {
	ID        int `json:"id"`        // Camera index, as understood by the capture process
	Width     int `json:"width"`     // Monitoring resolution
	Height    int `json:"height"`    //
	FrameRate int `json:"frameRate"` // Monitoring frame rate
}

type DetectionConfig struct {
	Kind         string `json:"kind"`         // background, wave
	Sensitivity  string `json:"sensitivity"`  // very_low, low, medium, high, very_high
	SkipFrames   int    `json:"skipFrames"`   // Run detection on every Nth frame
	WarmupFrames int    `json:"warmupFrames"` // Frames absorbed before the background model is ready
}

type RecordingConfig struct {
	Enabled           bool   `json:"enabled"`
	Width             int    `json:"width"`  // Recording resolution (typically higher than monitoring)
	Height            int    `json:"height"` //
	FrameRate         int    `json:"frameRate"`
	PreBufferSeconds  int    `json:"preBufferSeconds"`  // Footage kept from before the trigger
	PostBufferSeconds int    `json:"postBufferSeconds"` // Dedicated capture after the trigger
	OutputDir         string `json:"outputDir"`         // Root of the clip archive
}

type Config struct {
	Camera      CameraConfig    `json:"camera"`
	Detection   DetectionConfig `json:"detection"`
	Recording   RecordingConfig `json:"recording"`
	EventDBPath string          `json:"eventDBPath"` // SQLite file for the motion event ledger
}

func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			ID:        0,
			Width:     640,
			Height:    480,
			FrameRate: 30,
		},
		Detection: DetectionConfig{
			Kind:         DetectorBackground,
			Sensitivity:  "low",
			SkipFrames:   3,
			WarmupFrames: 60,
		},
		Recording: RecordingConfig{
			Enabled:           true,
			Width:             1280,
			Height:            720,
			FrameRate:         30,
			PreBufferSeconds:  5,
			PostBufferSeconds: 25,
			OutputDir:         "videos/motion_events",
		},
		EventDBPath: "events.sqlite",
	}
}

// Load reads a JSON config file. An empty filename yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading %v as JSON: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("Camera resolution %vx%v is invalid", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FrameRate <= 0 {
		return fmt.Errorf("Camera frame rate %v is invalid", c.Camera.FrameRate)
	}
	if c.Detection.Kind != DetectorBackground && c.Detection.Kind != DetectorWave {
		return fmt.Errorf("Unknown detector kind '%v'", c.Detection.Kind)
	}
	if _, err := ProfileForLabel(c.Detection.Sensitivity); err != nil {
		return err
	}
	if c.Detection.SkipFrames < 1 {
		return fmt.Errorf("skipFrames must be at least 1")
	}
	if c.Detection.WarmupFrames < 1 {
		return fmt.Errorf("warmupFrames must be at least 1")
	}
	if c.Recording.Enabled {
		if c.Recording.Width <= 0 || c.Recording.Height <= 0 {
			return fmt.Errorf("Recording resolution %vx%v is invalid", c.Recording.Width, c.Recording.Height)
		}
		if c.Recording.FrameRate <= 0 {
			return fmt.Errorf("Recording frame rate %v is invalid", c.Recording.FrameRate)
		}
		if c.Recording.PreBufferSeconds < 0 || c.Recording.PostBufferSeconds <= 0 {
			return fmt.Errorf("Pre/post buffer durations %v/%v are invalid", c.Recording.PreBufferSeconds, c.Recording.PostBufferSeconds)
		}
	}
	return nil
}

// Profile returns the sensitivity profile selected by the config.
// Call Validate first if the config came from user input.
func (c *Config) Profile() SensitivityProfile {
	p, err := ProfileForLabel(c.Detection.Sensitivity)
	if err != nil {
		// Validate() rejects unknown labels, so for a validated config this
		// is unreachable. Fall back to the default rather than panic.
		p, _ = ProfileForLabel(SensitivityLow)
	}
	return p
}

// PreBufferCapacity is the fixed frame capacity of the pre-event ring buffer:
// preBufferSeconds * (frameRate / skipFrames).
func (c *Config) PreBufferCapacity() int {
	return c.Recording.PreBufferSeconds * (c.Camera.FrameRate / c.Detection.SkipFrames)
}

// FrameRepeat is how many times each buffered frame is duplicated when the
// pre-roll clip is materialized, to step the reduced capture rate back up to
// the recording frame rate. Computed, not hard-coded, so that independently
// configured rates stay consistent.
func (c *Config) FrameRepeat() int {
	bufferRate := c.Camera.FrameRate / c.Detection.SkipFrames
	if bufferRate <= 0 {
		return 1
	}
	repeat := c.Recording.FrameRate / bufferRate
	if repeat < 1 {
		repeat = 1
	}
	return repeat
}
