// Package config loads the simulation daemon settings from YAML or JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/ballphys/internal/core/observability/log"
)

var ErrInvalidConfig = errors.New("config: invalid")

// OffloadMode selects where kernel steps run.
type OffloadMode string

const (
	OffloadSync OffloadMode = "sync"
	OffloadPool OffloadMode = "pool"
	OffloadRing OffloadMode = "ring"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Arena       ArenaConfig       `json:"arena" yaml:"arena"`
	Loop        LoopConfig        `json:"loop" yaml:"loop"`
	Offload     OffloadConfig     `json:"offload" yaml:"offload"`
	Physics     PhysicsConfig     `json:"physics" yaml:"physics"`
	Stream      StreamConfig      `json:"stream" yaml:"stream"`
	Diagnostics DiagnosticsConfig `json:"diagnostics" yaml:"diagnostics"`
}

// ArenaConfig holds the half sizes of the play field.
type ArenaConfig struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

type LoopConfig struct {
	FrameRate int    `json:"frame_rate" yaml:"frame_rate"`
	Balls     int    `json:"balls" yaml:"balls"`
	BrickRows int    `json:"brick_rows" yaml:"brick_rows"`
	BrickCols int    `json:"brick_cols" yaml:"brick_cols"`
	Seed      uint64 `json:"seed" yaml:"seed"`
	// Frames stops the loop after this many frames; zero runs until cancelled.
	Frames uint64 `json:"frames,omitempty" yaml:"frames,omitempty"`
}

type OffloadConfig struct {
	Mode         OffloadMode `json:"mode" yaml:"mode"`
	Workers      int         `json:"workers" yaml:"workers"`
	RingCapacity int         `json:"ring_capacity" yaml:"ring_capacity"`
	RingSize     int         `json:"ring_size" yaml:"ring_size"`
	Parallelism  int         `json:"parallelism" yaml:"parallelism"`
}

type PhysicsConfig struct {
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	Gravity        [3]float64 `json:"gravity" yaml:"gravity"`
	OverlapEpsilon float64    `json:"overlap_epsilon" yaml:"overlap_epsilon"`
}

type StreamConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Address      string        `json:"address" yaml:"address"`
	Path         string        `json:"path" yaml:"path"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// Every publishes one snapshot per this many frames.
	Every int `json:"every" yaml:"every"`
}

type DiagnosticsConfig struct {
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Arena:    ArenaConfig{X: 10, Y: 6, Z: 4},
		Loop: LoopConfig{
			FrameRate: 60,
			Balls:     64,
			BrickRows: 4,
			BrickCols: 6,
			Seed:      1,
		},
		Offload: OffloadConfig{
			Mode:         OffloadRing,
			RingCapacity: 256,
			RingSize:     4,
		},
		Physics: PhysicsConfig{
			OverlapEpsilon: 0.0001,
		},
		Stream: StreamConfig{
			Address:      ":8090",
			Path:         "/frames",
			WriteTimeout: 2 * time.Second,
			Every:        2,
		},
		Diagnostics: DiagnosticsConfig{MaxEntries: 256},
	}
}

// LoadYAML decodes r over the defaults.
func LoadYAML(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadJSON decodes r over the defaults.
func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile picks the decoder from the extension; anything but .json is YAML.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return LoadYAML(f)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error", "silent", "off":
	default:
		bad("log_level %q", c.LogLevel)
	}
	if c.Arena.X <= 0 || c.Arena.Y <= 0 || c.Arena.Z <= 0 {
		bad("arena half sizes must be positive, got %v", c.Arena)
	}
	if c.Loop.FrameRate <= 0 {
		bad("loop.frame_rate must be positive, got %d", c.Loop.FrameRate)
	}
	if c.Loop.Balls < 0 || c.Loop.BrickRows < 0 || c.Loop.BrickCols < 0 {
		bad("loop counts must not be negative")
	}
	switch c.Offload.Mode {
	case OffloadSync, OffloadPool:
	case OffloadRing:
		if c.Offload.RingCapacity < 1 || c.Offload.RingSize < 1 {
			bad("offload ring needs positive ring_capacity and ring_size")
		}
	default:
		bad("offload.mode %q", c.Offload.Mode)
	}
	if c.Offload.Workers < 0 || c.Offload.Parallelism < 0 {
		bad("offload workers must not be negative")
	}
	if c.Physics.OverlapEpsilon < 0 {
		bad("physics.overlap_epsilon must not be negative")
	}
	if c.Stream.Enabled && c.Stream.Address == "" {
		bad("stream.address is required when the stream is enabled")
	}
	if c.Stream.Every < 0 {
		bad("stream.every must not be negative")
	}
	return errors.Join(errs...)
}

// Level is the parsed log level.
func (c *Config) Level() log.Level {
	return log.ParseLevel(c.LogLevel)
}

// FrameDuration is the wall time of one frame.
func (c *Config) FrameDuration() time.Duration {
	return time.Second / time.Duration(c.Loop.FrameRate)
}
