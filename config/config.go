// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/media"
	"go2tv.app/screenrec/scale"
	"go2tv.app/screenrec/session"
)

const (
	ScalerEngineNative = "native"
	ScalerEngineLibav  = "libav"

	maxFPS          = 60
	highResCapFPS   = 30
	highResPixelCap = 1920 * 1080
)

// Config represents the full configuration for screenrec.
type Config struct {
	// Output is the elementary stream path. Empty means capture_<fps>fps.m4v.
	Output   string        `yaml:"output"`
	FPS      int           `yaml:"fps"`
	Duration time.Duration `yaml:"duration"`
	Monitor  int           `yaml:"monitor"`
	Backend  string        `yaml:"backend"`

	Encoder EncoderConfig `yaml:"encoder"`
	Scaler  ScalerConfig  `yaml:"scaler"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type EncoderConfig struct {
	Codec       string            `yaml:"codec"`
	BitRate     int64             `yaml:"bitrate"`
	Size        string            `yaml:"size"`
	GOPSize     int               `yaml:"gop"`
	MaxBFrames  int               `yaml:"max_b_frames"`
	PixelFormat string            `yaml:"pixel_format"`
	HWAccel     bool              `yaml:"hwaccel"`
	Options     map[string]string `yaml:"options"`
}

type ScalerConfig struct {
	Algorithm string `yaml:"algorithm"`
	Engine    string `yaml:"engine"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		FPS:      session.DefaultFPS,
		Duration: session.DefaultDuration,
		Monitor:  0,
		Backend:  capture.BackendAuto,
		Encoder: EncoderConfig{
			Codec:       encode.DefaultCodec,
			BitRate:     encode.DefaultBitRate,
			Size:        fmt.Sprintf("%dx%d", encode.DefaultWidth, encode.DefaultHeight),
			GOPSize:     encode.DefaultGOPSize,
			MaxBFrames:  encode.DefaultMaxBFrames,
			PixelFormat: media.PixelFormatYUV420P.String(),
		},
		Scaler: ScalerConfig{
			Algorithm: scale.Lanczos.String(),
			Engine:    ScalerEngineNative,
		},
		LogLevel: "info",
	}
}

// LoadFromFile loads configuration from a YAML file on top of Defaults.
// Unknown keys are rejected.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	return width, height, nil
}

// Normalize clamps values into their supported ranges and fills empty
// fields from Defaults.
func (c Config) Normalize() (Config, error) {
	def := Defaults()

	if c.FPS < 1 {
		c.FPS = def.FPS
	}
	if c.FPS > maxFPS {
		c.FPS = maxFPS
	}
	if c.Duration <= 0 {
		c.Duration = def.Duration
	}
	if c.Monitor < 0 {
		return c, fmt.Errorf("monitor index must be >= 0, got %d", c.Monitor)
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = def.Backend
	}

	if strings.TrimSpace(c.Encoder.Codec) == "" {
		c.Encoder.Codec = def.Encoder.Codec
	}
	if c.Encoder.BitRate <= 0 {
		c.Encoder.BitRate = def.Encoder.BitRate
	}
	if c.Encoder.Size == "" {
		c.Encoder.Size = def.Encoder.Size
	}
	w, h, err := ParseSize(c.Encoder.Size)
	if err != nil {
		return c, err
	}
	if w%2 != 0 || h%2 != 0 {
		w, h = w&^1, h&^1
		if w == 0 || h == 0 {
			return c, fmt.Errorf("size %q is too small", c.Encoder.Size)
		}
		c.Encoder.Size = fmt.Sprintf("%dx%d", w, h)
	}
	if c.Encoder.GOPSize < 0 {
		c.Encoder.GOPSize = 0
	}
	if c.Encoder.MaxBFrames < 0 {
		c.Encoder.MaxBFrames = 0
	}
	if c.Encoder.MaxBFrames > 16 {
		c.Encoder.MaxBFrames = 16
	}
	if c.Encoder.PixelFormat == "" {
		c.Encoder.PixelFormat = def.Encoder.PixelFormat
	}
	if _, err := media.ParsePixelFormat(c.Encoder.PixelFormat); err != nil {
		return c, err
	}

	if _, err := scale.ParseAlgorithm(c.Scaler.Algorithm); err != nil {
		return c, err
	}
	switch c.Scaler.Engine {
	case "":
		c.Scaler.Engine = def.Scaler.Engine
	case ScalerEngineNative, ScalerEngineLibav:
	default:
		return c, fmt.Errorf("unknown scaler engine %q", c.Scaler.Engine)
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c, nil
}

// CapFPS limits fps for large captures: above 1080p at most 30 fps are
// recorded.
func CapFPS(fps, width, height int) int {
	if fps > maxFPS {
		fps = maxFPS
	}
	if width*height > highResPixelCap && fps > highResCapFPS {
		fps = highResCapFPS
	}
	return fps
}

// OutputPath is Output, or the default name derived from the frame rate.
func (c Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	return session.OutputName(c.FPS)
}

// SessionOptions converts a normalized Config into session.Options.
func (c Config) SessionOptions() (session.Options, error) {
	w, h, err := ParseSize(c.Encoder.Size)
	if err != nil {
		return session.Options{}, err
	}
	pixFmt, err := media.ParsePixelFormat(c.Encoder.PixelFormat)
	if err != nil {
		return session.Options{}, err
	}
	algo, err := scale.ParseAlgorithm(c.Scaler.Algorithm)
	if err != nil {
		return session.Options{}, err
	}

	enc := encode.Config{
		Codec:       c.Encoder.Codec,
		BitRate:     c.Encoder.BitRate,
		Width:       w,
		Height:      h,
		PixelFormat: pixFmt,
		GOPSize:     c.Encoder.GOPSize,
		MaxBFrames:  c.Encoder.MaxBFrames,
		Options:     c.Encoder.Options,
	}
	if c.Encoder.HWAccel {
		enc.Candidates = encode.HardwareCandidates()
	}

	return session.Options{
		OutputPath:   c.OutputPath(),
		FPS:          c.FPS,
		Duration:     c.Duration,
		MonitorIndex: c.Monitor,
		Encoder:      enc,
		Algorithm:    algo,
	}, nil
}
