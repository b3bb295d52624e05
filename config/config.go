package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/oscmix/strip"
	"github.com/opd-ai/oscmix/transport"
)

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Environment variables that override the file.
const (
	EnvUDPListen  = "OSCMIX_UDP_LISTEN"
	EnvTCPListen  = "OSCMIX_TCP_LISTEN"
	EnvStateFile  = "OSCMIX_STATE_FILE"
	EnvLogLevel   = "OSCMIX_LOG_LEVEL"
	EnvSampleRate = "OSCMIX_SAMPLE_RATE"
	EnvBlockSize  = "OSCMIX_BLOCK_SIZE"
)

// Config is the daemon configuration.
type Config struct {
	Graph         GraphConfig   `yaml:"graph"`
	Control       ControlConfig `yaml:"control"`
	State         StateConfig   `yaml:"state"`
	MeterInterval time.Duration `yaml:"meter_interval"`
	// Strips is the strip count when no state file is restored.
	Strips int `yaml:"strips"`
	// Driver names the audio backend: "sim", a registered driver name, or
	// empty for none.
	Driver string    `yaml:"driver"`
	Log    LogConfig `yaml:"log"`
}

// GraphConfig is the audio graph format.
type GraphConfig struct {
	SampleRate float64 `yaml:"sample_rate"`
	BlockSize  int     `yaml:"block_size"`
}

// ControlConfig lists the control connectors.
type ControlConfig struct {
	UDP    []UDPConfig    `yaml:"udp"`
	TCP    []string       `yaml:"tcp"`
	Serial []SerialConfig `yaml:"serial"`
}

// UDPConfig is one UDP control socket.
type UDPConfig struct {
	Listen    string   `yaml:"listen"`
	Targets   []string `yaml:"targets"`
	Group     string   `yaml:"group"`
	Interface string   `yaml:"interface"`
	TTL       int      `yaml:"ttl"`
	Loopback  bool     `yaml:"loopback"`
}

// Transport converts the entry to a connector configuration.
func (u UDPConfig) Transport() transport.UDPConfig {
	return transport.UDPConfig{
		Listen:    u.Listen,
		Targets:   u.Targets,
		Group:     u.Group,
		Interface: u.Interface,
		TTL:       u.TTL,
		Loopback:  u.Loopback,
	}
}

// SerialConfig is one serial control line.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// Transport converts the entry to a connector configuration.
func (s SerialConfig) Transport() transport.SerialConfig {
	return transport.SerialConfig{Device: s.Device, Baud: s.Baud}
}

// StateConfig selects the state file. An empty file disables persistence.
type StateConfig struct {
	File     string        `yaml:"file"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: one UDP
// socket on port 7000, 48 kHz in 256-frame blocks, two strips.
func Default() *Config {
	return &Config{
		Graph:         GraphConfig{SampleRate: 48000, BlockSize: 256},
		Control:       ControlConfig{UDP: []UDPConfig{{Listen: ":7000"}}},
		State:         StateConfig{File: "oscmix.json", Interval: time.Second},
		MeterInterval: 50 * time.Millisecond,
		Strips:        2,
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty), the .env file in the working directory (if present)
// and the OSCMIX_* environment variables, in that order of precedence from
// lowest to highest. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
		"udp":      len(cfg.Control.UDP),
		"tcp":      len(cfg.Control.TCP),
		"serial":   len(cfg.Control.Serial),
	}).Debug("Configuration loaded")
	return cfg, nil
}

// applyEnv overrides fields from the environment. A listen variable
// replaces every configured socket of its kind with one on that address.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvUDPListen); ok {
		c.Control.UDP = []UDPConfig{{Listen: v}}
	}
	if v, ok := lookup(EnvTCPListen); ok {
		c.Control.TCP = []string{v}
	}
	if v, ok := lookup(EnvStateFile); ok {
		c.State.File = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvSampleRate); ok {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvSampleRate, v, err)
		}
		c.Graph.SampleRate = rate
	}
	if v, ok := lookup(EnvBlockSize); ok {
		block, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvBlockSize, v, err)
		}
		c.Graph.BlockSize = block
	}
	return nil
}

// Validate rejects values the mixer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Graph.SampleRate < 8000 || c.Graph.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("graph.sample_rate %v outside [8000, 384000]", c.Graph.SampleRate))
	}
	if c.Graph.BlockSize < 16 || c.Graph.BlockSize > 8192 {
		errs = append(errs, fmt.Errorf("graph.block_size %d outside [16, 8192]", c.Graph.BlockSize))
	}
	if c.MeterInterval <= 0 {
		errs = append(errs, errors.New("meter_interval must be positive"))
	}
	if c.State.File != "" && c.State.Interval <= 0 {
		errs = append(errs, errors.New("state.interval must be positive"))
	}
	if c.Strips < 0 || c.Strips > strip.MaxStrips {
		errs = append(errs, fmt.Errorf("strips %d outside [0, %d]", c.Strips, strip.MaxStrips))
	}
	for i, u := range c.Control.UDP {
		if u.Listen == "" {
			errs = append(errs, fmt.Errorf("control.udp[%d].listen is empty", i))
		}
		if u.TTL < 0 || u.TTL > 255 {
			errs = append(errs, fmt.Errorf("control.udp[%d].ttl %d outside [0, 255]", i, u.TTL))
		}
	}
	for i, addr := range c.Control.TCP {
		if addr == "" {
			errs = append(errs, fmt.Errorf("control.tcp[%d] is empty", i))
		}
	}
	for i, s := range c.Control.Serial {
		if s.Device == "" {
			errs = append(errs, fmt.Errorf("control.serial[%d].device is empty", i))
		}
		if s.Baud < 0 {
			errs = append(errs, fmt.Errorf("control.serial[%d].baud %d is negative", i, s.Baud))
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %v", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ConfigureLogging applies the log section to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	logrus.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
