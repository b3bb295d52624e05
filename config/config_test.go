package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with none of the OSCMIX_*
// variables set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, name := range []string{EnvUDPListen, EnvTCPListen, EnvStateFile, EnvLogLevel, EnvSampleRate, EnvBlockSize} {
		// Setenv registers the restore; the variable is then removed so
		// .env files can set it.
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "oscmix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  sample_rate: 44100
  block_size: 128
control:
  udp:
    - listen: ":9000"
      targets: ["192.168.1.20:9001"]
      group: "239.1.2.3"
      ttl: 4
      loopback: true
  tcp: [":9002"]
  serial:
    - device: /dev/ttyUSB0
      baud: 115200
state:
  file: /var/lib/oscmix/state.json
  interval: 5s
meter_interval: 100ms
strips: 8
driver: sim
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 44100.0, cfg.Graph.SampleRate)
	assert.Equal(t, 128, cfg.Graph.BlockSize)
	require.Len(t, cfg.Control.UDP, 1)
	udp := cfg.Control.UDP[0].Transport()
	assert.Equal(t, ":9000", udp.Listen)
	assert.Equal(t, []string{"192.168.1.20:9001"}, udp.Targets)
	assert.Equal(t, "239.1.2.3", udp.Group)
	assert.Equal(t, 4, udp.TTL)
	assert.True(t, udp.Loopback)
	assert.Equal(t, []string{":9002"}, cfg.Control.TCP)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Control.Serial[0].Transport().Device)
	assert.Equal(t, 115200, cfg.Control.Serial[0].Baud)
	assert.Equal(t, 5*time.Second, cfg.State.Interval)
	assert.Equal(t, 100*time.Millisecond, cfg.MeterInterval)
	assert.Equal(t, 8, cfg.Strips)
	assert.Equal(t, "sim", cfg.Driver)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		EnvStateFile+"=from-dotenv.json\n"+EnvLogLevel+"=warn\n"), 0o644))
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvUDPListen, "127.0.0.1:7400")
	t.Setenv(EnvTCPListen, ":7401")
	t.Setenv(EnvSampleRate, "96000")
	t.Setenv(EnvBlockSize, "64")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.json", cfg.State.File)
	assert.Equal(t, "error", cfg.Log.Level, "the environment wins over .env")
	assert.Equal(t, []UDPConfig{{Listen: "127.0.0.1:7400"}}, cfg.Control.UDP)
	assert.Equal(t, []string{":7401"}, cfg.Control.TCP)
	assert.Equal(t, 96000.0, cfg.Graph.SampleRate)
	assert.Equal(t, 64, cfg.Graph.BlockSize)
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("graph: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv(EnvBlockSize, "lots")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no connectors", func(c *Config) { c.Control = ControlConfig{} }, true},
		{"persistence off", func(c *Config) { c.State = StateConfig{} }, true},
		{"low rate", func(c *Config) { c.Graph.SampleRate = 4000 }, false},
		{"tiny block", func(c *Config) { c.Graph.BlockSize = 8 }, false},
		{"no meter interval", func(c *Config) { c.MeterInterval = 0 }, false},
		{"no save interval", func(c *Config) { c.State.Interval = 0 }, false},
		{"too many strips", func(c *Config) { c.Strips = 100000 }, false},
		{"empty udp listen", func(c *Config) { c.Control.UDP = []UDPConfig{{}} }, false},
		{"ttl", func(c *Config) { c.Control.UDP[0].TTL = 300 }, false},
		{"empty tcp", func(c *Config) { c.Control.TCP = []string{""} }, false},
		{"serial device", func(c *Config) { c.Control.Serial = []SerialConfig{{Baud: 9600}} }, false},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	level, formatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	})

	cfg := Default()
	cfg.Log = LogConfig{Level: "debug", Format: "json"}
	require.NoError(t, cfg.ConfigureLogging())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	cfg.Log.Level = "nope"
	assert.Error(t, cfg.ConfigureLogging())
}
