package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/oscmix/backend"
	"github.com/opd-ai/oscmix/config"
	"github.com/opd-ai/oscmix/mixer"
	"github.com/opd-ai/oscmix/state"
	"github.com/opd-ai/oscmix/transport"
)

type options struct {
	configPath string
	logLevel   string
	strips     int
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "oscmixd",
		Short:        "Real-time audio mixer and router with OSC remote control",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides the configuration)")
	cmd.Flags().IntVar(&opts.strips, "strips", 0, "Strip count when no state is restored (overrides the configuration)")
	return cmd
}

// loadConfig applies the flags that were set on top of the loaded
// configuration and sets up logging.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if cmd.Flags().Changed("strips") {
		cfg.Strips = opts.strips
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run opens the connectors and the driver and runs the mixer until ctx is
// cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	connectors, err := openConnectors(cfg.Control)
	if err != nil {
		return err
	}
	driver, err := openDriver(cfg)
	if err != nil {
		closeAll(connectors)
		return err
	}

	mcfg := mixer.Config{
		SampleRate:    cfg.Graph.SampleRate,
		BlockSize:     cfg.Graph.BlockSize,
		Strips:        cfg.Strips,
		MeterInterval: cfg.MeterInterval,
		SaveInterval:  cfg.State.Interval,
		Driver:        driver,
	}
	if cfg.State.File != "" {
		mcfg.Store = state.NewStore(cfg.State.File)
	} else {
		mcfg.SaveInterval = mixer.DefaultConfig().SaveInterval
	}
	m, err := mixer.New(mcfg, connectors...)
	if err != nil {
		closeAll(connectors)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "run",
		"connectors": len(connectors),
		"driver":     cfg.Driver,
		"state":      cfg.State.File,
	}).Info("oscmixd started")
	err = m.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "run",
	}).Info("oscmixd stopped")
	return err
}

// openConnectors opens every configured control connector. On failure the
// ones already open are closed.
func openConnectors(cc config.ControlConfig) ([]transport.Connector, error) {
	var out []transport.Connector
	fail := func(err error) ([]transport.Connector, error) {
		closeAll(out)
		return nil, err
	}
	for _, u := range cc.UDP {
		c, err := transport.NewUDPConnector(u.Transport())
		if err != nil {
			return fail(err)
		}
		out = append(out, c)
	}
	for _, addr := range cc.TCP {
		c, err := transport.NewTCPConnector(addr)
		if err != nil {
			return fail(err)
		}
		out = append(out, c)
	}
	for _, s := range cc.Serial {
		c, err := transport.NewSerialConnector(s.Transport())
		if err != nil {
			return fail(err)
		}
		out = append(out, c)
	}
	return out, nil
}

func closeAll(connectors []transport.Connector) {
	for _, c := range connectors {
		c.Close()
	}
}

// openDriver resolves the configured audio backend. "sim" is a simulated
// stereo card clocked at the graph format.
func openDriver(cfg *config.Config) (backend.Driver, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sim":
		return backend.NewSimDriver(backend.SimDevice{
			Device: backend.Device{
				ID:         "sim0",
				Name:       "Simulated stereo card",
				Inputs:     2,
				Outputs:    2,
				SampleRate: cfg.Graph.SampleRate,
				BlockSize:  cfg.Graph.BlockSize,
			},
		}), nil
	}
	driver, err := backend.Lookup(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("driver %q (have %v): %w", cfg.Driver, backend.Drivers(), err)
	}
	return driver, nil
}
