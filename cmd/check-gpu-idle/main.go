package main

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"twcc-gpu-monitor/pkg/checker"
	"twcc-gpu-monitor/pkg/config"
	"twcc-gpu-monitor/pkg/logging"
	"twcc-gpu-monitor/pkg/observability"
	"twcc-gpu-monitor/pkg/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:           "check-gpu-idle",
		Short:         "Print how long the GPU of every collected site has been idle",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, flush, err := logging.New(debug)
			if err != nil {
				return err
			}
			defer flush()

			if err := run(log, configFile); err != nil {
				log.Error(err, "check-gpu-idle failed")
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml or $HOME/.config/twcc-gpu-monitor/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enables debug logs")
	return cmd
}

func run(log logr.Logger, configFile string) error {
	cfg, err := config.FromFile(configFile)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	c := &checker.Checker{
		Store:            store.NewFile(fs, cfg.ReportPath),
		Log:              log.WithName("checker"),
		ThresholdPercent: cfg.ThresholdPercent,
		RecentSamples:    cfg.RecentSamples,
		IdleWindow:       cfg.IdleWindow,
		Out:              os.Stdout,
	}
	if cfg.MetricsTextfile != "" {
		c.Metrics = observability.NewRecorder()
	}

	if _, err := c.Check(); err != nil {
		return err
	}
	if c.Metrics != nil {
		return c.Metrics.WriteTextfile(fs, cfg.MetricsTextfile)
	}
	return nil
}
