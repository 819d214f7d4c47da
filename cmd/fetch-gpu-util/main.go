package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"twcc-gpu-monitor/pkg/cache"
	"twcc-gpu-monitor/pkg/collector"
	"twcc-gpu-monitor/pkg/config"
	"twcc-gpu-monitor/pkg/email"
	"twcc-gpu-monitor/pkg/logging"
	"twcc-gpu-monitor/pkg/observability"
	"twcc-gpu-monitor/pkg/store"
	"twcc-gpu-monitor/pkg/twcc"
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
		Use:           "fetch-gpu-util",
		Short:         "Collect the GPU utilization of every ready site of a TWCC project",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, flush, err := logging.New(debug)
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, log, configFile); err != nil {
				log.Error(err, "fetch-gpu-util failed")
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml or $HOME/.config/twcc-gpu-monitor/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enables debug logs")
	return cmd
}

func run(ctx context.Context, log logr.Logger, configFile string) error {
	cfg, err := config.FromFile(configFile)
	if err != nil {
		return err
	}
	if err := cfg.RequireCollector(); err != nil {
		return err
	}

	client := twcc.NewClient(cfg.BaseURL, cfg.APIKey, twcc.NewHTTPClient(cfg.Retry, log.WithName("http")))
	client.Log = log.WithName("twcc")
	api := cache.NewTWCCCache(client, cfg.CacheTTL)
	defer api.Stop()

	c := &collector.Collector{
		API:              api,
		Store:            store.NewFile(afero.NewOsFs(), cfg.ReportPath),
		ProjectName:      cfg.ProjectName,
		Log:              log.WithName("collector"),
		Window:           cfg.CollectWindow,
		ThresholdPercent: cfg.ThresholdPercent,
		RecentSamples:    cfg.RecentSamples,
		Out:              os.Stdout,
		ShowProgress:     true,
	}
	if cfg.MetricsTextfile != "" {
		c.Metrics = observability.NewRecorder()
		c.MetricsTextfile = cfg.MetricsTextfile
	}
	if cfg.Notify.Enabled() {
		n := cfg.Notify
		c.Notifier = &email.Notifier{
			Sender: email.NewEmailClient(n.SMTPHost, n.SMTPPort, n.From, n.FromDisplayName, n.ReplyTo, n.ReplyToDisplayName, n.Username, n.Password),
			To:     n.To,
		}
		c.NotifyAfter = n.IdleAfter
	}

	if cfg.Schedule != "" {
		return c.RunScheduled(ctx, cfg.Schedule)
	}
	_, err = c.Run(ctx)
	return err
}
