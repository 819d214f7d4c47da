package collector

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"twcc-gpu-monitor/pkg/email"
	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/observability"
	"twcc-gpu-monitor/pkg/store"
	"twcc-gpu-monitor/pkg/twcc"
)

// DefaultWindow is how far back utilization is collected.
const DefaultWindow = 7 * 24 * time.Hour

// podInvalidator is implemented by API wrappers that cache pod lookups.
type podInvalidator interface {
	InvalidatePod(siteID twcc.ID)
}

// Collector runs one collection pass: it gathers the utilization series of
// every ready site of a project and persists them grouped by owner.
type Collector struct {
	API         twcc.API
	Store       *store.File
	ProjectName string
	Log         logr.Logger

	// Window is the trailing collection window ending at the start of the pass.
	Window           time.Duration
	ThresholdPercent float64
	RecentSamples    int

	// Out receives the progress lines. Defaults to stdout.
	Out          io.Writer
	ShowProgress bool

	// Metrics, Notifier and MetricsTextfile are optional.
	Metrics         *observability.Recorder
	MetricsTextfile string
	Notifier        *email.Notifier
	NotifyAfter     time.Duration

	now func() time.Time
}

type collectedSite struct {
	site   twcc.DtoSite
	series monitoring.Series
}

func (c *Collector) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Collector) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Collector) window() time.Duration {
	if c.Window <= 0 {
		return DefaultWindow
	}
	return c.Window
}

func (c *Collector) progressBar(total int) *progressbar.ProgressBar {
	if !c.ShowProgress {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.out()),
		progressbar.OptionSetWidth(10),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.out())
		}),
	)
}

// Run executes one pass and returns the saved report. Any API error aborts the
// pass before anything is written.
func (c *Collector) Run(ctx context.Context) (monitoring.Report, error) {
	out := c.out()
	log := c.Log.WithValues("run", uuid.NewString(), "project", c.ProjectName)
	start := c.clock()
	log.V(1).Info("start collecting gpu utilization", "window", c.window().String())

	projectID, err := c.API.ResolveProject(ctx, c.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("resolving project %q: %w", c.ProjectName, err)
	}
	fmt.Fprintf(out, "Project ID: %s\n", projectID)
	fmt.Fprintf(out, "Project Name: %s\n", c.ProjectName)

	sites, err := c.API.ListSites(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing sites of project %s: %w", projectID, err)
	}
	fmt.Fprintf(out, "Total sites (same as total container): %d\n", len(sites))

	report := monitoring.NewReport()
	collected := make([]collectedSite, 0, len(sites))
	skipped := 0
	bar := c.progressBar(len(sites))
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !site.IsReady() {
			_ = bar.Clear()
			fmt.Fprintf(out, "Site %s is not ready, skipping.\n", site.ID)
			if invalidator, ok := c.API.(podInvalidator); ok {
				invalidator.InvalidatePod(site.ID)
			}
			skipped++
			_ = bar.Add(1)
			continue
		}

		pod, err := c.API.GetPodForSite(ctx, site.ID)
		if err != nil {
			return nil, fmt.Errorf("getting pod of site %s: %w", site.ID, err)
		}

		series, err := c.API.GetUtilization(ctx, site.ID, pod.Name, twcc.UtilizationQuery{End: start, Window: c.window()})
		if err != nil {
			return nil, fmt.Errorf("getting gpu utilization of site %s: %w", site.ID, err)
		}
		log.V(1).Info("site collected", "site", site.ID, "pod", pod.Name, "samples", len(series))

		report.Add(site.User.DisplayName, site.ID.String(), series)
		collected = append(collected, collectedSite{site: site, series: series})
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if err := c.Store.Save(report); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "GPU utilization data saved to %s\n", c.Store.Path)
	log.Info("collection finished", "sites", len(sites), "collected", len(collected), "skipped", skipped, "elapsed", c.clock().Sub(start).String())

	c.recordMetrics(log, collected, skipped)
	c.notifyIdle(log, collected)
	return report, nil
}

func (c *Collector) recordMetrics(log logr.Logger, collected []collectedSite, skipped int) {
	if c.Metrics == nil {
		return
	}

	c.Metrics.Reset()
	for i := 0; i < skipped; i++ {
		c.Metrics.SiteSkipped()
	}
	for _, s := range collected {
		c.Metrics.SiteCollected(len(s.series))
		summary, err := monitoring.Summarize(s.series, c.ThresholdPercent, c.RecentSamples)
		if err != nil {
			continue
		}
		recent, _ := summary.RecentAverage.Float64()
		c.Metrics.RecordSite(s.site.User.DisplayName, s.site.ID.String(), summary.IdleDuration.Seconds(), recent)
	}
	c.Metrics.CollectionSucceeded()

	if c.MetricsTextfile != "" {
		if err := c.Metrics.WriteTextfile(c.Store.Fs, c.MetricsTextfile); err != nil {
			log.Error(err, "cannot write metrics textfile", "path", c.MetricsTextfile)
		}
	}
}

// notifyIdle emails the owners of sites idle for at least NotifyAfter.
// Failures are logged and do not fail the pass.
func (c *Collector) notifyIdle(log logr.Logger, collected []collectedSite) {
	if c.Notifier == nil || c.NotifyAfter <= 0 {
		return
	}

	for _, s := range collected {
		idle, err := monitoring.MaxIdleDuration(s.series, c.ThresholdPercent)
		if err != nil || idle < c.NotifyAfter {
			continue
		}

		notice := email.IdleNotice{
			User:             s.site.User.DisplayName,
			Email:            s.site.User.Email,
			ProjectName:      c.ProjectName,
			SiteID:           s.site.ID.String(),
			SiteName:         s.site.Name,
			IdleDuration:     idle,
			ThresholdPercent: c.ThresholdPercent,
			LastSample:       s.series.SortedDesc()[0].Timestamp.Time,
		}
		sent, err := c.Notifier.Notify(notice)
		if err != nil {
			log.Error(err, "cannot send idle notice", "site", notice.SiteID)
			continue
		}
		if !sent {
			log.Info("site owner has no email, idle notice skipped", "site", notice.SiteID, "user", notice.User)
			continue
		}
		log.Info("idle notice sent", "site", notice.SiteID, "idle", idle.String())
	}
}
