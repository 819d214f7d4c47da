package checker

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/observability"
	"twcc-gpu-monitor/pkg/store"
	"twcc-gpu-monitor/pkg/timeutil"
)

// Checker prints how long every site of a saved report has been idle.
type Checker struct {
	Store            *store.File
	Log              logr.Logger
	ThresholdPercent float64
	RecentSamples    int
	// IdleWindow adds an "Idle Within" column when set.
	IdleWindow time.Duration

	Out     io.Writer
	Metrics *observability.Recorder
}

// SiteResult is the analysis of one site. Err is monitoring.ErrEmptySeries
// for a site without samples.
type SiteResult struct {
	User    string
	SiteID  string
	Summary monitoring.Summary
	Idle    bool
	Err     error
}

// Check loads the report and prints users and sites in sorted order.
func (c *Checker) Check() ([]SiteResult, error) {
	report, err := c.Store.Load()
	if err != nil {
		return nil, err
	}
	return c.CheckReport(report), nil
}

func (c *Checker) CheckReport(report monitoring.Report) []SiteResult {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	results := make([]SiteResult, 0, report.SiteCount())
	for _, user := range report.Users() {
		fmt.Fprintf(out, "User: %s\n", user)
		for _, siteID := range report.SiteIDs(user) {
			result := c.analyze(user, siteID, report[user][siteID])
			results = append(results, result)

			if result.Err != nil {
				c.Log.Error(result.Err, "cannot compute idle duration", "user", user, "site", siteID)
				fmt.Fprintf(out, "  Site ID: %s, no samples\n", siteID)
				continue
			}
			fmt.Fprintln(out, c.line(result))
		}
	}
	return results
}

func (c *Checker) analyze(user, siteID string, series monitoring.Series) SiteResult {
	result := SiteResult{User: user, SiteID: siteID}
	summary, err := monitoring.Summarize(series, c.ThresholdPercent, c.RecentSamples)
	if err != nil {
		result.Err = err
		return result
	}
	result.Summary = summary

	if c.IdleWindow > 0 {
		// Summarize already rejected an empty series.
		result.Idle, _ = monitoring.IsIdle(series, c.ThresholdPercent, c.IdleWindow)
	}

	if c.Metrics != nil {
		recent, _ := summary.RecentAverage.Float64()
		c.Metrics.RecordSite(user, siteID, summary.IdleDuration.Seconds(), recent)
	}
	return result
}

func (c *Checker) line(result SiteResult) string {
	s := fmt.Sprintf("  Site ID: %s, Max Idle Duration: %s, Recent Avg: %s%%, Peak: %s%%",
		result.SiteID,
		timeutil.FormatDuration(result.Summary.IdleDuration),
		result.Summary.RecentAverage.StringFixed(1),
		result.Summary.Peak.StringFixed(1),
	)
	if c.IdleWindow > 0 {
		s += fmt.Sprintf(", Idle Within %s: %t", timeutil.FormatDuration(c.IdleWindow), result.Idle)
	}
	return s
}
