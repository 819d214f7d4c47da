package observability

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"
)

// Recorder exposes GPU idle and collection metrics on its own registry.
type Recorder struct {
	Registry *prometheus.Registry

	idleSeconds    *prometheus.GaugeVec
	recentAverage  *prometheus.GaugeVec
	sitesCollected prometheus.Counter
	sitesSkipped   prometheus.Counter
	samplesFetched prometheus.Counter
	lastSuccess    prometheus.Gauge
}

// NewRecorder constructs a recorder and registers its collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		Registry: registry,
		idleSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twcc_gpu_idle_seconds",
			Help: "Trailing duration the site GPU utilization stayed at or below the threshold",
		}, []string{"user", "site"}),
		recentAverage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twcc_gpu_recent_utilization_percent",
			Help: "Average GPU utilization over the most recent samples",
		}, []string{"user", "site"}),
		sitesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "twcc_sites_collected_total",
			Help: "Number of ready sites whose utilization was collected",
		}),
		sitesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "twcc_sites_skipped_total",
			Help: "Number of sites skipped because they were not ready",
		}),
		samplesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "twcc_samples_fetched_total",
			Help: "Number of utilization samples fetched from the API",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "twcc_last_collection_success_timestamp_seconds",
			Help: "Unix time of the last collection pass that saved a report",
		}),
	}
}

// RecordSite publishes idle and recent average gauges of one site.
func (r *Recorder) RecordSite(user, site string, idleSeconds, recentAverage float64) {
	r.idleSeconds.WithLabelValues(user, site).Set(idleSeconds)
	r.recentAverage.WithLabelValues(user, site).Set(recentAverage)
}

func (r *Recorder) SiteCollected(samples int) {
	r.sitesCollected.Inc()
	r.samplesFetched.Add(float64(samples))
}

func (r *Recorder) SiteSkipped() {
	r.sitesSkipped.Inc()
}

func (r *Recorder) CollectionSucceeded() {
	r.lastSuccess.SetToCurrentTime()
}

// Reset drops all per-site gauges, so sites that disappeared are not exported.
func (r *Recorder) Reset() {
	r.idleSeconds.Reset()
	r.recentAverage.Reset()
}

// WriteTextfile writes all metrics in the text exposition format, suitable for
// the node exporter textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(fs afero.Fs, path string) error {
	families, err := r.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return fmt.Errorf("encoding metric %s: %w", family.GetName(), err)
		}
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating textfile directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp")
	if err := afero.WriteFile(fs, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing textfile: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("replacing textfile: %w", err)
	}
	return nil
}
