package collector

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/go-logr/zapr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"twcc-gpu-monitor/pkg/cache"
	"twcc-gpu-monitor/pkg/email"
	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/observability"
	"twcc-gpu-monitor/pkg/store"
	"twcc-gpu-monitor/pkg/twcc"
)

var passStart = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	projects    map[string]twcc.ID
	sites       []twcc.DtoSite
	utilization map[twcc.ID]monitoring.Series
	failSite    twcc.ID
	queries     []twcc.UtilizationQuery
	podCalls    int
}

func (f *fakeAPI) ResolveProject(ctx context.Context, name string) (twcc.ID, error) {
	id, ok := f.projects[name]
	if !ok {
		return "", twcc.ErrProjectNotFound
	}
	return id, nil
}

func (f *fakeAPI) ListSites(ctx context.Context, projectID twcc.ID) ([]twcc.DtoSite, error) {
	return f.sites, nil
}

func (f *fakeAPI) GetPodForSite(ctx context.Context, siteID twcc.ID) (*twcc.Pod, error) {
	f.podCalls++
	return &twcc.Pod{Name: "pod-" + siteID.String(), Status: "Running"}, nil
}

func (f *fakeAPI) GetUtilization(ctx context.Context, siteID twcc.ID, podName string, query twcc.UtilizationQuery) (monitoring.Series, error) {
	if siteID == f.failSite {
		return nil, &twcc.RequestError{Method: "GET", URL: "sites/" + siteID.String() + "/container/gpu/", StatusCode: 503}
	}
	f.queries = append(f.queries, query)
	return f.utilization[siteID], nil
}

type sentMail struct {
	to, subject string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) SendEmail(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

func sample(util string, offset time.Duration) monitoring.Sample {
	return monitoring.Sample{
		GPUUtil:   decimal.RequireFromString(util),
		Timestamp: monitoring.NewTimestamp(passStart.Add(-offset)),
		Unit:      "%",
	}
}

func site(id twcc.ID, status, displayName, mail string) twcc.DtoSite {
	return twcc.DtoSite{
		ID:     id,
		Name:   "site-" + id.String(),
		Status: status,
		User:   twcc.DtoUser{ID: "u-" + twcc.ID(displayName), Username: displayName, Email: mail, DisplayName: displayName},
	}
}

var _ = Describe("Collector", func() {
	var (
		api    *fakeAPI
		fs     afero.Fs
		out    *bytes.Buffer
		c      *Collector
		ctx    context.Context
		report = "/data/gpu_utilization_per_user.json"
	)

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeAPI{
			projects: map[string]twcc.ID{"GPU-LAB": "77"},
			sites: []twcc.DtoSite{
				site("3001", twcc.ReadyStatus, "王小明", "ming@example.com"),
				site("3002", "Stopped", "王小明", "ming@example.com"),
				site("3003", twcc.ReadyStatus, "alice", "alice@example.com"),
			},
			utilization: map[twcc.ID]monitoring.Series{
				"3001": {
					sample("0.0", 0),
					sample("1.0", 24*time.Hour),
					sample("2.0", 48*time.Hour),
					sample("90.0", 72*time.Hour),
				},
				"3003": {
					sample("80.0", 0),
					sample("0.0", time.Hour),
				},
			},
		}
		fs = afero.NewMemMapFs()
		out = &bytes.Buffer{}
		c = &Collector{
			API:              api,
			Store:            store.NewFile(fs, report),
			ProjectName:      "GPU-LAB",
			Log:              zapr.NewLogger(zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(GinkgoWriter), zap.DebugLevel))),
			ThresholdPercent: monitoring.DefaultThresholdPercent,
			Out:              out,
			now:              func() time.Time { return passStart },
		}
	})

	It("should collect ready sites grouped by owner", func() {
		result, err := c.Run(ctx)
		Expect(err).ToNot(HaveOccurred())

		Expect(result.Users()).To(Equal([]string{"alice", "王小明"}))
		Expect(result.SiteIDs("王小明")).To(Equal([]string{"3001"}))
		Expect(result["alice"]["3003"]).To(HaveLen(2))

		Expect(out.String()).To(Equal("Project ID: 77\n" +
			"Project Name: GPU-LAB\n" +
			"Total sites (same as total container): 3\n" +
			"Site 3002 is not ready, skipping.\n" +
			"GPU utilization data saved to " + report + "\n"))

		saved, err := c.Store.Load()
		Expect(err).ToNot(HaveOccurred())
		Expect(saved.Users()).To(Equal([]string{"alice", "王小明"}))
		Expect(saved["王小明"]["3001"]).To(HaveLen(4))
	})

	It("should query the trailing window ending at the start of the pass", func() {
		_, err := c.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(api.queries).To(HaveLen(2))
		for _, query := range api.queries {
			Expect(query.End).To(Equal(passStart))
			Expect(query.Window).To(Equal(7 * 24 * time.Hour))
		}

		c.Window = 2 * time.Hour
		_, err = c.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(api.queries[len(api.queries)-1].Window).To(Equal(2 * time.Hour))
	})

	It("should not write a report when a request fails", func() {
		api.failSite = "3003"

		_, err := c.Run(ctx)
		var requestErr *twcc.RequestError
		Expect(errors.As(err, &requestErr)).To(BeTrue())
		Expect(requestErr.StatusCode).To(Equal(503))

		exists, err := afero.Exists(fs, report)
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeFalse())
		Expect(out.String()).ToNot(ContainSubstring("saved to"))
	})

	It("should fail on an unknown project", func() {
		c.ProjectName = "NOPE"
		_, err := c.Run(ctx)
		Expect(errors.Is(err, twcc.ErrProjectNotFound)).To(BeTrue())
		Expect(out.String()).To(BeEmpty())
	})

	It("should stop when the context is canceled", func() {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Run(canceled)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())

		exists, _ := afero.Exists(fs, report)
		Expect(exists).To(BeFalse())
	})

	It("should save an empty report for a project without sites", func() {
		api.sites = nil
		result, err := c.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result).To(BeEmpty())

		data, err := afero.ReadFile(fs, report)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("{}\n"))
	})

	It("should reuse cached pods across passes", func() {
		cached := cache.NewTWCCCache(api, time.Minute)
		defer cached.Stop()
		c.API = cached

		_, err := c.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		_, err = c.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(api.podCalls).To(Equal(2))
	})

	Context("with metrics", func() {
		It("should record collection and idle metrics", func() {
			c.Metrics = observability.NewRecorder()
			c.MetricsTextfile = "/metrics/twcc.prom"

			_, err := c.Run(ctx)
			Expect(err).ToNot(HaveOccurred())

			Expect(testutil.GatherAndCount(c.Metrics.Registry, "twcc_gpu_idle_seconds")).To(Equal(2))
			data, err := afero.ReadFile(fs, "/metrics/twcc.prom")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`twcc_gpu_idle_seconds{site="3001",user="王小明"} 172800`))
			Expect(string(data)).To(ContainSubstring("twcc_sites_skipped_total 1"))
			Expect(string(data)).To(ContainSubstring("twcc_samples_fetched_total 6"))
		})
	})

	Context("with idle notifications", func() {
		var sender *fakeSender

		BeforeEach(func() {
			sender = &fakeSender{}
			c.Notifier = &email.Notifier{Sender: sender}
			c.NotifyAfter = 24 * time.Hour
		})

		It("should notify owners of sites idle long enough", func() {
			_, err := c.Run(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(sender.sent).To(Equal([]sentMail{
				{to: "ming@example.com", subject: "[TWCC] GPU idle on site 3001 for 2 days, 0:00:00"},
			}))
		})

		It("should keep the report when sending fails", func() {
			sender.err = errors.New("connection refused")
			_, err := c.Run(ctx)
			Expect(err).ToNot(HaveOccurred())

			exists, _ := afero.Exists(fs, report)
			Expect(exists).To(BeTrue())
		})
	})
})
