package collector

import (
	"bytes"
	"context"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/store"
	"twcc-gpu-monitor/pkg/twcc"
)

var _ = Describe("Scheduled collection", func() {
	var c *Collector

	BeforeEach(func() {
		c = &Collector{
			API: &fakeAPI{
				projects:    map[string]twcc.ID{"GPU-LAB": "77"},
				sites:       []twcc.DtoSite{site("3001", twcc.ReadyStatus, "alice", "")},
				utilization: map[twcc.ID]monitoring.Series{"3001": {sample("0.0", 0)}},
			},
			Store:       store.NewFile(afero.NewMemMapFs(), "/report.json"),
			ProjectName: "GPU-LAB",
			Log:         logr.Discard(),
			Out:         &bytes.Buffer{},
		}
	})

	It("should reject an invalid schedule", func() {
		err := c.RunScheduled(context.Background(), "every now and then")
		Expect(err).To(HaveOccurred())
	})

	It("should run passes until the context is done", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		defer cancel()

		Expect(c.RunScheduled(ctx, "@every 1s")).To(Succeed())

		exists, err := afero.Exists(c.Store.Fs, "/report.json")
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeTrue())
	})
})
