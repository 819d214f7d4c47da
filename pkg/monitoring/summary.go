package monitoring

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary condenses one site's series for reporting.
type Summary struct {
	Samples       int
	Latest        time.Time
	Peak          decimal.Decimal
	RecentAverage decimal.Decimal
	IdleDuration  time.Duration
}

// Summarize computes the idle duration of samples together with the peak
// utilization and the mean of the most recent samples. A non-positive recent
// averages over the whole series.
func Summarize(samples Series, thresholdPercent float64, recent int) (Summary, error) {
	idle, err := MaxIdleDuration(samples, thresholdPercent)
	if err != nil {
		return Summary{}, err
	}
	if recent <= 0 || recent > len(samples) {
		recent = len(samples)
	}

	sorted := samples.SortedDesc()
	buffer := NewBuffer(int64(recent))
	peak := sorted[0].GPUUtil
	// oldest first so the ring ends up holding the latest values
	for i := len(sorted) - 1; i >= 0; i-- {
		buffer.Add(sorted[i].GPUUtil)
		if sorted[i].GPUUtil.GreaterThan(peak) {
			peak = sorted[i].GPUUtil
		}
	}

	return Summary{
		Samples:       len(samples),
		Latest:        sorted[0].Timestamp.Time,
		Peak:          peak,
		RecentAverage: buffer.Average(),
		IdleDuration:  idle,
	}, nil
}
