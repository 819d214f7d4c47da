package monitoring

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultThresholdPercent is the utilization at or below which a GPU counts as idle.
const DefaultThresholdPercent = 5.0

var ErrEmptySeries = errors.New("utilization series is empty")

// MaxIdleDuration returns how long the site has been idle up to its latest
// sample. Walking backward from the latest sample, the idle run extends over
// every sample at or below thresholdPercent and stops at the first one above it.
func MaxIdleDuration(samples Series, thresholdPercent float64) (time.Duration, error) {
	if len(samples) == 0 {
		return 0, ErrEmptySeries
	}
	threshold := decimal.NewFromFloat(thresholdPercent)

	sorted := samples.SortedDesc()
	endTime := sorted[0].Timestamp.Time
	idleStartTime := endTime
	for _, sample := range sorted[1:] {
		if sample.Exceeds(threshold) {
			break
		}
		idleStartTime = sample.Timestamp.Time
	}
	return endTime.Sub(idleStartTime), nil
}

// IsIdle reports whether no sample within window of the latest sample exceeds
// thresholdPercent. A zero window covers the whole series.
func IsIdle(samples Series, thresholdPercent float64, window time.Duration) (bool, error) {
	if len(samples) == 0 {
		return false, ErrEmptySeries
	}
	threshold := decimal.NewFromFloat(thresholdPercent)

	endTime := samples[0].Timestamp.Time
	startTime := endTime
	for _, sample := range samples[1:] {
		if sample.Timestamp.After(endTime) {
			endTime = sample.Timestamp.Time
		}
		if sample.Timestamp.Before(startTime) {
			startTime = sample.Timestamp.Time
		}
	}
	if window > 0 {
		startTime = endTime.Add(-window)
	}

	for _, sample := range samples {
		if sample.Timestamp.Before(startTime) {
			continue
		}
		if sample.Exceeds(threshold) {
			return false, nil
		}
	}
	return true, nil
}
