package monitoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"twcc-gpu-monitor/pkg/timeutil"
)

// Timestamp is a UTC instant serialized as "YYYY-MM-DDTHH:MM:SSZ".
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + timeutil.FormatTimestamp(t.Time) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, ok := timeutil.NormalizeInstant(raw)
	if !ok {
		return fmt.Errorf("cannot parse timestamp %q", raw)
	}
	t.Time = parsed
	return nil
}

// Sample is a single GPU utilization reading of a site.
type Sample struct {
	GPUUtil   decimal.Decimal `json:"gpu_util"`
	Timestamp Timestamp       `json:"timestamp"`
	Unit      string          `json:"unit"`
}

// Exceeds reports whether the utilization is strictly above threshold.
func (s Sample) Exceeds(threshold decimal.Decimal) bool {
	return s.GPUUtil.GreaterThan(threshold)
}

// Series holds the utilization samples of one site. Order is not guaranteed.
type Series []Sample

// SortedDesc returns a copy of the series ordered from the latest sample to the
// earliest. Samples sharing a timestamp keep their relative order.
func (s Series) SortedDesc() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	return out
}

// Report maps user display name to site id to the site's utilization series.
type Report map[string]map[string]Series

func NewReport() Report {
	return Report{}
}

// Add stores series for the site, replacing anything stored before.
func (r Report) Add(user string, siteID string, series Series) {
	if series == nil {
		series = Series{}
	}
	sites, ok := r[user]
	if !ok {
		sites = map[string]Series{}
		r[user] = sites
	}
	sites[siteID] = series
}

// Users returns the user display names in sorted order.
func (r Report) Users() []string {
	users := make([]string, 0, len(r))
	for user := range r {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// SiteIDs returns the site ids of user in sorted order.
func (r Report) SiteIDs(user string) []string {
	sites := r[user]
	ids := make([]string, 0, len(sites))
	for id := range sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r Report) SiteCount() int {
	n := 0
	for _, sites := range r {
		n += len(sites)
	}
	return n
}
