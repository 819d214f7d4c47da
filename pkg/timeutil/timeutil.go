package timeutil

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
	"github.com/xhit/go-str2duration/v2"
)

// TimestampLayout is the layout used by the TWCC API and the persisted report.
const TimestampLayout = "2006-01-02T15:04:05Z"

var (
	durationToken = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zµμ]+)`)

	durationUnits = map[string]string{
		"w": "w", "wk": "w", "wks": "w", "week": "w", "weeks": "w",
		"d": "d", "day": "d", "days": "d",
		"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",
		"m": "m", "min": "m", "mins": "m", "minute": "m", "minutes": "m",
		"s": "s", "sec": "s", "secs": "s", "second": "s", "seconds": "s",
		"ms": "ms", "msec": "ms", "millisecond": "ms", "milliseconds": "ms",
		"us": "us", "µs": "us", "μs": "us", "microsecond": "us", "microseconds": "us",
		"ns": "ns", "nanosecond": "ns", "nanoseconds": "ns",
	}
)

// NormalizeInstant converts value into a UTC instant. It accepts time.Time,
// *time.Time and free-form date strings ("2024-05-01T10:00:00Z", "2 days ago",
// "12 Feb 2015 10:56 PM"). Strings without a zone are read as UTC.
// ok is false for unsupported types and unparseable strings.
func NormalizeInstant(value any) (t time.Time, ok bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		return parseInstant(v)
	default:
		return time.Time{}, false
	}
}

func parseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}

	parsed, err := dps.Parse(&dps.Configuration{DefaultTimezone: time.UTC}, s)
	if err != nil || parsed.Time.IsZero() {
		return time.Time{}, false
	}
	return parsed.Time.UTC(), true
}

// NormalizeDuration converts value into a duration. It accepts time.Duration,
// *time.Duration and human strings such as "7 days", "2 hours 30 minutes",
// "1 week and 2 days", "1.5h" or "3d12h".
// ok is false for unsupported types and unparseable strings.
func NormalizeDuration(value any) (d time.Duration, ok bool) {
	switch v := value.(type) {
	case time.Duration:
		return v, true
	case *time.Duration:
		if v == nil {
			return 0, false
		}
		return *v, true
	case string:
		return parseDuration(v)
	default:
		return 0, false
	}
}

// DurationOr returns the normalized duration of value, or fallback when value
// cannot be normalized.
func DurationOr(value any, fallback time.Duration) time.Duration {
	if d, ok := NormalizeDuration(value); ok {
		return d
	}
	return fallback
}

func parseDuration(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if d, err := str2duration.ParseDuration(s); err == nil {
		return d, true
	}

	matches := durationToken.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}

	// anything left besides separators means the input was not a duration
	rest := strings.ReplaceAll(durationToken.ReplaceAllString(s, " "), ",", " ")
	for _, word := range strings.Fields(rest) {
		if word != "and" {
			return 0, false
		}
	}

	var compact strings.Builder
	for _, m := range matches {
		unit, known := durationUnits[m[2]]
		if !known {
			return 0, false
		}
		compact.WriteString(m[1])
		compact.WriteString(unit)
	}

	d, err := str2duration.ParseDuration(compact.String())
	if err != nil {
		return 0, false
	}
	return d, true
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatDuration renders d as "H:MM:SS", prefixed by "N day(s), " when d spans
// whole days. Sub-second remainders are shown as microseconds.
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}

	day := 24 * time.Hour
	days := d / day
	d -= days * day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	micros := (d - seconds*time.Second) / time.Microsecond

	clock := fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	if micros > 0 {
		clock += fmt.Sprintf(".%06d", micros)
	}

	switch days {
	case 0:
		return sign + clock
	case 1:
		return sign + "1 day, " + clock
	default:
		return fmt.Sprintf("%s%d days, %s", sign, days, clock)
	}
}
