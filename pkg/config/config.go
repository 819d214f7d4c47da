package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"twcc-gpu-monitor/pkg/cache"
	"twcc-gpu-monitor/pkg/monitoring"
	"twcc-gpu-monitor/pkg/store"
	"twcc-gpu-monitor/pkg/timeutil"
	"twcc-gpu-monitor/pkg/twcc"
)

const EnvPrefix = "TWCC"

// ErrMissing is returned when a required key has no value.
var ErrMissing = errors.New("missing required configuration")

const (
	defaultCollectWindow   = 7 * 24 * time.Hour
	defaultRecentSamples   = 12
	defaultNotifyIdleAfter = 24 * time.Hour
)

type Config struct {
	APIKey      string
	ProjectName string
	BaseURL     string
	ReportPath  string

	CollectWindow    time.Duration
	ThresholdPercent float64
	// IdleWindow is zero when unset.
	IdleWindow    time.Duration
	RecentSamples int

	Schedule        string
	CacheTTL        time.Duration
	MetricsTextfile string

	Retry  twcc.RetryPolicy
	Notify Notify
}

type Notify struct {
	SMTPHost           string
	SMTPPort           string
	From               string
	FromDisplayName    string
	ReplyTo            string
	ReplyToDisplayName string
	Username           string
	Password           string
	// To overrides the site owner's address when set.
	To        string
	IdleAfter time.Duration
}

// Enabled reports whether idle notifications should be sent.
func (n Notify) Enabled() bool {
	return n.SMTPHost != "" && n.From != ""
}

func setDefaults(v *viper.Viper) {
	retry := twcc.DefaultRetryPolicy()

	v.SetDefault("api_key", "")
	v.SetDefault("project_name", "")
	v.SetDefault("base_url", twcc.DefaultBaseURL)
	v.SetDefault("report_path", store.DefaultReportPath)
	v.SetDefault("collect_window", "7 days")
	v.SetDefault("threshold_percent", monitoring.DefaultThresholdPercent)
	v.SetDefault("idle_window", "")
	v.SetDefault("recent_samples", defaultRecentSamples)
	v.SetDefault("schedule", "")
	v.SetDefault("cache_ttl", "10 minutes")
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.backoff_base", "2s")
	v.SetDefault("retry.backoff_max", "2 minutes")
	v.SetDefault("notify.smtp_host", "")
	v.SetDefault("notify.smtp_port", "587")
	v.SetDefault("notify.from", "")
	v.SetDefault("notify.from_display_name", "TWCC GPU Monitor")
	v.SetDefault("notify.reply_to", "")
	v.SetDefault("notify.reply_to_display_name", "")
	v.SetDefault("notify.username", "")
	v.SetDefault("notify.password", "")
	v.SetDefault("notify.to", "")
	v.SetDefault("notify.idle_after", "1 day")
}

// NewViper returns a viper instance reading configFile, or config.yaml from the
// working directory and $HOME/.config/twcc-gpu-monitor/ when configFile is empty.
// Environment variables prefixed with TWCC_ override file values; nested keys
// use "_" in place of ".", e.g. TWCC_RETRY_MAX_ATTEMPTS.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "twcc-gpu-monitor"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// LoadEnvFile loads variables from a .env file into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration from v. Unparseable durations fall back to
// their defaults.
func Load(v *viper.Viper) Config {
	retry := twcc.DefaultRetryPolicy()
	retry.MaxAttempts = v.GetInt("retry.max_attempts")
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	retry.Backoff.BaseDuration = timeutil.DurationOr(v.GetString("retry.backoff_base"), retry.Backoff.BaseDuration)
	retry.Backoff.MaxDuration = timeutil.DurationOr(v.GetString("retry.backoff_max"), retry.Backoff.MaxDuration)

	threshold := v.GetFloat64("threshold_percent")
	if threshold < 0 {
		threshold = monitoring.DefaultThresholdPercent
	}

	return Config{
		APIKey:           v.GetString("api_key"),
		ProjectName:      v.GetString("project_name"),
		BaseURL:          v.GetString("base_url"),
		ReportPath:       v.GetString("report_path"),
		CollectWindow:    timeutil.DurationOr(v.GetString("collect_window"), defaultCollectWindow),
		ThresholdPercent: threshold,
		IdleWindow:       timeutil.DurationOr(v.GetString("idle_window"), 0),
		RecentSamples:    v.GetInt("recent_samples"),
		Schedule:         v.GetString("schedule"),
		CacheTTL:         timeutil.DurationOr(v.GetString("cache_ttl"), cache.DefaultExpiredTime),
		MetricsTextfile:  v.GetString("metrics_textfile"),
		Retry:            retry,
		Notify: Notify{
			SMTPHost:           v.GetString("notify.smtp_host"),
			SMTPPort:           v.GetString("notify.smtp_port"),
			From:               v.GetString("notify.from"),
			FromDisplayName:    v.GetString("notify.from_display_name"),
			ReplyTo:            v.GetString("notify.reply_to"),
			ReplyToDisplayName: v.GetString("notify.reply_to_display_name"),
			Username:           v.GetString("notify.username"),
			Password:           v.GetString("notify.password"),
			To:                 v.GetString("notify.to"),
			IdleAfter:          timeutil.DurationOr(v.GetString("notify.idle_after"), defaultNotifyIdleAfter),
		},
	}
}

// FromFile loads .env, then configFile and the environment, as the entry points do.
func FromFile(configFile string) (Config, error) {
	if err := LoadEnvFile(""); err != nil {
		return Config{}, err
	}
	v, err := NewViper(configFile)
	if err != nil {
		return Config{}, err
	}
	return Load(v), nil
}

// RequireCollector checks the keys the collector cannot run without.
func (c Config) RequireCollector() error {
	required := []struct {
		key   string
		value string
	}{
		{"api_key", c.APIKey},
		{"project_name", c.ProjectName},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s (env %s_%s)", ErrMissing, r.key, EnvPrefix, strings.ToUpper(r.key))
		}
	}
	return nil
}
