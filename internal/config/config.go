package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Collect    CollectConfig    `yaml:"collect" mapstructure:"collect"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Sources    []SourceConfig   `yaml:"sources" mapstructure:"sources"`
	Calendar   CalendarConfig   `yaml:"calendar" mapstructure:"calendar"`
	JSL        JSLConfig        `yaml:"jsl" mapstructure:"jsl"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CollectConfig configures the per-bond collection pool.
type CollectConfig struct {
	Mode         string `yaml:"mode" mapstructure:"mode"`
	Workers      int    `yaml:"workers" mapstructure:"workers"`
	BondLimit    int    `yaml:"bond_limit" mapstructure:"bond_limit"`
	HistoryStart string `yaml:"history_start" mapstructure:"history_start"`
}

// FetchConfig configures the robust call wrapper and HTTP client.
type FetchConfig struct {
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	PostDelayMs      int    `yaml:"post_delay_ms" mapstructure:"post_delay_ms"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
}

// SourceConfig declares one upstream provider.
type SourceConfig struct {
	ID             string `yaml:"id" mapstructure:"id"`
	Name           string `yaml:"name" mapstructure:"name"`
	Priority       int    `yaml:"priority" mapstructure:"priority"`
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	RequestDelayMs int    `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
}

// CalendarConfig configures the trading calendar lookup.
type CalendarConfig struct {
	LookbackMonths int    `yaml:"lookback_months" mapstructure:"lookback_months"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
}

// JSLConfig holds the snapshot provider session.
type JSLConfig struct {
	CookieFile string `yaml:"cookie_file" mapstructure:"cookie_file"`
	Cookie     string `yaml:"cookie" mapstructure:"cookie"`
}

// ReportConfig configures report artifacts.
type ReportConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	S3Bucket   string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	S3Region   string `yaml:"s3_region" mapstructure:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint" mapstructure:"s3_endpoint"`
	S3Prefix   string `yaml:"s3_prefix" mapstructure:"s3_prefix"`
}

// ServerConfig configures the dashboard query API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the archive daemon.
type ScheduleConfig struct {
	ArchiveCron string `yaml:"archive_cron" mapstructure:"archive_cron"`
	QualityCron string `yaml:"quality_cron" mapstructure:"quality_cron"`
	MonitorCron string `yaml:"monitor_cron" mapstructure:"monitor_cron"`
}

// MonitoringConfig configures health alerts. Alerts are only delivered
// when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinQualityScore      float64 `yaml:"min_quality_score" mapstructure:"min_quality_score"`
	MaxStaleDays         int     `yaml:"max_stale_days" mapstructure:"max_stale_days"`
}

// DefaultSources returns the built-in provider set used when the config
// file declares none.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{ID: "jsl", Name: "Jisilu", Priority: 1, Enabled: true, RequestDelayMs: 300, MaxRetries: 3, TimeoutSecs: 10},
		{ID: "eastmoney", Name: "Eastmoney", Priority: 2, Enabled: true, RequestDelayMs: 500, MaxRetries: 3, TimeoutSecs: 15},
		{ID: "sina", Name: "Sina Finance", Priority: 3, Enabled: true, RequestDelayMs: 200, MaxRetries: 3, TimeoutSecs: 10},
		{ID: "tencent", Name: "Tencent Finance", Priority: 4, Enabled: true, RequestDelayMs: 400, MaxRetries: 3, TimeoutSecs: 10},
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	v.SetEnvPrefix("CBDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/cbdata.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("collect.mode", "archive")
	v.SetDefault("collect.workers", 5)
	v.SetDefault("collect.bond_limit", 0)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.initial_backoff_ms", 2000)
	v.SetDefault("fetch.post_delay_ms", 500)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("calendar.lookback_months", 12)
	v.SetDefault("jsl.cookie_file", "config/jsl_cookie.txt")
	v.SetDefault("report.dir", "data")
	v.SetDefault("report.s3_region", "us-east-1")
	v.SetDefault("report.s3_prefix", "cbdata/")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.archive_cron", "0 30 17 * * MON-FRI")
	v.SetDefault("schedule.quality_cron", "0 0 18 * * MON-FRI")
	v.SetDefault("schedule.monitor_cron", "0 15 18 * * *")
	v.SetDefault("monitoring.lookback_window_hours", 72)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_quality_score", 60)
	v.SetDefault("monitoring.max_stale_days", 5)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}

	return &cfg, nil
}

// Validate checks the settings required by every command.
func (c *Config) Validate() error {
	var missing []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		missing = append(missing, fmt.Sprintf("store.driver %q is not supported (sqlite, postgres)", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required for postgres")
	}
	if c.Collect.Workers < 1 {
		missing = append(missing, "collect.workers must be >= 1")
	}
	if c.Fetch.MaxAttempts < 1 {
		missing = append(missing, "fetch.max_attempts must be >= 1")
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.ID == "" {
			missing = append(missing, "sources: id is required")
			continue
		}
		if seen[s.ID] {
			missing = append(missing, fmt.Sprintf("sources: duplicate id %q", s.ID))
		}
		seen[s.ID] = true
		if s.MaxRetries < 1 {
			missing = append(missing, fmt.Sprintf("sources.%s.max_retries must be >= 1", s.ID))
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
