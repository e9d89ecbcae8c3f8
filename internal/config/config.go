package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		APIExtra        string `yaml:"api_extra"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		OAuth           struct {
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			TokenURL     string   `yaml:"token_url"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"oauth"`
	} `yaml:"backend"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Journal struct {
		Path   string `yaml:"path"`
		Backup struct {
			Enabled       bool   `yaml:"enabled"`
			Path          string `yaml:"path"`
			IntervalHours int    `yaml:"interval_hours"`
			RetentionDays int    `yaml:"retention_days"`
		} `yaml:"backup"`
	} `yaml:"journal"`

	Booking struct {
		Timezone                 string `yaml:"timezone"`
		StepMinutes              int    `yaml:"step_minutes"`
		AutoResetSeconds         int    `yaml:"auto_reset_seconds"`
		CustomerSearchDebounceMS int    `yaml:"customer_search_debounce_ms"`
	} `yaml:"booking"`

	Calendar struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
		InitialRangeDays    int `yaml:"initial_range_days"`
	} `yaml:"calendar"`

	Notifications struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"notifications"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}
	if _, err = cfg.Location(); err != nil {
		return nil, err
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/agenda.db"
	}
	if cfg.Journal.Path != ":memory:" {
		if err = os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Location is the business timezone. Empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("booking.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.Backend.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Backend.CacheTTLSeconds) * time.Second
}

// OAuthEnabled reports whether client-credentials auth is configured.
func (c *Config) OAuthEnabled() bool {
	o := c.Backend.OAuth
	return o.ClientID != "" && o.ClientSecret != "" && o.TokenURL != ""
}

func (c *Config) StepMinutes() int {
	if c.Booking.StepMinutes <= 0 {
		return 15
	}
	return c.Booking.StepMinutes
}

func (c *Config) AutoReset() time.Duration {
	if c.Booking.AutoResetSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Booking.AutoResetSeconds) * time.Second
}

func (c *Config) SearchDebounce() time.Duration {
	if c.Booking.CustomerSearchDebounceMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.Booking.CustomerSearchDebounceMS) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	if c.Calendar.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Calendar.PollIntervalSeconds) * time.Second
}

func (c *Config) InitialRangeDays() int {
	if c.Calendar.InitialRangeDays <= 0 {
		return 7
	}
	return c.Calendar.InitialRangeDays
}

// BackupSchedule returns the journal backup directory, interval and
// retention with defaults applied.
func (c *Config) BackupSchedule() (string, time.Duration, time.Duration) {
	b := c.Journal.Backup
	dir := b.Path
	if dir == "" {
		dir = "backups"
	}
	hours := b.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	days := b.RetentionDays
	if days <= 0 {
		days = 14
	}
	return dir, time.Duration(hours) * time.Hour, time.Duration(days) * 24 * time.Hour
}

func (c *Config) NotificationRate() (float64, int) {
	r, b := c.Notifications.RatePerSecond, c.Notifications.Burst
	if r <= 0 {
		r = 2
	}
	if b <= 0 {
		b = 4
	}
	return r, b
}
