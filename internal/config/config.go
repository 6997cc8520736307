package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // shop time zone without relying on the host zoneinfo

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/DanielSantin/site-barbearia-sub000/internal/slots"
	"gopkg.in/yaml.v3"
)

// EnvPath names the env var that overrides the config file location.
const EnvPath = "BARBEARIA_CONFIG_PATH"

type Config struct {
	Server struct {
		Address             string   `yaml:"address"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		CORSOrigins         []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`

	Schedule struct {
		Timezone       string   `yaml:"timezone"`
		FirstSlot      string   `yaml:"first_slot"`
		LastSlot       string   `yaml:"last_slot"`
		LunchStart     string   `yaml:"lunch_start"`
		LunchEnd       string   `yaml:"lunch_end"`
		ClosedWeekdays []string `yaml:"closed_weekdays"`
	} `yaml:"schedule"`

	Booking struct {
		MinLeadMinutes   int      `yaml:"min_lead_minutes"`
		MaxAdvanceMonths int      `yaml:"max_advance_months"`
		MaxActivePerUser int      `yaml:"max_active_per_user"`
		Services         []string `yaml:"services"`
		ComboFirst       string   `yaml:"combo_first"`
		ComboSecond      string   `yaml:"combo_second"`
	} `yaml:"booking"`

	Cancellation struct {
		TooSoonMinutes int `yaml:"too_soon_minutes"`
		LateMinutes    int `yaml:"late_minutes"`
		MaxStrikes     int `yaml:"max_strikes"`
	} `yaml:"cancellation"`

	Rollback struct {
		MaxAttempts int   `yaml:"max_attempts"`
		BackoffMS   []int `yaml:"backoff_ms"`
	} `yaml:"rollback"`

	Audit struct {
		QueueSize           int    `yaml:"queue_size"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
		EscalateAfter       int    `yaml:"escalate_after"`
		DefaultPageSize     int    `yaml:"default_page_size"`
		MaxPageSize         int    `yaml:"max_page_size"`
		RetentionDays       int    `yaml:"retention_days"`
		RetentionSchedule   string `yaml:"retention_schedule"`
	} `yaml:"audit"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Schedule      string `yaml:"schedule"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	RateLimit struct {
		Enabled       bool   `yaml:"enabled"`
		Requests      int    `yaml:"requests"`
		WindowSeconds int    `yaml:"window_seconds"`
		Prefix        string `yaml:"prefix"`
	} `yaml:"rate_limit"`

	Alerts struct {
		Telegram struct {
			BotToken string  `yaml:"bot_token"`
			ChatIDs  []int64 `yaml:"chat_ids"`
		} `yaml:"telegram"`
	} `yaml:"alerts"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// Path returns the config file location from the environment.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
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
	cfg.applyDefaults()

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if _, err := cfg.Rules(); err != nil {
		return nil, err
	}

	if cfg.Storage.Driver == "sqlite" {
		if err = os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/barbearia.db"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/Sao_Paulo"
	}
	if c.Schedule.FirstSlot == "" {
		c.Schedule.FirstSlot = "10:00"
	}
	if c.Schedule.LastSlot == "" {
		c.Schedule.LastSlot = "19:30"
	}
	if c.Schedule.LunchStart == "" && c.Schedule.LunchEnd == "" {
		c.Schedule.LunchStart = "12:00"
		c.Schedule.LunchEnd = "12:30"
	}
	if c.Schedule.ClosedWeekdays == nil {
		c.Schedule.ClosedWeekdays = []string{"sunday"}
	}
	if len(c.Booking.Services) == 0 {
		c.Booking.Services = []string{"Cabelo", "Barba"}
	}
	if c.Booking.ComboFirst == "" {
		c.Booking.ComboFirst = "Cabelo"
	}
	if c.Booking.ComboSecond == "" {
		c.Booking.ComboSecond = "Barba"
	}
	if c.Audit.RetentionSchedule == "" {
		c.Audit.RetentionSchedule = "0 3 * * *"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "30 3 * * *"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.RateLimit.Prefix == "" {
		c.RateLimit.Prefix = "barbearia:ratelimit"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8081
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// Location loads the shop's time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Rules converts the schedule section into default-grid rules.
func (c *Config) Rules() (slots.Rules, error) {
	r := slots.DefaultRules()

	var err error
	if r.OpenIndex, err = model.ParseIndexTime(c.Schedule.FirstSlot); err != nil {
		return slots.Rules{}, fmt.Errorf("schedule.first_slot: %w", err)
	}
	if r.LastIndex, err = model.ParseIndexTime(c.Schedule.LastSlot); err != nil {
		return slots.Rules{}, fmt.Errorf("schedule.last_slot: %w", err)
	}

	// "none" disables the lunch window.
	if strings.EqualFold(c.Schedule.LunchStart, "none") || c.Schedule.LunchStart == "" || c.Schedule.LunchEnd == "" {
		r.LunchStart, r.LunchEnd = -1, -1
	} else {
		if r.LunchStart, err = model.ParseIndexTime(c.Schedule.LunchStart); err != nil {
			return slots.Rules{}, fmt.Errorf("schedule.lunch_start: %w", err)
		}
		if r.LunchEnd, err = model.ParseIndexTime(c.Schedule.LunchEnd); err != nil {
			return slots.Rules{}, fmt.Errorf("schedule.lunch_end: %w", err)
		}
	}

	r.ClosedWeekdays = r.ClosedWeekdays[:0:0]
	for _, name := range c.Schedule.ClosedWeekdays {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return slots.Rules{}, fmt.Errorf("schedule.closed_weekdays: unknown weekday %q", name)
		}
		r.ClosedWeekdays = append(r.ClosedWeekdays, wd)
	}

	if err := r.Validate(); err != nil {
		return slots.Rules{}, fmt.Errorf("schedule: %w", err)
	}
	return r, nil
}

func (c *Config) MinLead() time.Duration {
	if c.Booking.MinLeadMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.MinLeadMinutes) * time.Minute
}

func (c *Config) MaxAdvanceMonths() int {
	if c.Booking.MaxAdvanceMonths <= 0 {
		return 3
	}
	return c.Booking.MaxAdvanceMonths
}

func (c *Config) MaxActivePerUser() int {
	if c.Booking.MaxActivePerUser <= 0 {
		return 2
	}
	return c.Booking.MaxActivePerUser
}

func (c *Config) TooSoonWindow() time.Duration {
	if c.Cancellation.TooSoonMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Cancellation.TooSoonMinutes) * time.Minute
}

func (c *Config) LateWindow() time.Duration {
	if c.Cancellation.LateMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.Cancellation.LateMinutes) * time.Minute
}

func (c *Config) MaxStrikes() int {
	if c.Cancellation.MaxStrikes <= 0 {
		return 5
	}
	return c.Cancellation.MaxStrikes
}

func (c *Config) RollbackAttempts() int {
	if c.Rollback.MaxAttempts <= 0 {
		return 3
	}
	return c.Rollback.MaxAttempts
}

func (c *Config) RollbackBackoff() []time.Duration {
	if len(c.Rollback.BackoffMS) == 0 {
		return []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, time.Second}
	}
	out := make([]time.Duration, len(c.Rollback.BackoffMS))
	for i, ms := range c.Rollback.BackoffMS {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

func (c *Config) AuditWriteTimeout() time.Duration {
	if c.Audit.WriteTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Audit.WriteTimeoutSeconds) * time.Second
}

func (c *Config) AuditRetention() time.Duration {
	if c.Audit.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

func (c *Config) RateLimitWindow() time.Duration {
	if c.RateLimit.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}
