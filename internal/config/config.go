// Package config loads runtime settings from an optional YAML file and
// CASCADE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/cascade/internal/calendar"
)

// EnvPrefix is prepended to every environment key, e.g. CASCADE_DATABASE.
const EnvPrefix = "CASCADE"

// Config holds every runtime setting.
type Config struct {
	Timezone    string `mapstructure:"timezone"`
	Database    string `mapstructure:"database"`
	PlanFile    string `mapstructure:"plan_file"`
	Concurrency int    `mapstructure:"concurrency"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Notify      Notify `mapstructure:"notify"`
	Jobs        Jobs   `mapstructure:"jobs"`
}

// Notify configures the notification dispatcher.
type Notify struct {
	TelegramToken string `mapstructure:"telegram_token"`
	QueueSize     int    `mapstructure:"queue_size"`
}

// Jobs holds the local fire times of the scheduled jobs.
type Jobs struct {
	DailyReturns string `mapstructure:"daily_returns"` // HH:MM
	LedgerStats  string `mapstructure:"ledger_stats"`  // HH:MM
	Reconcile    string `mapstructure:"reconcile"`     // D HH:MM
}

// Defaults applied before the file and environment are read.
var defaults = map[string]any{
	"timezone":              calendar.DefaultTimezone,
	"database":              "cascade.db",
	"plan_file":             "",
	"concurrency":           1,
	"metrics_addr":          "",
	"notify.telegram_token": "",
	"notify.queue_size":     256,
	"jobs.daily_returns":    "00:00",
	"jobs.ledger_stats":     "02:00",
	"jobs.reconcile":        "1 03:00",
}

// Load reads configuration. An empty path searches for cascade.yaml in the
// working directory and $HOME; a missing file there is not an error. An
// explicit path must exist. Flags bound through flags override both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cascade")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if f := flags.Lookup("db"); f != nil {
			if err := v.BindPFlag("database", f); err != nil {
				return nil, fmt.Errorf("bind flag db: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and time formats.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("config: database is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("config: notify.queue_size must be >= 1, got %d", c.Notify.QueueSize)
	}
	if _, err := calendar.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseClock(c.Jobs.DailyReturns); err != nil {
		return fmt.Errorf("config: jobs.daily_returns: %w", err)
	}
	if _, err := ParseClock(c.Jobs.LedgerStats); err != nil {
		return fmt.Errorf("config: jobs.ledger_stats: %w", err)
	}
	if _, err := ParseMonthly(c.Jobs.Reconcile); err != nil {
		return fmt.Errorf("config: jobs.reconcile: %w", err)
	}
	return nil
}

// Clock is a local time of day.
type Clock struct {
	Hour   int
	Minute int
}

// Monthly is a local time on a fixed day of the month.
type Monthly struct {
	Day int
	Clock
}

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// ParseMonthly parses "D HH:MM" with D in 1..28.
func ParseMonthly(s string) (Monthly, error) {
	d, rest, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return Monthly{}, fmt.Errorf("invalid monthly time %q: want \"D HH:MM\"", s)
	}
	day, err := strconv.Atoi(d)
	if err != nil || day < 1 || day > 28 {
		return Monthly{}, fmt.Errorf("invalid day of month in %q: want 1..28", s)
	}
	c, err := ParseClock(rest)
	if err != nil {
		return Monthly{}, err
	}
	return Monthly{Day: day, Clock: c}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
