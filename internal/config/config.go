// Package config loads service settings from a YAML file and RESALE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AppConfig holds process-wide settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Development bool   `mapstructure:"development"`
}

// AlertsConfig controls reconciliation
type AlertsConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Location       string        `mapstructure:"location"`
	CurrencySymbol string        `mapstructure:"currency_symbol"`
}

// MaintenanceConfig controls alert retention
type MaintenanceConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	Interval      time.Duration `mapstructure:"interval"`
	PurgeResolved bool          `mapstructure:"purge_resolved"`
}

// StorageConfig selects the entity store
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// NATSConfig configures the optional NATS connection
type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SMTPConfig configures the optional email channel
type SMTPConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

// NotifyConfig holds notification templates and channels
type NotifyConfig struct {
	SubjectTemplate string     `mapstructure:"subject_template"`
	BodyTemplate    string     `mapstructure:"body_template"`
	MaxAttempts     int        `mapstructure:"max_attempts"`
	SMTP            SMTPConfig `mapstructure:"smtp"`
}

// Config is the full service configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Storage     StorageConfig     `mapstructure:"storage"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "resale-alerts")
	v.SetDefault("app.development", false)

	v.SetDefault("alerts.interval", 30*time.Minute)
	v.SetDefault("alerts.location", "UTC")
	v.SetDefault("alerts.currency_symbol", "$")

	v.SetDefault("maintenance.retention", 30*24*time.Hour)
	v.SetDefault("maintenance.interval", 24*time.Hour)
	v.SetDefault("maintenance.purge_resolved", false)

	v.SetDefault("storage.sqlite_path", "resale.db")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.smtp.enabled", false)
	v.SetDefault("notify.smtp.port", 587)
}

// RegisterFlags defines command-line overrides named after their configuration keys
func RegisterFlags(flags *pflag.FlagSet) {
	flags.Bool("app.development", false, "use the development logger")
	flags.Duration("alerts.interval", 30*time.Minute, "time between reconciliation passes")
	flags.String("alerts.location", "UTC", "IANA time zone that decides the business day")
	flags.String("alerts.currency_symbol", "$", "symbol prefixed to amounts in alert messages")
	flags.Bool("maintenance.purge_resolved", false, "delete resolved alerts on every cleanup sweep")
	flags.String("storage.sqlite_path", "resale.db", "path of the SQLite database")
	flags.Bool("nats.enabled", false, "connect to NATS for alert publishing and commands")
	flags.String("nats.url", "nats://127.0.0.1:4222", "NATS server URL")
}

// Load reads config.yaml from the given directories (./config and . when none are given).
// A missing file is not an error; defaults and environment variables still apply.
func Load(paths ...string) (*Config, error) {
	return LoadWithFlags(nil, paths...)
}

// LoadWithFlags is Load with command-line flags taking precedence over every other source.
// Only flags the user actually set override the file and environment.
func LoadWithFlags(flags *pflag.FlagSet, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("RESALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late
func (c *Config) Validate() error {
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be positive, got %s", c.Alerts.Interval)
	}
	if c.Maintenance.Retention <= 0 {
		return fmt.Errorf("maintenance.retention must be positive, got %s", c.Maintenance.Retention)
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive, got %s", c.Maintenance.Interval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Notify.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts must be at least 1, got %d", c.Notify.MaxAttempts)
	}
	if c.Notify.SMTP.Enabled {
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			return errors.New("notify.smtp.host and notify.smtp.from are required when smtp is enabled")
		}
	}
	return nil
}

// Location resolves the business time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Alerts.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid alerts.location %q: %w", c.Alerts.Location, err)
	}
	return loc, nil
}
