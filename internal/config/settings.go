// Package config loads CLI settings from reliable.yaml, an optional
// reliable.<ENVIRONMENT>.yaml overlay and RELIABLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/velmie/reliable/outbox"
)

const (
	configName = "reliable"
	envPrefix  = "RELIABLE"
)

// Settings is the full CLI configuration.
type Settings struct {
	Database      Database      `mapstructure:"database"`
	Tables        Tables        `mapstructure:"tables"`
	Outbox        Outbox        `mapstructure:"outbox"`
	Prune         Prune         `mapstructure:"prune"`
	Log           Log           `mapstructure:"log"`
	Observability Observability `mapstructure:"observability"`
}

type Database struct {
	Driver       string `mapstructure:"driver" validate:"required,oneof=mysql postgres"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

type Tables struct {
	Outbox      string `mapstructure:"outbox"`
	Idempotency string `mapstructure:"idempotency"`
	Counters    string `mapstructure:"counters"`
}

// Outbox is shared by every process that claims or sweeps the outbox.
// Dispatchers must claim with LeaseDuration, otherwise the sweep may expire entries under a live lease.
type Outbox struct {
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"gt=0"`
}

type Prune struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	Limit           int           `mapstructure:"limit" validate:"gt=0"`
	OutboxRetention time.Duration `mapstructure:"outbox_retention" validate:"gt=0"`
	LockName        string        `mapstructure:"lock_name" validate:"required"`
	Targets         []string      `mapstructure:"targets" validate:"min=1,dive,oneof=outbox idempotency ratelimit"`
}

type Log struct {
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// Observability enables OTLP tracing when TracingURL is set.
type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	TracingURL  string `mapstructure:"tracing_url"`
}

// Validate checks struct tags.
func (s *Settings) Validate() error {
	return validator.New().Struct(s)
}

var keys = []string{
	"database.driver",
	"database.dsn",
	"database.max_open_conns",
	"tables.outbox",
	"tables.idempotency",
	"tables.counters",
	"outbox.lease_duration",
	"prune.interval",
	"prune.limit",
	"prune.outbox_retention",
	"prune.lock_name",
	"prune.targets",
	"log.level",
	"log.development",
	"observability.service_name",
	"observability.tracing_url",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("outbox.lease_duration", outbox.DefaultLeaseDuration)
	v.SetDefault("prune.interval", time.Hour)
	v.SetDefault("prune.limit", 10000)
	v.SetDefault("prune.outbox_retention", 7*24*time.Hour)
	v.SetDefault("prune.lock_name", "reliable:prune")
	v.SetDefault("prune.targets", []string{"outbox", "idempotency", "ratelimit"})
	v.SetDefault("observability.service_name", "reliable")
}

// Load reads settings from dir (and the working directory), overlays the file for
// ENVIRONMENT, applies RELIABLE_* variables and validates the result.
func Load(dir string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetConfigName(configName)
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.SetConfigName(configName + "." + env)
		if err := v.MergeInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("config: merge %s: %w", env, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &s, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError

	return errors.As(err, &notFound)
}
