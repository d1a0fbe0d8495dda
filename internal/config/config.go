// Package config loads settings from a YAML file, a .env file and the
// process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PARTIDAS_"

type Config struct {
	API       APIConfig       `yaml:"api"`
	Poller    PollerConfig    `yaml:"poller"`
	Actions   ActionsConfig   `yaml:"actions"`
	Creation  CreationConfig  `yaml:"creation"`
	View      ViewConfig      `yaml:"view"`
	Log       LogConfig       `yaml:"log"`
	DevServer DevServerConfig `yaml:"devserver"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// APIConfig points at the remote game service.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"` // 0 means no timeout
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Guarded  bool          `yaml:"guarded"`
}

type ActionsConfig struct {
	TrustEndResponse bool `yaml:"trust_end_response"`
}

// CreationConfig paces enrollment joins. JoinRate is joins per second; zero
// leaves them unpaced.
type CreationConfig struct {
	JoinRate  float64 `yaml:"join_rate"`
	JoinBurst int     `yaml:"join_burst"`
}

type ViewConfig struct {
	Bind      string `yaml:"bind"`
	PublicURL string `yaml:"public_url"` // base of invite links
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TracingConfig selects where spans of remote calls go: "none" or "stdout".
type TracingConfig struct {
	Exporter string `yaml:"exporter"`
}

type DevServerConfig struct {
	Bind   string `yaml:"bind"`
	DSN    string `yaml:"dsn"`
	Legacy bool   `yaml:"legacy"`
}

func Default() *Config {
	return &Config{
		API:      APIConfig{BaseURL: "http://localhost:3001"},
		Poller:   PollerConfig{Interval: 5 * time.Second, Guarded: true},
		Creation: CreationConfig{JoinBurst: 1},
		View:     ViewConfig{Bind: "127.0.0.1:8080", PublicURL: "http://localhost:3000"},
		Log:      LogConfig{Level: "info"},
		Tracing:  TracingConfig{Exporter: "none"},
		DevServer: DevServerConfig{
			Bind: "127.0.0.1:3001",
		},
	}
}

// Load builds the configuration. A missing file at path is not an error;
// an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
	}

	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	var errs error
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("API_URL", &c.API.BaseURL)
	duration("API_TIMEOUT", &c.API.Timeout)
	duration("POLL_INTERVAL", &c.Poller.Interval)
	boolean("POLL_GUARDED", &c.Poller.Guarded)
	boolean("TRUST_END_RESPONSE", &c.Actions.TrustEndResponse)
	if v := getenv(EnvPrefix + "JOIN_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sJOIN_RATE: %w", EnvPrefix, err))
		} else {
			c.Creation.JoinRate = f
		}
	}
	str("VIEW_BIND", &c.View.Bind)
	str("PUBLIC_URL", &c.View.PublicURL)
	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_DEVELOPMENT", &c.Log.Development)
	str("DEVSERVER_BIND", &c.DevServer.Bind)
	str("DATABASE_URL", &c.DevServer.DSN)
	boolean("DEVSERVER_LEGACY", &c.DevServer.Legacy)
	str("TRACE_EXPORTER", &c.Tracing.Exporter)
	return errs
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("api.base_url %q must be an absolute http(s) url", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("api.timeout must not be negative: %v", c.API.Timeout))
	}
	if c.Poller.Interval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("poller.interval must be positive: %v", c.Poller.Interval))
	}
	if c.Creation.JoinRate < 0 {
		errs = multierr.Append(errs, fmt.Errorf("creation.join_rate must not be negative: %v", c.Creation.JoinRate))
	}
	if c.Creation.JoinRate > 0 && c.Creation.JoinBurst < 1 {
		errs = multierr.Append(errs, fmt.Errorf("creation.join_burst must be at least 1 when pacing: %d", c.Creation.JoinBurst))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		errs = multierr.Append(errs, fmt.Errorf("tracing.exporter %q must be none or stdout", c.Tracing.Exporter))
	}
	return errs
}

// Logger builds the process logger described by the log section.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// TracerProvider builds the span pipeline described by the tracing section.
// It returns nil when tracing is off. stdout spans are written to w.
func (t TracingConfig) TracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	switch t.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "partidas"))),
		), nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", t.Exporter)
	}
}
