// Package config loads aisen client settings from a YAML file, AISEN_*
// environment variables and an optional connection string.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// EnvPrefix is prepended to every environment variable, e.g. AISEN_API_KEY.
const EnvPrefix = "AISEN"

// DefaultEndpoint is used when neither endpoint nor a connection string is set.
const DefaultEndpoint = "https://api.aisen.dev"

// Delivery transports.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// ErrInvalidConnectionString is returned for strings not of the form
// aisen://API_KEY@HOST/PROJECT_ID.
var ErrInvalidConnectionString = errors.New("config: invalid connection string")

// Config mirrors aisen.Options in a form that can be decoded from files and
// the environment.
type Config struct {
	ConnectionString string `mapstructure:"connection_string"`
	Endpoint         string `mapstructure:"endpoint"`
	APIKey           string `mapstructure:"api_key"`
	ProjectID        string `mapstructure:"project_id"`
	Transport        string `mapstructure:"transport"`

	Environment string `mapstructure:"environment"`
	Release     string `mapstructure:"release"`
	ServiceName string `mapstructure:"service_name"`

	SampleRate float64 `mapstructure:"sample_rate"`

	BufferSize      int           `mapstructure:"buffer_size"`
	BatchMaxEvents  int           `mapstructure:"batch_max_events"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	DropPolicy      string        `mapstructure:"drop_policy"`

	ResolutionThreshold int `mapstructure:"resolution_threshold"`
	IncidentShards      int `mapstructure:"incident_shards"`

	Sanitize             bool `mapstructure:"sanitize"`
	CaptureSuccessEvents bool `mapstructure:"capture_success_events"`
	MaxBreadcrumbs       int  `mapstructure:"max_breadcrumbs"`
	Compress             bool `mapstructure:"compress"`

	Debug bool `mapstructure:"debug"`
}

// SetDefaults registers every key with v, using the values of
// aisen.DefaultOptions. Keys must be known to v for AutomaticEnv to apply them
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := aisen.DefaultOptions()
	v.SetDefault("connection_string", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("api_key", "")
	v.SetDefault("project_id", "")
	v.SetDefault("transport", TransportHTTP)
	v.SetDefault("environment", "production")
	v.SetDefault("release", "")
	v.SetDefault("service_name", "")
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("buffer_size", d.BufferSize)
	v.SetDefault("batch_max_events", d.BatchMaxEvents)
	v.SetDefault("flush_interval", d.FlushInterval)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("backoff_initial", d.BackoffInitial)
	v.SetDefault("backoff_max", d.BackoffMax)
	v.SetDefault("drop_policy", d.DropPolicy.String())
	v.SetDefault("resolution_threshold", d.ResolutionThreshold)
	v.SetDefault("incident_shards", d.IncidentShards)
	v.SetDefault("sanitize", d.Sanitize)
	v.SetDefault("capture_success_events", d.CaptureSuccessEvents)
	v.SetDefault("max_breadcrumbs", d.MaxBreadcrumbs)
	v.SetDefault("compress", d.Compress)
	v.SetDefault("debug", false)
}

// Load reads path (optional) and the environment into a Config.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided viper instance, so flags bound to v
// take part in resolution. Precedence, highest first: flags, environment,
// file, defaults. A connection string then overrides endpoint, api_key and
// project_id.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.ConnectionString != "" {
		key, endpoint, project, err := ParseConnectionString(cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
		cfg.APIKey, cfg.Endpoint, cfg.ProjectID = key, endpoint, project
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	return &cfg, nil
}

var connectionStringPattern = regexp.MustCompile(`^aisen://([^@]+)@([^/]+)/(.+)$`)

// ParseConnectionString splits aisen://API_KEY@HOST/PROJECT_ID. The endpoint
// is always https.
func ParseConnectionString(s string) (apiKey, endpoint, projectID string, err error) {
	m := connectionStringPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", "", fmt.Errorf("%w: expected aisen://API_KEY@HOST/PROJECT_ID", ErrInvalidConnectionString)
	}
	return m[1], "https://" + m[2], m[3], nil
}

// Options converts c into client options. It does not validate credentials;
// aisen.New does that once the sink is known.
func (c *Config) Options() (aisen.Options, error) {
	policy, err := aisen.ParseDropPolicy(c.DropPolicy)
	if err != nil {
		return aisen.Options{}, err
	}
	switch c.Transport {
	case "", TransportHTTP, TransportWebSocket:
	default:
		return aisen.Options{}, fmt.Errorf("config: unknown transport %q", c.Transport)
	}

	return aisen.Options{
		Endpoint:             c.Endpoint,
		APIKey:               c.APIKey,
		ProjectID:            c.ProjectID,
		Environment:          c.Environment,
		Release:              c.Release,
		ServiceName:          c.ServiceName,
		SampleRate:           c.SampleRate,
		BufferSize:           c.BufferSize,
		BatchMaxEvents:       c.BatchMaxEvents,
		FlushInterval:        c.FlushInterval,
		MaxRetries:           c.MaxRetries,
		RequestTimeout:       c.RequestTimeout,
		ShutdownTimeout:      c.ShutdownTimeout,
		BackoffInitial:       c.BackoffInitial,
		BackoffMax:           c.BackoffMax,
		DropPolicy:           policy,
		ResolutionThreshold:  c.ResolutionThreshold,
		IncidentShards:       c.IncidentShards,
		Sanitize:             c.Sanitize,
		CaptureSuccessEvents: c.CaptureSuccessEvents,
		MaxBreadcrumbs:       c.MaxBreadcrumbs,
		Compress:             c.Compress,
	}, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.APIKey = redact(c.APIKey)
	if c.ConnectionString != "" {
		c.ConnectionString = connectionStringPattern.ReplaceAllString(c.ConnectionString, "aisen://[REDACTED]@$2/$3")
	}
	return c
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "[REDACTED]"
	}
	return s[:4] + "...[REDACTED]"
}
