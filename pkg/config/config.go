package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/getmockd/hookd/pkg/admin"
	"github.com/getmockd/hookd/pkg/engine"
	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/mqtt"
	"github.com/getmockd/hookd/pkg/ratelimit"
	"github.com/getmockd/hookd/pkg/store"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HOOKD"

// Defaults not owned by another package.
const (
	DefaultAdminAddr     = ":8081"
	DefaultStoragePath   = "hookd.db"
	DefaultScriptTimeout = 10 * time.Second
)

// brokerSchemes are the URL schemes the MQTT forwarder can dial.
var brokerSchemes = []string{"tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss"}

// Config is the full runtime configuration.
type Config struct {
	HTTP struct {
		Addr         string `mapstructure:"addr"`
		MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	} `mapstructure:"http"`

	TCP struct {
		Enabled        bool   `mapstructure:"enabled"`
		Addr           string `mapstructure:"addr"`
		MaxConnections int    `mapstructure:"max_connections"`
		ReadBuffer     int    `mapstructure:"read_buffer"`
	} `mapstructure:"tcp"`

	Admin struct {
		Addr           string  `mapstructure:"addr"`
		APIKey         string  `mapstructure:"api_key"`
		JWTSecret      string  `mapstructure:"jwt_secret"`
		AllowLocalhost bool    `mapstructure:"allow_localhost"`
		RateLimit      float64 `mapstructure:"rate_limit"`
		RateBurst      int     `mapstructure:"rate_burst"`
	} `mapstructure:"admin"`

	Storage struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"storage"`

	Script struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"script"`

	State struct {
		Serialize bool `mapstructure:"serialize"`
	} `mapstructure:"state"`

	Handlers struct {
		Seed string `mapstructure:"seed"`
	} `mapstructure:"handlers"`

	MQTT struct {
		Listen      string `mapstructure:"listen"`
		Broker      string `mapstructure:"broker"`
		ClientID    string `mapstructure:"client_id"`
		TopicPrefix string `mapstructure:"topic_prefix"`
		QoS         int    `mapstructure:"qos"`
		Filter      string `mapstructure:"filter"`
	} `mapstructure:"mqtt"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// NewViper returns a viper instance with hookd's defaults and environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default value. Registering all
// keys also makes them visible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	ec := engine.DefaultConfig()
	v.SetDefault("http.addr", ec.HTTPAddr)
	v.SetDefault("http.max_body_bytes", ec.MaxBodyBytes)
	v.SetDefault("tcp.enabled", ec.TCPEnabled)
	v.SetDefault("tcp.addr", ec.TCPAddr)
	v.SetDefault("tcp.max_connections", 0)
	v.SetDefault("tcp.read_buffer", ec.ReadBuffer)
	v.SetDefault("admin.addr", DefaultAdminAddr)
	v.SetDefault("admin.api_key", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.allow_localhost", false)
	v.SetDefault("admin.rate_limit", 0.0)
	v.SetDefault("admin.rate_burst", 0)
	v.SetDefault("storage.driver", string(store.BackendSQLite))
	v.SetDefault("storage.path", DefaultStoragePath)
	v.SetDefault("script.timeout", DefaultScriptTimeout)
	v.SetDefault("state.serialize", false)
	v.SetDefault("handlers.seed", "")
	v.SetDefault("mqtt.listen", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", mqtt.DefaultTopicPrefix)
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.filter", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logging.FormatText))
	v.SetDefault("log.file", "")
}

// Load reads the config file at path, if any, and decodes the merged
// settings. An explicit path that cannot be read is an error; without one,
// hookd.yaml in the working directory is used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() *ValidationResult {
	r := &ValidationResult{}

	if c.HTTP.Addr == "" {
		r.AddError("http.addr", "required")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		r.AddError("http.max_body_bytes", "must be >= 0")
	}
	if c.TCP.Enabled && c.TCP.Addr == "" {
		r.AddError("tcp.addr", "required when tcp.enabled is true")
	}
	if c.TCP.MaxConnections < 0 {
		r.AddError("tcp.max_connections", "must be >= 0")
	}
	if c.TCP.ReadBuffer <= 0 {
		r.AddError("tcp.read_buffer", "must be > 0")
	}
	if c.Admin.Addr == "" {
		r.AddError("admin.addr", "required")
	}
	if c.Admin.JWTSecret != "" && len(c.Admin.JWTSecret) < 16 {
		r.AddError("admin.jwt_secret", "must be at least 16 characters")
	}
	if c.Admin.RateLimit < 0 {
		r.AddError("admin.rate_limit", "must be >= 0")
	}
	if c.Admin.RateBurst < 0 {
		r.AddError("admin.rate_burst", "must be >= 0")
	}

	switch store.Backend(c.Storage.Driver) {
	case store.BackendSQLite:
		if c.Storage.Path == "" {
			r.AddError("storage.path", "required for the sqlite driver")
		}
	case store.BackendMemory:
	default:
		r.AddError("storage.driver", fmt.Sprintf("unsupported driver %q, expected %q or %q",
			c.Storage.Driver, store.BackendSQLite, store.BackendMemory))
	}

	if c.Script.Timeout < 0 {
		r.AddError("script.timeout", "must be >= 0")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		r.AddError("mqtt.qos", "must be 0, 1 or 2")
	}
	if c.MQTT.Broker != "" {
		u, err := url.Parse(c.MQTT.Broker)
		switch {
		case err != nil:
			r.AddError("mqtt.broker", err.Error())
		case !slices.Contains(brokerSchemes, u.Scheme):
			r.AddError("mqtt.broker", fmt.Sprintf("unsupported scheme %q, expected one of %s", u.Scheme, strings.Join(brokerSchemes, ", ")))
		}
	}
	if _, err := events.CompileFilter(c.MQTT.Filter); err != nil {
		r.AddError("mqtt.filter", err.Error())
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		r.AddError("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case string(logging.FormatText), string(logging.FormatJSON):
	default:
		r.AddError("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	return r
}

// EngineConfig returns the listener settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		HTTPAddr:       c.HTTP.Addr,
		MaxBodyBytes:   c.HTTP.MaxBodyBytes,
		TCPEnabled:     c.TCP.Enabled,
		TCPAddr:        c.TCP.Addr,
		MaxConnections: c.TCP.MaxConnections,
		ReadBuffer:     c.TCP.ReadBuffer,
	}
}

// MQTTConfig returns the event relay settings.
func (c *Config) MQTTConfig() mqtt.Config {
	return mqtt.Config{
		Listen:      c.MQTT.Listen,
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         byte(c.MQTT.QoS),
		Filter:      c.MQTT.Filter,
	}
}

// AuthConfig returns the admin API credentials.
func (c *Config) AuthConfig() admin.AuthConfig {
	return admin.AuthConfig{
		APIKey:         c.Admin.APIKey,
		JWTSecret:      c.Admin.JWTSecret,
		AllowLocalhost: c.Admin.AllowLocalhost,
	}
}

// RateLimitConfig returns the admin API per-client limit. A zero rate
// disables it.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{Rate: c.Admin.RateLimit, Burst: c.Admin.RateBurst}
}

// LoggingConfig returns the logger settings. The file, if any, is opened by
// the caller.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.Format = logging.ParseFormat(c.Log.Format)
	return lc
}

// LogValue keeps secrets out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http", c.HTTP.Addr),
		slog.Bool("tcp", c.TCP.Enabled),
		slog.String("tcpAddr", c.TCP.Addr),
		slog.String("admin", c.Admin.Addr),
		slog.Bool("apiKey", c.Admin.APIKey != ""),
		slog.Bool("jwt", c.Admin.JWTSecret != ""),
		slog.Float64("adminRateLimit", c.Admin.RateLimit),
		slog.String("storage", c.Storage.Driver),
		slog.Duration("scriptTimeout", c.Script.Timeout),
		slog.Bool("serializeState", c.State.Serialize),
		slog.String("mqttListen", c.MQTT.Listen),
		slog.String("mqttBroker", redactURL(c.MQTT.Broker)),
	)
}

// redactURL hides the password of a broker URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
