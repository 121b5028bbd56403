package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	StoreBackend string

	LogLevel  string
	LogFormat string

	AuthMode string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueKey      string

	MaxTraversalHops int
	PolicyPath       string
	MetricsEnabled   bool

	// RateLimitRequests caps mutating calls per principal and window; 0 disables it.
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	RateLimitFailClosed bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("store_backend", StoreBackendPostgres)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("auth_mode", "header")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("queue_key", "bsd:index")
	v.SetDefault("max_traversal_hops", 256)
	v.SetDefault("policy_path", "")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("rate_limit_requests", 0)
	v.SetDefault("rate_limit_window", time.Minute)
	v.SetDefault("rate_limit_fail_closed", false)
	v.AutomaticEnv()
	return v
}

// FromEnv reads the configuration from the environment only.
func FromEnv() Config {
	return fromViper(newViper())
}

// Load reads the file at path (any format viper understands) and lets the
// environment override it.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		HTTPAddr:         v.GetString("http_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		StoreBackend:     strings.ToLower(v.GetString("store_backend")),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		AuthMode:         v.GetString("auth_mode"),
		RedisAddr:        v.GetString("redis_addr"),
		RedisPassword:    v.GetString("redis_password"),
		RedisDB:          v.GetInt("redis_db"),
		QueueKey:         v.GetString("queue_key"),
		MaxTraversalHops: v.GetInt("max_traversal_hops"),
		PolicyPath:       v.GetString("policy_path"),
		MetricsEnabled:   v.GetBool("metrics_enabled"),

		RateLimitRequests:   v.GetInt("rate_limit_requests"),
		RateLimitWindow:     v.GetDuration("rate_limit_window"),
		RateLimitFailClosed: v.GetBool("rate_limit_fail_closed"),
	}
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required with STORE_BACKEND=%s", c.StoreBackend)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.MaxTraversalHops <= 0 {
		return fmt.Errorf("MAX_TRAVERSAL_HOPS must be positive")
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative")
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative")
	}
	return nil
}
