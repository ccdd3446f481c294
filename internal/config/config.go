package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr           string `mapstructure:"addr"`
		LogLevel       string `mapstructure:"log_level"`
		LogFormat      string `mapstructure:"log_format"`
		RequestTimeout int    `mapstructure:"request_timeout_seconds"`
	} `mapstructure:"server"`

	Storage struct {
		// Driver is "postgres" or "memory".
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
		AutoMigrate  bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
		// RefreshSeconds rebuilds snapshots periodically as well; 0 disables.
		RefreshSeconds int `mapstructure:"refresh_seconds"`
	} `mapstructure:"listener"`

	Estimator struct {
		// Mode is "population" (count the customers table) or "placeholder".
		Mode      string `mapstructure:"mode"`
		Min       int    `mapstructure:"min"`
		Max       int    `mapstructure:"max"`
		LatencyMS int    `mapstructure:"latency_ms"`
		Seed      uint64 `mapstructure:"seed"`
	} `mapstructure:"estimator"`

	Generation struct {
		APIURL        string  `mapstructure:"api_url"`
		APIKey        string  `mapstructure:"api_key"`
		Model         string  `mapstructure:"model"`
		MaxTokens     int     `mapstructure:"max_tokens"`
		Temperature   float64 `mapstructure:"temperature"`
		MinIntervalMS int     `mapstructure:"min_interval_ms"`
		Fallback      bool    `mapstructure:"fallback"`
	} `mapstructure:"generation"`

	Catalog struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"catalog"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	EstimatorPopulation  = "population"
	EstimatorPlaceholder = "placeholder"
)

// Load reads configs/application.yaml, overlays configs/<ENV>.yaml when it
// exists, then APP_* environment variables. It panics on an invalid result.
func Load() Config {
	cfg, err := LoadFrom("configs", strings.ToLower(os.Getenv("ENV")))
	if err != nil {
		panic(fmt.Errorf("unable to load config: %w", err))
	}
	return cfg
}

// LoadFrom is Load with an explicit config directory and environment name.
func LoadFrom(dir, env string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	_ = v.ReadInConfig() // optional; env can fully configure

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("merge %s config: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "console")
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", "targeting")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("listener.channel", "tg_population_change")
	v.SetDefault("listener.reconnect_seconds", 5)
	v.SetDefault("listener.refresh_seconds", 30)
	v.SetDefault("estimator.mode", EstimatorPopulation)
	v.SetDefault("estimator.min", 100)
	v.SetDefault("estimator.max", 10000)
	v.SetDefault("estimator.latency_ms", 500)
	v.SetDefault("estimator.seed", 0)
	v.SetDefault("generation.api_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.model", "gpt-3.5-turbo")
	v.SetDefault("generation.max_tokens", 200)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.min_interval_ms", 2000)
	v.SetDefault("generation.fallback", true)
	v.SetDefault("catalog.path", "")
}

func validate(c *Config) error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns > c.Postgres.MaxOpenConns {
		c.Postgres.MaxIdleConns = c.Postgres.MaxOpenConns
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = DriverPostgres
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}

	c.Estimator.Mode = strings.ToLower(strings.TrimSpace(c.Estimator.Mode))
	switch c.Estimator.Mode {
	case "":
		c.Estimator.Mode = EstimatorPopulation
	case EstimatorPopulation, EstimatorPlaceholder:
	default:
		return fmt.Errorf("estimator.mode must be %q or %q, got %q", EstimatorPopulation, EstimatorPlaceholder, c.Estimator.Mode)
	}
	if c.Estimator.Max <= c.Estimator.Min {
		return fmt.Errorf("estimator.max (%d) must exceed estimator.min (%d)", c.Estimator.Max, c.Estimator.Min)
	}
	if c.Generation.MinIntervalMS < 0 {
		c.Generation.MinIntervalMS = 0
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Postgres.User),
		url.QueryEscape(c.Postgres.Password),
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

// DSNRedacted is DSN with the credentials masked, for logs.
func (c Config) DSNRedacted() string {
	return fmt.Sprintf("postgres://***:***@%s:%d/%s", c.Postgres.Host, c.Postgres.Port, c.Postgres.DBName)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Listener.RefreshSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

func (c Config) EstimatorLatency() time.Duration {
	return time.Duration(c.Estimator.LatencyMS) * time.Millisecond
}

func (c Config) GenerationInterval() time.Duration {
	return time.Duration(c.Generation.MinIntervalMS) * time.Millisecond
}
