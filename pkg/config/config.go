package config

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // "sqlite3" or "pgx"
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	ConnectWait  time.Duration `mapstructure:"connect_wait"`
}

type RecorderConfig struct {
	ListLimit    int           `mapstructure:"list_limit"`
	DetailTTL    time.Duration `mapstructure:"detail_ttl"`
	CaptureStack bool          `mapstructure:"capture_stack"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore returns a Store holding cfg. Mostly useful in tests.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func newViper(dirs []string) *viper.Viper {
	// .env is optional; it usually only carries ADMIN_KEY
	_ = godotenv.Load()

	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	if len(dirs) == 0 {
		dirs = []string{"./configs"}
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("RECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("auth::admin_key", "RECORDER_AUTH_ADMIN_KEY", "ADMIN_KEY")

	v.SetDefault("server::port", ":8080")
	v.SetDefault("redis::address", "localhost:6379")
	v.SetDefault("database::driver", "sqlite3")
	v.SetDefault("database::dsn", "file:recorder.db?_busy_timeout=5000")
	v.SetDefault("database::max_open_conns", 10)
	v.SetDefault("database::connect_wait", "30s")
	v.SetDefault("recorder::list_limit", 100)
	v.SetDefault("recorder::detail_ttl", "24h")
	v.SetDefault("recorder::capture_stack", true)
	v.SetDefault("logging::level", "info")

	return v
}

// LoadAndWatch loads the config and watches for on-disk changes.
// A missing config file is not an error; defaults and environment apply.
func LoadAndWatch(logger *zap.Logger, dirs ...string) (*Store, error) {
	v := newViper(dirs)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := refresh(v, store); err != nil {
				logger.Warn("Config reload failed", zap.Error(err))
			} else {
				logger.Info("Config reloaded", zap.String("file", e.Name))
			}
		})
	}

	return store, nil
}

// Load reads the config once and does not watch.
func Load(dirs ...string) (*Config, error) {
	v := newViper(dirs)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	store.set(&cfg)
	return nil
}
