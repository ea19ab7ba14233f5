package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config represents the engine configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type EngineConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Workers       int           `mapstructure:"workers"`
	DepthCap      int           `mapstructure:"depth_cap"`
}

type DispatchConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type CalendarConfig struct {
	Dir      string        `mapstructure:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load initializes the configuration with hot reload support
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")

		setDefaults(v)

		v.SetConfigName("config")
		v.AddConfigPath(configPath)
		if err = v.ReadInConfig(); err != nil {
			// Config file is optional; defaults plus env cover everything.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config: %w", err)
				return
			}
			err = nil
		}

		// Environment variable overrides
		v.SetEnvPrefix("TICKLINE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}

		// Watch for config changes
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			mu.Lock()
			defer mu.Unlock()

			newCfg := &Config{}
			if err := v.Unmarshal(newCfg); err != nil {
				fmt.Printf("Failed to reload config: %v\n", err)
				return
			}
			cfg = newCfg
		})
	})

	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tickline")
	v.SetDefault("app.env", "development")
	v.SetDefault("engine.sweep_interval", time.Minute)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.depth_cap", 5)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.backoff", 500*time.Millisecond)
	v.SetDefault("calendar.dir", "calendars")
	v.SetDefault("calendar.cache_ttl", 5*time.Minute)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("metrics.addr", ":9090")
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// GetDSN returns the MySQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

// GetRedisAddr returns the Redis server address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// LoadFromFile loads configuration from a specific file (useful for testing)
func LoadFromFile(configFile string) error {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// MustLoad loads configuration and panics on error
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
}
