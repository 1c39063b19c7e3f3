package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the serve configuration. Every key can be overridden from the
// environment as LAZYPKG_<KEY>, e.g. LAZYPKG_STORE_KIND.
type Config struct {
	Addr   string       `mapstructure:"addr"`
	Store  StoreConfig  `mapstructure:"store"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Reload ReloadConfig `mapstructure:"reload"`
	Log    LogConfig    `mapstructure:"log"`
}

type StoreConfig struct {
	Kind     string         `mapstructure:"kind"`
	Dir      string         `mapstructure:"dir"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CacheConfig sizes the in-memory bundle cache. Size 0 disables it.
type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type ReloadConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

const (
	storeDir      = "dir"
	storeRedis    = "redis"
	storePostgres = "postgres"
)

func loadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("store.kind", storeDir)
	v.SetDefault("store.dir", "packages")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.prefix", "lazypkg")
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", 2*time.Minute)
	v.SetDefault("reload.interval", 5*time.Second)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("LAZYPKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store.Kind {
	case storeDir:
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the dir store")
		}
	case storeRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis store")
		}
	case storePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store.kind %q (want dir, redis or postgres)", c.Store.Kind)
	}
	if c.Reload.Interval <= 0 {
		return fmt.Errorf("reload.interval must be positive")
	}
	return nil
}
