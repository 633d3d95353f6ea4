// config - загрузка конфигурации клиента сессии.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
//
// Значения из файла всегда перекрываются переменными окружения.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища учётных данных.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	API      APIConfig     `yaml:"api"`
	Store    StoreConfig   `yaml:"store"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Stub     StubConfig    `yaml:"stub"`
}

// APIConfig - удалённый API авторизации.
type APIConfig struct {
	BaseURL     string `yaml:"base_url"      env:"API_BASE_URL"      env-required:"true"`
	SignInPath  string `yaml:"sign_in_path"  env:"API_SIGN_IN_PATH"  env-default:"/auth/sign-in"`
	SignOutPath string `yaml:"sign_out_path" env:"API_SIGN_OUT_PATH" env-default:"/auth/sign-out"`
	RefreshPath string `yaml:"refresh_path"  env:"API_REFRESH_PATH"  env-default:"/auth/refresh-token"`
	ProfilePath string `yaml:"profile_path"  env:"API_PROFILE_PATH"  env-default:"/auth/is-auth"`
	UserAgent   string `yaml:"user_agent"    env:"API_USER_AGENT"    env-default:"auth-session"`
	// GRPCAddr - адрес gRPC-апстрима; пустой - gRPC не используется.
	GRPCAddr string `yaml:"grpc_addr" env:"API_GRPC_ADDR"`
}

// StoreConfig - хранилище токенов.
type StoreConfig struct {
	Driver      string `yaml:"driver"       env:"STORE_DRIVER"       env-default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path"  env:"STORE_SQLITE_PATH"  env-default:"auth-session.db"`
	RedisURL    string `yaml:"redis_url"    env:"STORE_REDIS_URL"`
	RedisPrefix string `yaml:"redis_prefix" env:"STORE_REDIS_PREFIX" env-default:"auth:cred:"`
}

// MetricsConfig - отдельный HTTP для Prometheus.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"false"`
	Host    string `yaml:"host"    env:"METRICS_HOST"    env-default:"127.0.0.1"`
	Port    string `yaml:"port"    env:"METRICS_PORT"    env-default:"50085"`
}

func (m MetricsConfig) Addr() string { return net.JoinHostPort(m.Host, m.Port) }

// TimeoutConfig - таймауты исходящих вызовов.
type TimeoutConfig struct {
	Request time.Duration `yaml:"request"  env:"TIMEOUT_REQUEST"  env-default:"15s"`
	Refresh time.Duration `yaml:"refresh"  env:"TIMEOUT_REFRESH"  env-default:"10s"`
	SignOut time.Duration `yaml:"sign_out" env:"TIMEOUT_SIGN_OUT" env-default:"5s"`
}

// StubConfig - локальный эталонный API (cmd/auth-stub).
type StubConfig struct {
	Host      string        `yaml:"host"       env:"STUB_HOST"       env-default:"127.0.0.1"`
	Port      string        `yaml:"port"       env:"STUB_PORT"       env-default:"50090"`
	Secret    string        `yaml:"secret"     env:"STUB_SECRET"     env-default:"auth-stub-secret"`
	AccessTTL time.Duration `yaml:"access_ttl" env:"STUB_ACCESS_TTL" env-default:"1m"`
	Email     string        `yaml:"email"      env:"STUB_EMAIL"      env-default:"a@b.com"`
	Password  string        `yaml:"password"   env:"STUB_PASSWORD"   env-default:"pw"`
}

func (s StubConfig) Addr() string { return net.JoinHostPort(s.Host, s.Port) }

// Validate проверяет согласованность секций.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store: sqlite_path is required for driver %q", c.Store.Driver)
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store: redis_url is required for driver %q", c.Store.Driver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	return nil
}

// MustLoad - паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}

		return &cfg, nil
	}

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		return read(p)
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		return read("local.yaml")
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
