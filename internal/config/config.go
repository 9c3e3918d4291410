package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AuthConfig 包含会话与登录断言校验配置。
type AuthConfig struct {
	// ProviderPublicKeyFile 指向身份网关签发登录断言所用的 RSA 公钥（PEM）。
	ProviderPublicKeyFile string `mapstructure:"provider_public_key_file"`
	SessionTTLMinutes     int    `mapstructure:"session_ttl_minutes"`
}

// RankingConfig 包含外部排名服务的访问配置。
type RankingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// UploadsConfig 包含简历上传约束。ClamdAddr 为空时跳过病毒扫描。
type UploadsConfig struct {
	MaxResumeBytes int64  `mapstructure:"max_resume_bytes"`
	ClamdAddr      string `mapstructure:"clamd_addr"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// SessionTTL 返回会话有效期。
func (a AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}

// Timeout 返回排名服务调用的超时时间。
func (r RankingConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "jobbridge")
	v.SetDefault("database.user", "jobbridge")
	v.SetDefault("database.password", "jobbridge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("auth.session_ttl_minutes", 12*60)
	v.SetDefault("ranking.base_url", "http://localhost:8000")
	v.SetDefault("ranking.timeout_seconds", 30)
	v.SetDefault("uploads.max_resume_bytes", 5*1024*1024)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                      "API_PORT",
		"database.host":                 "DATABASE_HOST",
		"database.port":                 "DATABASE_PORT",
		"database.name":                 "POSTGRES_DB",
		"database.user":                 "POSTGRES_USER",
		"database.password":             "POSTGRES_PASSWORD",
		"database.sslmode":              "DATABASE_SSLMODE",
		"redis.host":                    "REDIS_HOST",
		"redis.port":                    "REDIS_PORT",
		"auth.provider_public_key_file": "AUTH_PROVIDER_PUBLIC_KEY_FILE",
		"auth.session_ttl_minutes":      "AUTH_SESSION_TTL_MINUTES",
		"ranking.base_url":              "RANKING_BASE_URL",
		"ranking.timeout_seconds":       "RANKING_TIMEOUT_SECONDS",
		"uploads.max_resume_bytes":      "UPLOADS_MAX_RESUME_BYTES",
		"uploads.clamd_addr":            "CLAMD_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.Auth.ProviderPublicKeyFile == "" {
		return errors.New("auth provider public key file is required")
	}
	if cfg.Auth.SessionTTLMinutes <= 0 {
		return errors.New("auth session ttl must be positive")
	}
	if cfg.Ranking.BaseURL == "" {
		return errors.New("ranking base url is required")
	}
	if cfg.Ranking.TimeoutSeconds <= 0 {
		return errors.New("ranking timeout must be positive")
	}
	if cfg.Uploads.MaxResumeBytes <= 0 {
		return errors.New("uploads max resume bytes must be positive")
	}
	return nil
}
