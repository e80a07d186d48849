package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Redis     RedisConfig
	AI        AIConfig
	Game      GameConfig      `mapstructure:"game"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Functions FunctionsConfig `mapstructure:"functions"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool `mapstructure:"-"` // 仅迁移模式（迁移后退出）
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AIConfig 生成式文本接口。APIKey 是服务端默认密钥，用户可以在客户端覆盖
type AIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout_seconds"`
}

type ServerConfig struct {
	Port    string
	Mode    string
	BaseURL string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DatabaseConfig Driver 取值 mysql | postgres | sqlite
type DatabaseConfig struct {
	Driver    string
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"sslmode"`
	Path      string                          // sqlite 文件路径
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ServiceName       string `mapstructure:"service_name"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// GameConfig 经验与同步相关的规则参数
type GameConfig struct {
	LevelCost     int           `mapstructure:"level_cost"`
	MergePolicy   string        `mapstructure:"merge_policy"`
	SchemaVersion string        `mapstructure:"cache_schema_version"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl_hours"`
}

// OutboxConfig 同步队列的轮询与退避参数
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval_ms"`
	BatchSize    int           `mapstructure:"batch_size"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff_ms"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff_seconds"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type OAuthProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type AuthConfig struct {
	// DevBypass 开发环境跳过登录，所有请求视为 DevUserEmail
	DevBypass    bool                           `mapstructure:"dev_bypass"`
	DevUserEmail string                         `mapstructure:"dev_user_email"`
	MagicLinkTTL time.Duration                  `mapstructure:"magic_link_ttl_minutes"`
	RecoveryTTL  time.Duration                  `mapstructure:"recovery_ttl_minutes"`
	RedirectURL  string                         `mapstructure:"redirect_url"`
	OAuth        map[string]OAuthProviderConfig `mapstructure:"oauth"`
}

// FunctionsConfig 远程函数（支付会话等）的入口
type FunctionsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout_seconds"`
}

type PaymentsConfig struct {
	PriceID   string `mapstructure:"price_id"`
	ReturnURL string `mapstructure:"return_url"`
	// Simulate 远程函数不可用时直接开通会员，仅限非 release 模式
	Simulate bool `mapstructure:"simulate"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.file", "logs/nova.log")
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.charset", "utf8mb4")
	viper.SetDefault("database.parsetime", true)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("jwt.expire_hours", 72)
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "uploads")
	viper.SetDefault("tracing.service_name", "nova-progress")
	viper.SetDefault("ai.model", "gemini-2.5-flash")
	viper.SetDefault("ai.timeout_seconds", 60)
	viper.SetDefault("game.level_cost", 1000)
	viper.SetDefault("game.merge_policy", "newest_wins")
	viper.SetDefault("game.cache_schema_version", "v7")
	viper.SetDefault("outbox.poll_interval_ms", 500)
	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("outbox.base_backoff_ms", 500)
	viper.SetDefault("outbox.max_backoff_seconds", 300)
	viper.SetDefault("outbox.max_attempts", 12)
	viper.SetDefault("auth.dev_user_email", "dev@nova.local")
	viper.SetDefault("auth.magic_link_ttl_minutes", 15)
	viper.SetDefault("auth.recovery_ttl_minutes", 30)
	viper.SetDefault("functions.timeout_seconds", 15)
	viper.SetDefault("rate_limit.max_requests", 300)
	viper.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("NOVA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	// Database
	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// AI
	viper.BindEnv("ai.api_key", "GEMINI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")

	// Storage / OSS
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	viper.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	viper.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	viper.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Auth / 远程函数
	viper.BindEnv("auth.dev_bypass", "DEV_BYPASS_AUTH")
	viper.BindEnv("functions.base_url", "FUNCTIONS_BASE_URL")
	viper.BindEnv("functions.api_key", "FUNCTIONS_API_KEY")
	viper.BindEnv("auth.oauth.google.client_id", "GOOGLE_CLIENT_ID")
	viper.BindEnv("auth.oauth.google.client_secret", "GOOGLE_CLIENT_SECRET")
	viper.BindEnv("auth.oauth.github.client_id", "GITHUB_CLIENT_ID")
	viper.BindEnv("auth.oauth.github.client_secret", "GITHUB_CLIENT_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := normalize(&cfg); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// normalize 把配置文件中的整数单位换算为 time.Duration，并做 release 模式校验
func normalize(cfg *Config) error {
	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.AI.Timeout = cfg.AI.Timeout * time.Second
	cfg.Game.CacheTTL = cfg.Game.CacheTTL * time.Hour
	cfg.Outbox.PollInterval = cfg.Outbox.PollInterval * time.Millisecond
	cfg.Outbox.BaseBackoff = cfg.Outbox.BaseBackoff * time.Millisecond
	cfg.Outbox.MaxBackoff = cfg.Outbox.MaxBackoff * time.Second
	cfg.Auth.MagicLinkTTL = cfg.Auth.MagicLinkTTL * time.Minute
	cfg.Auth.RecoveryTTL = cfg.Auth.RecoveryTTL * time.Minute
	cfg.Functions.Timeout = cfg.Functions.Timeout * time.Second

	if cfg.Game.LevelCost <= 0 {
		cfg.Game.LevelCost = 1000
	}

	if cfg.Server.Mode != "release" {
		return nil
	}
	// 生产环境校验 JWT Secret 强度
	if len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}
	if cfg.Auth.DevBypass {
		return fmt.Errorf("auth.dev_bypass must be disabled in release mode")
	}
	cfg.Payments.Simulate = false
	return nil
}
