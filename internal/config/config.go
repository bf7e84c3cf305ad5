package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/freshcart-next/internal/cartsync"
	"github.com/freshcart-next/internal/logger"
	"github.com/freshcart-next/internal/models"
	"github.com/freshcart-next/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	UserJWT     JWTConfig         `mapstructure:"user_jwt"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Security    SecurityConfig    `mapstructure:"security"`
	Cart        CartConfig        `mapstructure:"cart"`
	Sync        SyncConfig        `mapstructure:"sync"`
	CouponCache CouponCacheConfig `mapstructure:"coupon_cache"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   string `mapstructure:"port"`
	Mode                   string `mapstructure:"mode"` // debug / release
	ReadHeaderTimeoutSec   int    `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// ReadHeaderTimeout 请求头读取超时
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	if c.ReadHeaderTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ReadHeaderTimeoutSec) * time.Second
}

// ShutdownTimeout 优雅退出等待时间
func (c ServerConfig) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Level,
		Console:    c.Console,
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// ToDBPoolConfig 转换为 models 连接池配置
func (c DatabaseConfig) ToDBPoolConfig(verbose bool) models.DBPoolConfig {
	return models.DBPoolConfig{
		MaxOpenConns:           c.Pool.MaxOpenConns,
		MaxIdleConns:           c.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: c.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: c.Pool.ConnMaxIdleTimeSeconds,
		Verbose:                verbose,
	}
}

// JWTConfig JWT 配置
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	MutationRateLimit     RateLimitConfig `mapstructure:"mutation_rate_limit"`
	CouponLookupRateLimit RateLimitConfig `mapstructure:"coupon_lookup_rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// CartConfig 计价配置
// 金额以字符串书写，避免浮点误差。
type CartConfig struct {
	FreeDeliveryThreshold  string `mapstructure:"free_delivery_threshold"`
	StandardDeliveryCharge string `mapstructure:"standard_delivery_charge"`
	ExpressDeliveryCharge  string `mapstructure:"express_delivery_charge"`
	VATRate                string `mapstructure:"vat_rate"`
	DefaultCurrency        string `mapstructure:"default_currency"`
	DefaultMaxQuantity     int    `mapstructure:"default_max_quantity"`
}

// ToPricingConfig 转换为计价配置
func (c CartConfig) ToPricingConfig() (pricing.Config, error) {
	threshold, err := models.NewMoneyFromString(strings.TrimSpace(c.FreeDeliveryThreshold))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("cart.free_delivery_threshold: %w", err)
	}
	standard, err := models.NewMoneyFromString(strings.TrimSpace(c.StandardDeliveryCharge))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("cart.standard_delivery_charge: %w", err)
	}
	express, err := models.NewMoneyFromString(strings.TrimSpace(c.ExpressDeliveryCharge))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("cart.express_delivery_charge: %w", err)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.VATRate))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("cart.vat_rate: %w", err)
	}
	cfg := pricing.Config{
		FreeDeliveryThreshold:  threshold,
		StandardDeliveryCharge: standard,
		ExpressDeliveryCharge:  express,
		VATRate:                rate,
		Currency:               strings.ToUpper(strings.TrimSpace(c.DefaultCurrency)),
	}
	if err := cfg.Validate(); err != nil {
		return pricing.Config{}, err
	}
	return cfg, nil
}

// SyncConfig 远端同步配置（客户端使用）
type SyncConfig struct {
	BaseURL                  string `mapstructure:"base_url"`
	DebounceMS               int    `mapstructure:"debounce_ms"`
	MaxRetries               int    `mapstructure:"max_retries"`
	BaseBackoffMS            int    `mapstructure:"base_backoff_ms"`
	MaxBackoffMS             int    `mapstructure:"max_backoff_ms"`
	StaleAfterSeconds        int    `mapstructure:"stale_after_seconds"`
	RequestTimeoutMS         int    `mapstructure:"request_timeout_ms"`
	MutationLogRetentionHour int    `mapstructure:"mutation_log_retention_hours"`
}

// ToReconcilerConfig 转换为同步协调器配置
func (c SyncConfig) ToReconcilerConfig() cartsync.Config {
	return cartsync.Config{
		Debounce:       time.Duration(c.DebounceMS) * time.Millisecond,
		MaxRetries:     c.MaxRetries,
		BaseBackoff:    time.Duration(c.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMS) * time.Millisecond,
		StaleAfter:     time.Duration(c.StaleAfterSeconds) * time.Second,
		RequestTimeout: time.Duration(c.RequestTimeoutMS) * time.Millisecond,
	}
}

// MutationLogRetention 已应用变更记录的保留时长
func (c SyncConfig) MutationLogRetention() time.Duration {
	if c.MutationLogRetentionHour <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.MutationLogRetentionHour) * time.Hour
}

// CouponCacheConfig 优惠券缓存配置
type CouponCacheConfig struct {
	TTLSeconds         int `mapstructure:"ttl_seconds"`
	NegativeTTLSeconds int `mapstructure:"negative_ttl_seconds"`
}

// TTL 正向缓存时长
func (c CouponCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// NegativeTTL 未命中缓存时长
func (c CouponCacheConfig) NegativeTTL() time.Duration {
	return time.Duration(c.NegativeTTLSeconds) * time.Second
}

// SetDefaults 注册默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.level", "")
	v.SetDefault("log.console", false)
	v.SetDefault("log.filename", "freshcart.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/freshcart.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("user_jwt.secret", "user-change-me-in-production")
	v.SetDefault("user_jwt.expire_hours", 24)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "fc")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.mutation_rate_limit.window_seconds", 10)
	v.SetDefault("security.mutation_rate_limit.max_requests", 50)
	v.SetDefault("security.coupon_lookup_rate_limit.window_seconds", 60)
	v.SetDefault("security.coupon_lookup_rate_limit.max_requests", 30)
	v.SetDefault("cart.free_delivery_threshold", "50.00")
	v.SetDefault("cart.standard_delivery_charge", "3.99")
	v.SetDefault("cart.express_delivery_charge", "6.99")
	v.SetDefault("cart.vat_rate", "0.20")
	v.SetDefault("cart.default_currency", "GBP")
	v.SetDefault("cart.default_max_quantity", 99)
	v.SetDefault("sync.base_url", "http://127.0.0.1:8080")
	v.SetDefault("sync.debounce_ms", 400)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.base_backoff_ms", 500)
	v.SetDefault("sync.max_backoff_ms", 30000)
	v.SetDefault("sync.stale_after_seconds", 300)
	v.SetDefault("sync.request_timeout_ms", 10000)
	v.SetDefault("sync.mutation_log_retention_hours", 168)
	v.SetDefault("coupon_cache.ttl_seconds", 300)
	v.SetDefault("coupon_cache.negative_ttl_seconds", 30)
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("../")   // 如果从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹

	SetDefaults(v)

	// 环境变量支持（例如 cart.vat_rate -> CART_VAT_RATE）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// Decode 解析并校验配置
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.Cart.ToPricingConfig(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
