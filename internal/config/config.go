package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// 负余额策略
const (
	BalancePolicyClamp  = "clamp"  // 资金最低为 0，不足部分记入账本 shortfall
	BalancePolicyReject = "reject" // 拒绝调整，账本条目标记 rejected
	BalancePolicyAllow  = "allow"  // 允许负债
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=0,max=65535"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN postgres 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled 未配置 host 时使用进程内锁
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type JWTConfig struct {
	Secret            string        `mapstructure:"secret"`
	AccessTokenExpire time.Duration `mapstructure:"access_token_expire"`
	Issuer            string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// EngineConfig 成本引擎参数
type EngineConfig struct {
	NegativeBalancePolicy string        `mapstructure:"negative_balance_policy" validate:"oneof=clamp reject allow"`
	ReconcileWorkers      int           `mapstructure:"reconcile_workers" validate:"min=1,max=64"`
	ReconcileRetries      int           `mapstructure:"reconcile_retries" validate:"min=0,max=10"`
	ReconcileRetryBackoff time.Duration `mapstructure:"reconcile_retry_backoff" validate:"min=0"`
	LockTimeout           time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	LockTTL               time.Duration `mapstructure:"lock_ttl" validate:"gtfield=LockTimeout"`
	RepairInterval        time.Duration `mapstructure:"repair_interval" validate:"min=0"`
	RepairBatch           int           `mapstructure:"repair_batch" validate:"min=1"`
}

// DefaultEngine 默认引擎参数
func DefaultEngine() EngineConfig {
	return EngineConfig{
		NegativeBalancePolicy: BalancePolicyClamp,
		ReconcileWorkers:      4,
		ReconcileRetries:      3,
		ReconcileRetryBackoff: 200 * time.Millisecond,
		LockTimeout:           5 * time.Second,
		LockTTL:               30 * time.Second,
		RepairInterval:        0,
		RepairBatch:           100,
	}
}

func Load() (*Config, error) {
	v := viper.New()

	// 设置配置文件
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 配置文件不存在，使用环境变量
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "roster.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 10*time.Minute)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("jwt.access_token_expire", 24*time.Hour)
	v.SetDefault("jwt.issuer", "gyrinx")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	d := DefaultEngine()
	v.SetDefault("engine.negative_balance_policy", d.NegativeBalancePolicy)
	v.SetDefault("engine.reconcile_workers", d.ReconcileWorkers)
	v.SetDefault("engine.reconcile_retries", d.ReconcileRetries)
	v.SetDefault("engine.reconcile_retry_backoff", d.ReconcileRetryBackoff)
	v.SetDefault("engine.lock_timeout", d.LockTimeout)
	v.SetDefault("engine.lock_ttl", d.LockTTL)
	v.SetDefault("engine.repair_interval", d.RepairInterval)
	v.SetDefault("engine.repair_batch", d.RepairBatch)
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	// Engine
	v.BindEnv("engine.negative_balance_policy", "ENGINE_NEGATIVE_BALANCE_POLICY")
	v.BindEnv("engine.reconcile_workers", "ENGINE_RECONCILE_WORKERS")
	v.BindEnv("engine.lock_timeout", "ENGINE_LOCK_TIMEOUT")
	v.BindEnv("engine.repair_interval", "ENGINE_REPAIR_INTERVAL")
}

var validate = validator.New()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GetEnvOrDefault 获取环境变量，如果不存在则返回默认值
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
