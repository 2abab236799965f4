// Package app 组装服务端与命令行共用的基础设施
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/sse"
	"github.com/gyrinx-app/gyrinx-sub001/internal/shared/lock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// App 一个进程内的全部依赖
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Redis    *redis.Client // 未配置时为 nil
	Hub      *sse.Hub
	Services *service.Services
}

// New 初始化日志、数据库、锁与服务
func New(cfg *config.Config) (*App, error) {
	zapLogger, err := InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := InitDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: zapLogger,
		DB:     db,
		Hub:    sse.NewHub(zapLogger),
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled() {
		a.Redis = InitRedis(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, falling back to in-process locks", zap.Error(err))
			a.Redis.Close()
			a.Redis = nil
		} else {
			locker = lock.NewRedisLocker(a.Redis, "gyrinx:lock:", cfg.Engine.LockTTL)
		}
	}

	a.Services = service.NewServices(repository.NewRepositories(db), locker, cfg.Engine, zapLogger, a.Hub)
	return a, nil
}

// Migrate 建表 / 补列
func (a *App) Migrate() error {
	if err := a.DB.AutoMigrate(entity.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close 释放连接
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
	a.Logger.Sync()
}

func InitLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

// InitDatabase postgres（pgx）或本地 sqlite
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path))
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite 单写者
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func InitRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RunRepairSweeper 周期性重算脏名册（对账失败或草稿），interval 为 0 时不启动
func (a *App) RunRepairSweeper(ctx context.Context) {
	interval := a.Config.Engine.RepairInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Services.Facts.RepairDirty(ctx, a.Config.Engine.RepairBatch)
			if err != nil {
				a.Logger.Warn("repair sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.Logger.Info("repair sweep", zap.Int("rosters", n))
			}
		}
	}
}
