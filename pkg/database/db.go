package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/josecalderon2/CAI-backend/config"
	"github.com/josecalderon2/CAI-backend/pkg/logger"
)

// GormConfig GORM 配置
// 不开启 TranslateError：翻译后的 gorm.ErrDuplicatedKey 丢失约束名，业务层需要 *pgconn.PgError 区分冲突类型
func GormConfig(logLevel string, slowThreshold time.Duration, zl *zap.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLogger(zl, logLevel, slowThreshold),
	}
}

// NewDB 初始化 PostgreSQL 数据库连接
// logLevel 为应用日志级别，决定 SQL 日志的详细程度
func NewDB(cfg *config.DatabaseConfig, logLevel string, zl *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), GormConfig(logLevel, cfg.SlowThreshold, zl))
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	// 连接池配置（已有默认值 25/10/30min）
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(lifetime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	zl.Info("数据库连接成功",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("dbname", cfg.Name),
	)

	return db, nil
}
