package database

import (
	"Rendezvous/internal/api/config"
	"Rendezvous/internal/model"
	"Rendezvous/internal/pkg/logger"
	"fmt"
	log "log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewGormDB 打开 MySQL 连接、配置连接池并同步会话相关表结构
func NewGormDB(cfg *config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.NewGormLogger(),
		PrepareStmt: true,
		// 驱动错误转换为 gorm.ErrDuplicatedKey 等通用错误
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Minute)

	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database connection check failed: %w", err)
	}

	if err = Migrate(db); err != nil {
		return nil, err
	}

	log.Info("Database connection established successfully.")
	return db, nil
}

// Migrate 会话表与已读指针表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Conversation{}, &model.ReadPointer{}); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

// Close 退出时释放连接池
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("Database close failed", "err", err)
	}
}
