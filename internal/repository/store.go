package repository

import (
	"context"

	"yield-points-system/internal/models"

	"gorm.io/gorm"
)

// Store 持有数据库句柄并提供跨仓储的事务
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate 自动建表及索引
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(models.All()...)
}

// Transaction fn 内所有写入要么全部提交要么全部回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
