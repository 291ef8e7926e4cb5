package repository

import (
	"context"
	"errors"
	"time"

	"yield-points-system/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) WithTx(tx *gorm.DB) *AccountRepository {
	return &AccountRepository{db: tx}
}

// GetByAddress 地址需已规范化，不存在返回 nil
func (r *AccountRepository) GetByAddress(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Where("address = ?", address).
		First(&account).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uint64) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 并发安全地获取或创建账户，依赖地址唯一索引
func (r *AccountRepository) GetOrCreate(ctx context.Context, address string) (*models.Account, error) {
	account := &models.Account{Address: address}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoNothing: true,
		}).
		Create(account).Error
	if err != nil {
		return nil, err
	}

	var existing models.Account
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *AccountRepository) TouchLogin(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}
