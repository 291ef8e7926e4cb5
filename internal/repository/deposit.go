package repository

import (
	"context"
	"errors"
	"time"

	"yield-points-system/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) WithTx(tx *gorm.DB) *DepositRepository {
	return &DepositRepository{db: tx}
}

func (r *DepositRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Deposit{}).
		Where("tx_hash = ?", txHash).
		Count(&count).Error
	return count > 0, err
}

func (r *DepositRepository) GetByTxHash(ctx context.Context, txHash string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.db.WithContext(ctx).
		Where("tx_hash = ?", txHash).
		First(&deposit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

// CreateIfAbsent 依赖 tx_hash 唯一索引插入，已存在时返回 false
func (r *DepositRepository) CreateIfAbsent(ctx context.Context, deposit *models.Deposit) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(deposit)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Confirm pending -> confirmed 的条件更新，返回受影响行数
func (r *DepositRepository) Confirm(ctx context.Context, txHash string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Deposit{}).
		Where("tx_hash = ? AND status = ?", txHash, models.DepositStatusPending).
		Updates(map[string]interface{}{
			"status":       models.DepositStatusConfirmed,
			"confirmed_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *DepositRepository) GetByAddress(ctx context.Context, address string, limit int) ([]models.Deposit, error) {
	var deposits []models.Deposit
	query := r.db.WithContext(ctx).
		Where("address = ?", address).
		Order("timestamp DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&deposits).Error
	return deposits, err
}
