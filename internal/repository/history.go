package repository

import (
	"context"
	"errors"

	"yield-points-system/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) WithTx(tx *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: tx}
}

// Append 追加流水；幂等键冲突时不写入并返回 false
func (r *HistoryRepository) Append(ctx context.Context, entry *models.PointsHistory) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *HistoryRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.PointsHistory, error) {
	var entry models.PointsHistory
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&entry).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetByAddress 按时间倒序返回用户积分流水
func (r *HistoryRepository) GetByAddress(ctx context.Context, address string, limit int) ([]models.PointsHistory, error) {
	var entries []models.PointsHistory
	query := r.db.WithContext(ctx).
		Where("address = ?", address).
		Order("timestamp DESC").
		Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&entries).Error
	return entries, err
}

func (r *HistoryRepository) SumByAddress(ctx context.Context, address string) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.PointsHistory{}).
		Select("COALESCE(SUM(points), 0) AS total").
		Where("address = ?", address).
		Scan(&row).Error
	return row.Total, err
}

// SumAll 按地址汇总全部流水
func (r *HistoryRepository) SumAll(ctx context.Context) (map[string]decimal.Decimal, error) {
	var rows []struct {
		Address string
		Total   decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.PointsHistory{}).
		Select("address, COALESCE(SUM(points), 0) AS total").
		Group("address").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[row.Address] = row.Total
	}
	return sums, nil
}

func (r *HistoryRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsHistory{}).
		Count(&count).Error
	return count, err
}
