package repository

import (
	"context"
	"errors"
	"time"

	"yield-points-system/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) WithTx(tx *gorm.DB) *PositionRepository {
	return &PositionRepository{db: tx}
}

// CreateIfAbsent 依赖开仓 tx_hash 唯一索引，重复时返回 false
func (r *PositionRepository) CreateIfAbsent(ctx context.Context, position *models.Position) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(position)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PositionRepository) GetByTxHash(ctx context.Context, txHash string) (*models.Position, error) {
	var position models.Position
	err := r.db.WithContext(ctx).
		Where("tx_hash = ?", txHash).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

func (r *PositionRepository) GetByID(ctx context.Context, id uint64) (*models.Position, error) {
	var position models.Position
	err := r.db.WithContext(ctx).First(&position, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// GetActiveOwned 同时按 id、所有者、active 状态过滤，任一不满足返回 nil
func (r *PositionRepository) GetActiveOwned(ctx context.Context, id, userID uint64) (*models.Position, error) {
	var position models.Position
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.PositionStatusActive).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// MarkWithdrawn active -> withdrawn 的条件更新，返回受影响行数
func (r *PositionRepository) MarkWithdrawn(ctx context.Context, id, userID uint64, at time.Time, txHash string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.PositionStatusActive).
		Updates(map[string]interface{}{
			"status":           models.PositionStatusWithdrawn,
			"withdrawn_at":     at,
			"withdraw_tx_hash": txHash,
		})
	return result.RowsAffected, result.Error
}

// ListActiveWithApy 读取全部活跃仓位及其策略年化(基点)
func (r *PositionRepository) ListActiveWithApy(ctx context.Context) ([]models.ActivePosition, error) {
	var rows []models.ActivePosition
	err := r.db.WithContext(ctx).
		Table("positions AS p").
		Select("p.id AS id, p.strategy_id AS strategy_id, p.amount AS amount, p.created_at AS created_at, s.base_apy_basis_points AS base_apy_basis_points").
		Joins("JOIN strategies AS s ON s.id = p.strategy_id").
		Where("p.status = ?", models.PositionStatusActive).
		Order("p.id ASC").
		Scan(&rows).Error
	return rows, err
}

// UpdateCurrentValue 只更新仍为 active 的仓位，返回受影响行数
func (r *PositionRepository) UpdateCurrentValue(ctx context.Context, id uint64, value decimal.Decimal) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionStatusActive).
		Update("current_value", value)
	return result.RowsAffected, result.Error
}

// SumActiveValueByStrategy 汇总每个策略下活跃仓位的 current_value
func (r *PositionRepository) SumActiveValueByStrategy(ctx context.Context) (map[uint64]decimal.Decimal, error) {
	var rows []struct {
		StrategyID uint64
		Total      decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.Position{}).
		Select("strategy_id, COALESCE(SUM(current_value), 0) AS total").
		Where("status = ?", models.PositionStatusActive).
		Group("strategy_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[uint64]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[row.StrategyID] = row.Total
	}
	return sums, nil
}

func (r *PositionRepository) ListByUser(ctx context.Context, userID uint64, status models.PositionStatus) ([]models.Position, error) {
	var positions []models.Position
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC")

	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Find(&positions).Error
	return positions, err
}
