package repository

import (
	"context"
	"errors"

	"yield-points-system/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StrategyRepository struct {
	db *gorm.DB
}

func NewStrategyRepository(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

func (r *StrategyRepository) WithTx(tx *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: tx}
}

func (r *StrategyRepository) List(ctx context.Context) ([]models.Strategy, error) {
	var strategies []models.Strategy
	err := r.db.WithContext(ctx).Order("id ASC").Find(&strategies).Error
	return strategies, err
}

func (r *StrategyRepository) GetByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	var strategy models.Strategy
	err := r.db.WithContext(ctx).First(&strategy, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &strategy, nil
}

// Upsert 按名称写入策略参数，不覆盖 tvl
func (r *StrategyRepository) Upsert(ctx context.Context, strategy *models.Strategy) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"protocol_type", "base_apy_basis_points", "points_multiplier", "updated_at"}),
		}).
		Create(strategy).Error
}

func (r *StrategyRepository) UpdateTVL(ctx context.Context, id uint64, tvl decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Update("tvl", tvl).Error
}
