package repository

import (
	"context"
	"database/sql"
	"errors"

	"yield-points-system/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) *PointsRepository {
	return &PointsRepository{db: db}
}

func (r *PointsRepository) WithTx(tx *gorm.DB) *PointsRepository {
	return &PointsRepository{db: tx}
}

// GetByAddress 获取用户积分余额，不存在返回 nil
func (r *PointsRepository) GetByAddress(ctx context.Context, address string) (*models.UserPoints, error) {
	var points models.UserPoints
	err := r.db.WithContext(ctx).
		Where("address = ?", address).
		First(&points).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &points, nil
}

// AddPoints 原子性增加用户积分
// MySQL 下生成 INSERT ... ON DUPLICATE KEY UPDATE，SQLite 下生成 ON CONFLICT DO UPDATE
func (r *PointsRepository) AddPoints(ctx context.Context, address string, delta decimal.Decimal) error {
	row := &models.UserPoints{
		Address:     address,
		TotalPoints: delta,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_points": gorm.Expr("total_points + ?", delta),
				"updated_at":   gorm.Expr("CURRENT_TIMESTAMP"),
			}),
		}).
		Create(row).Error
}

// SetTotal 用流水重建后的值覆盖余额
func (r *PointsRepository) SetTotal(ctx context.Context, address string, total decimal.Decimal) error {
	row := &models.UserPoints{
		Address:     address,
		TotalPoints: total,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_points": total,
				"updated_at":   gorm.Expr("CURRENT_TIMESTAMP"),
			}),
		}).
		Create(row).Error
}

// ListRanked 按积分降序分页，积分相同按写入顺序(id)升序
func (r *PointsRepository) ListRanked(ctx context.Context, offset, limit int) ([]models.UserPoints, error) {
	var points []models.UserPoints
	err := r.db.WithContext(ctx).
		Order("total_points DESC").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&points).Error
	return points, err
}

func (r *PointsRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserPoints{}).
		Count(&count).Error
	return count, err
}

// RankedPage 在同一个只读事务中读取分页与总数，两者来自同一快照
func (r *PointsRepository) RankedPage(ctx context.Context, offset, limit int) ([]models.UserPoints, int64, error) {
	var (
		points []models.UserPoints
		total  int64
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snapshot := r.WithTx(tx)
		var err error
		if points, err = snapshot.ListRanked(ctx, offset, limit); err != nil {
			return err
		}
		total, err = snapshot.Count(ctx)
		return err
	}, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, err
	}
	return points, total, nil
}

// RankOf 计算与 ListRanked 相同排序规则下的名次
func (r *PointsRepository) RankOf(ctx context.Context, p *models.UserPoints) (int64, error) {
	var ahead int64
	err := r.db.WithContext(ctx).
		Model(&models.UserPoints{}).
		Where("total_points > ? OR (total_points = ? AND id < ?)", p.TotalPoints, p.TotalPoints, p.ID).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// ListAll 返回全部余额，仅用于对账
func (r *PointsRepository) ListAll(ctx context.Context) ([]models.UserPoints, error) {
	var points []models.UserPoints
	err := r.db.WithContext(ctx).Order("id ASC").Find(&points).Error
	return points, err
}
