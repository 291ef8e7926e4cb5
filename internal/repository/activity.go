package repository

import (
	"context"

	"yield-points-system/internal/models"

	"gorm.io/gorm"
)

type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) WithTx(tx *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: tx}
}

func (r *ActivityRepository) Create(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *ActivityRepository) GetByAddress(ctx context.Context, address string, limit int) ([]models.Activity, error) {
	var activities []models.Activity
	query := r.db.WithContext(ctx).
		Where("address = ?", address).
		Order("created_at DESC").
		Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&activities).Error
	return activities, err
}
