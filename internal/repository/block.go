package repository

import (
	"context"
	"errors"

	"yield-points-system/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// GetLastProcessed 返回链上已处理到的区块号，无记录返回 0
func (r *BlockRepository) GetLastProcessed(ctx context.Context, chainID string) (int64, error) {
	var block models.ProcessedBlock
	err := r.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		First(&block).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return block.BlockNumber, err
}

// MarkProcessed 推进游标，区块号只增不减
func (r *BlockRepository) MarkProcessed(ctx context.Context, chainID string, blockNumber int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ProcessedBlock
		err := tx.Where("chain_id = ?", chainID).First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			block := &models.ProcessedBlock{
				ChainID:     chainID,
				BlockNumber: blockNumber,
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(block).Error
		}

		if err != nil {
			return err
		}

		if blockNumber <= existing.BlockNumber {
			return nil
		}
		return tx.Model(&existing).Update("block_number", blockNumber).Error
	})
}
