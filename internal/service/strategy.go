package service

import (
	"context"

	"yield-points-system/internal/config"
	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/shopspring/decimal"
)

type StrategyService struct {
	strategyRepo *repository.StrategyRepository
}

func NewStrategyService(strategyRepo *repository.StrategyRepository) *StrategyService {
	return &StrategyService{strategyRepo: strategyRepo}
}

// Seed 按配置写入策略参数，已存在的策略保留其 tvl
func (s *StrategyService) Seed(ctx context.Context, strategies []config.StrategyConfig) error {
	for _, cfg := range strategies {
		multiplier := decimal.NewFromFloat(cfg.PointsMultiplier)
		if !multiplier.IsPositive() {
			multiplier = decimal.NewFromInt(1)
		}
		strategy := &models.Strategy{
			Name:               cfg.Name,
			ProtocolType:       cfg.ProtocolType,
			BaseApyBasisPoints: cfg.BaseApyBasisPoints,
			PointsMultiplier:   multiplier,
			TVL:                decimal.Zero,
		}
		if err := s.strategyRepo.Upsert(ctx, strategy); err != nil {
			return errors.New(errors.ErrStoreUnavailable, "写入策略失败: "+cfg.Name, err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"strategies": len(strategies),
	}).Info("Strategies seeded")
	return nil
}

func (s *StrategyService) List(ctx context.Context) ([]models.Strategy, error) {
	strategies, err := s.strategyRepo.List(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取策略失败", err)
	}
	return strategies, nil
}
