package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yield-points-system/internal/config"
	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OpenPositionRequest struct {
	Address    string
	StrategyID uint64
	Amount     decimal.Decimal
	TxHash     string
}

type PositionService struct {
	store        *repository.Store
	accountRepo  *repository.AccountRepository
	positionRepo *repository.PositionRepository
	strategyRepo *repository.StrategyRepository
	activityRepo *repository.ActivityRepository
	ledger       *Ledger
	baseRate     decimal.Decimal
	now          func() time.Time
}

func NewPositionService(
	store *repository.Store,
	accountRepo *repository.AccountRepository,
	positionRepo *repository.PositionRepository,
	strategyRepo *repository.StrategyRepository,
	activityRepo *repository.ActivityRepository,
	ledger *Ledger,
	cfg *config.PointsConfig,
) *PositionService {
	return &PositionService{
		store:        store,
		accountRepo:  accountRepo,
		positionRepo: positionRepo,
		strategyRepo: strategyRepo,
		activityRepo: activityRepo,
		ledger:       ledger,
		baseRate:     decimal.NewFromFloat(cfg.BaseRate),
		now:          time.Now,
	}
}

func (s *PositionService) SetClock(now func() time.Time) {
	s.now = now
}

// Open 开仓并按策略倍数发放入场积分，同一 tx_hash 重复提交返回已有仓位
// 积分只在开仓时发放，提取时不再发放
func (s *PositionService) Open(ctx context.Context, req OpenPositionRequest) (*models.Position, bool, error) {
	address := models.NormalizeAddress(req.Address)
	if address == "" {
		return nil, false, errors.New(errors.ErrInvalidInput, "地址不能为空", nil)
	}
	if !req.Amount.IsPositive() {
		return nil, false, errors.New(errors.ErrInvalidInput, "金额必须大于0", nil)
	}

	strategy, err := s.strategyRepo.GetByID(ctx, req.StrategyID)
	if err != nil {
		return nil, false, errors.New(errors.ErrStoreUnavailable, "读取策略失败", err)
	}
	if strategy == nil {
		return nil, false, errors.New(errors.ErrStrategyNotFound,
			fmt.Sprintf("策略 %d 不存在", req.StrategyID), nil)
	}

	txHash := strings.ToLower(strings.TrimSpace(req.TxHash))
	if txHash == "" {
		txHash = SimulatedTxHash()
	}

	multiplier := strategy.PointsMultiplier
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(1)
	}
	basePoints := req.Amount.Mul(s.baseRate)
	now := s.now().UTC()

	var position *models.Position
	created := false

	err = s.store.Transaction(ctx, func(tx *gorm.DB) error {
		account, err := s.accountRepo.WithTx(tx).GetOrCreate(ctx, address)
		if err != nil {
			return err
		}

		candidate := &models.Position{
			UserID:       account.ID,
			StrategyID:   strategy.ID,
			Amount:       req.Amount,
			CurrentValue: req.Amount,
			PointsEarned: basePoints.Mul(multiplier),
			Status:       models.PositionStatusActive,
			TxHash:       txHash,
			CreatedAt:    now,
		}
		inserted, err := s.positionRepo.WithTx(tx).CreateIfAbsent(ctx, candidate)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.positionRepo.WithTx(tx).GetByTxHash(ctx, txHash)
			if err != nil {
				return err
			}
			// 同一交易哈希只属于开仓者本人
			if existing == nil || existing.UserID != account.ID {
				return errors.New(errors.ErrDuplicateTxHash,
					fmt.Sprintf("交易 %s 已被其他仓位使用", txHash), nil)
			}
			position = existing
			return nil
		}
		position = candidate
		created = true

		if _, err := s.ledger.CreditWithin(ctx, tx, CreditRequest{
			Address:        address,
			Points:         basePoints,
			Multiplier:     multiplier,
			ActivityType:   models.PointsActivityStrategyDeposit,
			IdempotencyKey: "position:" + txHash,
			Timestamp:      now,
		}); err != nil {
			return err
		}

		return s.activityRepo.WithTx(tx).Create(ctx, &models.Activity{
			AccountID:    account.ID,
			Address:      address,
			ActivityType: models.ActivityTypePositionOpened,
			Description: fmt.Sprintf("Deposited %s into %s, earned %s points",
				req.Amount.String(), strategy.Name, candidate.PointsEarned.String()),
			Metadata: models.JSONB{
				"strategy_id":   strategy.ID,
				"strategy_name": strategy.Name,
				"amount":        req.Amount.String(),
				"points_earned": candidate.PointsEarned.String(),
				"tx_hash":       txHash,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, false, asStoreError(err, "开仓失败")
	}

	if created {
		logger.WithFields(map[string]interface{}{
			"position_id":   position.ID,
			"address":       address,
			"strategy":      strategy.Name,
			"amount":        req.Amount.String(),
			"points_earned": position.PointsEarned.String(),
		}).Info("仓位已创建")
	}

	return position, created, nil
}

// ListByAddress status 为空时返回全部仓位
func (s *PositionService) ListByAddress(ctx context.Context, address string, status models.PositionStatus) ([]models.Position, error) {
	account, err := s.accountRepo.GetByAddress(ctx, models.NormalizeAddress(address))
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取账户失败", err)
	}
	if account == nil {
		return []models.Position{}, nil
	}

	positions, err := s.positionRepo.ListByUser(ctx, account.ID, status)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取仓位失败", err)
	}
	return positions, nil
}

func (s *PositionService) ListActivities(ctx context.Context, address string, limit int) ([]models.Activity, error) {
	activities, err := s.activityRepo.GetByAddress(ctx, models.NormalizeAddress(address), limit)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取动态失败", err)
	}
	return activities, nil
}
