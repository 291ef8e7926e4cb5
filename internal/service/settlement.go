package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SettlementReceipt struct {
	PositionID   uint64          `json:"position_id"`
	StrategyID   uint64          `json:"strategy_id"`
	StrategyName string          `json:"strategy_name"`
	Amount       decimal.Decimal `json:"amount"`
	FinalValue   decimal.Decimal `json:"final_value"`
	FinalYield   decimal.Decimal `json:"final_yield"`
	PointsEarned decimal.Decimal `json:"points_earned"`
	TxHash       string          `json:"tx_hash"`
	Simulated    bool            `json:"simulated"`
	WithdrawnAt  time.Time       `json:"withdrawn_at"`
}

type Settlement struct {
	store        *repository.Store
	accountRepo  *repository.AccountRepository
	positionRepo *repository.PositionRepository
	strategyRepo *repository.StrategyRepository
	activityRepo *repository.ActivityRepository
	now          func() time.Time
}

func NewSettlement(
	store *repository.Store,
	accountRepo *repository.AccountRepository,
	positionRepo *repository.PositionRepository,
	strategyRepo *repository.StrategyRepository,
	activityRepo *repository.ActivityRepository,
) *Settlement {
	return &Settlement{
		store:        store,
		accountRepo:  accountRepo,
		positionRepo: positionRepo,
		strategyRepo: strategyRepo,
		activityRepo: activityRepo,
		now:          time.Now,
	}
}

func (s *Settlement) SetClock(now func() time.Time) {
	s.now = now
}

// WithdrawAs 以地址身份提取仓位
func (s *Settlement) WithdrawAs(ctx context.Context, positionID uint64, address, txHash string) (*SettlementReceipt, error) {
	account, err := s.accountRepo.GetByAddress(ctx, models.NormalizeAddress(address))
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取账户失败", err)
	}
	if account == nil {
		return nil, errors.New(errors.ErrNotFoundOrAlreadySettled,
			fmt.Sprintf("仓位 %d 不存在或已结算", positionID), nil)
	}
	return s.Withdraw(ctx, positionID, account.ID, txHash)
}

// Withdraw 仓位只能由所有者结算且只能结算一次
// 读取按 id+所有者+active 过滤，写入是 WHERE status='active' 的条件更新
func (s *Settlement) Withdraw(ctx context.Context, positionID, callerID uint64, txHash string) (*SettlementReceipt, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	simulated := txHash == ""
	if simulated {
		txHash = SimulatedTxHash()
	}

	var receipt *SettlementReceipt
	readDone := false

	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		position, err := s.positionRepo.WithTx(tx).GetActiveOwned(ctx, positionID, callerID)
		if err != nil {
			return errors.New(errors.ErrStoreUnavailable, "读取仓位失败", err)
		}
		if position == nil {
			return errors.New(errors.ErrNotFoundOrAlreadySettled,
				fmt.Sprintf("仓位 %d 不存在或已结算", positionID), nil)
		}
		readDone = true

		strategy, err := s.strategyRepo.WithTx(tx).GetByID(ctx, position.StrategyID)
		if err != nil {
			return err
		}
		strategyName := ""
		if strategy != nil {
			strategyName = strategy.Name
		}

		withdrawnAt := s.now().UTC()
		affected, err := s.positionRepo.WithTx(tx).MarkWithdrawn(ctx, position.ID, callerID, withdrawnAt, txHash)
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.New(errors.ErrNotFoundOrAlreadySettled,
				fmt.Sprintf("仓位 %d 不存在或已结算", positionID), nil)
		}

		receipt = &SettlementReceipt{
			PositionID:   position.ID,
			StrategyID:   position.StrategyID,
			StrategyName: strategyName,
			Amount:       position.Amount,
			FinalValue:   position.CurrentValue,
			FinalYield:   position.CurrentValue.Sub(position.Amount),
			PointsEarned: position.PointsEarned,
			TxHash:       txHash,
			Simulated:    simulated,
			WithdrawnAt:  withdrawnAt,
		}

		account, err := s.accountRepo.WithTx(tx).GetByID(ctx, callerID)
		if err != nil {
			return err
		}
		address := ""
		if account != nil {
			address = account.Address
		}

		return s.activityRepo.WithTx(tx).Create(ctx, &models.Activity{
			AccountID:    callerID,
			Address:      address,
			ActivityType: models.ActivityTypePositionWithdrawn,
			Description: fmt.Sprintf("Withdrew %s from %s: final value %s, yield %s, points earned %s",
				receipt.Amount.String(), strategyName, receipt.FinalValue.String(),
				receipt.FinalYield.String(), receipt.PointsEarned.String()),
			Metadata: models.JSONB{
				"position_id":   receipt.PositionID,
				"strategy_id":   receipt.StrategyID,
				"strategy_name": strategyName,
				"amount":        receipt.Amount.String(),
				"final_value":   receipt.FinalValue.String(),
				"final_yield":   receipt.FinalYield.String(),
				"points_earned": receipt.PointsEarned.String(),
				"tx_hash":       txHash,
				"simulated":     simulated,
			},
			CreatedAt: withdrawnAt,
		})
	})
	if err != nil {
		if errors.KindOf(err) != errors.KindInternal {
			return nil, err
		}
		if readDone {
			return nil, errors.New(errors.ErrCommitFailed, "仓位结算提交失败", err)
		}
		return nil, errors.New(errors.ErrStoreUnavailable, "仓位结算失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"position_id": receipt.PositionID,
		"user_id":     callerID,
		"final_value": receipt.FinalValue.String(),
		"final_yield": receipt.FinalYield.String(),
		"tx_hash":     receipt.TxHash,
		"simulated":   simulated,
	}).Info("仓位已结算")

	return receipt, nil
}

// SimulatedTxHash 非链上结算时的占位交易哈希
func SimulatedTxHash() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
