package service

import (
	"context"

	"yield-points-system/internal/models"
	"yield-points-system/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Mismatch 余额与流水合计不一致的地址
type Mismatch struct {
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	HistorySum decimal.Decimal `json:"history_sum"`
}

// Reconcile 校验每个地址的余额等于其流水之和
func (l *Ledger) Reconcile(ctx context.Context) ([]Mismatch, error) {
	sums, err := l.historyRepo.SumAll(ctx)
	if err != nil {
		return nil, asStoreError(err, "汇总积分流水失败")
	}

	balances, err := l.pointsRepo.ListAll(ctx)
	if err != nil {
		return nil, asStoreError(err, "读取积分余额失败")
	}

	var mismatches []Mismatch
	seen := make(map[string]bool, len(balances))
	for _, b := range balances {
		seen[b.Address] = true
		sum := sums[b.Address]
		if !sum.Equal(b.TotalPoints) {
			mismatches = append(mismatches, Mismatch{
				Address:    b.Address,
				Balance:    b.TotalPoints,
				HistorySum: sum,
			})
		}
	}
	for address, sum := range sums {
		if !seen[address] && !sum.IsZero() {
			mismatches = append(mismatches, Mismatch{
				Address:    address,
				Balance:    decimal.Zero,
				HistorySum: sum,
			})
		}
	}

	logger.WithFields(map[string]interface{}{
		"balances":   len(balances),
		"mismatches": len(mismatches),
	}).Info("Ledger reconciliation completed")

	return mismatches, nil
}

// Rebuild 由只追加流水重建某地址的余额投影
func (l *Ledger) Rebuild(ctx context.Context, address string) (decimal.Decimal, error) {
	address = models.NormalizeAddress(address)

	var total decimal.Decimal
	err := l.store.Transaction(ctx, func(tx *gorm.DB) error {
		sum, err := l.historyRepo.WithTx(tx).SumByAddress(ctx, address)
		if err != nil {
			return err
		}
		total = sum
		return l.pointsRepo.WithTx(tx).SetTotal(ctx, address, sum)
	})
	if err != nil {
		return decimal.Zero, asStoreError(err, "重建积分余额失败")
	}

	logger.WithFields(map[string]interface{}{
		"address":      address,
		"total_points": total.String(),
	}).Warn("Points balance rebuilt from history")

	return total, nil
}
