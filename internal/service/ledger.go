package service

import (
	"context"
	"time"

	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreditRequest Points 为乘倍数前的基础积分
type CreditRequest struct {
	Address        string
	Points         decimal.Decimal
	Multiplier     decimal.Decimal
	ActivityType   string
	IdempotencyKey string
	Timestamp      time.Time
}

// CreditResult Applied 为 false 表示幂等键已使用，Entry 为之前的流水
type CreditResult struct {
	Entry   *models.PointsHistory
	Applied bool
}

// Ledger 是唯一允许修改积分余额的组件
type Ledger struct {
	store       *repository.Store
	accountRepo *repository.AccountRepository
	pointsRepo  *repository.PointsRepository
	historyRepo *repository.HistoryRepository
	now         func() time.Time
}

func NewLedger(
	store *repository.Store,
	accountRepo *repository.AccountRepository,
	pointsRepo *repository.PointsRepository,
	historyRepo *repository.HistoryRepository,
) *Ledger {
	return &Ledger{
		store:       store,
		accountRepo: accountRepo,
		pointsRepo:  pointsRepo,
		historyRepo: historyRepo,
		now:         time.Now,
	}
}

func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Credit 在独立事务中记账
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	var result *CreditResult
	err := l.store.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = l.CreditWithin(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, asStoreError(err, "积分记账失败")
	}
	return result, nil
}

// CreditWithin 在调用方事务内追加流水并累加余额
// 调用方负责提交，流水与余额同生同灭
func (l *Ledger) CreditWithin(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditResult, error) {
	if err := validateCredit(req); err != nil {
		return nil, err
	}

	address := models.NormalizeAddress(req.Address)
	credited := req.Points.Mul(req.Multiplier)

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = l.now()
	}

	entry := &models.PointsHistory{
		Address:      address,
		Points:       credited,
		Multiplier:   req.Multiplier,
		ActivityType: req.ActivityType,
		Timestamp:    timestamp.UTC(),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		entry.IdempotencyKey = &key
	}

	if _, err := l.accountRepo.WithTx(tx).GetOrCreate(ctx, address); err != nil {
		return nil, err
	}

	inserted, err := l.historyRepo.WithTx(tx).Append(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		prior, err := l.historyRepo.WithTx(tx).GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"address":         address,
			"idempotency_key": req.IdempotencyKey,
		}).Debug("幂等键已使用，跳过记账")
		return &CreditResult{Entry: prior, Applied: false}, nil
	}

	if err := l.pointsRepo.WithTx(tx).AddPoints(ctx, address, credited); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"address":       address,
		"points":        credited.String(),
		"multiplier":    req.Multiplier.String(),
		"activity_type": req.ActivityType,
	}).Info("积分已入账")

	return &CreditResult{Entry: entry, Applied: true}, nil
}

func validateCredit(req CreditRequest) error {
	if models.NormalizeAddress(req.Address) == "" {
		return errors.New(errors.ErrInvalidInput, "地址不能为空", nil)
	}
	if req.Points.IsNegative() {
		return errors.New(errors.ErrInvalidInput, "积分不能为负数", nil)
	}
	if !req.Multiplier.IsPositive() {
		return errors.New(errors.ErrInvalidInput, "倍数必须大于0", nil)
	}
	if req.ActivityType == "" {
		return errors.New(errors.ErrInvalidInput, "活动类型不能为空", nil)
	}
	return nil
}

// asStoreError 保留已分类的业务错误，其余视为存储不可用
func asStoreError(err error, message string) error {
	if errors.KindOf(err) != errors.KindInternal {
		return err
	}
	return errors.New(errors.ErrStoreUnavailable, message, err)
}
