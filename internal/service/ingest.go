package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yield-points-system/internal/blockchain"
	"yield-points-system/internal/config"
	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type IngestResult struct {
	Credited      bool            `json:"credited"`
	PointsAwarded decimal.Decimal `json:"points_awarded"`
}

// BatchReport 批量入账的汇总，单个事件失败不会中断批次
type BatchReport struct {
	Succeeded   int     `json:"succeeded"`
	Skipped     int     `json:"skipped"`
	Errored     int     `json:"errored"`
	Unavailable int     `json:"unavailable"`
	Errors      []error `json:"-"`
}

func (r *BatchReport) merge(other *BatchReport) {
	r.Succeeded += other.Succeeded
	r.Skipped += other.Skipped
	r.Errored += other.Errored
	r.Unavailable += other.Unavailable
	r.Errors = append(r.Errors, other.Errors...)
}

// DepositSource 回填时按区块范围读取存款事件
type DepositSource interface {
	FetchDeposits(ctx context.Context, startBlock, endBlock int64) ([]*blockchain.DepositEvent, error)
}

type Ingestor struct {
	store       *repository.Store
	depositRepo *repository.DepositRepository
	ledger      *Ledger
	baseRate    decimal.Decimal
	multiplier  decimal.Decimal
	activity    string
	now         func() time.Time
}

func NewIngestor(
	store *repository.Store,
	depositRepo *repository.DepositRepository,
	ledger *Ledger,
	cfg *config.PointsConfig,
) *Ingestor {
	activity := cfg.DepositActivity
	if activity == "" {
		activity = models.PointsActivityDeposit
	}
	return &Ingestor{
		store:       store,
		depositRepo: depositRepo,
		ledger:      ledger,
		baseRate:    decimal.NewFromFloat(cfg.BaseRate),
		multiplier:  decimal.NewFromFloat(cfg.DepositMultiplier),
		activity:    activity,
		now:         time.Now,
	}
}

func (s *Ingestor) SetClock(now func() time.Time) {
	s.now = now
}

// Ingest 处理一条链上存款事件，同一 tx_hash 至多入账一次
// 存款记录、积分流水、积分余额在同一事务中写入
func (s *Ingestor) Ingest(ctx context.Context, event *blockchain.DepositEvent) (*IngestResult, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	address := models.NormalizeAddress(event.Address)
	txHash := strings.ToLower(strings.TrimSpace(event.TxHash))

	exists, err := s.depositRepo.ExistsByTxHash(ctx, txHash)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "检查交易是否存在失败", err)
	}
	if exists {
		logger.WithFields(map[string]interface{}{
			"tx_hash": txHash,
		}).Debug("交易已处理")
		return &IngestResult{Credited: false, PointsAwarded: decimal.Zero}, nil
	}

	timestamp := s.now().UTC()
	if event.TimestampSeconds > 0 {
		timestamp = time.Unix(event.TimestampSeconds, 0).UTC()
	}

	awarded := event.Amount.Mul(s.baseRate).Mul(s.multiplier)
	credited := false

	err = s.store.Transaction(ctx, func(tx *gorm.DB) error {
		created, err := s.depositRepo.WithTx(tx).CreateIfAbsent(ctx, &models.Deposit{
			TxHash:      txHash,
			Address:     address,
			Amount:      event.Amount,
			Chain:       event.Chain,
			BlockNumber: event.BlockNumber,
			Status:      models.DepositStatusPending,
			Timestamp:   timestamp,
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		result, err := s.ledger.CreditWithin(ctx, tx, CreditRequest{
			Address:        address,
			Points:         event.Amount.Mul(s.baseRate),
			Multiplier:     s.multiplier,
			ActivityType:   s.activity,
			IdempotencyKey: DepositIdempotencyKey(txHash),
			Timestamp:      timestamp,
		})
		if err != nil {
			return err
		}
		credited = result.Applied
		return nil
	})
	if err != nil {
		return nil, asStoreError(err, "存款入账失败")
	}

	if !credited {
		return &IngestResult{Credited: false, PointsAwarded: decimal.Zero}, nil
	}

	logger.WithFields(map[string]interface{}{
		"chain":          event.Chain,
		"address":        address,
		"tx_hash":        txHash,
		"amount":         event.Amount.String(),
		"points_awarded": awarded.String(),
	}).Info("存款已入账")

	return &IngestResult{Credited: true, PointsAwarded: awarded}, nil
}

// IngestAll 按链上顺序逐条入账并汇总结果
func (s *Ingestor) IngestAll(ctx context.Context, events []*blockchain.DepositEvent) *BatchReport {
	ordered := make([]*blockchain.DepositEvent, 0, len(events))
	for _, e := range events {
		if e != nil {
			ordered = append(ordered, e)
		}
	}
	blockchain.SortEvents(ordered)

	report := &BatchReport{Errored: len(events) - len(ordered)}
	for _, event := range ordered {
		result, err := s.Ingest(ctx, event)
		if err != nil {
			report.Errored++
			if errors.KindOf(err) == errors.KindUnavailable {
				report.Unavailable++
			}
			report.Errors = append(report.Errors, fmt.Errorf("tx %s: %w", event.TxHash, err))
			logger.WithFields(map[string]interface{}{
				"tx_hash": event.TxHash,
				"error":   err,
			}).Error("存款入账失败")
			continue
		}
		if result.Credited {
			report.Succeeded++
		} else {
			report.Skipped++
		}
	}
	return report
}

// HandleWindow 供监听器使用；存储不可用时返回错误让整个窗口重试
func (s *Ingestor) HandleWindow(ctx context.Context, events []*blockchain.DepositEvent) error {
	report := s.IngestAll(ctx, events)
	if report.Unavailable > 0 {
		return errors.New(errors.ErrStoreUnavailable,
			fmt.Sprintf("%d 个事件因存储不可用失败", report.Unavailable), report.Errors[0])
	}
	return nil
}

// Backfill 按 batchSize 个区块一个窗口扫描 [from, to]
func (s *Ingestor) Backfill(ctx context.Context, source DepositSource, from, to int64, batchSize int) (*BatchReport, error) {
	if from < 0 || to < from {
		return nil, errors.New(errors.ErrInvalidInput,
			fmt.Sprintf("无效的区块范围 [%d, %d]", from, to), nil)
	}

	total := &BatchReport{}
	for start := from; start <= to; {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		end := blockchain.WindowEnd(start, to, batchSize)
		events, err := source.FetchDeposits(ctx, start, end)
		if err != nil {
			return total, err
		}

		report := s.IngestAll(ctx, events)
		total.merge(report)

		logger.WithFields(map[string]interface{}{
			"start_block": start,
			"end_block":   end,
			"events":      len(events),
			"succeeded":   report.Succeeded,
			"skipped":     report.Skipped,
			"errored":     report.Errored,
		}).Info("Backfill window processed")

		start = end + 1
	}

	return total, nil
}

// Confirm 外部确认信号：pending -> confirmed，已确认视为成功
func (s *Ingestor) Confirm(ctx context.Context, txHash string) (*models.Deposit, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if txHash == "" {
		return nil, errors.New(errors.ErrInvalidInput, "tx_hash不能为空", nil)
	}

	if _, err := s.depositRepo.Confirm(ctx, txHash, s.now().UTC()); err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "确认存款失败", err)
	}

	deposit, err := s.depositRepo.GetByTxHash(ctx, txHash)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取存款失败", err)
	}
	if deposit == nil {
		return nil, errors.New(errors.ErrDepositNotFound, "存款不存在: "+txHash, nil)
	}
	return deposit, nil
}

func DepositIdempotencyKey(txHash string) string {
	return "deposit:" + txHash
}

func validateEvent(event *blockchain.DepositEvent) error {
	if event == nil {
		return errors.New(errors.ErrInvalidEvent, "事件为空", nil)
	}
	if models.NormalizeAddress(event.Address) == "" {
		return errors.New(errors.ErrInvalidEvent, "缺少地址", nil)
	}
	if strings.TrimSpace(event.TxHash) == "" {
		return errors.New(errors.ErrInvalidEvent, "缺少交易哈希", nil)
	}
	if !event.Amount.IsPositive() {
		return errors.New(errors.ErrInvalidEvent, "金额必须大于0", nil)
	}
	return nil
}
