package service

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"yield-points-system/internal/config"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	secondsPerDay = 86400
	daysPerYear   = 365
	valuePlaces   = 8
)

// NoiseSource 提供乘性波动因子
type NoiseSource interface {
	Factor() float64
}

// UniformNoise 在 [Min, Max] 上均匀取值
type UniformNoise struct {
	min float64
	max float64
	mu  sync.Mutex
	rng *rand.Rand
}

func NewUniformNoise(min, max float64) *UniformNoise {
	return &UniformNoise{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (n *UniformNoise) Factor() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.min + n.rng.Float64()*(n.max-n.min)
}

// FixedNoise 固定因子，1.0 即关闭波动
type FixedNoise float64

func (f FixedNoise) Factor() float64 {
	return float64(f)
}

type AccrualReport struct {
	Processed         int           `json:"processed"`
	Failed            int           `json:"failed"`
	Skipped           int           `json:"skipped"`
	StrategiesUpdated int           `json:"strategies_updated"`
	StrategiesFailed  int           `json:"strategies_failed"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// Accrual 按复利重新计算活跃仓位价值并汇总策略 TVL
// 不负责防止并发执行，由调度层保证同一时刻只有一次运行
type Accrual struct {
	positionRepo *repository.PositionRepository
	strategyRepo *repository.StrategyRepository
	noise        NoiseSource
	now          func() time.Time
}

func NewAccrual(
	positionRepo *repository.PositionRepository,
	strategyRepo *repository.StrategyRepository,
	cfg *config.YieldConfig,
) *Accrual {
	return &Accrual{
		positionRepo: positionRepo,
		strategyRepo: strategyRepo,
		noise:        NewUniformNoise(cfg.NoiseMin, cfg.NoiseMax),
		now:          time.Now,
	}
}

func (a *Accrual) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Accrual) SetNoise(noise NoiseSource) {
	a.noise = noise
}

// CompoundValue amount * (1 + apy/100/365)^days，apy 以基点表示
func CompoundValue(amount decimal.Decimal, apyBasisPoints int64, daysHeld float64) decimal.Decimal {
	if daysHeld < 0 {
		daysHeld = 0
	}
	apyPercent := float64(apyBasisPoints) / 100
	dailyRate := apyPercent / 100 / daysPerYear
	growth := math.Pow(1+dailyRate, daysHeld)
	return amount.Mul(decimal.NewFromFloat(growth))
}

// DaysHeld 持有天数，保留小数
func DaysHeld(createdAt, now time.Time) float64 {
	return now.Sub(createdAt).Seconds() / secondsPerDay
}

// applyNoise 波动只影响展示价值，结果不小于 0
func applyNoise(value decimal.Decimal, factor float64) decimal.Decimal {
	noisy := value.Mul(decimal.NewFromFloat(factor)).Round(valuePlaces)
	if noisy.IsNegative() {
		return decimal.Zero
	}
	return noisy
}

// Run 执行一次收益计算：先逐个更新仓位，再按策略汇总 TVL
// 单个仓位失败只计数，不中断批次
func (a *Accrual) Run(ctx context.Context) (*AccrualReport, error) {
	now := a.now().UTC()
	report := &AccrualReport{StartedAt: now}

	positions, err := a.positionRepo.ListActiveWithApy(ctx)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取活跃仓位失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"positions": len(positions),
	}).Info("Starting yield accrual")

	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(now)
			return report, err
		}

		value := CompoundValue(p.Amount, p.BaseApyBasisPoints, DaysHeld(p.CreatedAt, now))
		current := applyNoise(value, a.noise.Factor())

		affected, err := a.positionRepo.UpdateCurrentValue(ctx, p.ID, current)
		if err != nil {
			report.Failed++
			logger.WithFields(map[string]interface{}{
				"position_id": p.ID,
				"error":       err,
			}).Error("Failed to update position value")
			continue
		}
		if affected == 0 {
			report.Skipped++
			continue
		}
		report.Processed++
	}

	a.refreshTVL(ctx, report)

	report.Duration = a.now().UTC().Sub(now)

	logger.WithFields(map[string]interface{}{
		"processed":          report.Processed,
		"failed":             report.Failed,
		"skipped":            report.Skipped,
		"strategies_updated": report.StrategiesUpdated,
		"strategies_failed":  report.StrategiesFailed,
	}).Info("Yield accrual completed")

	return report, nil
}

func (a *Accrual) refreshTVL(ctx context.Context, report *AccrualReport) {
	sums, err := a.positionRepo.SumActiveValueByStrategy(ctx)
	if err != nil {
		logger.Error("Failed to aggregate strategy tvl:", err)
		report.StrategiesFailed++
		return
	}

	strategies, err := a.strategyRepo.List(ctx)
	if err != nil {
		logger.Error("Failed to list strategies:", err)
		report.StrategiesFailed++
		return
	}

	for _, s := range strategies {
		tvl, ok := sums[s.ID]
		if !ok {
			tvl = decimal.Zero
		}
		if err := a.strategyRepo.UpdateTVL(ctx, s.ID, tvl.Round(valuePlaces)); err != nil {
			report.StrategiesFailed++
			logger.WithFields(map[string]interface{}{
				"strategy_id": s.ID,
				"error":       err,
			}).Error("Failed to update strategy tvl")
			continue
		}
		report.StrategiesUpdated++
	}
}
