package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"yield-points-system/internal/config"
	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store        *repository.Store
	clock        *testutil.Clock
	accountRepo  *repository.AccountRepository
	pointsRepo   *repository.PointsRepository
	historyRepo  *repository.HistoryRepository
	depositRepo  *repository.DepositRepository
	strategyRepo *repository.StrategyRepository
	positionRepo *repository.PositionRepository
	activityRepo *repository.ActivityRepository

	ledger      *Ledger
	ingestor    *Ingestor
	accrual     *Accrual
	settlement  *Settlement
	leaderboard *Leaderboard
	positions   *PositionService
	strategies  *StrategyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testutil.NewStore(t)
	db := store.DB()
	clock := testutil.NewClock(baseTime)

	f := &fixture{
		store:        store,
		clock:        clock,
		accountRepo:  repository.NewAccountRepository(db),
		pointsRepo:   repository.NewPointsRepository(db),
		historyRepo:  repository.NewHistoryRepository(db),
		depositRepo:  repository.NewDepositRepository(db),
		strategyRepo: repository.NewStrategyRepository(db),
		positionRepo: repository.NewPositionRepository(db),
		activityRepo: repository.NewActivityRepository(db),
	}

	pointsCfg := &config.PointsConfig{BaseRate: 1000, DepositMultiplier: 1, DepositActivity: models.PointsActivityDeposit}

	f.ledger = NewLedger(store, f.accountRepo, f.pointsRepo, f.historyRepo)
	f.ledger.SetClock(clock.Now)

	f.ingestor = NewIngestor(store, f.depositRepo, f.ledger, pointsCfg)
	f.ingestor.SetClock(clock.Now)

	f.accrual = NewAccrual(f.positionRepo, f.strategyRepo, &config.YieldConfig{NoiseMin: 0.98, NoiseMax: 1.02})
	f.accrual.SetClock(clock.Now)
	f.accrual.SetNoise(FixedNoise(1))

	f.settlement = NewSettlement(store, f.accountRepo, f.positionRepo, f.strategyRepo, f.activityRepo)
	f.settlement.SetClock(clock.Now)

	f.leaderboard = NewLeaderboard(f.pointsRepo, f.historyRepo)

	f.positions = NewPositionService(store, f.accountRepo, f.positionRepo, f.strategyRepo, f.activityRepo, f.ledger, pointsCfg)
	f.positions.SetClock(clock.Now)

	f.strategies = NewStrategyService(f.strategyRepo)

	return f
}

// seedStrategy 写入一个策略并返回其 id
func (f *fixture) seedStrategy(t *testing.T, name string, apyBps int64, multiplier float64) uint64 {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.strategies.Seed(ctx, []config.StrategyConfig{{
		Name:               name,
		ProtocolType:       "test",
		BaseApyBasisPoints: apyBps,
		PointsMultiplier:   multiplier,
	}}))

	list, err := f.strategies.List(ctx)
	require.NoError(t, err)
	for _, s := range list {
		if s.Name == name {
			return s.ID
		}
	}
	t.Fatalf("strategy %s not seeded", name)
	return 0
}

func (f *fixture) balance(t *testing.T, address string) decimal.Decimal {
	t.Helper()
	p, err := f.pointsRepo.GetByAddress(context.Background(), models.NormalizeAddress(address))
	require.NoError(t, err)
	if p == nil {
		return decimal.Zero
	}
	return p.TotalPoints
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// failWrites 安装一个让匹配写入失败的 sqlite 触发器，返回移除函数
func (f *fixture) failWrites(t *testing.T, name, event, when string) func() {
	t.Helper()
	db := f.store.DB()
	stmt := fmt.Sprintf("CREATE TRIGGER %s %s WHEN %s BEGIN SELECT RAISE(FAIL, 'boom'); END", name, event, when)
	require.NoError(t, db.Exec(stmt).Error)
	return func() {
		require.NoError(t, db.Exec("DROP TRIGGER IF EXISTS "+name).Error)
	}
}
