package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"yield-points-system/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func TestCompoundValue(t *testing.T) {
	value := CompoundValue(dec("100"), 1250, 365)
	assert.InDelta(t, 113.31, value.InexactFloat64(), 0.01)

	assert.True(t, CompoundValue(dec("100"), 1250, 0).Equal(dec("100")))
	assert.True(t, CompoundValue(dec("100"), 0, 365).Equal(dec("100")))
	assert.True(t, CompoundValue(dec("100"), 500, -3).Equal(dec("100")))
}

func TestDaysHeld(t *testing.T) {
	assert.Equal(t, 1.5, DaysHeld(baseTime, baseTime.Add(36*time.Hour)))
	assert.Equal(t, 0.0, DaysHeld(baseTime, baseTime))
}

func TestApplyNoiseClampsAndRounds(t *testing.T) {
	assert.True(t, applyNoise(dec("-5"), 1).IsZero())
	assert.True(t, applyNoise(dec("1.123456789"), 1).Equal(dec("1.12345679")))
	assert.True(t, applyNoise(dec("100"), 1.02).Equal(dec("102")))
}

func TestUniformNoiseStaysInRange(t *testing.T) {
	noise := NewUniformNoise(0.98, 1.02)
	for i := 0; i < 1000; i++ {
		f := noise.Factor()
		assert.GreaterOrEqual(t, f, 0.98)
		assert.LessOrEqual(t, f, 1.02)
	}
}

func TestAccrualRunCompoundsActivePositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	curve := f.seedStrategy(t, "Curve 3pool", 1250, 3)
	aave := f.seedStrategy(t, "Aave USDC", 500, 1)

	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: curve, Amount: dec("100"), TxHash: "0xp1"})
	require.NoError(t, err)

	f.clock.Advance(365 * day)

	report, err := f.accrual.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.StrategiesUpdated)

	stored, err := f.positionRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 113.31, stored.CurrentValue.InexactFloat64(), 0.01)
	assert.True(t, stored.Amount.Equal(dec("100")))

	strategy, err := f.strategyRepo.GetByID(ctx, curve)
	require.NoError(t, err)
	assert.InDelta(t, 113.31, strategy.TVL.InexactFloat64(), 0.01)

	empty, err := f.strategyRepo.GetByID(ctx, aave)
	require.NoError(t, err)
	assert.True(t, empty.TVL.IsZero())
}

func TestAccrualSkipsWithdrawnPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Lido", 400, 1)

	kept, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("10"), TxHash: "0xk"})
	require.NoError(t, err)
	gone, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("50"), TxHash: "0xg"})
	require.NoError(t, err)

	_, err = f.settlement.Withdraw(ctx, gone.ID, gone.UserID, "")
	require.NoError(t, err)

	f.clock.Advance(30 * day)
	report, err := f.accrual.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	withdrawn, err := f.positionRepo.GetByID(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, withdrawn.CurrentValue.Equal(dec("50")), "withdrawn position must keep its final value")

	active, err := f.positionRepo.GetByID(ctx, kept.ID)
	require.NoError(t, err)

	strategy, err := f.strategyRepo.GetByID(ctx, sid)
	require.NoError(t, err)
	assert.InDelta(t, active.CurrentValue.InexactFloat64(), strategy.TVL.InexactFloat64(), 1e-8)
}

func TestAccrualContinuesPastFailedPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Curve 3pool", 1250, 1)
	broken, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("100"), TxHash: "0xbroken"})
	require.NoError(t, err)
	healthy, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: bob, StrategyID: sid, Amount: dec("100"), TxHash: "0xhealthy"})
	require.NoError(t, err)

	f.failWrites(t, "fail_position_value", "BEFORE UPDATE OF current_value ON positions",
		fmt.Sprintf("OLD.id = %d", broken.ID))

	f.clock.Advance(365 * day)
	report, err := f.accrual.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.StrategiesUpdated)
	assert.Equal(t, 0, report.StrategiesFailed)

	stale, err := f.positionRepo.GetByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.True(t, stale.CurrentValue.Equal(dec("100")))

	updated, err := f.positionRepo.GetByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.InDelta(t, 113.31, updated.CurrentValue.InexactFloat64(), 0.01)

	// TVL 仍按两个仓位的当前值汇总
	strategy, err := f.strategyRepo.GetByID(ctx, sid)
	require.NoError(t, err)
	assert.InDelta(t, 213.31, strategy.TVL.InexactFloat64(), 0.01)
}

func TestAccrualNoiseNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Volatile", 2000, 1)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: bob, StrategyID: sid, Amount: dec("1"), TxHash: "0xv"})
	require.NoError(t, err)

	f.accrual.SetNoise(FixedNoise(-1))
	f.clock.Advance(day)

	_, err = f.accrual.Run(ctx)
	require.NoError(t, err)

	stored, err := f.positionRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.CurrentValue.IsNegative())
	assert.True(t, stored.CurrentValue.Equal(decimal.Zero))
}

func TestAccrualWithNoPositions(t *testing.T) {
	f := newFixture(t)
	f.seedStrategy(t, "Idle", 100, 1)

	report, err := f.accrual.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 1, report.StrategiesUpdated)

	positions, err := f.positionRepo.ListByUser(context.Background(), 1, models.PositionStatusActive)
	require.NoError(t, err)
	assert.Empty(t, positions)
}
