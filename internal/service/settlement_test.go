package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"yield-points-system/internal/models"
	"yield-points-system/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawSettlesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Curve 3pool", 1250, 3)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("100"), TxHash: "0xopen"})
	require.NoError(t, err)

	f.clock.Advance(365 * day)
	_, err = f.accrual.Run(ctx)
	require.NoError(t, err)

	receipt, err := f.settlement.WithdrawAs(ctx, p.ID, alice, "0xWITHDRAW")
	require.NoError(t, err)
	assert.Equal(t, p.ID, receipt.PositionID)
	assert.Equal(t, "Curve 3pool", receipt.StrategyName)
	assert.True(t, receipt.Amount.Equal(dec("100")))
	assert.InDelta(t, 13.31, receipt.FinalYield.InexactFloat64(), 0.01)
	assert.True(t, receipt.PointsEarned.Equal(dec("300000")))
	assert.Equal(t, "0xwithdraw", receipt.TxHash)
	assert.False(t, receipt.Simulated)

	_, err = f.settlement.WithdrawAs(ctx, p.ID, alice, "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrNotFoundOrAlreadySettled))
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))

	stored, err := f.positionRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusWithdrawn, stored.Status)
	require.NotNil(t, stored.WithdrawnAt)
	require.NotNil(t, stored.WithdrawTxHash)
	assert.Equal(t, "0xwithdraw", *stored.WithdrawTxHash)
	assert.Equal(t, "0xopen", stored.TxHash)
}

func TestConcurrentWithdrawOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Aave", 500, 1)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("5"), TxHash: "0xrace"})
	require.NoError(t, err)

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.settlement.Withdraw(ctx, p.ID, p.UserID, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.HasCode(err, errors.ErrNotFoundOrAlreadySettled) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
}

func TestWithdrawRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Aave", 500, 1)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("5"), TxHash: "0xown"})
	require.NoError(t, err)

	// bob 有账户但不是所有者
	_, err = f.accountRepo.GetOrCreate(ctx, models.NormalizeAddress(bob))
	require.NoError(t, err)

	_, err = f.settlement.WithdrawAs(ctx, p.ID, bob, "")
	assert.True(t, errors.HasCode(err, errors.ErrNotFoundOrAlreadySettled))

	// 没有账户的地址同样返回不存在
	_, err = f.settlement.WithdrawAs(ctx, p.ID, "0x00000000000000000000000000000000000000c0", "")
	assert.True(t, errors.HasCode(err, errors.ErrNotFoundOrAlreadySettled))

	_, err = f.settlement.Withdraw(ctx, 9999, p.UserID, "")
	assert.True(t, errors.HasCode(err, errors.ErrNotFoundOrAlreadySettled))

	stored, err := f.positionRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusActive, stored.Status)
}

func TestWithdrawCommitFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Aave", 500, 1)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("5"), TxHash: "0xcommit"})
	require.NoError(t, err)

	restore := f.failWrites(t, "fail_withdraw_activity", "BEFORE INSERT ON activities",
		"NEW.activity_type = 'position_withdrawn'")

	_, err = f.settlement.WithdrawAs(ctx, p.ID, alice, "0xw1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCommitFailed))
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))

	stored, err := f.positionRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusActive, stored.Status)
	assert.Nil(t, stored.WithdrawnAt)
	assert.Nil(t, stored.WithdrawTxHash)

	restore()

	receipt, err := f.settlement.WithdrawAs(ctx, p.ID, alice, "0xw1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, receipt.PositionID)

	stored, err = f.positionRepo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusWithdrawn, stored.Status)

	activities, err := f.positions.ListActivities(ctx, alice, 10)
	require.NoError(t, err)
	assert.Len(t, activities, 2)
}

func TestWithdrawReportsNegativeYield(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Flat", 0, 1)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("100"), TxHash: "0xneg"})
	require.NoError(t, err)

	f.accrual.SetNoise(FixedNoise(0.98))
	f.clock.Advance(day)
	_, err = f.accrual.Run(ctx)
	require.NoError(t, err)

	receipt, err := f.settlement.Withdraw(ctx, p.ID, p.UserID, "")
	require.NoError(t, err)
	assert.True(t, receipt.FinalValue.Equal(dec("98")))
	assert.True(t, receipt.FinalYield.Equal(dec("-2")))
}

func TestWithdrawSimulatedHashAndActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sid := f.seedStrategy(t, "Lido", 400, 2)
	p, _, err := f.positions.Open(ctx, OpenPositionRequest{Address: alice, StrategyID: sid, Amount: dec("1"), TxHash: "0xsim"})
	require.NoError(t, err)

	receipt, err := f.settlement.Withdraw(ctx, p.ID, p.UserID, "  ")
	require.NoError(t, err)
	assert.True(t, receipt.Simulated)
	assert.True(t, strings.HasPrefix(receipt.TxHash, "0x"))
	assert.Len(t, receipt.TxHash, 34)

	activities, err := f.positions.ListActivities(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)

	types := []models.ActivityType{activities[0].ActivityType, activities[1].ActivityType}
	assert.Contains(t, types, models.ActivityTypePositionWithdrawn)
	assert.Contains(t, types, models.ActivityTypePositionOpened)
	for _, a := range activities {
		if a.ActivityType == models.ActivityTypePositionWithdrawn {
			assert.Equal(t, receipt.TxHash, a.Metadata["tx_hash"])
			assert.Equal(t, true, a.Metadata["simulated"])
		}
	}

	// 结算不再发放积分
	assert.True(t, f.balance(t, alice).Equal(dec("2000")))
}

func TestSimulatedTxHashIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		h := SimulatedTxHash()
		assert.False(t, seen[h])
		seen[h] = true
	}
}
