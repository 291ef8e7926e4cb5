package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"yield-points-system/internal/auth"
	"yield-points-system/internal/blockchain"
	"yield-points-system/internal/config"
	"yield-points-system/internal/repository"
	"yield-points-system/internal/scheduler"
	"yield-points-system/internal/service"
	"yield-points-system/internal/testutil"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router   http.Handler
	ingestor *service.Ingestor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := testutil.NewStore(t)
	db := store.DB()

	accountRepo := repository.NewAccountRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	depositRepo := repository.NewDepositRepository(db)
	strategyRepo := repository.NewStrategyRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	pointsCfg := &config.PointsConfig{BaseRate: 1000, DepositMultiplier: 1}
	ledger := service.NewLedger(store, accountRepo, pointsRepo, historyRepo)
	ingestor := service.NewIngestor(store, depositRepo, ledger, pointsCfg)
	accrual := service.NewAccrual(positionRepo, strategyRepo, &config.YieldConfig{NoiseMin: 1, NoiseMax: 1})
	strategies := service.NewStrategyService(strategyRepo)

	require.NoError(t, strategies.Seed(context.Background(), []config.StrategyConfig{
		{Name: "Curve 3pool", ProtocolType: "curve", BaseApyBasisPoints: 1250, PointsMultiplier: 3},
	}))

	router := NewRouter(Services{
		Store:       store,
		Accounts:    service.NewAccountService(accountRepo, auth.NewSignatureVerifier()),
		Leaderboard: service.NewLeaderboard(pointsRepo, historyRepo),
		Ingestor:    ingestor,
		Positions:   service.NewPositionService(store, accountRepo, positionRepo, strategyRepo, activityRepo, ledger, pointsCfg),
		Strategies:  strategies,
		Settlement:  service.NewSettlement(store, accountRepo, positionRepo, strategyRepo, activityRepo),
		Accrual:     scheduler.NewYieldScheduler(accrual, scheduler.NewLocalLocker(), ""),
	})

	return &testServer{router: router, ingestor: ingestor}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type wallet struct {
	address string
	sign    func(message string) string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		sign: func(message string) string {
			sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
			require.NoError(t, err)
			sig[crypto.RecoveryIDOffset] += 27
			return hexutil.Encode(sig)
		},
	}
}

func (w wallet) signed(message string) map[string]interface{} {
	return map[string]interface{}{
		"chain":     "evm",
		"address":   w.address,
		"message":   message,
		"signature": w.sign(message),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestLoginCreatesAccount(t *testing.T) {
	s := newTestServer(t)
	w := newWallet(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", w.signed("login"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, strings.ToLower(w.address), body["address"])
	assert.NotNil(t, body["last_login_at"])

	bad := w.signed("login")
	bad["message"] = "other"
	rec = s.do(t, http.MethodPost, "/api/auth/login", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/auth/login", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPointsAndLeaderboard(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := s.ingestor.Ingest(ctx, &blockchain.DepositEvent{
			Chain:       "sepolia",
			Address:     fmt.Sprintf("0x%040x", i),
			Amount:      decimal.NewFromInt(int64(i)),
			TxHash:      fmt.Sprintf("0xtx%d", i),
			BlockNumber: int64(i),
		})
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/api/leaderboard?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page service.LeaderboardPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, fmt.Sprintf("0x%040x", 3), page.Entries[0].Address)
	assert.Equal(t, int64(2), page.Entries[1].Rank)

	rec = s.do(t, http.MethodGet, "/api/leaderboard?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodGet, "/api/leaderboard?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/points/0x%040x", 2), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.UserPointsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.TotalPoints.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, int64(2), view.Rank)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/points/0x%040x/history", 2), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "deposit", history[0]["activityType"])

	rec = s.do(t, http.MethodPost, "/api/deposits/0xTX2/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decodeBody(t, rec)["status"])

	rec = s.do(t, http.MethodPost, "/api/deposits/0xnope/confirm", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DEPOSIT_NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestServer(t)
	w := newWallet(t)

	rec := s.do(t, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var strategies []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &strategies))
	require.Len(t, strategies, 1)
	strategyID := strategies[0]["id"]

	open := w.signed("open position")
	open["strategyId"] = strategyID
	open["amount"] = "100"
	open["txHash"] = "0xopen"

	rec = s.do(t, http.MethodPost, "/api/positions", open)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	position := decodeBody(t, rec)
	positionID := uint64(position["id"].(float64))

	rec = s.do(t, http.MethodPost, "/api/positions", open)
	assert.Equal(t, http.StatusOK, rec.Code)

	intruder := newWallet(t)
	stolen := intruder.signed("open position")
	stolen["strategyId"] = strategyID
	stolen["amount"] = "100"
	stolen["txHash"] = "0xopen"
	rec = s.do(t, http.MethodPost, "/api/positions", stolen)
	assert.Equal(t, http.StatusConflict, rec.Code)
	conflict := decodeBody(t, rec)
	assert.Equal(t, "DUPLICATE_TX_HASH", conflict["code"])
	assert.NotContains(t, conflict, "id")

	rec = s.do(t, http.MethodPost, "/api/yield/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["processed"])

	rec = s.do(t, http.MethodGet, "/api/positions/"+w.address+"?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	assert.Len(t, positions, 1)

	rec = s.do(t, http.MethodGet, "/api/positions/"+w.address+"?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/positions/%d/withdraw", positionID), intruder.signed("withdraw"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	forged := w.signed("withdraw")
	forged["signature"] = intruder.sign("withdraw")
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/positions/%d/withdraw", positionID), forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/positions/%d/withdraw", positionID), w.signed("withdraw"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decodeBody(t, rec)
	assert.Equal(t, true, receipt["simulated"])
	assert.Equal(t, "Curve 3pool", receipt["strategy_name"])

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/positions/%d/withdraw", positionID), w.signed("withdraw"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_FOUND_OR_ALREADY_SETTLED", decodeBody(t, rec)["code"])

	rec = s.do(t, http.MethodGet, "/api/activities/"+w.address, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var activities []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activities))
	assert.Len(t, activities, 2)
}

func TestOpenPositionUnknownStrategy(t *testing.T) {
	s := newTestServer(t)
	w := newWallet(t)

	open := w.signed("open")
	open["strategyId"] = 99
	open["amount"] = "1"

	rec := s.do(t, http.MethodPost, "/api/positions", open)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "STRATEGY_NOT_FOUND", decodeBody(t, rec)["code"])

	open["amount"] = "abc"
	rec = s.do(t, http.MethodPost, "/api/positions", open)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
