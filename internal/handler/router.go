package handler

import (
	"context"
	"net/http"

	"yield-points-system/internal/repository"
	"yield-points-system/internal/service"

	"github.com/gorilla/mux"
)

// AccrualTrigger 手动触发一次收益计算，走与定时任务相同的互斥
type AccrualTrigger interface {
	RunOnce(ctx context.Context) (*service.AccrualReport, bool, error)
}

type Services struct {
	Store       *repository.Store
	Accounts    *service.AccountService
	Leaderboard *service.Leaderboard
	Ingestor    *service.Ingestor
	Positions   *service.PositionService
	Strategies  *service.StrategyService
	Settlement  *service.Settlement
	Accrual     AccrualTrigger
}

type YieldHandler struct {
	trigger AccrualTrigger
}

func NewYieldHandler(trigger AccrualTrigger) *YieldHandler {
	return &YieldHandler{trigger: trigger}
}

func (h *YieldHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, ran, err := h.trigger.RunOnce(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !ran {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "yield accrual already running",
			"code":  "ACCRUAL_IN_PROGRESS",
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func NewRouter(svcs Services) http.Handler {
	router := mux.NewRouter()

	healthHandler := NewHealthHandler(svcs.Store)
	authHandler := NewAuthHandler(svcs.Accounts)
	pointsHandler := NewPointsHandler(svcs.Leaderboard)
	depositHandler := NewDepositHandler(svcs.Ingestor)
	positionHandler := NewPositionHandler(svcs.Accounts, svcs.Positions, svcs.Strategies, svcs.Settlement)

	router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/points/{address}", pointsHandler.GetPoints).Methods(http.MethodGet)
	api.HandleFunc("/points/{address}/history", pointsHandler.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", pointsHandler.GetLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/strategies", positionHandler.ListStrategies).Methods(http.MethodGet)
	api.HandleFunc("/positions", positionHandler.OpenPosition).Methods(http.MethodPost)
	api.HandleFunc("/positions/{address}", positionHandler.ListPositions).Methods(http.MethodGet)
	api.HandleFunc("/positions/{id:[0-9]+}/withdraw", positionHandler.Withdraw).Methods(http.MethodPost)
	api.HandleFunc("/activities/{address}", positionHandler.ListActivities).Methods(http.MethodGet)
	api.HandleFunc("/deposits/{txHash}/confirm", depositHandler.Confirm).Methods(http.MethodPost)

	if svcs.Accrual != nil {
		yieldHandler := NewYieldHandler(svcs.Accrual)
		api.HandleFunc("/yield/run", yieldHandler.Run).Methods(http.MethodPost)
	}

	return router
}
