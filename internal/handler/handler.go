package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/internal/service"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/gorilla/mux"
)

const defaultLimit = 20

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeAppError 按错误分类映射状态码，并带上错误码让客户端区分“已完成”与“失败”
func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindInvalidInput:
		status = http.StatusBadRequest
	case errors.KindUnauthorized:
		status = http.StatusUnauthorized
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	code := "INTERNAL_ERROR"
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		code = appErr.Code
	}

	if status >= http.StatusInternalServerError {
		logger.WithFields(map[string]interface{}{
			"code":  code,
			"error": err,
		}).Error("请求处理失败")
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// queryInt 参数缺失时返回默认值，格式错误返回 ok=false
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

type PointsHandler struct {
	leaderboard *service.Leaderboard
}

func NewPointsHandler(leaderboard *service.Leaderboard) *PointsHandler {
	return &PointsHandler{leaderboard: leaderboard}
}

func (h *PointsHandler) GetPoints(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	view, err := h.leaderboard.GetUserPoints(r.Context(), address)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *PointsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	limit, ok := queryInt(r, "limit", defaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	entries, err := h.leaderboard.GetPointsHistory(r.Context(), address, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"id":           e.ID,
			"address":      e.Address,
			"points":       e.Points,
			"multiplier":   e.Multiplier,
			"activityType": e.ActivityType,
			"timestamp":    e.Timestamp.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *PointsHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(r, "page", 1)
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, ok := queryInt(r, "limit", defaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	result, err := h.leaderboard.GetPage(r.Context(), page, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type DepositHandler struct {
	ingestor *service.Ingestor
}

func NewDepositHandler(ingestor *service.Ingestor) *DepositHandler {
	return &DepositHandler{ingestor: ingestor}
}

func (h *DepositHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	deposit, err := h.ingestor.Confirm(r.Context(), mux.Vars(r)["txHash"])
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deposit)
}

type AuthHandler struct {
	accountSvc *service.AccountService
}

func NewAuthHandler(accountSvc *service.AccountService) *AuthHandler {
	return &AuthHandler{accountSvc: accountSvc}
}

type signedRequest struct {
	Chain     string `json:"chain"`
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	account, err := h.accountSvc.Login(r.Context(), req.Chain, req.Address, req.Message, req.Signature)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

type HealthHandler struct {
	store *repository.Store
}

func NewHealthHandler(store *repository.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func parsePositionStatus(raw string) (models.PositionStatus, bool) {
	switch models.PositionStatus(raw) {
	case "":
		return "", true
	case models.PositionStatusActive, models.PositionStatusWithdrawn:
		return models.PositionStatus(raw), true
	default:
		return "", false
	}
}
