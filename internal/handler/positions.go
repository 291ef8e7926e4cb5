package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"yield-points-system/internal/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type PositionHandler struct {
	accountSvc  *service.AccountService
	positionSvc *service.PositionService
	strategySvc *service.StrategyService
	settlement  *service.Settlement
}

func NewPositionHandler(
	accountSvc *service.AccountService,
	positionSvc *service.PositionService,
	strategySvc *service.StrategyService,
	settlement *service.Settlement,
) *PositionHandler {
	return &PositionHandler{
		accountSvc:  accountSvc,
		positionSvc: positionSvc,
		strategySvc: strategySvc,
		settlement:  settlement,
	}
}

func (h *PositionHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.strategySvc.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategies)
}

func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status, ok := parsePositionStatus(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "status must be active or withdrawn")
		return
	}

	positions, err := h.positionSvc.ListByAddress(r.Context(), mux.Vars(r)["address"], status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *PositionHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultLimit)
	if !ok || limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	activities, err := h.positionSvc.ListActivities(r.Context(), mux.Vars(r)["address"], limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

type openPositionRequest struct {
	signedRequest
	StrategyID uint64 `json:"strategyId"`
	Amount     string `json:"amount"`
	TxHash     string `json:"txHash"`
}

func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+req.Amount)
		return
	}

	address, err := h.accountSvc.Authenticate(req.Chain, req.Address, req.Message, req.Signature)
	if err != nil {
		writeAppError(w, err)
		return
	}

	position, created, err := h.positionSvc.Open(r.Context(), service.OpenPositionRequest{
		Address:    address,
		StrategyID: req.StrategyID,
		Amount:     amount,
		TxHash:     req.TxHash,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, position)
}

type withdrawRequest struct {
	signedRequest
	TxHash string `json:"txHash"`
}

func (h *PositionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	positionID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	address, err := h.accountSvc.Authenticate(req.Chain, req.Address, req.Message, req.Signature)
	if err != nil {
		writeAppError(w, err)
		return
	}

	receipt, err := h.settlement.WithdrawAs(r.Context(), positionID, address, req.TxHash)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}
