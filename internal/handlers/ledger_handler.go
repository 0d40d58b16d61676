package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	mW "github.com/ruralpay/coinledger/internal/middleware"
	"github.com/ruralpay/coinledger/internal/models"
	"github.com/ruralpay/coinledger/internal/services"
)

const maxBodyBytes = 1_048_576

// Ledger is the command and query surface the inbound boundaries drive.
type Ledger interface {
	Deposit(ctx context.Context, req services.MutationRequest) (*services.MutationResult, error)
	Withdraw(ctx context.Context, req services.MutationRequest) (*services.MutationResult, error)
	GetBalance(ctx context.Context, ownerID string) (*models.Account, error)
	ListFlows(ctx context.Context, ownerID string, limit int) ([]models.FlowRecord, error)
	InitAccount(ctx context.Context, ownerID string) (*models.Account, bool, error)
	DeactivateAccount(ctx context.Context, ownerID string) error
}

var _ Ledger = (*services.LedgerService)(nil)

type LedgerHandler struct {
	ledger    Ledger
	validator *services.ValidationHelper
	logger    *zap.Logger
}

func NewLedgerHandler(ledger Ledger, logger *zap.Logger) *LedgerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
		logger:    logger.Named("http"),
	}
}

// Routes mounts the ledger endpoints. Operator-only routes expect the
// claims set by middleware.Authenticator.Authenticate.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Post("/accounts", h.InitAccount)
	r.Get("/accounts/{ownerId}/balance", h.GetBalance)
	r.Get("/accounts/{ownerId}/flows", h.ListFlows)
	r.Post("/accounts/{ownerId}/deposit", h.Deposit)
	r.Post("/accounts/{ownerId}/withdraw", h.Withdraw)
	r.With(mW.RequireOperator).Delete("/accounts/{ownerId}", h.DeactivateAccount)
}

type initAccountRequest struct {
	OwnerID string `json:"ownerId" validate:"required,max=64"`
}

type mutationBody struct {
	BizType models.BizType `json:"bizType" validate:"required"`
	BizID   string         `json:"bizId" validate:"required,max=128"`
	Amount  int64          `json:"amount" validate:"gt=0"`
}

type balanceResponse struct {
	AccountID int64                `json:"accountId"`
	OwnerID   string               `json:"ownerId"`
	Balance   int64                `json:"balance"`
	Version   int64                `json:"version"`
	Status    models.AccountStatus `json:"status"`
}

type flowsResponse struct {
	Flows []models.FlowRecord `json:"flows"`
}

// InitAccount creates the owner's account if absent. 201 when created, 200 when it existed.
// @Summary Open an account
// @Description Create the owner's account if absent, crediting the configured initial grant
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body initAccountRequest true "Account owner"
// @Success 200 {object} balanceResponse "Account already existed"
// @Success 201 {object} balanceResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *LedgerHandler) InitAccount(w http.ResponseWriter, r *http.Request) {
	var req initAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	acc, created, err := h.ledger.InitAccount(r.Context(), req.OwnerID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toBalance(acc))
}

// GetBalance handles balance queries
// @Summary Get account balance
// @Tags accounts
// @Produce json
// @Param ownerId path string true "Account owner ID"
// @Success 200 {object} balanceResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /accounts/{ownerId}/balance [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acc, err := h.ledger.GetBalance(r.Context(), chi.URLParam(r, "ownerId"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(acc))
}

// ListFlows handles flow history queries
// @Summary List flow records
// @Description Newest first, in commit order
// @Tags accounts
// @Produce json
// @Param ownerId path string true "Account owner ID"
// @Param limit query int false "Number of records to return (default: 20, max: 100)"
// @Success 200 {object} flowsResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{ownerId}/flows [get]
func (h *LedgerHandler) ListFlows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			services.SendErrorResponse(w, "limit must be an integer", http.StatusBadRequest, nil)
			return
		}
		limit = n
		if limit == 0 {
			limit = -1 // an explicit zero is out of range, not the default
		}
	}

	flows, err := h.ledger.ListFlows(r.Context(), chi.URLParam(r, "ownerId"), limit)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	if flows == nil {
		flows = []models.FlowRecord{}
	}
	writeJSON(w, http.StatusOK, flowsResponse{Flows: flows})
}

// Deposit credits an account
// @Summary Credit an account
// @Description Idempotent on (bizType, bizId); a repeat returns the original result with duplicate=true. MANUAL_DEPOSIT requires an operator token.
// @Tags mutations
// @Accept json
// @Produce json
// @Param ownerId path string true "Account owner ID"
// @Param mutation body mutationBody true "Mutation"
// @Success 200 {object} services.MutationResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Security BearerAuth
// @Router /accounts/{ownerId}/deposit [post]
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ledger.Deposit)
}

// Withdraw debits an account
// @Summary Debit an account
// @Description Idempotent on (bizType, bizId). Fails with 422 rather than letting the balance go negative. MANUAL_WITHDRAW requires an operator token.
// @Tags mutations
// @Accept json
// @Produce json
// @Param ownerId path string true "Account owner ID"
// @Param mutation body mutationBody true "Mutation"
// @Success 200 {object} services.MutationResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Security BearerAuth
// @Router /accounts/{ownerId}/withdraw [post]
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ledger.Withdraw)
}

// DeactivateAccount handles operator deactivation
// @Summary Deactivate an account
// @Tags accounts
// @Param ownerId path string true "Account owner ID"
// @Success 204
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Security BearerAuth
// @Router /accounts/{ownerId} [delete]
func (h *LedgerHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeactivateAccount(r.Context(), chi.URLParam(r, "ownerId")); err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, services.MutationRequest) (*services.MutationResult, error)) {
	var body mutationBody
	if !h.decode(w, r, &body) {
		return
	}
	if body.BizType.Manual() && !mW.IsOperator(r.Context()) {
		services.SendErrorResponse(w, "Operator role required for manual adjustments", http.StatusForbidden, nil)
		return
	}

	res, err := op(r.Context(), services.MutationRequest{
		OwnerID: chi.URLParam(r, "ownerId"),
		BizType: body.BizType,
		BizID:   body.BizID,
		Amount:  body.Amount,
	})
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decode reads exactly one JSON object and validates it, writing the error
// response itself when it returns false.
func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *LedgerHandler) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	message := err.Error()
	fields := []zap.Field{
		zap.String("request_id", mW.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		h.logger.Warn("ledger request retryable", fields...)
	case http.StatusInternalServerError:
		h.logger.Error("ledger request failed", fields...)
		message = "Internal server error"
	}
	services.SendErrorResponse(w, message, status, err)
}

// StatusFor maps a ledger error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrIdempotencyKeyReuse):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAccountInactive):
		return http.StatusConflict
	case errors.Is(err, services.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case services.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toBalance(acc *models.Account) balanceResponse {
	return balanceResponse{
		AccountID: acc.AccountID,
		OwnerID:   acc.OwnerID,
		Balance:   acc.Balance,
		Version:   acc.Version,
		Status:    acc.Status,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
