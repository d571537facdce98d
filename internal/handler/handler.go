// Package handler содержит HTTP-обработчики API сервиса счетов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coacandes/cuentas-service/internal/model"
	"github.com/coacandes/cuentas-service/internal/repository"
	"github.com/coacandes/cuentas-service/internal/service"
	"github.com/coacandes/cuentas-service/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, memberID, number, accountType string, initialBalance decimal.Decimal) (*model.Account, error)
	UpdateAccount(ctx context.Context, id, memberID, number, accountType string) (*model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountsByMember(ctx context.Context, memberID string) ([]model.Account, error)
	GetActiveAccounts(ctx context.Context) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	Deposit(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error)
	Withdraw(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error)
}

// Handler реализует HTTP-обработчики API сервиса счетов.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type accountRequest struct {
	MemberID string      `json:"socioId"`
	Number   string      `json:"numeroCuenta"`
	Balance  json.Number `json:"saldo"`
	Type     string      `json:"tipoCuenta"`
}

type amountRequest struct {
	Amount json.Number `json:"monto"`
}

// CreateAccount обрабатывает создание нового счёта.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.MemberID == "" || req.Type == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAccountNumber(req.Number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	initialBalance := decimal.Zero
	if req.Balance != "" {
		var err error
		initialBalance, err = decimal.NewFromString(req.Balance.String())
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	acc, err := h.service.CreateAccount(r.Context(), req.MemberID, req.Number, req.Type, initialBalance)
	if err != nil {
		h.writeError(w, err, "create account")
		return
	}

	h.writeJSON(w, http.StatusCreated, model.ViewOf(*acc))
}

// UpdateAccount обрабатывает изменение существующего счёта.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.MemberID == "" || req.Type == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAccountNumber(req.Number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	acc, err := h.service.UpdateAccount(r.Context(), id, req.MemberID, req.Number, req.Type)
	if err != nil {
		h.writeError(w, err, "update account")
		return
	}

	h.writeJSON(w, http.StatusOK, model.ViewOf(*acc))
}

// GetAccount возвращает счёт по идентификатору.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	acc, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get account")
		return
	}

	h.writeJSON(w, http.StatusOK, model.ViewOf(*acc))
}

// ListAccounts возвращает все счета в состоянии ACTIVE.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.GetActiveAccounts(r.Context())
	if err != nil {
		h.writeError(w, err, "list accounts")
		return
	}

	h.writeJSON(w, http.StatusOK, viewsOf(accounts))
}

// ListAccountsByMember возвращает счета члена кооператива, новые первыми.
func (h *Handler) ListAccountsByMember(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "socioID")

	accounts, err := h.service.GetAccountsByMember(r.Context(), memberID)
	if err != nil {
		h.writeError(w, err, "list accounts by member")
		return
	}

	h.writeJSON(w, http.StatusOK, viewsOf(accounts))
}

// DeleteAccount выполняет логическое удаление счёта.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteAccount(r.Context(), id); err != nil {
		h.writeError(w, err, "delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Withdraw обрабатывает списание средств со счёта.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	acc, err := h.service.Withdraw(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, err, "withdraw")
		return
	}

	h.writeJSON(w, http.StatusOK, model.ViewOf(*acc))
}

// Deposit обрабатывает зачисление средств на счёт.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	acc, err := h.service.Deposit(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, err, "deposit")
		return
	}

	h.writeJSON(w, http.StatusOK, model.ViewOf(*acc))
}

// Health сообщает о доступности сервиса и его хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeAmount читает сумму операции из тела запроса. Неразборчивое тело —
// ошибка транспортного уровня; неположительная сумма дойдёт до сервиса и
// будет отклонена после проверок существования и состояния счёта.
func (h *Handler) decodeAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return decimal.Decimal{}, false
	}

	if req.Amount == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return decimal.Decimal{}, false
	}

	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return decimal.Decimal{}, false
	}

	return amount, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound) || errors.Is(err, service.ErrMemberNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrAccountNumberTaken) ||
		errors.Is(err, repository.ErrAccountNotActive) ||
		errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrMemberInactive) || errors.Is(err, service.ErrInvalidAmount):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, service.ErrMembersUnavailable):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func viewsOf(accounts []model.Account) []model.AccountView {
	views := make([]model.AccountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, model.ViewOf(acc))
	}
	return views
}
