// Package model содержит доменные сущности сервиса счетов.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus описывает состояние счёта.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusCancelled AccountStatus = "CANCELLED"
)

// Account представляет счёт члена кооператива.
type Account struct {
	ID        string
	MemberID  string
	Number    string
	Balance   decimal.Decimal
	Type      string
	Status    AccountStatus
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountView описывает внешнее представление счёта в ответах API.
// Имена JSON-полей повторяют контракт внешнего API сервиса счетов.
type AccountView struct {
	ID        string      `json:"id"`
	MemberID  string      `json:"socioId"`
	Number    string      `json:"numeroCuenta"`
	Balance   json.Number `json:"saldo"`
	Status    string      `json:"estado"`
	Type      string      `json:"tipoCuenta"`
	CreatedAt string      `json:"fechaCreacion"`
	UpdatedAt string      `json:"fechaActualizacion"`
}

// ViewOf строит представление счёта для ответа API. Баланс нормализуется
// к двум знакам после запятой — масштабу, с которым он хранится.
func ViewOf(a Account) AccountView {
	return AccountView{
		ID:        a.ID,
		MemberID:  a.MemberID,
		Number:    a.Number,
		Balance:   json.Number(a.Balance.StringFixed(2)),
		Status:    string(a.Status),
		Type:      a.Type,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}
