// Package service реализует бизнес-логику сервиса счетов.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coacandes/cuentas-service/internal/model"
	"github.com/coacandes/cuentas-service/internal/repository"
	"github.com/coacandes/cuentas-service/internal/socios"
)

// ErrMemberNotFound возвращается, если реестр не знает владельца создаваемого счёта.
var (
	ErrMemberNotFound = errors.New("member not found")
	// ErrMemberInactive возвращается, если владелец создаваемого счёта деактивирован.
	ErrMemberInactive = errors.New("member inactive")
	// ErrMembersUnavailable возвращается, если реестр недоступен и проверить владельца
	// нельзя: создание счёта в этом случае отклоняется.
	ErrMembersUnavailable = errors.New("socios service unavailable")
	// ErrInvalidAmount возвращается при неположительной сумме операции
	// или отрицательном начальном остатке.
	ErrInvalidAmount = errors.New("invalid amount")
)

// AccountStore описывает контракт хранилища счетов, используемый сервисом.
type AccountStore interface {
	Close() error
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, acc model.Account) (*model.Account, error)
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	GetAccountsByMember(ctx context.Context, memberID string) ([]model.Account, error)
	GetActiveAccounts(ctx context.Context) ([]model.Account, error)
	UpdateAccount(ctx context.Context, id, memberID, number, accountType string) (*model.Account, error)
	SoftDeleteAccount(ctx context.Context, id string) error
	DepositBalance(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error)
	WithdrawBalance(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error)
}

// MemberGateway описывает контракт проверки члена кооператива в реестре.
type MemberGateway interface {
	CheckMember(ctx context.Context, memberID string) (socios.MemberStatus, error)
}

// Service содержит бизнес-логику сервиса счетов.
type Service struct {
	store  AccountStore
	socios MemberGateway
}

// NewService создаёт новый сервис с указанным хранилищем и клиентом реестра.
func NewService(store AccountStore, gateway MemberGateway) *Service {
	return &Service{
		store:  store,
		socios: gateway,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateAccount создаёт счёт для члена кооператива. Сначала владелец
// проверяется в реестре, затем номер счёта — на уникальность среди живых
// записей, затем начальный остаток — на неотрицательность. Если реестр
// недоступен, создание отклоняется, а не выполняется без проверки.
func (s *Service) CreateAccount(ctx context.Context, memberID, number, accountType string, initialBalance decimal.Decimal) (*model.Account, error) {
	status, err := s.socios.CheckMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("check member: %w", err)
	}

	switch status {
	case socios.MemberStatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	case socios.MemberStatusInactive:
		return nil, fmt.Errorf("%w: %s", ErrMemberInactive, memberID)
	case socios.MemberStatusUnavailable:
		return nil, ErrMembersUnavailable
	}

	_, err = s.store.GetAccountByNumber(ctx, number)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrAccountNumberTaken, number)
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("check account number: %w", err)
	}

	if initialBalance.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ErrInvalidAmount)
	}

	return s.store.CreateAccount(ctx, model.Account{
		MemberID: memberID,
		Number:   number,
		Balance:  initialBalance,
		Type:     accountType,
	})
}

// UpdateAccount изменяет владельца, номер и тип существующего счёта. Смена
// номера проверяется на уникальность; владелец повторно в реестре не
// проверяется — проверка членства выполняется только при создании.
func (s *Service) UpdateAccount(ctx context.Context, id, memberID, number, accountType string) (*model.Account, error) {
	acc, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if number != acc.Number {
		_, err = s.store.GetAccountByNumber(ctx, number)
		if err == nil {
			return nil, fmt.Errorf("%w: %s", repository.ErrAccountNumberTaken, number)
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("check account number: %w", err)
		}
	}

	return s.store.UpdateAccount(ctx, id, memberID, number, accountType)
}

// GetAccount возвращает живой счёт по идентификатору.
func (s *Service) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.store.GetAccountByID(ctx, id)
}

// GetAccountsByMember возвращает живые счета члена кооператива, новые первыми.
func (s *Service) GetAccountsByMember(ctx context.Context, memberID string) ([]model.Account, error) {
	return s.store.GetAccountsByMember(ctx, memberID)
}

// GetActiveAccounts возвращает все счета в состоянии ACTIVE.
func (s *Service) GetActiveAccounts(ctx context.Context) ([]model.Account, error) {
	return s.store.GetActiveAccounts(ctx)
}

// DeleteAccount выполняет логическое удаление счёта. Операция не идемпотентна:
// повторное удаление возвращает ErrAccountNotFound.
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	return s.store.SoftDeleteAccount(ctx, id)
}

// Deposit увеличивает остаток счёта. Порядок проверок фиксирован: сначала
// существование счёта, затем его состояние, затем сумма. Сумма округляется до
// копеек до проверки, поэтому значение меньше 0.01 отклоняется.
func (s *Service) Deposit(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	amount = amount.Round(2)
	if err := s.checkMutable(ctx, id, amount); err != nil {
		return nil, err
	}

	return s.store.DepositBalance(ctx, id, amount)
}

// Withdraw уменьшает остаток счёта. Порядок проверок фиксирован: сначала
// существование счёта, затем его состояние, затем сумма, затем достаточность
// остатка. Проверка остатка выполняется хранилищем атомарно с записью. Сумма
// округляется до копеек до проверки, поэтому значение меньше 0.01 отклоняется.
func (s *Service) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	amount = amount.Round(2)
	if err := s.checkMutable(ctx, id, amount); err != nil {
		return nil, err
	}

	return s.store.WithdrawBalance(ctx, id, amount)
}

func (s *Service) checkMutable(ctx context.Context, id string, amount decimal.Decimal) error {
	acc, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}

	if acc.Status != model.AccountStatusActive {
		return fmt.Errorf("%w: %s", repository.ErrAccountNotActive, id)
	}

	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	return nil
}
