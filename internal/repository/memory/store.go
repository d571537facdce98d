// Package memory содержит хранилище счетов в памяти процесса. Оно повторяет
// контракт PostgreSQL-репозитория и используется в тестах и при запуске без БД.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coacandes/cuentas-service/internal/model"
	"github.com/coacandes/cuentas-service/internal/repository"
)

// Store хранит счета в памяти. Все операции сериализуются мьютексом, поэтому
// чтение-изменение-запись остатка выполняется как единое целое.
type Store struct {
	mu       sync.Mutex
	accounts map[string]model.Account
}

// NewStore создаёт пустое хранилище счетов.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]model.Account),
	}
}

// Close освобождает ресурсы хранилища.
func (s *Store) Close() error {
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// CreateAccount сохраняет новый счёт, назначая ему идентификатор.
func (s *Store) CreateAccount(ctx context.Context, acc model.Account) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Active && existing.Number == acc.Number {
			return nil, fmt.Errorf("%w: %s", repository.ErrAccountNumberTaken, acc.Number)
		}
	}

	now := time.Now()
	acc.ID = uuid.NewString()
	acc.Status = model.AccountStatusActive
	acc.Active = true
	acc.Balance = acc.Balance.Round(2)
	acc.CreatedAt = now
	acc.UpdatedAt = now

	s.accounts[acc.ID] = acc

	return &acc, nil
}

// GetAccountByID возвращает живой счёт по идентификатору.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveAccount(id)
}

// GetAccountByNumber возвращает живой счёт по номеру.
func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.Active && acc.Number == number {
			found := acc
			return &found, nil
		}
	}

	return nil, repository.ErrAccountNotFound
}

// GetAccountsByMember возвращает живые счета члена кооператива, новые первыми.
func (s *Store) GetAccountsByMember(ctx context.Context, memberID string) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []model.Account
	for _, acc := range s.accounts {
		if acc.Active && acc.MemberID == memberID {
			accounts = append(accounts, acc)
		}
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
	})

	return accounts, nil
}

// GetActiveAccounts возвращает живые счета в состоянии ACTIVE.
func (s *Store) GetActiveAccounts(ctx context.Context) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []model.Account
	for _, acc := range s.accounts {
		if acc.Active && acc.Status == model.AccountStatusActive {
			accounts = append(accounts, acc)
		}
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
	})

	return accounts, nil
}

// UpdateAccount изменяет владельца, номер и тип счёта.
func (s *Store) UpdateAccount(ctx context.Context, id, memberID, number, accountType string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.liveAccount(id)
	if err != nil {
		return nil, err
	}

	if number != acc.Number {
		for _, existing := range s.accounts {
			if existing.Active && existing.Number == number && existing.ID != id {
				return nil, fmt.Errorf("%w: %s", repository.ErrAccountNumberTaken, number)
			}
		}
	}

	acc.MemberID = memberID
	acc.Number = number
	acc.Type = accountType
	acc.UpdatedAt = time.Now()

	s.accounts[id] = *acc

	return acc, nil
}

// SoftDeleteAccount выполняет логическое удаление счёта.
func (s *Store) SoftDeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.liveAccount(id)
	if err != nil {
		return err
	}

	acc.Active = false
	acc.Status = model.AccountStatusCancelled
	acc.UpdatedAt = time.Now()

	s.accounts[id] = *acc

	return nil
}

// DepositBalance атомарно увеличивает остаток счёта на указанную сумму.
func (s *Store) DepositBalance(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	return s.mutateBalance(id, amount, false)
}

// WithdrawBalance атомарно уменьшает остаток счёта на указанную сумму.
func (s *Store) WithdrawBalance(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	return s.mutateBalance(id, amount, true)
}

func (s *Store) mutateBalance(id string, amount decimal.Decimal, withdraw bool) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.liveAccount(id)
	if err != nil {
		return nil, err
	}

	if acc.Status != model.AccountStatusActive {
		return nil, repository.ErrAccountNotActive
	}

	newBalance := acc.Balance.Add(amount)
	if withdraw {
		newBalance = acc.Balance.Sub(amount)
		if newBalance.IsNegative() {
			return nil, repository.ErrInsufficientBalance
		}
	}

	acc.Balance = newBalance.Round(2)
	acc.UpdatedAt = time.Now()

	s.accounts[id] = *acc

	return acc, nil
}

// liveAccount возвращает копию живого счёта. Вызывается под мьютексом.
func (s *Store) liveAccount(id string) (*model.Account, error) {
	acc, ok := s.accounts[id]
	if !ok || !acc.Active {
		return nil, repository.ErrAccountNotFound
	}

	found := acc
	return &found, nil
}
