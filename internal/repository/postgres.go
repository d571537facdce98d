// Package repository содержит реализацию хранилища счетов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/coacandes/cuentas-service/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountNotFound возвращается, если счёт не существует или был удалён.
var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountNumberTaken возвращается при попытке занять номер живого счёта.
	ErrAccountNumberTaken = errors.New("account number already taken")
	// ErrAccountNotActive возвращается при операции над приостановленным или отменённым счётом.
	ErrAccountNotActive = errors.New("account not active")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей остаток.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

const selectAccountColumns = `id, socio_id, numero_cuenta, saldo::text, estado, tipo_cuenta, activo, fecha_creacion, fecha_actualizacion`

// PostgresRepository предоставляет доступ к хранилищу счетов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateAccount сохраняет новый счёт, назначая ему идентификатор. Проверка
// уникальности номера выполняется в той же транзакции, что и вставка, и
// продублирована частичным уникальным индексом.
func (r *PostgresRepository) CreateAccount(ctx context.Context, acc model.Account) (*model.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cuentas WHERE numero_cuenta = $1 AND activo)`,
		acc.Number,
	).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("check account number: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrAccountNumberTaken, acc.Number)
	}

	acc.ID = uuid.NewString()
	acc.Status = model.AccountStatusActive
	acc.Active = true

	row := tx.QueryRow(ctx,
		`INSERT INTO cuentas (id, socio_id, numero_cuenta, saldo, estado, tipo_cuenta, activo)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+selectAccountColumns,
		acc.ID, acc.MemberID, acc.Number, acc.Balance.StringFixed(2),
		string(acc.Status), acc.Type, acc.Active,
	)

	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrAccountNumberTaken, acc.Number)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return created, nil
}

// GetAccountByID возвращает живой счёт по идентификатору.
func (r *PostgresRepository) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAccountNotFound
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+selectAccountColumns+` FROM cuentas WHERE id = $1 AND activo`,
		id,
	)

	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return acc, nil
}

// GetAccountByNumber возвращает живой счёт по номеру.
func (r *PostgresRepository) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+selectAccountColumns+` FROM cuentas WHERE numero_cuenta = $1 AND activo`,
		number,
	)

	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by number: %w", err)
	}

	return acc, nil
}

// GetAccountsByMember возвращает живые счета члена кооператива, новые первыми.
func (r *PostgresRepository) GetAccountsByMember(ctx context.Context, memberID string) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectAccountColumns+`
		 FROM cuentas
		 WHERE socio_id = $1 AND activo
		 ORDER BY fecha_creacion DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select accounts by member: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// GetActiveAccounts возвращает живые счета в состоянии ACTIVE.
func (r *PostgresRepository) GetActiveAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectAccountColumns+`
		 FROM cuentas
		 WHERE activo AND estado = $1
		 ORDER BY fecha_creacion DESC`,
		string(model.AccountStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select active accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// UpdateAccount изменяет владельца, номер и тип счёта. Строка блокируется на
// время транзакции, смена номера проверяется на уникальность среди живых записей.
func (r *PostgresRepository) UpdateAccount(ctx context.Context, id, memberID, number, accountType string) (*model.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAccountNotFound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentNumber string
	err = tx.QueryRow(ctx,
		`SELECT numero_cuenta FROM cuentas WHERE id = $1 AND activo FOR UPDATE`,
		id,
	).Scan(&currentNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account for update: %w", err)
	}

	if number != currentNumber {
		var taken bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM cuentas WHERE numero_cuenta = $1 AND activo AND id <> $2)`,
			number, id,
		).Scan(&taken)
		if err != nil {
			return nil, fmt.Errorf("check account number: %w", err)
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", ErrAccountNumberTaken, number)
		}
	}

	row := tx.QueryRow(ctx,
		`UPDATE cuentas
		 SET socio_id = $2, numero_cuenta = $3, tipo_cuenta = $4, fecha_actualizacion = now()
		 WHERE id = $1
		 RETURNING `+selectAccountColumns,
		id, memberID, number, accountType,
	)

	updated, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrAccountNumberTaken, number)
		}
		return nil, fmt.Errorf("update account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return updated, nil
}

// SoftDeleteAccount выполняет логическое удаление счёта: переводит его в
// состояние CANCELLED и исключает из всех обычных выборок. Повторное удаление
// того же счёта возвращает ErrAccountNotFound.
func (r *PostgresRepository) SoftDeleteAccount(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrAccountNotFound
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE cuentas
		 SET activo = false, estado = $2, fecha_actualizacion = now()
		 WHERE id = $1 AND activo`,
		id, string(model.AccountStatusCancelled),
	)
	if err != nil {
		return fmt.Errorf("soft delete account: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// DepositBalance атомарно увеличивает остаток счёта на указанную сумму.
func (r *PostgresRepository) DepositBalance(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	return r.mutateBalance(ctx, id, amount, false)
}

// WithdrawBalance атомарно уменьшает остаток счёта на указанную сумму.
// Возвращает ErrInsufficientBalance, если остатка не хватает.
func (r *PostgresRepository) WithdrawBalance(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	return r.mutateBalance(ctx, id, amount, true)
}

// mutateBalance выполняет перерасчёт остатка под блокировкой строки, чтобы два
// конкурентных списания не прошли проверку остатка по устаревшему значению.
func (r *PostgresRepository) mutateBalance(ctx context.Context, id string, amount decimal.Decimal, withdraw bool) (*model.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAccountNotFound
	}

	var result *model.Account

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			balanceText string
			status      string
		)
		err = tx.QueryRow(ctx,
			`SELECT saldo::text, estado FROM cuentas WHERE id = $1 AND activo FOR UPDATE`,
			id,
		).Scan(&balanceText, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account for update: %w", err)
		}

		if model.AccountStatus(status) != model.AccountStatusActive {
			return ErrAccountNotActive
		}

		balance, err := decimal.NewFromString(balanceText)
		if err != nil {
			return fmt.Errorf("parse balance: %w", err)
		}

		newBalance := balance.Add(amount)
		if withdraw {
			newBalance = balance.Sub(amount)
			if newBalance.IsNegative() {
				return ErrInsufficientBalance
			}
		}

		row := tx.QueryRow(ctx,
			`UPDATE cuentas
			 SET saldo = $2, fecha_actualizacion = now()
			 WHERE id = $1
			 RETURNING `+selectAccountColumns,
			id, newBalance.StringFixed(2),
		)

		acc, err := scanAccount(row)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		acc         model.Account
		balanceText string
		status      string
	)

	err := row.Scan(&acc.ID, &acc.MemberID, &acc.Number, &balanceText, &status,
		&acc.Type, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}

	acc.Balance = balance
	acc.Status = model.AccountStatus(status)

	return &acc, nil
}

func collectAccounts(rows pgx.Rows) ([]model.Account, error) {
	var accounts []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return accounts, nil
}
