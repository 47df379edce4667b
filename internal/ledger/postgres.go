package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_sale (
    id           SMALLINT PRIMARY KEY CHECK (id = 1),
    phase        TEXT NOT NULL DEFAULT 'open',
    total_supply BIGINT NOT NULL DEFAULT 0 CHECK (total_supply >= 0)
);

INSERT INTO credit_sale (id, phase, total_supply) VALUES (1, 'open', 0)
ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS credit_accounts (
    account   TEXT PRIMARY KEY,
    balance   BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    allowance BIGINT NOT NULL DEFAULT 0 CHECK (allowance >= 0)
);

CREATE TABLE IF NOT EXISTS credit_entries (
    id         UUID PRIMARY KEY,
    account    TEXT NOT NULL,
    kind       TEXT NOT NULL,
    amount     BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credit_entries_account ON credit_entries (account);
`

const (
	entryMint = "mint"
	entryBurn = "burn"
)

// PostgresLedger persists credit balances in PostgreSQL. Each mutation runs in
// one transaction that locks the sale row first, which serializes every writer.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate creates the ledger tables and the singleton sale row when missing.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate credit ledger: %w", err)
	}
	return nil
}

// SetCap upserts the account's allowance.
func (l *PostgresLedger) SetCap(ctx context.Context, account string, allowance uint64) error {
	if account == "" {
		return ErrInvalidAccount
	}
	v, err := toBigint(allowance)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `INSERT INTO credit_accounts (account, allowance) VALUES ($1, $2)
        ON CONFLICT (account) DO UPDATE SET allowance = EXCLUDED.allowance`, account, v)
	return err
}

// Allowance returns the remaining allowance, zero for unknown accounts.
func (l *PostgresLedger) Allowance(ctx context.Context, account string) (uint64, error) {
	_, allowance, err := accountRow(ctx, l.db, account, false)
	return allowance, err
}

// Mint credits an account inside a single transaction.
func (l *PostgresLedger) Mint(ctx context.Context, account string, amount uint64) (Receipt, error) {
	if err := validate(account, amount); err != nil {
		return Receipt{}, err
	}
	delta, err := toBigint(amount)
	if err != nil {
		return Receipt{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Receipt{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	phase, total, err := lockSale(ctx, tx)
	if err != nil {
		return Receipt{}, err
	}
	if phase != PhaseOpen {
		return Receipt{}, fmt.Errorf("%w: mint requires %s sale, current %s", ErrPhase, PhaseOpen, phase)
	}

	balance, allowance, err := accountRow(ctx, tx, account, true)
	if err != nil {
		return Receipt{}, err
	}
	if amount > allowance {
		return Receipt{}, fmt.Errorf("%w: %s requested %d, remaining %d", ErrCapExceeded, account, amount, allowance)
	}
	if total+amount > math.MaxInt64 {
		return Receipt{}, ErrOverflow
	}

	// allowance > 0 here, so the row exists
	if _, err := tx.Exec(ctx, `UPDATE credit_accounts SET balance = balance + $2, allowance = allowance - $2
        WHERE account = $1`, account, delta); err != nil {
		return Receipt{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE credit_sale SET total_supply = total_supply + $1 WHERE id = 1`, delta); err != nil {
		return Receipt{}, err
	}
	if err := journal(ctx, tx, account, entryMint, delta); err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		Account:     account,
		Amount:      amount,
		Balance:     balance + amount,
		Allowance:   allowance - amount,
		TotalSupply: total + amount,
	}, nil
}

// Burn debits an account inside a single transaction.
func (l *PostgresLedger) Burn(ctx context.Context, account string, amount uint64) (Receipt, error) {
	if err := validate(account, amount); err != nil {
		return Receipt{}, err
	}
	delta, err := toBigint(amount)
	if err != nil {
		return Receipt{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Receipt{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	phase, total, err := lockSale(ctx, tx)
	if err != nil {
		return Receipt{}, err
	}
	if phase != PhaseFinalized {
		return Receipt{}, fmt.Errorf("%w: burn requires %s sale, current %s", ErrPhase, PhaseFinalized, phase)
	}

	balance, allowance, err := accountRow(ctx, tx, account, true)
	if err != nil {
		return Receipt{}, err
	}
	if balance < amount {
		return Receipt{}, fmt.Errorf("%w: %s holds %d, requested %d", ErrInsufficientBalance, account, balance, amount)
	}

	if _, err := tx.Exec(ctx, `UPDATE credit_accounts SET balance = balance - $2 WHERE account = $1`, account, delta); err != nil {
		return Receipt{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE credit_sale SET total_supply = total_supply - $1 WHERE id = 1`, delta); err != nil {
		return Receipt{}, err
	}
	if err := journal(ctx, tx, account, entryBurn, -delta); err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		Account:     account,
		Amount:      amount,
		Balance:     balance - amount,
		Allowance:   allowance,
		TotalSupply: total - amount,
	}, nil
}

// Finalize moves the sale to PhaseFinalized exactly once.
func (l *PostgresLedger) Finalize(ctx context.Context) error {
	cmd, err := l.db.Exec(ctx, `UPDATE credit_sale SET phase = $1 WHERE id = 1 AND phase = $2`, string(PhaseFinalized), string(PhaseOpen))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := l.Phase(ctx); err != nil {
			return err
		}
		return ErrAlreadyFinalized
	}
	return nil
}

// Phase returns the current sale phase.
func (l *PostgresLedger) Phase(ctx context.Context) (Phase, error) {
	var phase string
	if err := l.db.QueryRow(ctx, `SELECT phase FROM credit_sale WHERE id = 1`).Scan(&phase); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMigrated
		}
		return "", err
	}
	return Phase(phase), nil
}

// TotalSupply returns the stored total supply.
func (l *PostgresLedger) TotalSupply(ctx context.Context) (uint64, error) {
	var total int64
	if err := l.db.QueryRow(ctx, `SELECT total_supply FROM credit_sale WHERE id = 1`).Scan(&total); err != nil {
		return 0, err
	}
	return uint64(total), nil
}

// BalanceOf returns the account's credit balance, zero for unknown accounts.
func (l *PostgresLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	balance, _, err := accountRow(ctx, l.db, account, false)
	return balance, err
}

// CheckSupply compares the stored total against the summed balances in one snapshot.
func (l *PostgresLedger) CheckSupply(ctx context.Context) error {
	const query = `
        SELECT s.total_supply, COALESCE((SELECT SUM(balance) FROM credit_accounts), 0)::BIGINT
        FROM credit_sale s
        WHERE s.id = 1`
	var total, sum int64
	if err := l.db.QueryRow(ctx, query).Scan(&total, &sum); err != nil {
		return err
	}
	if total != sum {
		return fmt.Errorf("%w: total %d, balances %d", ErrSupplyMismatch, total, sum)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lockSale(ctx context.Context, tx pgx.Tx) (Phase, uint64, error) {
	var (
		phase string
		total int64
	)
	if err := tx.QueryRow(ctx, `SELECT phase, total_supply FROM credit_sale WHERE id = 1 FOR UPDATE`).Scan(&phase, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrNotMigrated
		}
		return "", 0, err
	}
	return Phase(phase), uint64(total), nil
}

func accountRow(ctx context.Context, q querier, account string, forUpdate bool) (uint64, uint64, error) {
	query := `SELECT balance, allowance FROM credit_accounts WHERE account = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var balance, allowance int64
	if err := q.QueryRow(ctx, query, account).Scan(&balance, &allowance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return uint64(balance), uint64(allowance), nil
}

func journal(ctx context.Context, tx pgx.Tx, account, kind string, amount int64) error {
	_, err := tx.Exec(ctx, `INSERT INTO credit_entries (id, account, kind, amount) VALUES ($1, $2, $3, $4)`,
		uuid.New(), account, kind, amount)
	return err
}

func toBigint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds bigint", ErrOverflow, v)
	}
	return int64(v), nil
}
