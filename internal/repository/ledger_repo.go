package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offramp-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerRepository owns wallet balances, reservations and deposit records.
// Every mutating method is a single database transaction so the sweep path
// and the orchestrator path can race on the same reservation safely.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) GetBalance(ctx context.Context, userID int64, asset string) (*domain.Balance, error) {
	query := `
		SELECT user_id, asset, total, available, updated_at
		FROM balances WHERE user_id = $1 AND asset = $2
	`
	var b domain.Balance
	err := r.pool.QueryRow(ctx, query, userID, asset).
		Scan(&b.UserID, &b.Asset, &b.Total, &b.Available, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// No deposits yet: a zero balance, not an error.
		return &domain.Balance{UserID: userID, Asset: asset}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

func (r *LedgerRepository) ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error) {
	query := `
		SELECT user_id, asset, total, available, updated_at
		FROM balances WHERE user_id = $1 ORDER BY asset
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var balances []*domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.UserID, &b.Asset, &b.Total, &b.Available, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}
	return balances, nil
}

// Reserve debits available balance and records a held reservation in one
// transaction. The conditional UPDATE is the double-spend guard: two
// concurrent reserves cannot both pass the available >= amount check.
func (r *LedgerRepository) Reserve(ctx context.Context, res *domain.Reservation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE balances
		SET available = available - $3, updated_at = NOW()
		WHERE user_id = $1 AND asset = $2 AND available >= $3
	`, res.UserID, res.Asset, res.Amount)
	if err != nil {
		return fmt.Errorf("failed to debit available balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM balances WHERE user_id = $1 AND asset = $2)`,
			res.UserID, res.Asset).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check balance row: %w", err)
		}
		if !exists {
			return domain.ErrUnknownAsset
		}
		return domain.ErrInsufficientFunds
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO reservations (id, user_id, asset, amount, status, expires_at)
		VALUES ($1, $2, $3, $4, 'held', $5)
		RETURNING created_at, updated_at
	`, res.ID, res.UserID, res.Asset, res.Amount, res.ExpiresAt).
		Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	res.Status = domain.ReservationStatusHeld

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reserve: %w", err)
	}
	return nil
}

// CommitReservation finalizes the debit: total drops by the held amount.
// Returns ErrStaleReservation when the hold was already resolved; callers
// treat that as success so redelivered callbacks stay idempotent.
func (r *LedgerRepository) CommitReservation(ctx context.Context, reservationID string) error {
	return r.resolveReservation(ctx, reservationID, domain.ReservationStatusCommitted)
}

// ReleaseReservation restores availability without touching total.
func (r *LedgerRepository) ReleaseReservation(ctx context.Context, reservationID string) error {
	return r.resolveReservation(ctx, reservationID, domain.ReservationStatusReleased)
}

func (r *LedgerRepository) resolveReservation(ctx context.Context, reservationID string, to domain.ReservationStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	var asset string
	var amount decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'held'
		RETURNING user_id, asset, amount
	`, reservationID, to).Scan(&userID, &asset, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrStaleReservation
	}
	if err != nil {
		return fmt.Errorf("failed to resolve reservation: %w", err)
	}

	var balanceUpdate string
	if to == domain.ReservationStatusCommitted {
		balanceUpdate = `
			UPDATE balances SET total = total - $3, updated_at = NOW()
			WHERE user_id = $1 AND asset = $2
		`
	} else {
		balanceUpdate = `
			UPDATE balances SET available = available + $3, updated_at = NOW()
			WHERE user_id = $1 AND asset = $2
		`
	}
	if _, err := tx.Exec(ctx, balanceUpdate, userID, asset, amount); err != nil {
		return fmt.Errorf("failed to apply reservation to balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit resolve: %w", err)
	}
	return nil
}

// ExtendReservation pushes the auto-release deadline out, used when a
// withdrawal is handed to the payout rail and must outlive the quote window.
func (r *LedgerRepository) ExtendReservation(ctx context.Context, reservationID string, until time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reservations SET expires_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'held'
	`, reservationID, until)
	if err != nil {
		return fmt.Errorf("failed to extend reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleReservation
	}
	return nil
}

// ListExpiredHeld returns held reservations whose deadline has strictly
// elapsed, for the sweep worker.
func (r *LedgerRepository) ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	query := `
		SELECT id, user_id, asset, amount, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE status = 'held' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.UserID, &res.Asset, &res.Amount, &res.Status,
			&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return out, nil
}

// ApplyDeposit credits a confirmed on-chain deposit exactly once, keyed by
// tx hash. Re-delivery returns ErrDuplicateEvent and leaves the balance
// untouched.
func (r *LedgerRepository) ApplyDeposit(ctx context.Context, dep *domain.Deposit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin deposit: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO deposits (tx_hash, user_id, address, asset, amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id, credited_at
	`, dep.TxHash, dep.UserID, dep.Address, dep.Asset, dep.Amount).
		Scan(&dep.ID, &dep.CreditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (user_id, asset, total, available)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, asset) DO UPDATE
		SET total = balances.total + EXCLUDED.total,
		    available = balances.available + EXCLUDED.available,
		    updated_at = NOW()
	`, dep.UserID, dep.Asset, dep.Amount)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit deposit: %w", err)
	}
	return nil
}

// MarkDepositNotified flips the one-shot notification flag.
func (r *LedgerRepository) MarkDepositNotified(ctx context.Context, depositID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deposits SET notified = true WHERE id = $1`, depositID)
	if err != nil {
		return fmt.Errorf("failed to mark deposit notified: %w", err)
	}
	return nil
}
