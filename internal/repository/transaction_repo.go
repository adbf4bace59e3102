package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offramp-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const txColumns = `
	id, user_id, asset, amount, rate, fiat_amount, fiat_currency,
	bank_name, account_number, holder_name, status, reservation_id,
	idempotency_key, failure_reason, quote_expires_at, submitted_at,
	created_at, updated_at
`

func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, asset, amount, rate, fiat_amount, fiat_currency,
			status, idempotency_key, quote_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		t.ID, t.UserID, t.Asset, t.Amount, t.Rate, t.FiatAmount, t.FiatCurrency,
		t.Status, t.IdempotencyKey, t.QuoteExpiresAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetOpenByUser returns the user's single non-terminal withdrawal, if any.
func (r *TransactionRepository) GetOpenByUser(ctx context.Context, userID int64) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled', 'expired')
	`, userID)
	return scanTransaction(row)
}

// UpdateStatus moves a transaction forward. The status list in the WHERE
// clause pins the expected current state so replayed events cannot rewind
// the machine.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, statusStrings(from))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleReservation
	}
	return nil
}

// SetReserved attaches the reservation and advances to awaiting_bank.
func (r *TransactionRepository) SetReserved(ctx context.Context, id, reservationID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET reservation_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, reservationID, domain.TransactionStatusAwaitingBank, domain.TransactionStatusQuoted)
	if err != nil {
		return fmt.Errorf("failed to set reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleReservation
	}
	return nil
}

// SetBankDetails stores the verified payee and advances to bank_verified.
func (r *TransactionRepository) SetBankDetails(ctx context.Context, id string, bank domain.BankDetails) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET bank_name = $2, account_number = $3, holder_name = $4,
		    status = $5, updated_at = NOW()
		WHERE id = $1 AND status = ANY($6)
	`, id, bank.BankName, bank.AccountNumber, bank.HolderName,
		domain.TransactionStatusBankVerified,
		statusStrings([]domain.TransactionStatus{
			domain.TransactionStatusAwaitingBank,
			domain.TransactionStatusBankVerified,
		}))
	if err != nil {
		return fmt.Errorf("failed to set bank details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleReservation
	}
	return nil
}

// MarkSubmitted stamps the payout handoff time.
func (r *TransactionRepository) MarkSubmitted(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $2, submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.TransactionStatusSubmitted, domain.TransactionStatusBankVerified)
	if err != nil {
		return fmt.Errorf("failed to mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleReservation
	}
	return nil
}

// MarkFailed records a terminal failure with the collaborator's reason.
func (r *TransactionRepository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled', 'expired')
	`, id, domain.TransactionStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return nil
}

// ListSubmittedBefore returns submitted withdrawals whose payout handoff is
// older than the cutoff, for SLA reconciliation.
func (r *TransactionRepository) ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = $1 AND submitted_at < $2
		ORDER BY submitted_at ASC
		LIMIT $3
	`, domain.TransactionStatusSubmitted, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list submitted transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListQuotedExpired returns quoted withdrawals whose quote window lapsed.
// Normally the session sweep expires these, but a transaction whose session
// was lost has no deadline anywhere else and would otherwise hold the
// one-open-withdrawal slot forever.
func (r *TransactionRepository) ListQuotedExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = $1 AND quote_expires_at < $2
		ORDER BY quote_expires_at ASC
		LIMIT $3
	`, domain.TransactionStatusQuoted, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired quotes: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListTimedOut returns withdrawals awaiting a status-poll verdict.
func (r *TransactionRepository) ListTimedOut(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = $1
		ORDER BY submitted_at ASC
		LIMIT $2
	`, domain.TransactionStatusTimedOut, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list timed out transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Asset, &t.Amount, &t.Rate, &t.FiatAmount,
		&t.FiatCurrency, &t.BankName, &t.AccountNumber, &t.HolderName,
		&t.Status, &t.ReservationID, &t.IdempotencyKey, &t.FailureReason,
		&t.QuoteExpiresAt, &t.SubmittedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

func statusStrings(statuses []domain.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
