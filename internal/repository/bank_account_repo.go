package repository

import (
	"context"
	"errors"
	"fmt"

	"offramp-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BankAccountRepository stores verified payee accounts so a returning user
// can reuse them instead of re-entering details.
type BankAccountRepository struct {
	pool *pgxpool.Pool
}

func NewBankAccountRepository(pool *pgxpool.Pool) *BankAccountRepository {
	return &BankAccountRepository{pool: pool}
}

func (r *BankAccountRepository) Save(ctx context.Context, userID int64, bank domain.BankDetails) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bank_accounts (user_id, bank_name, account_number, holder_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, bank_name, account_number) DO UPDATE
		SET holder_name = EXCLUDED.holder_name
	`, userID, bank.BankName, bank.AccountNumber, bank.HolderName)
	if err != nil {
		return fmt.Errorf("failed to save bank account: %w", err)
	}
	return nil
}

// GetLatest returns the most recently saved account, or ErrNotFound.
func (r *BankAccountRepository) GetLatest(ctx context.Context, userID int64) (*domain.BankDetails, error) {
	query := `
		SELECT bank_name, account_number, holder_name
		FROM bank_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var b domain.BankDetails
	err := r.pool.QueryRow(ctx, query, userID).
		Scan(&b.BankName, &b.AccountNumber, &b.HolderName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank account: %w", err)
	}
	return &b, nil
}
