package repository

import (
	"context"
	"errors"
	"fmt"

	"offramp-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user; the phone unique constraint makes duplicate create
// intents converge on the existing row.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (phone, username, active)
		VALUES ($1, $2, true)
		ON CONFLICT (phone) DO UPDATE SET updated_at = NOW()
		RETURNING id, active, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query, user.Phone, user.Username).
		Scan(&user.ID, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `
		SELECT id, phone, username, active, created_at, updated_at
		FROM users WHERE phone = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, phone).
		Scan(&u.ID, &u.Phone, &u.Username, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT id, phone, username, active, created_at, updated_at
		FROM users WHERE id = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&u.ID, &u.Phone, &u.Username, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// AttachWallet records the custody-issued address for a user.
func (r *UserRepository) AttachWallet(ctx context.Context, userID int64, address string) (*domain.Wallet, error) {
	query := `
		INSERT INTO wallets (user_id, address)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, address, created_at, updated_at
	`
	var w domain.Wallet
	err := r.pool.QueryRow(ctx, query, userID, address).
		Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to attach wallet: %w", err)
	}
	return &w, nil
}

func (r *UserRepository) GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, address, created_at, updated_at
		FROM wallets WHERE user_id = $1
	`
	var w domain.Wallet
	err := r.pool.QueryRow(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// GetUserByAddress resolves the owner of a monitored deposit address.
func (r *UserRepository) GetUserByAddress(ctx context.Context, address string) (*domain.User, error) {
	query := `
		SELECT u.id, u.phone, u.username, u.active, u.created_at, u.updated_at
		FROM users u
		INNER JOIN wallets w ON w.user_id = u.id
		WHERE w.address = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, address).
		Scan(&u.ID, &u.Phone, &u.Username, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address owner: %w", err)
	}
	return &u, nil
}
