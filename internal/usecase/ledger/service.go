// Package ledger is the single source of truth for custodial balances.
// Reservations debit availability immediately and finalize only on commit;
// deposits apply exactly once per chain hash.
package ledger

import (
	"context"
	"errors"
	"time"

	"offramp-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository is the storage contract. Implementations must make every
// mutating call a single atomic database transaction.
type Repository interface {
	GetBalance(ctx context.Context, userID int64, asset string) (*domain.Balance, error)
	ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error)
	Reserve(ctx context.Context, res *domain.Reservation) error
	CommitReservation(ctx context.Context, reservationID string) error
	ReleaseReservation(ctx context.Context, reservationID string) error
	ExtendReservation(ctx context.Context, reservationID string, until time.Time) error
	ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	ApplyDeposit(ctx context.Context, dep *domain.Deposit) error
	MarkDepositNotified(ctx context.Context, depositID int64) error
}

type Service struct {
	repo            Repository
	supportedAssets map[string]bool
	reservationTTL  time.Duration
	logger          *zap.Logger
}

func NewService(repo Repository, supportedAssets []string, reservationTTL time.Duration, logger *zap.Logger) *Service {
	assets := make(map[string]bool, len(supportedAssets))
	for _, a := range supportedAssets {
		assets[a] = true
	}
	return &Service{
		repo:            repo,
		supportedAssets: assets,
		reservationTTL:  reservationTTL,
		logger:          logger,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID int64, asset string) (*domain.Balance, error) {
	if !s.supportedAssets[asset] {
		return nil, domain.ErrUnknownAsset
	}
	return s.repo.GetBalance(ctx, userID, asset)
}

func (s *Service) ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error) {
	return s.repo.ListBalances(ctx, userID)
}

// Reserve places a hold on available balance, auto-released by the sweep
// after the configured TTL if never committed.
func (s *Service) Reserve(ctx context.Context, userID int64, asset string, amount decimal.Decimal) (*domain.Reservation, error) {
	if !s.supportedAssets[asset] {
		return nil, domain.ErrUnknownAsset
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrValidation
	}

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Asset:     asset,
		Amount:    amount,
		ExpiresAt: time.Now().UTC().Add(s.reservationTTL),
	}
	if err := s.repo.Reserve(ctx, res); err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.Int64("user_id", userID),
		zap.String("asset", asset),
		zap.String("amount", amount.String()))
	return res, nil
}

// Commit finalizes the debit. A stale reservation is a no-op success so
// redelivered payout callbacks stay safe, but it is logged: value that
// should have been committed was already resolved another way.
func (s *Service) Commit(ctx context.Context, reservationID string) error {
	err := s.repo.CommitReservation(ctx, reservationID)
	if errors.Is(err, domain.ErrStaleReservation) {
		s.logger.Warn("commit on resolved reservation ignored",
			zap.String("reservation_id", reservationID))
		return nil
	}
	return err
}

// Release restores availability. No-op success when already resolved.
func (s *Service) Release(ctx context.Context, reservationID string) error {
	err := s.repo.ReleaseReservation(ctx, reservationID)
	if errors.Is(err, domain.ErrStaleReservation) {
		return nil
	}
	return err
}

// Extend pushes a hold's deadline out to cover the payout settlement window.
func (s *Service) Extend(ctx context.Context, reservationID string, until time.Time) error {
	return s.repo.ExtendReservation(ctx, reservationID, until)
}

// ApplyDeposit credits a confirmed on-chain transfer. Returns false when the
// event was a redelivery; the caller must not notify twice.
func (s *Service) ApplyDeposit(ctx context.Context, userID int64, event *domain.DepositEvent) (*domain.Deposit, bool, error) {
	dep := &domain.Deposit{
		TxHash:  event.TxHash,
		UserID:  userID,
		Address: event.Address,
		Asset:   event.Asset,
		Amount:  event.Amount,
	}
	err := s.repo.ApplyDeposit(ctx, dep)
	if errors.Is(err, domain.ErrDuplicateEvent) {
		s.logger.Debug("duplicate deposit event ignored",
			zap.String("tx_hash", event.TxHash))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("deposit credited",
		zap.String("tx_hash", event.TxHash),
		zap.Int64("user_id", userID),
		zap.String("asset", event.Asset),
		zap.String("amount", event.Amount.String()))
	return dep, true, nil
}

// MarkDepositNotified records that the credit message went out, so back-office
// queries can tell notified deposits from silently applied ones.
func (s *Service) MarkDepositNotified(ctx context.Context, depositID int64) error {
	return s.repo.MarkDepositNotified(ctx, depositID)
}

// ReleaseExpired releases every held reservation whose deadline has strictly
// elapsed and returns them so the caller can unwind the owning withdrawal.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	expired, err := s.repo.ListExpiredHeld(ctx, now, 100)
	if err != nil {
		return nil, err
	}

	var released []*domain.Reservation
	for _, res := range expired {
		err := s.repo.ReleaseReservation(ctx, res.ID)
		if errors.Is(err, domain.ErrStaleReservation) {
			continue // resolved by a racing commit, nothing to unwind
		}
		if err != nil {
			s.logger.Error("failed to release expired reservation",
				zap.String("reservation_id", res.ID),
				zap.Error(err))
			continue
		}
		s.logger.Info("expired reservation released",
			zap.String("reservation_id", res.ID),
			zap.Int64("user_id", res.UserID))
		released = append(released, res)
	}
	return released, nil
}
