package ledger

import (
	"context"
	"testing"
	"time"

	"offramp-engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	reservations map[string]*domain.Reservation
	deposits     map[string]bool
	reserveErr   error
	commits      []string
	releases     []string
	notified     []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		reservations: make(map[string]*domain.Reservation),
		deposits:     make(map[string]bool),
	}
}

func (f *fakeRepo) GetBalance(_ context.Context, userID int64, asset string) (*domain.Balance, error) {
	return &domain.Balance{UserID: userID, Asset: asset}, nil
}

func (f *fakeRepo) ListBalances(_ context.Context, _ int64) ([]*domain.Balance, error) {
	return nil, nil
}

func (f *fakeRepo) Reserve(_ context.Context, res *domain.Reservation) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	res.Status = domain.ReservationStatusHeld
	cp := *res
	f.reservations[res.ID] = &cp
	return nil
}

func (f *fakeRepo) CommitReservation(_ context.Context, id string) error {
	res, ok := f.reservations[id]
	if !ok || res.Status != domain.ReservationStatusHeld {
		return domain.ErrStaleReservation
	}
	res.Status = domain.ReservationStatusCommitted
	f.commits = append(f.commits, id)
	return nil
}

func (f *fakeRepo) ReleaseReservation(_ context.Context, id string) error {
	res, ok := f.reservations[id]
	if !ok || res.Status != domain.ReservationStatusHeld {
		return domain.ErrStaleReservation
	}
	res.Status = domain.ReservationStatusReleased
	f.releases = append(f.releases, id)
	return nil
}

func (f *fakeRepo) ExtendReservation(_ context.Context, id string, until time.Time) error {
	res, ok := f.reservations[id]
	if !ok {
		return domain.ErrStaleReservation
	}
	res.ExpiresAt = until
	return nil
}

func (f *fakeRepo) MarkDepositNotified(_ context.Context, id int64) error {
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeRepo) ListExpiredHeld(_ context.Context, now time.Time, _ int) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	for _, res := range f.reservations {
		if res.Status == domain.ReservationStatusHeld && res.ExpiresAt.Before(now) {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) ApplyDeposit(_ context.Context, dep *domain.Deposit) error {
	if f.deposits[dep.TxHash] {
		return domain.ErrDuplicateEvent
	}
	f.deposits[dep.TxHash] = true
	return nil
}

func newService(repo *fakeRepo) *Service {
	return NewService(repo, []string{"USDT", "USDC"}, 15*time.Minute, zap.NewNop())
}

func TestReserveRejectsUnknownAsset(t *testing.T) {
	s := newService(newFakeRepo())
	_, err := s.Reserve(context.Background(), 1, "DOGE", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrUnknownAsset)
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	s := newService(newFakeRepo())
	_, err := s.Reserve(context.Background(), 1, "USDT", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Reserve(context.Background(), 1, "USDT", decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReservePropagatesInsufficientFunds(t *testing.T) {
	repo := newFakeRepo()
	repo.reserveErr = domain.ErrInsufficientFunds
	s := newService(repo)
	_, err := s.Reserve(context.Background(), 1, "USDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestCommitOnResolvedReservationIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	s := newService(repo)

	res, err := s.Reserve(context.Background(), 1, "USDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NoError(t, s.Commit(context.Background(), res.ID))
	// Redelivered callback commits again: no error, no second commit.
	require.NoError(t, s.Commit(context.Background(), res.ID))
	assert.Len(t, repo.commits, 1)
}

func TestReleaseAfterCommitIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	s := newService(repo)

	res, err := s.Reserve(context.Background(), 1, "USDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NoError(t, s.Commit(context.Background(), res.ID))
	require.NoError(t, s.Release(context.Background(), res.ID))
	assert.Empty(t, repo.releases, "commit wins, release must not undo it")
}

func TestApplyDepositDeduplicatesByHash(t *testing.T) {
	s := newService(newFakeRepo())
	event := &domain.DepositEvent{
		TxHash: "0xh1", Address: "0xabc", Asset: "USDT",
		Amount: decimal.NewFromInt(5),
	}

	_, applied, err := s.ApplyDeposit(context.Background(), 1, event)
	require.NoError(t, err)
	assert.True(t, applied)

	_, applied, err = s.ApplyDeposit(context.Background(), 1, event)
	require.NoError(t, err)
	assert.False(t, applied, "redelivery must report not-applied")
}

func TestReleaseExpiredSkipsResolved(t *testing.T) {
	repo := newFakeRepo()
	s := newService(repo)
	ctx := context.Background()

	expired, err := s.Reserve(ctx, 1, "USDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	repo.reservations[expired.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	committed, err := s.Reserve(ctx, 2, "USDT", decimal.NewFromInt(2))
	require.NoError(t, err)
	repo.reservations[committed.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.Commit(ctx, committed.ID))

	live, err := s.Reserve(ctx, 3, "USDT", decimal.NewFromInt(3))
	require.NoError(t, err)

	released, err := s.ReleaseExpired(ctx, time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, released, 1)
	assert.Equal(t, expired.ID, released[0].ID)
	assert.Equal(t, domain.ReservationStatusHeld, repo.reservations[live.ID].Status)
	assert.Equal(t, domain.ReservationStatusCommitted, repo.reservations[committed.ID].Status)
}
