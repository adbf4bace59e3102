package worker

import (
	"context"
	"testing"
	"time"

	"offramp-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedgerSweeper struct {
	expired []*domain.Reservation
}

func (f *fakeLedgerSweeper) ReleaseExpired(_ context.Context, _ time.Time) ([]*domain.Reservation, error) {
	return f.expired, nil
}

type fakeSessionLister struct {
	stalled []*domain.Session
}

func (f *fakeSessionLister) ListStalled(_ context.Context, _ time.Time) ([]*domain.Session, error) {
	return f.stalled, nil
}

type expireCall struct {
	phone string
	txID  string
}

type fakeExpirer struct {
	stalled  []string
	orphaned []expireCall
	note     string
}

func (f *fakeExpirer) ExpireStalled(_ context.Context, phone string) (string, bool, error) {
	f.stalled = append(f.stalled, phone)
	return f.note, f.note != "", nil
}

func (f *fakeExpirer) ExpireOrphaned(_ context.Context, phone, txID string) (string, bool, error) {
	f.orphaned = append(f.orphaned, expireCall{phone: phone, txID: txID})
	return f.note, f.note != "", nil
}

type fakeTxLookup struct {
	open        map[int64]*domain.Transaction
	staleQuotes []*domain.Transaction
}

func (f *fakeTxLookup) GetOpenByUser(_ context.Context, userID int64) (*domain.Transaction, error) {
	tx, ok := f.open[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tx, nil
}

func (f *fakeTxLookup) ListQuotedExpired(_ context.Context, _ time.Time, _ int) ([]*domain.Transaction, error) {
	return f.staleQuotes, nil
}

type fakeUserLookup struct {
	m map[int64]*domain.User
}

func (f *fakeUserLookup) GetByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := f.m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

type fakeNotifier struct {
	sent map[string][]string // phone -> messages
}

func (f *fakeNotifier) Send(_ context.Context, phone, text string) {
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[phone] = append(f.sent[phone], text)
}

type sweepFixture struct {
	worker   *SweepWorker
	ledger   *fakeLedgerSweeper
	sessions *fakeSessionLister
	expirer  *fakeExpirer
	txs      *fakeTxLookup
	users    *fakeUserLookup
	notifier *fakeNotifier
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	f := &sweepFixture{
		ledger:   &fakeLedgerSweeper{},
		sessions: &fakeSessionLister{},
		expirer:  &fakeExpirer{note: "⏰ expired"},
		txs:      &fakeTxLookup{open: make(map[int64]*domain.Transaction)},
		users:    &fakeUserLookup{m: make(map[int64]*domain.User)},
		notifier: &fakeNotifier{},
	}
	f.worker = NewSweepWorker(time.Minute, f.ledger, f.sessions,
		f.expirer, f.txs, f.users, f.notifier, zap.NewNop())
	return f
}

func TestSweepExpiresStalledSessions(t *testing.T) {
	f := newSweepFixture(t)
	f.sessions.stalled = []*domain.Session{
		{Phone: "+2348001112222", State: domain.SessionStateWithdrawQuoted},
	}

	f.worker.sweep(context.Background())

	assert.Equal(t, []string{"+2348001112222"}, f.expirer.stalled)
	assert.Len(t, f.notifier.sent["+2348001112222"], 1)
}

func TestSweepExpiresQuotesWithoutSessions(t *testing.T) {
	f := newSweepFixture(t)
	user := &domain.User{ID: 1, Phone: "+2348001112222"}
	f.users.m[user.ID] = user
	// Session lost: no deadline anywhere, only the quote window remains.
	f.txs.staleQuotes = []*domain.Transaction{
		{ID: "tx-1", UserID: user.ID, Status: domain.TransactionStatusQuoted},
	}

	f.worker.sweep(context.Background())

	require.Len(t, f.expirer.orphaned, 1)
	assert.Equal(t, expireCall{phone: user.Phone, txID: "tx-1"}, f.expirer.orphaned[0])
	assert.Len(t, f.notifier.sent[user.Phone], 1)
}

func TestSweepUnwindsForceReleasedOwner(t *testing.T) {
	f := newSweepFixture(t)
	user := &domain.User{ID: 1, Phone: "+2348001112222"}
	f.users.m[user.ID] = user

	resID := "res-1"
	f.ledger.expired = []*domain.Reservation{{ID: resID, UserID: user.ID}}
	f.txs.open[user.ID] = &domain.Transaction{
		ID: "tx-1", UserID: user.ID,
		Status:        domain.TransactionStatusAwaitingBank,
		ReservationID: &resID,
	}

	f.worker.sweep(context.Background())

	require.Len(t, f.expirer.orphaned, 1)
	assert.Equal(t, "tx-1", f.expirer.orphaned[0].txID)
}

func TestSweepLeavesSubmittedOwnersToReconciler(t *testing.T) {
	f := newSweepFixture(t)
	user := &domain.User{ID: 1, Phone: "+2348001112222"}
	f.users.m[user.ID] = user

	resID := "res-1"
	f.ledger.expired = []*domain.Reservation{{ID: resID, UserID: user.ID}}
	f.txs.open[user.ID] = &domain.Transaction{
		ID: "tx-1", UserID: user.ID,
		Status:        domain.TransactionStatusSubmitted,
		ReservationID: &resID,
	}

	f.worker.sweep(context.Background())

	assert.Empty(t, f.expirer.orphaned, "in-flight payouts settle through the rail verdict")
	assert.Empty(t, f.notifier.sent)
}
