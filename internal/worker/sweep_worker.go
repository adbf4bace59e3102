package worker

import (
	"context"
	"errors"
	"time"

	"offramp-engine/internal/domain"

	"go.uber.org/zap"
)

type LedgerSweeper interface {
	ReleaseExpired(ctx context.Context, now time.Time) ([]*domain.Reservation, error)
}

type SessionLister interface {
	ListStalled(ctx context.Context, now time.Time) ([]*domain.Session, error)
}

type StallExpirer interface {
	ExpireStalled(ctx context.Context, phone string) (string, bool, error)
	ExpireOrphaned(ctx context.Context, phone, txID string) (string, bool, error)
}

type TransactionLookup interface {
	GetOpenByUser(ctx context.Context, userID int64) (*domain.Transaction, error)
	ListQuotedExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type Notifier interface {
	Send(ctx context.Context, phone, text string)
}

// SweepWorker expires stalled wizard sessions and releases orphaned
// reservation holds on a fixed interval. Both passes act only on strictly
// elapsed deadlines and re-check state under the owner's lock.
type SweepWorker struct {
	interval    time.Duration
	ledger      LedgerSweeper
	sessions    SessionLister
	withdrawals StallExpirer
	txs         TransactionLookup
	users       UserLookup
	notifier    Notifier
	logger      *zap.Logger
}

func NewSweepWorker(
	interval time.Duration,
	ledger LedgerSweeper,
	sessions SessionLister,
	withdrawals StallExpirer,
	txs TransactionLookup,
	users UserLookup,
	notifier Notifier,
	logger *zap.Logger,
) *SweepWorker {
	return &SweepWorker{
		interval:    interval,
		ledger:      ledger,
		sessions:    sessions,
		withdrawals: withdrawals,
		txs:         txs,
		users:       users,
		notifier:    notifier,
		logger:      logger,
	}
}

func (w *SweepWorker) Run(ctx context.Context) {
	w.logger.Info("sweep worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	now := time.Now().UTC()

	// Stalled wizard sessions first: expiring the session also releases its
	// reservation, so the orphan pass below has less to do.
	stalled, err := w.sessions.ListStalled(ctx, now)
	if err != nil {
		w.logger.Error("failed to list stalled sessions", zap.Error(err))
	}
	for _, sess := range stalled {
		note, expired, err := w.withdrawals.ExpireStalled(ctx, sess.Phone)
		if err != nil {
			w.logger.Error("failed to expire stalled session",
				zap.String("phone", sess.Phone), zap.Error(err))
			continue
		}
		if expired && note != "" {
			w.notifier.Send(ctx, sess.Phone, note)
		}
	}

	// Quoted transactions whose session is gone: no deadline survives a
	// session loss, so the quote window itself is swept. ExpireOrphaned
	// re-checks under the lock, so one that just confirmed is left alone.
	staleQuotes, err := w.txs.ListQuotedExpired(ctx, now, 50)
	if err != nil {
		w.logger.Error("failed to list expired quotes", zap.Error(err))
	}
	for _, tx := range staleQuotes {
		user, err := w.users.GetByID(ctx, tx.UserID)
		if err != nil {
			w.logger.Error("failed to load user for expired quote",
				zap.String("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		note, expired, err := w.withdrawals.ExpireOrphaned(ctx, user.Phone, tx.ID)
		if err != nil {
			w.logger.Error("failed to expire quoted transaction",
				zap.String("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		if expired && note != "" {
			w.notifier.Send(ctx, user.Phone, note)
		}
	}

	// Orphaned holds: reservations whose TTL elapsed without the session
	// sweep catching them (lost session, crashed mid-wizard).
	released, err := w.ledger.ReleaseExpired(ctx, now)
	if err != nil {
		w.logger.Error("failed to release expired reservations", zap.Error(err))
		return
	}
	for _, res := range released {
		w.unwindOwner(ctx, res)
	}
}

// unwindOwner fails the withdrawal that owned a force-released reservation,
// so transaction state never claims funds the ledger no longer holds.
func (w *SweepWorker) unwindOwner(ctx context.Context, res *domain.Reservation) {
	tx, err := w.txs.GetOpenByUser(ctx, res.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error("failed to look up owner of released reservation",
			zap.String("reservation_id", res.ID), zap.Error(err))
		return
	}
	if tx.ReservationID == nil || *tx.ReservationID != res.ID {
		return
	}
	// Submitted withdrawals keep their hold via Extend; reaching here means
	// the extension failed. The reconciler will settle against the rail, so
	// only pre-submission states are unwound.
	if tx.Status == domain.TransactionStatusSubmitted || tx.Status == domain.TransactionStatusTimedOut {
		w.logger.Warn("hold expired under an in-flight payout",
			zap.String("transaction_id", tx.ID),
			zap.String("reservation_id", res.ID))
		return
	}

	user, err := w.users.GetByID(ctx, res.UserID)
	if err != nil {
		w.logger.Error("failed to load user for expired reservation",
			zap.String("reservation_id", res.ID), zap.Error(err))
		return
	}
	note, expired, err := w.withdrawals.ExpireOrphaned(ctx, user.Phone, tx.ID)
	if err != nil {
		w.logger.Error("failed to unwind expired withdrawal",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return
	}
	if expired && note != "" {
		w.notifier.Send(ctx, user.Phone, note)
	}
}
