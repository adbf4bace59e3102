// Package reconciler settles submitted withdrawals and applies confirmed
// deposits. It is the only code that commits or releases a reservation after
// payout handoff, driven by three inputs: rail callbacks, the SLA timer, and
// status polls. Silence from the rail is never treated as failure; funds stay
// held until a definitive verdict or the poll budget runs out.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offramp-engine/internal/domain"
	"offramp-engine/internal/locker"
	"offramp-engine/internal/provider/payout"
	"offramp-engine/internal/pub"

	"go.uber.org/zap"
)

type Ledger interface {
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	ApplyDeposit(ctx context.Context, userID int64, event *domain.DepositEvent) (*domain.Deposit, bool, error)
	MarkDepositNotified(ctx context.Context, depositID int64) error
}

type TransactionStore interface {
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus) error
	MarkFailed(ctx context.Context, id, reason string) error
	ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error)
	ListTimedOut(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

type Users interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByAddress(ctx context.Context, address string) (*domain.User, error)
}

type SessionStore interface {
	Get(ctx context.Context, phone string) (*domain.Session, error)
	Put(ctx context.Context, sess *domain.Session) error
}

type PayoutRail interface {
	GetStatus(ctx context.Context, idempotencyKey string) (*payout.StatusResult, error)
}

// Notifier delivers user-facing messages. Delivery failures are the
// transport's problem and never block settlement. Never called while
// holding a user lock.
type Notifier interface {
	Send(ctx context.Context, phone, text string)
}

type Publisher interface {
	Publish(ctx context.Context, event pub.Event)
}

type Config struct {
	RequiredConfirmations int
	PayoutSLA             time.Duration
	StatusPollEvery       time.Duration
	StatusPollMax         int
}

type Reconciler struct {
	locks    *locker.Locker
	ledger   Ledger
	txs      TransactionStore
	users    Users
	sessions SessionStore
	rail     PayoutRail
	notifier Notifier
	events   Publisher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func New(
	locks *locker.Locker,
	ledger Ledger,
	txs TransactionStore,
	users Users,
	sessions SessionStore,
	rail PayoutRail,
	notifier Notifier,
	events Publisher,
	cfg Config,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		locks:    locks,
		ledger:   ledger,
		txs:      txs,
		users:    users,
		sessions: sessions,
		rail:     rail,
		notifier: notifier,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandlePayoutResult settles a withdrawal from a rail verdict, whether it
// arrived by callback or by status poll. Redeliveries land on a terminal
// transaction and no-op.
func (r *Reconciler) HandlePayoutResult(ctx context.Context, result payout.StatusResult) error {
	tx, err := r.txs.GetByID(ctx, result.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("payout result for unknown transaction",
			zap.String("idempotency_key", result.IdempotencyKey))
		return nil
	}
	if err != nil {
		return err
	}

	user, err := r.users.GetByID(ctx, tx.UserID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(user.Phone)

	// Re-read under the lock; a racing callback may have settled it.
	tx, err = r.txs.GetByID(ctx, tx.ID)
	if err != nil {
		unlock()
		return err
	}
	if tx.Status.IsTerminal() {
		unlock()
		r.logger.Info("payout result for settled transaction ignored",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)))
		return nil
	}
	// A verdict can outrun the submission stamp: the rail call runs outside
	// the orchestrator's lock, before MarkSubmitted lands. Settling now would
	// strand the transaction pre-submission; defer and let the rail redeliver
	// once the handoff is recorded.
	if tx.Status != domain.TransactionStatusSubmitted &&
		tx.Status != domain.TransactionStatusTimedOut {
		unlock()
		r.logger.Warn("payout verdict before submission was recorded, deferring",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)))
		return fmt.Errorf("transaction %s not yet submitted, verdict deferred", tx.ID)
	}

	var note string
	switch result.Status {
	case payout.StatusCompleted:
		note, err = r.complete(ctx, tx)
	case payout.StatusFailed:
		reason := result.Reason
		if reason == "" {
			reason = "payout rejected by rail"
		}
		note, err = r.fail(ctx, tx, reason)
	case payout.StatusPending:
		unlock()
		return nil
	default:
		unlock()
		r.logger.Warn("unexpected payout status",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(result.Status)))
		return nil
	}
	unlock()

	if err != nil {
		return err
	}
	if note != "" {
		r.notifier.Send(ctx, user.Phone, note)
	}
	return nil
}

// complete commits the hold and closes the withdrawal, returning the user
// notification. Caller holds the user lock and has verified the transaction
// is live.
func (r *Reconciler) complete(ctx context.Context, tx *domain.Transaction) (string, error) {
	if tx.ReservationID != nil {
		if err := r.ledger.Commit(ctx, *tx.ReservationID); err != nil {
			return "", fmt.Errorf("commit reservation: %w", err)
		}
	}
	if err := r.txs.UpdateStatus(ctx, tx.ID, []domain.TransactionStatus{
		domain.TransactionStatusSubmitted,
		domain.TransactionStatusTimedOut,
	}, domain.TransactionStatusCompleted); err != nil && !errors.Is(err, domain.ErrStaleReservation) {
		return "", err
	}

	if err := r.clearSession(ctx, tx); err != nil {
		return "", err
	}

	r.logger.Info("withdrawal completed",
		zap.String("transaction_id", tx.ID),
		zap.Int64("user_id", tx.UserID),
		zap.String("fiat_amount", tx.FiatAmount.String()))

	r.events.Publish(ctx, pub.Event{
		Type:          "withdrawal_completed",
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Asset:         tx.Asset,
		Amount:        tx.Amount.String(),
	})
	return fmt.Sprintf(
		"🎉 *Withdrawal Completed!*\n\n₦%s has been sent to your %s account (%s).\n\nThanks for using Offramp! 💚",
		tx.FiatAmount.StringFixed(2), tx.BankName, tx.AccountNumber,
	), nil
}

// fail releases the hold back to available and closes the withdrawal,
// returning the user notification. Caller holds the user lock.
func (r *Reconciler) fail(ctx context.Context, tx *domain.Transaction, reason string) (string, error) {
	if tx.ReservationID != nil {
		if err := r.ledger.Release(ctx, *tx.ReservationID); err != nil {
			return "", fmt.Errorf("release reservation: %w", err)
		}
	}
	if err := r.txs.MarkFailed(ctx, tx.ID, reason); err != nil {
		return "", err
	}

	if err := r.clearSession(ctx, tx); err != nil {
		return "", err
	}

	r.logger.Warn("withdrawal failed",
		zap.String("transaction_id", tx.ID),
		zap.Int64("user_id", tx.UserID),
		zap.String("reason", reason))

	r.events.Publish(ctx, pub.Event{
		Type:          "withdrawal_failed",
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Asset:         tx.Asset,
		Amount:        tx.Amount.String(),
		Reason:        reason,
	})
	return fmt.Sprintf(
		"❌ *Withdrawal Failed*\n\nReason: %s\n\nYour %s %s has been returned to your balance. Type `withdraw [amount] [crypto]` to try again.",
		reason, tx.Amount.StringFixed(2), tx.Asset,
	), nil
}

// clearSession returns the session to active if it still points at this
// transaction. A session already moved on is left alone.
func (r *Reconciler) clearSession(ctx context.Context, tx *domain.Transaction) error {
	user, err := r.users.GetByID(ctx, tx.UserID)
	if err != nil {
		return err
	}
	sess, err := r.sessions.Get(ctx, user.Phone)
	if err != nil {
		return err
	}
	if sess.TransactionID != tx.ID {
		return nil
	}
	sess.ClearWithdrawal()
	return r.sessions.Put(ctx, sess)
}

// HandleDeposit applies one watcher event: resolve the address owner, credit
// exactly once per tx hash, notify on first application only.
func (r *Reconciler) HandleDeposit(ctx context.Context, event domain.DepositEvent) error {
	if event.Confirmations < r.cfg.RequiredConfirmations {
		r.logger.Debug("deposit below confirmation threshold",
			zap.String("tx_hash", event.TxHash),
			zap.Int("confirmations", event.Confirmations))
		return nil
	}

	user, err := r.users.GetUserByAddress(ctx, event.Address)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("deposit to unknown address",
			zap.String("address", event.Address),
			zap.String("tx_hash", event.TxHash))
		return nil
	}
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(user.Phone)
	dep, applied, err := r.ledger.ApplyDeposit(ctx, user.ID, &event)
	unlock()
	if err != nil {
		return fmt.Errorf("apply deposit: %w", err)
	}
	if !applied {
		return nil
	}

	r.events.Publish(ctx, pub.Event{
		Type:   "deposit_credited",
		UserID: user.ID,
		Asset:  dep.Asset,
		Amount: dep.Amount.String(),
		TxHash: dep.TxHash,
	})
	r.notifier.Send(ctx, user.Phone, fmt.Sprintf(
		"💰 *Deposit Received!*\n\n+%s %s credited to your wallet.\n\nType `balance` to check your funds or `withdraw [amount] [crypto]` to cash out.",
		dep.Amount.StringFixed(2), dep.Asset,
	))
	if err := r.ledger.MarkDepositNotified(ctx, dep.ID); err != nil {
		// The tx-hash dedup already prevents a second credit; this flag only
		// records that the message went out.
		r.logger.Warn("failed to record deposit notification",
			zap.Int64("deposit_id", dep.ID), zap.Error(err))
	}
	return nil
}

// SweepOverdue marks submitted withdrawals past the payout SLA as timed out.
// The reservation stays held: the rail may still complete, and releasing
// here could double-spend against a late success.
func (r *Reconciler) SweepOverdue(ctx context.Context) error {
	cutoff := r.now().Add(-r.cfg.PayoutSLA)
	overdue, err := r.txs.ListSubmittedBefore(ctx, cutoff, 50)
	if err != nil {
		return err
	}

	for _, tx := range overdue {
		user, err := r.users.GetByID(ctx, tx.UserID)
		if err != nil {
			r.logger.Error("failed to load user for overdue withdrawal",
				zap.String("transaction_id", tx.ID), zap.Error(err))
			continue
		}

		unlock := r.locks.Lock(user.Phone)
		err = r.txs.UpdateStatus(ctx, tx.ID,
			[]domain.TransactionStatus{domain.TransactionStatusSubmitted},
			domain.TransactionStatusTimedOut)
		unlock()
		if errors.Is(err, domain.ErrStaleReservation) {
			continue // settled while we were sweeping
		}
		if err != nil {
			r.logger.Error("failed to mark withdrawal timed out",
				zap.String("transaction_id", tx.ID), zap.Error(err))
			continue
		}

		r.logger.Warn("withdrawal exceeded payout SLA",
			zap.String("transaction_id", tx.ID),
			zap.Int64("user_id", tx.UserID))
		r.notifier.Send(ctx, user.Phone,
			"⏳ Your withdrawal is taking longer than usual. We're checking with the payout provider and will update you shortly. Your funds are safe.")
	}
	return nil
}

// PollTimedOut asks the rail for a verdict on every timed-out withdrawal.
// Pending or unreachable results leave the hold in place until the poll
// budget (derived from the submission time) is exhausted.
func (r *Reconciler) PollTimedOut(ctx context.Context) error {
	pending, err := r.txs.ListTimedOut(ctx, 50)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		result, err := r.rail.GetStatus(ctx, tx.ID)
		if err != nil {
			r.logger.Warn("payout status poll failed",
				zap.String("transaction_id", tx.ID), zap.Error(err))
			if r.budgetExhausted(tx) {
				if err := r.resolveUnknown(ctx, tx, "no payout verdict within the reconciliation window"); err != nil {
					return err
				}
			}
			continue
		}

		switch result.Status {
		case payout.StatusCompleted, payout.StatusFailed:
			if err := r.HandlePayoutResult(ctx, *result); err != nil {
				return err
			}
		case payout.StatusNotFound:
			// The rail never saw the submission; the hold can be returned.
			if err := r.resolveUnknown(ctx, tx, "payout never reached the rail"); err != nil {
				return err
			}
		default:
			if r.budgetExhausted(tx) {
				if err := r.resolveUnknown(ctx, tx, "no payout verdict within the reconciliation window"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// budgetExhausted reports whether the status-poll window since submission
// has fully elapsed.
func (r *Reconciler) budgetExhausted(tx *domain.Transaction) bool {
	if tx.SubmittedAt == nil {
		return true
	}
	deadline := tx.SubmittedAt.Add(r.cfg.PayoutSLA +
		time.Duration(r.cfg.StatusPollMax)*r.cfg.StatusPollEvery)
	return r.now().After(deadline)
}

// resolveUnknown fails a timed-out withdrawal with the given reason, unless
// it settled in the meantime.
func (r *Reconciler) resolveUnknown(ctx context.Context, tx *domain.Transaction, reason string) error {
	user, err := r.users.GetByID(ctx, tx.UserID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(user.Phone)

	tx, err = r.txs.GetByID(ctx, tx.ID)
	if err != nil {
		unlock()
		return err
	}
	if tx.Status != domain.TransactionStatusTimedOut {
		unlock()
		return nil
	}
	note, err := r.fail(ctx, tx, reason)
	unlock()
	if err != nil {
		return err
	}
	if note != "" {
		r.notifier.Send(ctx, user.Phone, note)
	}
	return nil
}
