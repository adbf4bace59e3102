// Package withdrawal drives a withdrawal from user intent through rate
// lock, bank capture, balance reservation and handoff to settlement.
//
// Every step runs under the owning user's lock. The lock is never held
// across a collaborator round trip: it is dropped before the call and the
// session is re-validated on reacquire, so a concurrent cancel or expiry
// always wins over a slow-arriving external reply.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"offramp-engine/internal/domain"
	"offramp-engine/internal/locker"
	"offramp-engine/internal/provider/payout"
	"offramp-engine/internal/provider/rates"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SessionStore interface {
	Get(ctx context.Context, phone string) (*domain.Session, error)
	Put(ctx context.Context, sess *domain.Session) error
}

type Ledger interface {
	Reserve(ctx context.Context, userID int64, asset string, amount decimal.Decimal) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID string) error
	Extend(ctx context.Context, reservationID string, until time.Time) error
}

type TransactionStore interface {
	Create(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetOpenByUser(ctx context.Context, userID int64) (*domain.Transaction, error)
	SetReserved(ctx context.Context, id, reservationID string) error
	SetBankDetails(ctx context.Context, id string, bank domain.BankDetails) error
	MarkSubmitted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	UpdateStatus(ctx context.Context, id string, from []domain.TransactionStatus, to domain.TransactionStatus) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error)
}

type BankAccounts interface {
	Save(ctx context.Context, userID int64, bank domain.BankDetails) error
	GetLatest(ctx context.Context, userID int64) (*domain.BankDetails, error)
}

type RateOracle interface {
	GetRate(ctx context.Context, asset, fiatCurrency string) (*rates.Quote, error)
}

type BankLookup interface {
	ResolveAccountName(ctx context.Context, bankName, accountNumber string) (string, error)
}

type PayoutRail interface {
	SubmitPayout(ctx context.Context, req payout.SubmitRequest) error
}

type Config struct {
	FiatCurrency   string
	QuoteTTL       time.Duration
	ReservationTTL time.Duration
	PayoutSLA      time.Duration
}

type Orchestrator struct {
	locks    *locker.Locker
	sessions SessionStore
	ledger   Ledger
	txs      TransactionStore
	banks    BankAccounts
	oracle   RateOracle
	lookup   BankLookup
	rail     PayoutRail
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(
	locks *locker.Locker,
	sessions SessionStore,
	ledger Ledger,
	txs TransactionStore,
	banks BankAccounts,
	oracle RateOracle,
	lookup BankLookup,
	rail PayoutRail,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		locks:    locks,
		sessions: sessions,
		ledger:   ledger,
		txs:      txs,
		banks:    banks,
		oracle:   oracle,
		lookup:   lookup,
		rail:     rail,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Quote handles `withdraw <amount> <asset>`: fetch a rate, lock it with an
// expiry, create the transaction in quoted status. No funds are reserved
// yet; the quote is advisory pricing only.
func (o *Orchestrator) Quote(ctx context.Context, user *domain.User, amount decimal.Decimal, asset, messageID string) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "❌ Invalid amount. Use format: `withdraw [amount] [crypto]`\n\n*Example:* `withdraw 1 USDT`", nil
	}

	// The oracle call happens outside the lock.
	quote, err := o.oracle.GetRate(ctx, asset, o.cfg.FiatCurrency)
	if errors.Is(err, domain.ErrCollaboratorUnavailable) {
		return "❌ Failed to get exchange rate. Please try again.", nil
	}
	if err != nil {
		return "", fmt.Errorf("rate quote failed: %w", err)
	}

	unlock := o.locks.Lock(user.Phone)
	defer unlock()

	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	// State may have moved while the oracle call was in flight.
	if sess.State != domain.SessionStateActive {
		return "❓ You already have a request in progress. Type `cancel` to abort it first.", nil
	}

	fiat := amount.Mul(quote.Rate)
	expiry := o.now().Add(o.cfg.QuoteTTL)
	tx := &domain.Transaction{
		ID:             ulid.MustNew(ulid.Timestamp(o.now()), rand.New(rand.NewSource(o.now().UnixNano()))).String(),
		UserID:         user.ID,
		Asset:          asset,
		Amount:         amount,
		Rate:           quote.Rate,
		FiatAmount:     fiat,
		FiatCurrency:   o.cfg.FiatCurrency,
		Status:         domain.TransactionStatusQuoted,
		IdempotencyKey: fmt.Sprintf("%d:%s", user.ID, messageID),
		QuoteExpiresAt: expiry,
	}
	if err := o.txs.Create(ctx, tx); err != nil {
		return "", fmt.Errorf("create quoted transaction: %w", err)
	}

	sess.State = domain.SessionStateWithdrawQuoted
	sess.TransactionID = tx.ID
	sess.PendingAmount = &amount
	sess.PendingAsset = asset
	sess.QuotedRate = &quote.Rate
	sess.Deadline = &expiry
	if err := o.sessions.Put(ctx, sess); err != nil {
		return "", err
	}

	o.logger.Info("withdrawal quoted",
		zap.String("transaction_id", tx.ID),
		zap.Int64("user_id", user.ID),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("rate", quote.Rate.String()))

	return fmt.Sprintf(
		"💸 *Withdraw Request*\n\nAmount: %s %s\nRate: ₦%s per %s\nYou'll receive: ₦%s\n\nType `confirm` to proceed or `cancel` to abort.",
		amount.StringFixed(2), asset, quote.Rate.StringFixed(2), asset, fiat.StringFixed(2),
	), nil
}

// Confirm reserves the quoted amount. A stale quote is rejected, never
// honored; insufficient funds abort the transaction and return the session
// to active.
func (o *Orchestrator) Confirm(ctx context.Context, user *domain.User) (string, error) {
	unlock := o.locks.Lock(user.Phone)
	defer unlock()

	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	if sess.State != domain.SessionStateWithdrawQuoted || sess.TransactionID == "" {
		return "❓ Nothing to confirm. Type `withdraw [amount] [crypto]` to start.", nil
	}

	tx, err := o.txs.GetByID(ctx, sess.TransactionID)
	if err != nil {
		return "", err
	}

	// Replay of an already-confirmed step returns the same answer instead
	// of creating a second reservation.
	if tx.Status == domain.TransactionStatusAwaitingBank {
		return o.bankPromptLocked(ctx, user, sess)
	}

	if o.now().After(tx.QuoteExpiresAt) {
		if err := o.txs.UpdateStatus(ctx, tx.ID,
			[]domain.TransactionStatus{domain.TransactionStatusQuoted},
			domain.TransactionStatusExpired); err != nil && !errors.Is(err, domain.ErrStaleReservation) {
			return "", err
		}
		sess.ClearWithdrawal()
		if err := o.sessions.Put(ctx, sess); err != nil {
			return "", err
		}
		return "⏰ *Quote Expired*\n\nRates move quickly. Type `withdraw [amount] [crypto]` to get a fresh quote.", nil
	}

	res, err := o.ledger.Reserve(ctx, user.ID, tx.Asset, tx.Amount)
	if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrUnknownAsset) {
		if err := o.txs.MarkFailed(ctx, tx.ID, "insufficient funds"); err != nil {
			return "", err
		}
		sess.ClearWithdrawal()
		if err := o.sessions.Put(ctx, sess); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"❌ *Insufficient Balance*\n\nYou need %s %s but your available balance is lower.\nType `balance` to check, or `address` to fund your wallet.",
			tx.Amount.StringFixed(2), tx.Asset,
		), nil
	}
	if err != nil {
		return "", fmt.Errorf("reserve funds: %w", err)
	}

	if err := o.txs.SetReserved(ctx, tx.ID, res.ID); err != nil {
		// The transaction moved while we reserved; undo the hold.
		if relErr := o.ledger.Release(ctx, res.ID); relErr != nil {
			o.logger.Error("failed to release orphaned reservation",
				zap.String("reservation_id", res.ID), zap.Error(relErr))
		}
		return "", err
	}

	return o.bankPromptLocked(ctx, user, sess)
}

// bankPromptLocked moves the session to bank capture: offer the saved
// account when one exists, otherwise ask for free-text entry. Caller holds
// the user lock.
func (o *Orchestrator) bankPromptLocked(ctx context.Context, user *domain.User, sess *domain.Session) (string, error) {
	deadline := o.now().Add(o.cfg.ReservationTTL)
	sess.Deadline = &deadline

	saved, err := o.banks.GetLatest(ctx, user.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if saved != nil {
		sess.State = domain.SessionStateSavedBankOffered
		sess.PendingBank = saved
		if err := o.sessions.Put(ctx, sess); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"🏦 *Your Saved Bank Details:*\n\nBank: %s\nAccount Name: %s\nAccount Number: %s\n\nProceed with this account?\nType `yes` to confirm or `no` to use another.",
			saved.BankName, saved.HolderName, saved.AccountNumber,
		), nil
	}

	sess.State = domain.SessionStateBankPending
	sess.PendingBank = nil
	if err := o.sessions.Put(ctx, sess); err != nil {
		return "", err
	}
	return "🏦 *Bank Details Required*\n\nPlease provide your bank details in this format:\n\n`Bank Name, Account Number`\n\n*Example:* `Opay, 0123456789`", nil
}

// UseSavedBank handles yes/no on the saved-account offer.
func (o *Orchestrator) UseSavedBank(ctx context.Context, user *domain.User, accept bool) (string, error) {
	unlock := o.locks.Lock(user.Phone)

	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		unlock()
		return "", err
	}
	if sess.State != domain.SessionStateSavedBankOffered || sess.PendingBank == nil {
		unlock()
		return "❓ Nothing pending. Type `withdraw [amount] [crypto]` to start.", nil
	}

	if !accept {
		sess.State = domain.SessionStateBankPending
		sess.PendingBank = nil
		err := o.sessions.Put(ctx, sess)
		unlock()
		if err != nil {
			return "", err
		}
		return "🏦 *Bank Details Required*\n\nPlease provide your bank details in this format:\n\n`Bank Name, Account Number`\n\n*Example:* `Opay, 0123456789`", nil
	}

	bank := *sess.PendingBank
	txID := sess.TransactionID
	if err := o.txs.SetBankDetails(ctx, txID, bank); err != nil {
		unlock()
		return "", err
	}
	unlock()

	return o.submit(ctx, user, txID, bank)
}

// EnterBankDetails parses `Bank Name, Account Number`, resolves the holder
// name through the lookup collaborator (outside the lock) and asks the user
// to confirm it.
func (o *Orchestrator) EnterBankDetails(ctx context.Context, user *domain.User, text string) (string, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return "❌ Invalid format. Please provide bank details in this format:\n\n`Bank Name, Account Number`\n\n*Example:* `Opay, 0123456789`", nil
	}
	bankName := strings.TrimSpace(parts[0])
	accountNumber := strings.TrimSpace(parts[1])
	if bankName == "" || len(accountNumber) < 10 || !isDigits(accountNumber) {
		return "❌ Invalid account number. Must be at least 10 digits.", nil
	}

	unlock := o.locks.Lock(user.Phone)
	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		unlock()
		return "", err
	}
	if sess.State != domain.SessionStateBankPending {
		reply := "❓ Not expecting bank details right now. Type `help` for commands."
		unlock()
		return reply, nil
	}
	txID := sess.TransactionID
	unlock()

	// Lookup runs without the lock; a cancel issued meanwhile wins below.
	holderName, err := o.lookup.ResolveAccountName(ctx, bankName, accountNumber)
	if errors.Is(err, domain.ErrNotFound) {
		return "❌ *Verification Failed*\n\nAccount not found. Please check your bank details and try again.", nil
	}
	if errors.Is(err, domain.ErrCollaboratorUnavailable) {
		return "❌ Failed to verify bank details. Please try again.", nil
	}
	if err != nil {
		return "", fmt.Errorf("bank lookup: %w", err)
	}

	unlock = o.locks.Lock(user.Phone)
	defer unlock()

	sess, err = o.sessions.Get(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	if sess.State != domain.SessionStateBankPending || sess.TransactionID != txID {
		// Cancelled or expired while the lookup was in flight.
		return "❌ This withdrawal is no longer active. Type `withdraw [amount] [crypto]` to start again.", nil
	}

	bank := domain.BankDetails{
		BankName:      bankName,
		AccountNumber: accountNumber,
		HolderName:    holderName,
	}
	if err := o.txs.SetBankDetails(ctx, txID, bank); err != nil {
		return "", err
	}

	sess.State = domain.SessionStateBankVerified
	sess.PendingBank = &bank
	if err := o.sessions.Put(ctx, sess); err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"✅ *Account Verified!*\n\n🏦 Bank: %s\n👤 Account Name: %s\n🔢 Account Number: %s\n\nIs this correct?\nType `yes` to confirm or `no` to re-enter.",
		bank.BankName, bank.HolderName, bank.AccountNumber,
	), nil
}

// ConfirmBank handles yes/no on the freshly verified account. Yes saves the
// account for reuse and submits the payout.
func (o *Orchestrator) ConfirmBank(ctx context.Context, user *domain.User, accept bool) (string, error) {
	unlock := o.locks.Lock(user.Phone)

	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		unlock()
		return "", err
	}
	if sess.State != domain.SessionStateBankVerified || sess.PendingBank == nil {
		unlock()
		return "❓ Nothing pending. Type `withdraw [amount] [crypto]` to start.", nil
	}

	if !accept {
		sess.State = domain.SessionStateBankPending
		sess.PendingBank = nil
		err := o.sessions.Put(ctx, sess)
		unlock()
		if err != nil {
			return "", err
		}
		return "🔄 *Please re-enter Bank Details*\n\nPlease provide your bank details in this format:\n\n`Bank Name, Account Number`\n\n*Example:* `Opay, 0123456789`", nil
	}

	bank := *sess.PendingBank
	txID := sess.TransactionID
	unlock()

	if err := o.banks.Save(ctx, user.ID, bank); err != nil {
		o.logger.Error("failed to save bank account",
			zap.Int64("user_id", user.ID), zap.Error(err))
		// Not fatal: the withdrawal proceeds, reuse just won't be offered.
	}

	return o.submit(ctx, user, txID, bank)
}

// submit hands the withdrawal to the payout rail. The rail call runs
// outside the lock and is keyed by transaction id, so a retry after a
// transport failure cannot double-pay.
func (o *Orchestrator) submit(ctx context.Context, user *domain.User, txID string, bank domain.BankDetails) (string, error) {
	tx, err := o.txs.GetByID(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx.Status != domain.TransactionStatusBankVerified {
		return "❓ This withdrawal is no longer active. Type `withdraw [amount] [crypto]` to start again.", nil
	}

	err = o.rail.SubmitPayout(ctx, payout.SubmitRequest{
		IdempotencyKey: tx.ID,
		AmountFiat:     tx.FiatAmount,
		Currency:       tx.FiatCurrency,
		BankName:       bank.BankName,
		AccountNumber:  bank.AccountNumber,
		HolderName:     bank.HolderName,
	})
	if errors.Is(err, domain.ErrCollaboratorUnavailable) {
		return "❌ *Withdrawal Failed*\n\nThe payout service is unavailable. Your funds are safe — type `yes` to try again.", nil
	}
	if err != nil {
		return "", fmt.Errorf("submit payout: %w", err)
	}

	unlock := o.locks.Lock(user.Phone)
	defer unlock()

	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	if sess.TransactionID != txID {
		// Cancel raced the submission; the reconciler's status poll will
		// settle whatever the rail actually did with the idempotency key.
		o.logger.Warn("session moved during payout submission",
			zap.String("transaction_id", txID))
		return "⏳ Your earlier withdrawal was already closed. You'll be notified of its final outcome.", nil
	}

	if err := o.txs.MarkSubmitted(ctx, txID); err != nil && !errors.Is(err, domain.ErrStaleReservation) {
		return "", err
	}
	// The hold must outlive the settlement window plus the status-poll
	// budget; the sweep must not release it from under the rail.
	if tx.ReservationID != nil {
		if err := o.ledger.Extend(ctx, *tx.ReservationID, o.now().Add(o.cfg.PayoutSLA*2)); err != nil {
			o.logger.Error("failed to extend reservation",
				zap.String("reservation_id", *tx.ReservationID), zap.Error(err))
		}
	}

	sess.State = domain.SessionStateSubmitted
	sess.Deadline = nil
	if err := o.sessions.Put(ctx, sess); err != nil {
		return "", err
	}

	o.logger.Info("withdrawal submitted",
		zap.String("transaction_id", txID),
		zap.Int64("user_id", user.ID),
		zap.String("fiat_amount", tx.FiatAmount.String()))

	return fmt.Sprintf(
		"✅ *Withdrawal Request Submitted!*\n\n📊 *Details:*\n• Amount: %s %s\n• Bank: %s\n• Account: %s (%s)\n\n⏳ Processing time: 30-60 seconds\n📱 You'll receive a confirmation message when completed.",
		tx.Amount.StringFixed(2), tx.Asset, bank.BankName, bank.AccountNumber, bank.HolderName,
	), nil
}

// Cancel aborts the in-flight withdrawal at any pre-submission step,
// releasing any held reservation.
func (o *Orchestrator) Cancel(ctx context.Context, user *domain.User) (string, error) {
	unlock := o.locks.Lock(user.Phone)
	defer unlock()

	sess, err := o.sessions.Get(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	if !sess.State.InWithdrawal() || sess.State == domain.SessionStateSubmitted {
		return "❓ Nothing to cancel.", nil
	}

	if sess.TransactionID != "" {
		tx, err := o.txs.GetByID(ctx, sess.TransactionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		if tx != nil {
			if tx.ReservationID != nil {
				if err := o.ledger.Release(ctx, *tx.ReservationID); err != nil {
					return "", fmt.Errorf("release reservation on cancel: %w", err)
				}
			}
			if err := o.txs.UpdateStatus(ctx, tx.ID, []domain.TransactionStatus{
				domain.TransactionStatusQuoted,
				domain.TransactionStatusAwaitingBank,
				domain.TransactionStatusBankVerified,
			}, domain.TransactionStatusCancelled); err != nil && !errors.Is(err, domain.ErrStaleReservation) {
				return "", err
			}
		}
	}

	sess.ClearWithdrawal()
	if err := o.sessions.Put(ctx, sess); err != nil {
		return "", err
	}

	o.logger.Info("withdrawal cancelled", zap.Int64("user_id", user.ID))
	return "❌ *Withdrawal Cancelled*\n\nYour withdrawal request has been cancelled. Type `withdraw [amount] [crypto]` to start again.", nil
}

// ExpireStalled is the sweep entry point for a session whose wizard
// deadline passed. It re-checks the deadline under the user lock so a
// just-completed confirmation is never expired.
func (o *Orchestrator) ExpireStalled(ctx context.Context, phone string) (string, bool, error) {
	unlock := o.locks.Lock(phone)
	defer unlock()

	sess, err := o.sessions.Get(ctx, phone)
	if err != nil {
		return "", false, err
	}
	if sess.Deadline == nil || sess.Deadline.After(o.now()) {
		return "", false, nil
	}
	// Account provisioning that never finished falls back to idle so create
	// works again.
	if sess.State == domain.SessionStateAccountPending {
		sess.State = domain.SessionStateIdle
		sess.Deadline = nil
		if err := o.sessions.Put(ctx, sess); err != nil {
			return "", false, err
		}
		o.logger.Info("stalled provisioning reset", zap.String("phone", phone))
		return "⏰ Account setup took too long. Type `create` to try again.", true, nil
	}
	if !sess.State.InWithdrawal() || sess.State == domain.SessionStateSubmitted {
		return "", false, nil
	}

	if sess.TransactionID != "" {
		tx, err := o.txs.GetByID(ctx, sess.TransactionID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", false, err
		}
		if tx != nil {
			if tx.ReservationID != nil {
				if err := o.ledger.Release(ctx, *tx.ReservationID); err != nil {
					return "", false, fmt.Errorf("release reservation on expiry: %w", err)
				}
			}
			if err := o.txs.UpdateStatus(ctx, tx.ID, []domain.TransactionStatus{
				domain.TransactionStatusQuoted,
				domain.TransactionStatusAwaitingBank,
				domain.TransactionStatusBankVerified,
			}, domain.TransactionStatusExpired); err != nil && !errors.Is(err, domain.ErrStaleReservation) {
				return "", false, err
			}
		}
	}

	sess.ClearWithdrawal()
	if err := o.sessions.Put(ctx, sess); err != nil {
		return "", false, err
	}

	o.logger.Info("stalled withdrawal expired", zap.String("phone", phone))
	return "⏰ *Withdrawal Expired*\n\nYour withdrawal timed out and any held funds were returned. Type `withdraw [amount] [crypto]` to start again.", true, nil
}

// ExpireOrphaned closes a pre-submission withdrawal whose reservation the
// sweep already force-released. The transaction must not keep claiming funds
// the ledger no longer holds.
func (o *Orchestrator) ExpireOrphaned(ctx context.Context, phone, txID string) (string, bool, error) {
	unlock := o.locks.Lock(phone)
	defer unlock()

	tx, err := o.txs.GetByID(ctx, txID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	switch tx.Status {
	case domain.TransactionStatusQuoted,
		domain.TransactionStatusAwaitingBank,
		domain.TransactionStatusBankVerified:
	default:
		return "", false, nil
	}

	if err := o.txs.UpdateStatus(ctx, txID, []domain.TransactionStatus{tx.Status},
		domain.TransactionStatusExpired); err != nil {
		if errors.Is(err, domain.ErrStaleReservation) {
			return "", false, nil
		}
		return "", false, err
	}

	sess, err := o.sessions.Get(ctx, phone)
	if err != nil {
		return "", false, err
	}
	if sess.TransactionID == txID {
		sess.ClearWithdrawal()
		if err := o.sessions.Put(ctx, sess); err != nil {
			return "", false, err
		}
	}

	o.logger.Info("orphaned withdrawal expired",
		zap.String("transaction_id", txID),
		zap.String("phone", phone))
	return "⏰ *Withdrawal Expired*\n\nYour withdrawal timed out and any held funds were returned. Type `withdraw [amount] [crypto]` to start again.", true, nil
}

// Status reports the open withdrawal, falling back to the most recent
// settled one so a user who missed the settlement message can still see
// the outcome.
func (o *Orchestrator) Status(ctx context.Context, user *domain.User) (string, error) {
	tx, err := o.txs.GetOpenByUser(ctx, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		recent, lerr := o.txs.ListByUser(ctx, user.ID, 1)
		if lerr != nil {
			return "", lerr
		}
		if len(recent) == 0 {
			return "✅ No withdrawal in progress. Type `withdraw [amount] [crypto]` to start one.", nil
		}
		last := recent[0]
		return fmt.Sprintf(
			"✅ No withdrawal in progress.\n\n*Last withdrawal:*\n• Amount: %s %s\n• Payout: ₦%s\n• Outcome: %s\n• Reference: %s\n\nType `withdraw [amount] [crypto]` to start a new one.",
			last.Amount.StringFixed(2), last.Asset, last.FiatAmount.StringFixed(2), last.Status, last.ID,
		), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"📊 *Withdrawal Status*\n\n• Amount: %s %s\n• Payout: ₦%s\n• Status: %s\n• Reference: %s",
		tx.Amount.StringFixed(2), tx.Asset, tx.FiatAmount.StringFixed(2), tx.Status, tx.ID,
	), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
