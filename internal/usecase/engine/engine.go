// Package engine is the command router: it turns inbound chat messages into
// intents, gates them against the session state, and dispatches to the
// withdrawal orchestrator or the account/info handlers.
//
// The engine also owns transport-level idempotency: every message id is
// remembered in Redis, and a redelivery replays the original reply without
// re-running the command.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"offramp-engine/internal/domain"
	"offramp-engine/internal/locker"
	"offramp-engine/internal/session"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// provisioningTTL bounds how long a session may sit in account_pending. A
// crash between entering the state and the custody result would otherwise
// wedge the account forever.
const provisioningTTL = 5 * time.Minute

type Users interface {
	Create(ctx context.Context, user *domain.User) error
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	AttachWallet(ctx context.Context, userID int64, address string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error)
}

type Custody interface {
	CreateWallet(ctx context.Context, phone, username string) (string, error)
}

type Balances interface {
	ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error)
}

type SessionStore interface {
	Get(ctx context.Context, phone string) (*domain.Session, error)
	Put(ctx context.Context, sess *domain.Session) error
}

// ReplyCache remembers the reply sent for each transport message id so a
// redelivery replays it instead of re-running the command.
type ReplyCache interface {
	Get(ctx context.Context, messageID string) (string, bool)
	Set(ctx context.Context, messageID, reply string)
}

// Withdrawals is the orchestrator surface the router dispatches to. Each
// method manages its own locking and revalidation.
type Withdrawals interface {
	Quote(ctx context.Context, user *domain.User, amount decimal.Decimal, asset, messageID string) (string, error)
	Confirm(ctx context.Context, user *domain.User) (string, error)
	UseSavedBank(ctx context.Context, user *domain.User, accept bool) (string, error)
	EnterBankDetails(ctx context.Context, user *domain.User, text string) (string, error)
	ConfirmBank(ctx context.Context, user *domain.User, accept bool) (string, error)
	Cancel(ctx context.Context, user *domain.User) (string, error)
	Status(ctx context.Context, user *domain.User) (string, error)
}

type Engine struct {
	locks       *locker.Locker
	sessions    SessionStore
	users       Users
	custody     Custody
	balances    Balances
	withdrawals Withdrawals
	replies     ReplyCache
	logger      *zap.Logger
}

func New(
	locks *locker.Locker,
	sessions SessionStore,
	users Users,
	custody Custody,
	balances Balances,
	withdrawals Withdrawals,
	replies ReplyCache,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		locks:       locks,
		sessions:    sessions,
		users:       users,
		custody:     custody,
		balances:    balances,
		withdrawals: withdrawals,
		replies:     replies,
		logger:      logger,
	}
}

// Handle processes one inbound message and returns the reply to send.
func (e *Engine) Handle(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if msg.MessageID != "" {
		if cached, ok := e.replies.Get(ctx, msg.MessageID); ok {
			e.logger.Info("replaying reply for redelivered message",
				zap.String("message_id", msg.MessageID))
			return cached, nil
		}
	}

	reply, err := e.dispatch(ctx, msg)
	if err != nil {
		return "", err
	}

	if msg.MessageID != "" && reply != "" {
		e.replies.Set(ctx, msg.MessageID, reply)
	}
	return reply, nil
}

func (e *Engine) dispatch(ctx context.Context, msg domain.InboundMessage) (string, error) {
	intent, args := ParseIntent(msg.Text)

	sess, err := e.sessions.Get(ctx, msg.Phone)
	if err != nil {
		return "", err
	}

	// Provisioning that crashed mid-flight must not wedge the account: once
	// the deadline lapses the session falls back to idle and create works
	// again.
	if sess.State == domain.SessionStateAccountPending &&
		sess.Deadline != nil && time.Now().UTC().After(*sess.Deadline) {
		sess.State = domain.SessionStateIdle
		sess.Deadline = nil
		if err := e.sessions.Put(ctx, sess); err != nil {
			return "", err
		}
	}

	if !session.Accepts(sess.State, intent) {
		return session.Reminder(sess.State), nil
	}

	// Idle and account_pending run before a user row may exist.
	switch sess.State {
	case domain.SessionStateIdle:
		switch intent {
		case domain.IntentGreet:
			return greetingNew, nil
		case domain.IntentHelp:
			return helpText, nil
		case domain.IntentCreate:
			return e.createAccount(ctx, msg.Phone, args)
		}
	case domain.SessionStateAccountPending:
		switch intent {
		case domain.IntentCreate, domain.IntentStatus:
			return session.Reminder(sess.State), nil
		case domain.IntentGreet, domain.IntentHelp:
			return session.Reminder(sess.State), nil
		}
	}

	user, err := e.users.GetByPhone(ctx, msg.Phone)
	if errors.Is(err, domain.ErrNotFound) {
		// Session claims an account the database doesn't know. Reset.
		e.logger.Warn("session without user row, resetting",
			zap.String("phone", msg.Phone))
		fresh := &domain.Session{Phone: msg.Phone, State: domain.SessionStateIdle}
		if err := e.sessions.Put(ctx, fresh); err != nil {
			return "", err
		}
		return greetingNew, nil
	}
	if err != nil {
		return "", err
	}

	switch intent {
	case domain.IntentGreet:
		return fmt.Sprintf(greetingBack, user.Username), nil
	case domain.IntentHelp:
		return helpText, nil
	case domain.IntentAddress:
		return e.walletAddress(ctx, user)
	case domain.IntentBalance:
		return e.balanceSummary(ctx, user)
	case domain.IntentStatus:
		return e.withdrawals.Status(ctx, user)
	case domain.IntentWithdraw:
		amount, asset, perr := parseWithdrawArgs(args)
		if perr != "" {
			return perr, nil
		}
		return e.withdrawals.Quote(ctx, user, amount, asset, msg.MessageID)
	case domain.IntentConfirm:
		return e.withdrawals.Confirm(ctx, user)
	case domain.IntentCancel:
		return e.withdrawals.Cancel(ctx, user)
	case domain.IntentYes, domain.IntentNo:
		accept := intent == domain.IntentYes
		if sess.State == domain.SessionStateSavedBankOffered {
			return e.withdrawals.UseSavedBank(ctx, user, accept)
		}
		return e.withdrawals.ConfirmBank(ctx, user, accept)
	case domain.IntentFreeText:
		if sess.State == domain.SessionStateBankPending {
			return e.withdrawals.EnterBankDetails(ctx, user, msg.Text)
		}
		return session.Reminder(sess.State), nil
	}

	return session.Reminder(sess.State), nil
}

// createAccount provisions a custodial wallet. The session sits in
// account_pending while the custody call is in flight so duplicate create
// intents get a progress reply instead of a second wallet.
func (e *Engine) createAccount(ctx context.Context, phone string, args []string) (string, error) {
	username := "user"
	if len(args) > 0 {
		username = strings.Join(args, " ")
	}

	unlock := e.locks.Lock(phone)
	sess, err := e.sessions.Get(ctx, phone)
	if err != nil {
		unlock()
		return "", err
	}
	if sess.State != domain.SessionStateIdle {
		reply := session.Reminder(sess.State)
		unlock()
		return reply, nil
	}
	deadline := time.Now().UTC().Add(provisioningTTL)
	sess.State = domain.SessionStateAccountPending
	sess.Deadline = &deadline
	if err := e.sessions.Put(ctx, sess); err != nil {
		unlock()
		return "", err
	}
	unlock()

	address, err := e.custody.CreateWallet(ctx, phone, username)
	if err != nil {
		e.logger.Error("wallet provisioning failed",
			zap.String("phone", phone), zap.Error(err))
		unlock = e.locks.Lock(phone)
		defer unlock()
		sess, serr := e.sessions.Get(ctx, phone)
		if serr != nil {
			return "", serr
		}
		sess.State = domain.SessionStateIdle
		sess.Deadline = nil
		if serr := e.sessions.Put(ctx, sess); serr != nil {
			return "", serr
		}
		return "❌ Account creation failed. Please type `create` to try again.", nil
	}

	user := &domain.User{Phone: phone, Username: username}
	if err := e.users.Create(ctx, user); err != nil {
		return "", err
	}
	if _, err := e.users.AttachWallet(ctx, user.ID, address); err != nil {
		return "", err
	}

	unlock = e.locks.Lock(phone)
	defer unlock()
	sess, err = e.sessions.Get(ctx, phone)
	if err != nil {
		return "", err
	}
	sess.UserID = user.ID
	sess.State = domain.SessionStateActive
	sess.Deadline = nil
	if err := e.sessions.Put(ctx, sess); err != nil {
		return "", err
	}

	e.logger.Info("account created",
		zap.Int64("user_id", user.ID),
		zap.String("phone", phone))

	return fmt.Sprintf(
		"🎉 *Account Created Successfully!*\n\n📬 Your deposit address:\n`%s`\n\nSend USDT or USDC to this address to fund your wallet.\nType `help` to see what you can do.",
		address,
	), nil
}

func (e *Engine) walletAddress(ctx context.Context, user *domain.User) (string, error) {
	wallet, err := e.users.GetWallet(ctx, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return "❌ No wallet found for your account. Type `create` to set one up.", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"📬 *Your Deposit Address:*\n\n`%s`\n\nSend USDT or USDC to this address. You'll get a message once the deposit confirms.",
		wallet.Address,
	), nil
}

func (e *Engine) balanceSummary(ctx context.Context, user *domain.User) (string, error) {
	balances, err := e.balances.ListBalances(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(balances) == 0 {
		return "💰 *Your Balance*\n\nNo funds yet. Type `address` to get your deposit address.", nil
	}

	var b strings.Builder
	b.WriteString("💰 *Your Balance*\n")
	for _, bal := range balances {
		fmt.Fprintf(&b, "\n• %s: %s", bal.Asset, bal.Available.StringFixed(2))
		if locked := bal.Locked(); locked.IsPositive() {
			fmt.Fprintf(&b, " (%s locked)", locked.StringFixed(2))
		}
	}
	b.WriteString("\n\nType `withdraw [amount] [crypto]` to cash out.")
	return b.String(), nil
}

const greetingNew = "👋 *Welcome to Offramp!*\n\n" +
	"Cash out your crypto straight to your bank account.\n\n" +
	"Type `create` to open an account, or `help` to see all commands."

const greetingBack = "👋 Welcome back, %s!\n\n" +
	"Type `balance` to check your funds or `withdraw [amount] [crypto]` to cash out."

const helpText = "📖 *Available Commands:*\n\n" +
	"• `create` — open an account\n" +
	"• `address` — show your deposit address\n" +
	"• `balance` — check your balance\n" +
	"• `withdraw [amount] [crypto]` — cash out to your bank\n" +
	"• `status` — check your current withdrawal\n" +
	"• `cancel` — abort the current withdrawal\n\n" +
	"*Example:* `withdraw 10 USDT`"
