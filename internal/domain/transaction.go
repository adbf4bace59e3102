package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the withdrawal state machine. Transitions are
// strictly forward; cancelled/expired/failed/completed are terminal.
type TransactionStatus string

const (
	TransactionStatusQuoted       TransactionStatus = "quoted"
	TransactionStatusAwaitingBank TransactionStatus = "awaiting_bank"
	TransactionStatusBankVerified TransactionStatus = "bank_verified"
	TransactionStatusSubmitted    TransactionStatus = "submitted"
	TransactionStatusTimedOut     TransactionStatus = "timed_out"
	TransactionStatusCompleted    TransactionStatus = "completed"
	TransactionStatusFailed       TransactionStatus = "failed"
	TransactionStatusCancelled    TransactionStatus = "cancelled"
	TransactionStatusExpired      TransactionStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusExpired:
		return true
	}
	return false
}

// rank orders the forward path. Terminal states share the top rank so a
// terminal transition is allowed from any live state.
func (s TransactionStatus) rank() int {
	switch s {
	case TransactionStatusQuoted:
		return 0
	case TransactionStatusAwaitingBank:
		return 1
	case TransactionStatusBankVerified:
		return 2
	case TransactionStatusSubmitted:
		return 3
	case TransactionStatusTimedOut:
		return 4
	default:
		return 5
	}
}

// CanTransitionTo enforces monotonic forward movement: no state is revisited
// once left.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Transaction is one withdrawal attempt. Exactly one per user may be in a
// non-terminal status at any time; the session gates that.
type Transaction struct {
	ID             string            `json:"id"` // ULID
	UserID         int64             `json:"user_id"`
	Asset          string            `json:"asset"`
	Amount         decimal.Decimal   `json:"amount"`
	Rate           decimal.Decimal   `json:"rate"`
	FiatAmount     decimal.Decimal   `json:"fiat_amount"`
	FiatCurrency   string            `json:"fiat_currency"`
	BankName       string            `json:"bank_name,omitempty"`
	AccountNumber  string            `json:"account_number,omitempty"`
	HolderName     string            `json:"holder_name,omitempty"`
	Status         TransactionStatus `json:"status"`
	ReservationID  *string           `json:"reservation_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	FailureReason  *string           `json:"failure_reason,omitempty"`
	QuoteExpiresAt time.Time         `json:"quote_expires_at"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
