package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is the per-user conversational state. It gates which intents
// are valid; money movement lives on the Transaction, not here.
type SessionState string

const (
	SessionStateIdle             SessionState = "idle"
	SessionStateAccountPending   SessionState = "account_pending"
	SessionStateActive           SessionState = "active"
	SessionStateWithdrawQuoted   SessionState = "withdraw_quoted"
	SessionStateBankPending      SessionState = "bank_pending"
	SessionStateBankVerified     SessionState = "bank_verified"
	SessionStateSavedBankOffered SessionState = "saved_bank_offered"
	SessionStateSubmitted        SessionState = "withdraw_submitted"
)

// InWithdrawal reports whether the session is inside the withdrawal wizard.
func (s SessionState) InWithdrawal() bool {
	switch s {
	case SessionStateWithdrawQuoted, SessionStateBankPending,
		SessionStateBankVerified, SessionStateSavedBankOffered,
		SessionStateSubmitted:
		return true
	}
	return false
}

// BankDetails is a verified (bank, account, holder) triple.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
}

// Session is the transient wizard payload, persisted as a recoverable cache.
// Only the session machine and the withdrawal orchestrator mutate it, and
// always under the owning user's lock.
type Session struct {
	UserID        int64            `json:"user_id"`
	Phone         string           `json:"phone"`
	State         SessionState     `json:"state"`
	TransactionID string           `json:"transaction_id,omitempty"`
	PendingAmount *decimal.Decimal `json:"pending_amount,omitempty"`
	PendingAsset  string           `json:"pending_asset,omitempty"`
	QuotedRate    *decimal.Decimal `json:"quoted_rate,omitempty"`
	PendingBank   *BankDetails     `json:"pending_bank,omitempty"`
	Deadline      *time.Time       `json:"deadline,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ClearWithdrawal resets the wizard payload and returns the session to
// Active. Terminal for the in-flight transaction, not for the account.
func (s *Session) ClearWithdrawal() {
	s.State = SessionStateActive
	s.TransactionID = ""
	s.PendingAmount = nil
	s.PendingAsset = ""
	s.QuotedRate = nil
	s.PendingBank = nil
	s.Deadline = nil
}
