package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositEvent is an on-chain transfer observed by the deposit-watcher
// collaborator. TxHash is the deduplication key: the watcher delivers
// at least once, the ledger applies exactly once.
type DepositEvent struct {
	TxHash        string          `json:"tx_hash"`
	Address       string          `json:"address"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Deposit is the persisted record of an applied deposit event.
type Deposit struct {
	ID         int64           `json:"id"`
	TxHash     string          `json:"tx_hash"`
	UserID     int64           `json:"user_id"`
	Address    string          `json:"address"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	Notified   bool            `json:"notified"`
	CreditedAt time.Time       `json:"credited_at"`
}
