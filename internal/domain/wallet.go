package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a user's custodial deposit address. The address is issued by the
// custody collaborator; the key never touches this service.
type Wallet struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance is one asset row of the ledger. Available is what reserve can
// still take; Total includes funds locked by held reservations.
type Balance struct {
	UserID    int64           `json:"user_id"`
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Locked returns the portion of the balance held by open reservations.
func (b *Balance) Locked() decimal.Decimal {
	return b.Total.Sub(b.Available)
}
