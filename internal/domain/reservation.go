package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus tracks the lifecycle of a balance hold.
type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "held"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

// Reservation is a temporary hold on available balance. It debits
// availability immediately and finalizes only on commit; release restores
// availability. Commit/release on an already-resolved reservation is a
// no-op so collaborator retries stay safe.
type Reservation struct {
	ID        string            `json:"id"` // UUID
	UserID    int64             `json:"user_id"`
	Asset     string            `json:"asset"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    ReservationStatus `json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
