package domain

import "time"

// User is keyed by the stable chat handle (phone-derived id from the
// transport). Users are never deleted, only deactivated.
type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Username  string    `json:"username"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
