package domain

import "errors"

// Sentinel errors for the money-movement workflow. Handlers and the engine
// map these to user-facing replies; everything else is internal.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrUnknownAsset            = errors.New("unknown asset")
	ErrStaleReservation        = errors.New("reservation already resolved")
	ErrQuoteExpired            = errors.New("quote expired")
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrDuplicateEvent          = errors.New("duplicate event")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)
