package booking

import "errors"

var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrClubScopeMismatch      = errors.New("club scope mismatch")
	ErrTableNotAvailable      = errors.New("table not available")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrHoldExpired            = errors.New("hold expired")
	ErrInvalidState           = errors.New("invalid booking state")
	ErrPlusOneAlreadyUsed     = errors.New("plus one already used")
	ErrLatePlusOneExpired     = errors.New("late plus one window expired")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")
	ErrPromoterQuotaExhausted = errors.New("promoter quota exhausted")
)
