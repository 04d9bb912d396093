package ledger

import "errors"

var (
	ErrTableNotFound     = errors.New("table not found")
	ErrTableNotAvailable = errors.New("table not available")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrSlotConflict      = errors.New("slot not held by booking")
	ErrQuotaExhausted    = errors.New("promoter quota exhausted")
)
