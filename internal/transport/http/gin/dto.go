package httpgin

import "regexp"

type HoldRequest struct {
	TableID    int64 `json:"table_id" binding:"required,gt=0"`
	EventID    int64 `json:"event_id" binding:"required,gt=0"`
	GuestCount int   `json:"guest_count" binding:"required,gt=0"`
}

type ConfirmRequest struct {
	BookingID int64 `json:"booking_id" binding:"required,gt=0"`
}

// plusOnePayload is the canonical body hashed for plus-one idempotency. The
// request itself carries no body; the payload pins the key to one booking.
type plusOnePayload struct {
	BookingID int64  `json:"bookingId"`
	Op        string `json:"op"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TableStatusResponse struct {
	ClubID    int64  `json:"club_id"`
	TableID   int64  `json:"table_id"`
	EventID   int64  `json:"event_id"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

var idemKeyRe = regexp.MustCompile(`^[A-Za-z0-9._~:-]{1,128}$`)
