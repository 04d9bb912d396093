package httpgin

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/koteev-m/clubs-bot-sub002/internal/idempotency"
	"github.com/koteev-m/clubs-bot-sub002/internal/ratelimit"
	"github.com/koteev-m/clubs-bot-sub002/internal/service"
	"github.com/koteev-m/clubs-bot-sub002/internal/service/booking"
)

// Limits holds the per-route bucket parameters the handlers pass to the
// limiter registry.
type Limits struct {
	Hold    ratelimit.Limit
	Confirm ratelimit.Limit
	PlusOne ratelimit.Limit
}

func NewRouter(
	svcs *service.Services,
	limiter *ratelimit.Registry,
	limits Limits,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health + metrics
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/clubs/:clubId/bookings/hold", handleHold(svcs, limiter, limits.Hold))
		api.POST("/clubs/:clubId/bookings/confirm", handleConfirm(svcs, limiter, limits.Confirm))
		api.POST("/bookings/:id/plus-one", handlePlusOne(svcs, limiter, limits.PlusOne))

		api.GET("/bookings/:id", handleGetBooking(svcs))
		api.GET("/me/bookings", handleMyBookings(svcs))
		api.GET("/clubs/:clubId/tables/:tableId/events/:eventId/status", handleTableStatus(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Place a table hold (idempotent)
// @Param    clubId  path  int  true  "Club ID"
// @Param    Idempotency-Key  header  string  true  "client-chosen key"
// @Param    req  body  HoldRequest  true  "payload"
// @Header   200 {string} Idempotency-Key "echo"
// @Success  200 {object} domain.BookingView
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "table held / idempotency conflict"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /api/clubs/{clubId}/bookings/hold [post]
func handleHold(svcs *service.Services, limiter *ratelimit.Registry, limit ratelimit.Limit) gin.HandlerFunc {
	const route = "hold"

	return func(c *gin.Context) {
		userID, ok := identity(c)
		if !ok {
			return
		}

		rlKey := route + ":" + strconv.FormatInt(userID, 10)
		writeLimitHeaders(c, limiter.Peek(rlKey, limit))

		clubID, ok := parseInt64Param(c, "clubId")
		if !ok {
			metricFailed.WithLabelValues(route, "validation_error").Inc()
			return
		}

		idemKey, ok := idempotencyKey(c, route)
		if !ok {
			return
		}

		var req HoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, route, err.Error())
			return
		}

		if !consumeToken(c, limiter, rlKey, limit, route) {
			return
		}

		hash, err := idempotency.HashCanonical(req)
		if err != nil {
			respondErr(c, route, err)
			return
		}

		res, err := svcs.Booking.Hold(
			c.Request.Context(),
			userID, clubID, req.TableID, req.EventID,
			req.GuestCount,
			idemKey, hash,
			promoterID(c),
		)
		if err != nil {
			respondErr(c, route, err)
			return
		}

		if !res.Cached {
			metricHoldCreated.Inc()
		}

		writeBooking(c, route, idemKey, res.Body, res.Cached)
	}
}

// @Summary  Confirm a held booking (idempotent)
// @Param    clubId  path  int  true  "Club ID"
// @Param    Idempotency-Key  header  string  true  "client-chosen key"
// @Param    req  body  ConfirmRequest  true  "payload"
// @Success  200 {object} domain.BookingView
// @Failure  409 {object} ErrorResponse "invalid state / idempotency conflict"
// @Failure  410 {object} ErrorResponse "hold expired"
// @Router   /api/clubs/{clubId}/bookings/confirm [post]
func handleConfirm(svcs *service.Services, limiter *ratelimit.Registry, limit ratelimit.Limit) gin.HandlerFunc {
	const route = "confirm"

	return func(c *gin.Context) {
		userID, ok := identity(c)
		if !ok {
			return
		}

		rlKey := route + ":" + strconv.FormatInt(userID, 10)
		writeLimitHeaders(c, limiter.Peek(rlKey, limit))

		clubID, ok := parseInt64Param(c, "clubId")
		if !ok {
			metricFailed.WithLabelValues(route, "validation_error").Inc()
			return
		}

		idemKey, ok := idempotencyKey(c, route)
		if !ok {
			return
		}

		var req ConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, route, err.Error())
			return
		}

		if !consumeToken(c, limiter, rlKey, limit, route) {
			return
		}

		hash, err := idempotency.HashCanonical(req)
		if err != nil {
			respondErr(c, route, err)
			return
		}

		res, err := svcs.Booking.Confirm(c.Request.Context(), userID, clubID, req.BookingID, idemKey, hash)
		if err != nil {
			respondErr(c, route, err)
			return
		}

		if !res.Cached {
			metricConfirmSuccess.Inc()
		}

		writeBooking(c, route, idemKey, res.Body, res.Cached)
	}
}

// @Summary  Add the single allowed extra guest (idempotent)
// @Param    id  path  int  true  "Booking ID"
// @Param    Idempotency-Key  header  string  true  "client-chosen key"
// @Success  200 {object} domain.BookingView
// @Failure  409 {object} ErrorResponse "already used / capacity"
// @Failure  410 {object} ErrorResponse "late plus-one window closed"
// @Router   /api/bookings/{id}/plus-one [post]
func handlePlusOne(svcs *service.Services, limiter *ratelimit.Registry, limit ratelimit.Limit) gin.HandlerFunc {
	const route = "plus_one"

	return func(c *gin.Context) {
		userID, ok := identity(c)
		if !ok {
			return
		}

		rlKey := route + ":" + strconv.FormatInt(userID, 10)
		writeLimitHeaders(c, limiter.Peek(rlKey, limit))

		bookingID, ok := parseInt64Param(c, "id")
		if !ok {
			metricFailed.WithLabelValues(route, "validation_error").Inc()
			return
		}

		idemKey, ok := idempotencyKey(c, route)
		if !ok {
			return
		}

		if !consumeToken(c, limiter, rlKey, limit, route) {
			return
		}

		// No request body: the hash covers a synthetic payload so the same key
		// cannot be replayed against a different booking.
		hash, err := idempotency.HashCanonical(plusOnePayload{BookingID: bookingID, Op: "plus-one"})
		if err != nil {
			respondErr(c, route, err)
			return
		}

		res, err := svcs.Booking.PlusOne(c.Request.Context(), userID, bookingID, idemKey, hash)
		if err != nil {
			respondErr(c, route, err)
			return
		}

		if !res.Cached {
			metricPlusOneSuccess.Inc()
		}

		writeBooking(c, route, idemKey, res.Body, res.Cached)
	}
}

// @Summary  Get booking
// @Param    id  path  int  true  "Booking ID"
// @Success  200 {object} domain.BookingView
// @Failure  404 {object} ErrorResponse
// @Router   /api/bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := identity(c)
		if !ok {
			return
		}

		bookingID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		b, found := svcs.Booking.Booking(bookingID)
		if !found {
			writeError(c, http.StatusNotFound, "not_found", "booking not found")
			return
		}

		if b.UserID != userID {
			writeError(c, http.StatusForbidden, "forbidden", "booking belongs to another user")
			return
		}

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, b.View())
	}
}

// @Summary  List own bookings
// @Success  200 {array} domain.BookingView
// @Router   /api/me/bookings [get]
func handleMyBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := identity(c)
		if !ok {
			return
		}

		views := make([]any, 0)
		for _, b := range svcs.Booking.UserBookings(userID) {
			views = append(views, b.View())
		}

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, views)
	}
}

// @Summary  Table occupancy for an event
// @Param    clubId   path  int  true  "Club ID"
// @Param    tableId  path  int  true  "Table ID"
// @Param    eventId  path  int  true  "Event ID"
// @Success  200 {object} TableStatusResponse
// @Router   /api/clubs/{clubId}/tables/{tableId}/events/{eventId}/status [get]
func handleTableStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		clubID, ok := parseInt64Param(c, "clubId")
		if !ok {
			return
		}

		tableID, ok := parseInt64Param(c, "tableId")
		if !ok {
			return
		}

		eventID, ok := parseInt64Param(c, "eventId")
		if !ok {
			return
		}

		st := svcs.Booking.TableStatus(clubID, tableID, eventID)

		resp := TableStatusResponse{
			ClubID:  clubID,
			TableID: tableID,
			EventID: eventID,
			Status:  string(st.Status),
		}
		if !st.ExpiresAt.IsZero() {
			resp.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339Nano)
		}

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, resp)
	}
}

// --- Helpers ---

func identity(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader("X-User-Id"))

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid X-User-Id")
		return 0, false
	}

	return userID, true
}

func promoterID(c *gin.Context) int64 {
	raw := strings.TrimSpace(c.GetHeader("X-Promoter-Id"))
	if raw == "" {
		return 0
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}

	return id
}

func idempotencyKey(c *gin.Context, route string) (string, bool) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		metricFailed.WithLabelValues(route, "missing_idempotency_key").Inc()
		writeError(c, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required")

		return "", false
	}

	if !idemKeyRe.MatchString(key) {
		metricFailed.WithLabelValues(route, "validation_error").Inc()
		writeError(c, http.StatusBadRequest, "validation_error", "Idempotency-Key must match ^[A-Za-z0-9._~:-]{1,128}$")

		return "", false
	}

	return key, true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid "+name)
		return 0, false
	}

	return v, true
}

func consumeToken(c *gin.Context, limiter *ratelimit.Registry, key string, limit ratelimit.Limit, route string) bool {
	d := limiter.Acquire(key, limit)
	writeLimitHeaders(c, d)

	if d.Allowed {
		return true
	}

	metricRateLimited.WithLabelValues(route).Inc()
	c.Header("Retry-After", strconv.Itoa(retryAfterSecs(d)))
	writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests, retry later")

	return false
}

func retryAfterSecs(d ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfterSeconds))
	if secs < 1 {
		secs = 1
	}

	return secs
}

func writeLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(int(d.Limit)))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(d.Remaining))))
}

func writeBooking(c *gin.Context, route, idemKey string, body []byte, cached bool) {
	c.Header("Idempotency-Key", idemKey)
	c.Header("Cache-Control", "no-store")

	if cached {
		metricReplayed.WithLabelValues(route).Inc()
		c.Header("Idempotency-Replay", "true")
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func badRequest(c *gin.Context, route, msg string) {
	metricFailed.WithLabelValues(route, "validation_error").Inc()
	writeError(c, http.StatusBadRequest, "validation_error", msg)
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.Header("Cache-Control", "no-store")
	c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

func respondErr(c *gin.Context, route string, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	status, code, msg := mapErr(err)

	metricFailed.WithLabelValues(route, code).Inc()
	writeError(c, status, code, msg)
}

func mapErr(err error) (int, string, string) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, "validation_error", "invalid request"
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, "forbidden", "booking belongs to another user"
	case errors.Is(err, booking.ErrClubScopeMismatch):
		return http.StatusForbidden, "club_scope_mismatch", "booking belongs to another club"
	case errors.Is(err, booking.ErrTableNotAvailable):
		return http.StatusConflict, "table_not_available", "table is held or booked for this event"
	case errors.Is(err, booking.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "guest count exceeds table capacity"
	case errors.Is(err, booking.ErrHoldExpired):
		return http.StatusGone, "hold_expired", "hold expired before confirmation"
	case errors.Is(err, booking.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "operation not allowed in the current booking state"
	case errors.Is(err, booking.ErrPlusOneAlreadyUsed):
		return http.StatusConflict, "plus_one_already_used", "the plus-one was already added"
	case errors.Is(err, booking.ErrLatePlusOneExpired):
		return http.StatusGone, "late_plus_one_expired", "the late plus-one window has closed"
	case errors.Is(err, booking.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", "Idempotency-Key was already used with a different payload"
	case errors.Is(err, booking.ErrPromoterQuotaExhausted):
		return http.StatusConflict, "promoter_quota_exhausted", "promoter table quota is exhausted or expired"
	}

	return http.StatusInternalServerError, "internal", "internal error"
}
