package service

import (
	"log/slog"

	"github.com/koteev-m/clubs-bot-sub002/internal/idempotency"
	"github.com/koteev-m/clubs-bot-sub002/internal/ledger"
	"github.com/koteev-m/clubs-bot-sub002/internal/service/booking"
)

type Services struct {
	Booking *booking.Service
}

type Config struct {
	Booking booking.Config
}

func NewServices(
	events booking.EventCatalog,
	tables *ledger.Tables,
	quotas *ledger.PromoterQuotas,
	idem *idempotency.Ledger,
	notifier booking.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Booking: booking.New(events, tables, quotas, idem, notifier, logger, cfg.Booking),
	}
}
