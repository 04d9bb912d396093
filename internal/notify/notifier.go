package notify

import (
	"context"
	"log/slog"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
	redisx "github.com/koteev-m/clubs-bot-sub002/internal/redis"
	postgresrepo "github.com/koteev-m/clubs-bot-sub002/internal/repository/postgres"
)

// Notifier runs the after-commit side of a booking mutation: archive the
// snapshot, publish the change. Both are best-effort; the in-memory ledgers
// are the source of truth and a failed write must not fail the request.
type Notifier struct {
	archive *postgresrepo.BookingRepo
	pubsub  *redisx.BookingsPubSub
	logger  *slog.Logger
}

func New(archive *postgresrepo.BookingRepo, pubsub *redisx.BookingsPubSub, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		archive: archive,
		pubsub:  pubsub,
		logger:  logger,
	}
}

func (n *Notifier) BookingChanged(ctx context.Context, b domain.Booking) {
	if n.archive != nil {
		if err := n.archive.Upsert(ctx, b); err != nil {
			n.logger.Warn("booking archive write failed", "booking_id", b.ID, "error", err)
		}
	}

	if n.pubsub != nil {
		if err := n.pubsub.PublishBookingChanged(ctx, b); err != nil {
			n.logger.Warn("booking change publish failed", "booking_id", b.ID, "error", err)
		}
	}
}
