package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
)

// BookingsPubSub fans booking state transitions out to interested consumers
// (table maps, ops dashboards). Best-effort: publishing happens after the
// mutation committed, never inside a ledger critical section.
type BookingsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewBookingsPubSub(rdb *redis.Client) *BookingsPubSub {
	return &BookingsPubSub{
		rdb:     rdb,
		channel: ChannelBookingsChanged(),
	}
}

type bookingChangedMsg struct {
	Type      string `json:"type"`
	BookingID int64  `json:"booking_id"`
	ClubID    int64  `json:"club_id"`
	TableID   int64  `json:"table_id"`
	EventID   int64  `json:"event_id"`
	Status    string `json:"status"`
	TsUnix    int64  `json:"ts_unix"`
}

func (p *BookingsPubSub) PublishBookingChanged(ctx context.Context, b domain.Booking) error {
	msg := bookingChangedMsg{
		Type:      "booking_changed",
		BookingID: b.ID,
		ClubID:    b.ClubID,
		TableID:   b.TableID,
		EventID:   b.EventID,
		Status:    string(b.Status),
		TsUnix:    time.Now().Unix(),
	}

	raw, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

func (p *BookingsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, bookingID, eventID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}

			var msg bookingChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil && msg.BookingID != 0 {
				handler(ctx, msg.BookingID, msg.EventID)
			}
		}
	}
}
