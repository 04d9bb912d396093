package memory

import (
	"sync"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
)

type eventKey struct {
	clubID  int64
	eventID int64
}

// Events is the in-process event catalog the booking core reads arrival
// windows from. Seeded at startup from the persistence layer.
type Events struct {
	mu     sync.RWMutex
	events map[eventKey]domain.Event
}

func NewEvents() *Events {
	return &Events{events: make(map[eventKey]domain.Event)}
}

func (e *Events) Put(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[eventKey{clubID: ev.ClubID, eventID: ev.ID}] = ev
}

func (e *Events) Find(clubID, eventID int64) (domain.Event, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ev, ok := e.events[eventKey{clubID: clubID, eventID: eventID}]

	return ev, ok
}
