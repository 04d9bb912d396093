package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
)

type quotaKey struct {
	clubID     int64
	promoterID int64
	tableID    int64
}

// PromoterQuotas caps how many table holds a promoter may create per table
// within a validity window. Reservation is coupled with the table hold by the
// caller: a reserved slot is rolled back when the hold loses the race.
type PromoterQuotas struct {
	now func() time.Time

	mu     sync.Mutex
	quotas map[quotaKey]*domain.PromoterQuota
}

func NewPromoterQuotas(now func() time.Time) *PromoterQuotas {
	if now == nil {
		now = time.Now
	}

	return &PromoterQuotas{
		now:    now,
		quotas: make(map[quotaKey]*domain.PromoterQuota),
	}
}

// Upsert provisions a quota, resetting its held counter.
func (p *PromoterQuotas) Upsert(q domain.PromoterQuota) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q.Held = 0
	p.quotas[quotaKey{clubID: q.ClubID, promoterID: q.PromoterID, tableID: q.TableID}] = &q
}

// Reserve charges amount against the promoter's quota. An absent quota allows
// the hold untracked (reserved=false); an expired or exhausted quota rejects.
func (p *PromoterQuotas) Reserve(clubID, promoterID, tableID int64, amount int) (bool, error) {
	const op = "ledger.PromoterQuotas.Reserve"

	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.quotas[quotaKey{clubID: clubID, promoterID: promoterID, tableID: tableID}]
	if !ok {
		return false, nil
	}

	if !q.ExpiresAt.After(now) {
		return false, fmt.Errorf("%s:%w", op, ErrQuotaExhausted)
	}

	if q.Held+amount > q.Quota {
		return false, fmt.Errorf("%s:%w", op, ErrQuotaExhausted)
	}

	q.Held += amount

	return true, nil
}

// Release returns a previously reserved slot while the quota is still active.
// Safe to call multiple times for the same booking lifecycle.
func (p *PromoterQuotas) Release(clubID, promoterID, tableID int64, amount int) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.quotas[quotaKey{clubID: clubID, promoterID: promoterID, tableID: tableID}]
	if !ok || !q.ExpiresAt.After(now) || q.Held <= 0 {
		return
	}

	q.Held -= amount
	if q.Held < 0 {
		q.Held = 0
	}
}

// Held reports the current held counter, zero when no quota is configured.
func (p *PromoterQuotas) Held(clubID, promoterID, tableID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.quotas[quotaKey{clubID: clubID, promoterID: promoterID, tableID: tableID}]
	if !ok {
		return 0
	}

	return q.Held
}

// ListByClub snapshots a club's quotas, resetting expired held counters so
// they no longer block holds once reconfigured.
func (p *PromoterQuotas) ListByClub(clubID int64) []domain.PromoterQuota {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.PromoterQuota

	for k, q := range p.quotas {
		if k.clubID != clubID {
			continue
		}

		if !q.ExpiresAt.After(now) {
			q.Held = 0
		}

		out = append(out, *q)
	}

	return out
}
