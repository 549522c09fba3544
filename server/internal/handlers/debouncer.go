package handlers

import (
	"sync"
	"time"

	"github.com/patrick91/metamist/internal/model"
	"github.com/patrick91/metamist/server/internal/database"
)

// SummaryDebouncer delays billing-summary recomputation so that several
// quick sync batches from the same loader are folded into one update.
type SummaryDebouncer struct {
	db      *database.DB
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*pendingUpdate
}

type pendingUpdate struct {
	generation int
	records    []model.BillingRecord
}

// NewSummaryDebouncer creates a debouncer with the specified delay
func NewSummaryDebouncer(db *database.DB, delay time.Duration) *SummaryDebouncer {
	return &SummaryDebouncer{
		db:      db,
		delay:   delay,
		pending: make(map[string]*pendingUpdate),
	}
}

// Schedule queues a summary update for a client, resetting the timer if one
// is already pending.
func (d *SummaryDebouncer) Schedule(clientID string, records []model.BillingRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, exists := d.pending[clientID]; exists {
		// Append records and bump generation (invalidates old timer)
		p.records = append(p.records, records...)
		p.generation++
		gen := p.generation
		time.AfterFunc(d.delay, func() {
			d.flush(clientID, gen)
		})
		return
	}

	d.pending[clientID] = &pendingUpdate{
		generation: 1,
		records:    records,
	}
	time.AfterFunc(d.delay, func() {
		d.flush(clientID, 1)
	})
}

func (d *SummaryDebouncer) flush(clientID string, generation int) {
	d.mu.Lock()
	p, exists := d.pending[clientID]
	if !exists || p.generation != generation {
		// Stale timer or already flushed
		d.mu.Unlock()
		return
	}
	delete(d.pending, clientID)
	d.mu.Unlock()

	d.db.UpdateBillingSummaries(p.records)
}
