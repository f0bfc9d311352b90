package repository

import (
	"errors"
	"sync"
	"time"

	"github.com/zhejian/url-shortener/shortener/internal/model"
)

var (
	ErrNotFound           = errors.New("short code not found")
	ErrDuplicateShortCode = errors.New("short code already exists")
	ErrUnknownShortCode   = errors.New("no analytics entry for short code")
)

// Registry is the authoritative in-memory mapping of short code to URL record.
//
// All writes go through the registry's write lock. Update exposes that lock to
// callers that need a check-then-act sequence (quota check, code allocation,
// insert) to run as one unit.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*model.URLRecord
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*model.URLRecord),
	}
}

// Tx is the view of the registry handed to an Update callback. It is only
// valid while the callback runs.
type Tx struct {
	r *Registry
}

// Exists reports whether code is held by the registry, live or expired.
func (tx *Tx) Exists(code string) bool {
	_, ok := tx.r.records[code]
	return ok
}

// CountActiveForCreator counts the creator's records that are not expired at now.
func (tx *Tx) CountActiveForCreator(creatorID string, now time.Time) int {
	return tx.r.countActiveForCreator(creatorID, now)
}

// Insert adds rec keyed by its short code.
func (tx *Tx) Insert(rec *model.URLRecord) error {
	return tx.r.insert(rec)
}

// Remove drops code from the registry. Used to roll back a failed creation.
func (tx *Tx) Remove(code string) {
	tx.r.remove(code)
}

// Update runs fn while holding the registry write lock.
func (r *Registry) Update(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Tx{r: r})
}

// Create inserts rec. It fails with ErrDuplicateShortCode if the code is taken.
func (r *Registry) Create(rec *model.URLRecord) error {
	return r.Update(func(tx *Tx) error {
		return tx.Insert(rec)
	})
}

// Get returns a copy of the record stored under code.
func (r *Registry) Get(code string) (*model.URLRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListAll returns copies of every record in insertion order.
func (r *Registry) ListAll() []model.URLRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.URLRecord, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, *r.records[code])
	}
	return out
}

// CountActiveForCreator counts the creator's records that are not expired at now.
func (r *Registry) CountActiveForCreator(creatorID string, now time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countActiveForCreator(creatorID, now)
}

// Stats returns the total number of records and how many are active at now.
func (r *Registry) Stats(now time.Time) (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if !IsExpired(rec, now) {
			active++
		}
	}
	return len(r.records), active
}

// PurgeExpired removes records whose expiry date lies more than retention
// before now. onRemove, when non-nil, is called for every removed code while
// the write lock is still held so dependent state leaves together with the
// record. It returns the removed codes.
func (r *Registry) PurgeExpired(now time.Time, retention time.Duration, onRemove func(code string)) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-retention)
	var removed []string
	for _, code := range r.order {
		if r.records[code].ExpiryDate.Before(cutoff) {
			removed = append(removed, code)
		}
	}
	for _, code := range removed {
		r.remove(code)
		if onRemove != nil {
			onRemove(code)
		}
	}
	return removed
}

// IsExpired reports whether rec is expired at now. The check is strict:
// a record is still active at exactly its expiry date.
func IsExpired(rec *model.URLRecord, now time.Time) bool {
	return rec.IsExpiredAt(now)
}

func (r *Registry) insert(rec *model.URLRecord) error {
	if _, ok := r.records[rec.ShortCode]; ok {
		return ErrDuplicateShortCode
	}
	cp := *rec
	r.records[rec.ShortCode] = &cp
	r.order = append(r.order, rec.ShortCode)
	return nil
}

func (r *Registry) remove(code string) {
	if _, ok := r.records[code]; !ok {
		return
	}
	delete(r.records, code)
	for i, c := range r.order {
		if c == code {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) countActiveForCreator(creatorID string, now time.Time) int {
	n := 0
	for _, rec := range r.records {
		if rec.CreatedBy == creatorID && !IsExpired(rec, now) {
			n++
		}
	}
	return n
}
