package repository

import (
	"sync"

	"github.com/zhejian/url-shortener/shortener/internal/model"
)

type analyticsEntry struct {
	mu          sync.Mutex
	totalClicks int64
	clicks      []model.ClickRecord
}

// AnalyticsStore holds the click ledger of every short code.
// The map is guarded by mu; each entry carries its own lock so clicks on
// different codes don't contend.
type AnalyticsStore struct {
	mu      sync.RWMutex
	entries map[string]*analyticsEntry
}

// NewAnalyticsStore creates an empty store
func NewAnalyticsStore() *AnalyticsStore {
	return &AnalyticsStore{
		entries: make(map[string]*analyticsEntry),
	}
}

// InitFor creates an empty entry for code.
func (s *AnalyticsStore) InitFor(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[code]; ok {
		return ErrDuplicateShortCode
	}
	s.entries[code] = &analyticsEntry{}
	return nil
}

// RecordClick appends click to the entry of code and bumps its counter.
func (s *AnalyticsStore) RecordClick(code string, click model.ClickRecord) error {
	s.mu.RLock()
	e, ok := s.entries[code]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownShortCode
	}

	e.mu.Lock()
	e.clicks = append(e.clicks, click)
	e.totalClicks++
	e.mu.Unlock()
	return nil
}

// Get returns a snapshot of the entry for code.
func (s *AnalyticsStore) Get(code string) (*model.AnalyticsEntry, error) {
	s.mu.RLock()
	e, ok := s.entries[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	clicks := make([]model.ClickRecord, len(e.clicks))
	copy(clicks, e.clicks)
	return &model.AnalyticsEntry{
		TotalClicks: e.totalClicks,
		Clicks:      clicks,
	}, nil
}

// Remove drops the entry for code. Only rollback and purge call it.
func (s *AnalyticsStore) Remove(code string) {
	s.mu.Lock()
	delete(s.entries, code)
	s.mu.Unlock()
}
