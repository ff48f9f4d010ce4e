package vecstore

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-memory Store.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]Record)}
}

func (m *Memory) Upsert(_ context.Context, recs ...Record) error {
	for _, r := range recs {
		if err := r.validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		r.Vector = slices.Clone(r.Vector)
		m.recs[r.ID] = r
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vec []float32, k int, f *Filter) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := ranker{query: vec, k: k}
	for _, rec := range m.recs {
		if f.match(rec.Metadata) {
			r.add(rec)
		}
	}
	return r.results(), nil
}

func (m *Memory) Fetch(_ context.Context, ids []string) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		if rec, ok := m.recs[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.recs, id)
	}
	return nil
}

func (m *Memory) List(_ context.Context, f *Filter, limit int) ([]Record, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.recs))
	for id, rec := range m.recs {
		if f.match(rec.Metadata) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = m.recs[id]
	}
	m.mu.RUnlock()
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}

var _ Store = (*Memory)(nil)
