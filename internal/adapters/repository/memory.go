package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/pkg/metrics"
)

// MemoryStore keeps results in process memory, in insertion order.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []model.ScoreResult
	byID map[string]int
	opts options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{byID: make(map[string]int), opts: o}
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, r *model.ScoreResult) error {
	start := time.Now()
	defer func() {
		metrics.RecordPersistenceLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		metrics.RecordPersistenceWrite(metrics.OutcomeError)
		return wrapPersist(err)
	}

	r.ID = uuid.NewString()
	r.CreatedAt = s.opts.now().UTC()

	row := *r
	row.Defaulted = nil
	row.FullReport = append([]byte(nil), r.FullReport...)

	s.mu.Lock()
	s.byID[row.ID] = len(s.rows)
	s.rows = append(s.rows, row)
	s.mu.Unlock()

	metrics.RecordPersistenceWrite(metrics.OutcomeSuccess)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (model.ScoreResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return model.ScoreResult{}, ErrNotFound
	}
	return s.rows[i], nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.ScoreResult, error) {
	limit, err := f.limit()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ScoreResult, 0, min(limit, len(s.rows)))
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		row := s.rows[i]
		if f.URL != "" && row.URL != f.URL {
			continue
		}
		if f.Device != "" && row.Device != f.Device {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
