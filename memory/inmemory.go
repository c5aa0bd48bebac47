package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps records in process. All data is lost when the
// process exits.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Remember(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, time.Now(), uuid.NewString)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	s.records[rec.ID] = rec
	return rec.ID, nil
}

func (s *InMemoryStore) Search(ctx context.Context, query string, opts SearchOpts) ([]Result, error) {
	opts = opts.normalized()
	queryTerms := terms(query)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	results := []Result{}
	for _, rec := range s.records {
		if rec.UserID != opts.UserID {
			continue
		}
		score := 1.0
		if len(queryTerms) > 0 {
			if score = overlap(queryTerms, rec.Content); score == 0 {
				continue
			}
		}
		results = append(results, Result{Record: rec, Score: score})
	}
	return rankResults(results, opts.Limit), nil
}

func (s *InMemoryStore) Forget(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
