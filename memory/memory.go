// Package memory persists records to the durable memory collaborator and
// searches them back. Conversation logs are archived through it.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
)

// DefaultUser scopes records stored without a user id.
const DefaultUser = "default-user"

// DefaultLimit caps search results when SearchOpts.Limit is zero.
const DefaultLimit = 10

// Common errors.
var (
	ErrEmptyContent = errors.New("memory content is empty")
	ErrClosed       = errors.New("memory store closed")
)

// Record is one stored memory.
type Record struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	UserID    string            `json:"userId"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Result is a record with its relevance score (0-1).
type Result struct {
	Record
	Score float64 `json:"score"`
}

// SearchOpts narrows a search.
type SearchOpts struct {
	UserID string
	Limit  int
}

func (o SearchOpts) normalized() SearchOpts {
	if o.UserID == "" {
		o.UserID = DefaultUser
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Store is the durable memory collaborator.
type Store interface {
	// Remember stores a record and returns its id. An empty ID is
	// assigned; an empty UserID means DefaultUser.
	Remember(ctx context.Context, rec Record) (string, error)

	// Search returns the user's records matching query, best first. An
	// empty query returns the most recent records.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Result, error)

	// Forget deletes a record and reports whether it existed.
	Forget(ctx context.Context, id string) (bool, error)

	Close() error
}

func prepare(rec Record, now time.Time, newID func() string) (Record, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return Record{}, ErrEmptyContent
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.UserID == "" {
		rec.UserID = DefaultUser
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Metadata != nil {
		md := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			md[k] = v
		}
		rec.Metadata = md
	}
	return rec, nil
}

// terms lowercases text and splits it on anything that is not a letter
// or digit.
func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// overlap scores content by the fraction of distinct query terms it
// contains.
func overlap(queryTerms []string, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range terms(content) {
		have[t] = true
	}
	seen := make(map[string]bool)
	hits, total := 0, 0
	for _, q := range queryTerms {
		if seen[q] {
			continue
		}
		seen[q] = true
		total++
		if have[q] {
			hits++
		}
	}
	return float64(hits) / float64(total)
}

// rankResults orders by score, then newest first, then id, and applies
// the limit.
func rankResults(results []Result, limit int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
