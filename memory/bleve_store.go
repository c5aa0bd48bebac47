package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// BleveStore keeps records in a Bleve full-text index, on disk or in
// memory.
type BleveStore struct {
	mu    sync.RWMutex
	index bleve.Index
}

// BleveStoreConfig configures the Bleve-based memory store.
type BleveStoreConfig struct {
	// BasePath is the directory holding the index. Empty means an
	// in-memory index.
	BasePath string
}

// recordDocument is the indexed form of a Record.
type recordDocument struct {
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewBleveStore opens the index under cfg.BasePath, creating it if needed.
func NewBleveStore(cfg BleveStoreConfig) (*BleveStore, error) {
	if cfg.BasePath == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
		return &BleveStore{index: index}, nil
	}

	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	indexPath := filepath.Join(cfg.BasePath, "memories.bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildIndexMapping())
	} else {
		index, err = bleve.Open(indexPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}
	return &BleveStore{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name

	user := bleve.NewTextFieldMapping()
	user.Analyzer = keyword.Name

	meta := bleve.NewTextFieldMapping()
	meta.Index = false

	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("userId", user)
	doc.AddFieldMappingsAt("metadata", meta)
	doc.AddFieldMappingsAt("createdAt", bleve.NewDateTimeFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

func (s *BleveStore) Remember(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, time.Now(), uuid.NewString)
	if err != nil {
		return "", err
	}
	var meta []byte
	if len(rec.Metadata) > 0 {
		if meta, err = json.Marshal(rec.Metadata); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return "", ErrClosed
	}
	doc := recordDocument{Content: rec.Content, UserID: rec.UserID, Metadata: string(meta), CreatedAt: rec.CreatedAt.UTC()}
	if err := s.index.Index(rec.ID, doc); err != nil {
		return "", fmt.Errorf("failed to index memory: %w", err)
	}
	return rec.ID, nil
}

func (s *BleveStore) Search(ctx context.Context, text string, opts SearchOpts) ([]Result, error) {
	opts = opts.normalized()

	user := bleve.NewTermQuery(opts.UserID)
	user.SetField("userId")

	var q query.Query
	empty := len(terms(text)) == 0
	if empty {
		q = user
	} else {
		match := bleve.NewMatchQuery(text)
		match.SetField("content")
		q = bleve.NewConjunctionQuery(user, match)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = opts.Limit
	req.Fields = []string{"*"}
	if empty {
		req.SortBy([]string{"-createdAt", "_id"})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return nil, ErrClosed
	}
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		score := 1.0
		if !empty && res.MaxScore > 0 {
			score = hit.Score / res.MaxScore
		}
		results = append(results, Result{Record: hitRecord(hit.ID, hit.Fields), Score: score})
	}
	return results, nil
}

func hitRecord(id string, fields map[string]interface{}) Record {
	rec := Record{ID: id}
	rec.Content, _ = fields["content"].(string)
	rec.UserID, _ = fields["userId"].(string)
	if raw, ok := fields["createdAt"].(string); ok {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw, ok := fields["metadata"].(string); ok && raw != "" {
		json.Unmarshal([]byte(raw), &rec.Metadata)
	}
	return rec
}

func (s *BleveStore) Forget(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return false, ErrClosed
	}
	doc, err := s.index.Document(id)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	if err := s.index.Delete(id); err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of indexed records.
func (s *BleveStore) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return 0, ErrClosed
	}
	return s.index.DocCount()
}

func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}
