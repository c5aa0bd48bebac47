package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	bleveStore, err := NewBleveStore(BleveStoreConfig{})
	if err != nil {
		t.Fatalf("NewBleveStore error: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}

	stores := map[string]Store{
		"inmemory": NewInMemoryStore(),
		"bleve":    bleveStore,
		"sqlite":   sqliteStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStore_Contract(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Remember(ctx, Record{Content: "  "}); !errors.Is(err, ErrEmptyContent) {
				t.Errorf("empty content error = %v, want ErrEmptyContent", err)
			}

			a, err := store.Remember(ctx, Record{
				ID:        "mem-a",
				Content:   "Deploy the payment service tonight",
				UserID:    "u1",
				Metadata:  map[string]string{"source": "agent-a"},
				CreatedAt: t0,
			})
			if err != nil {
				t.Fatalf("Remember error: %v", err)
			}
			if a != "mem-a" {
				t.Errorf("id = %q, want mem-a", a)
			}

			b, err := store.Remember(ctx, Record{Content: "Payment gateway latency report", UserID: "u1", CreatedAt: t0.Add(time.Minute)})
			if err != nil {
				t.Fatalf("Remember error: %v", err)
			}
			if b == "" {
				t.Error("expected generated id")
			}
			if _, err := store.Remember(ctx, Record{Content: "Deploy docs site", UserID: "u2", CreatedAt: t0}); err != nil {
				t.Fatalf("Remember error: %v", err)
			}
			if _, err := store.Remember(ctx, Record{Content: "Deploy the default user notes"}); err != nil {
				t.Fatalf("Remember error: %v", err)
			}

			// Ranked search within one user.
			got, err := store.Search(ctx, "payment deploy", SearchOpts{UserID: "u1"})
			if err != nil {
				t.Fatalf("Search error: %v", err)
			}
			if len(got) != 2 || got[0].ID != "mem-a" || got[1].ID != b {
				t.Fatalf("Search(payment deploy) = %+v", got)
			}
			if got[0].Score < got[1].Score {
				t.Errorf("scores out of order: %v < %v", got[0].Score, got[1].Score)
			}
			if got[0].Metadata["source"] != "agent-a" {
				t.Errorf("metadata = %v", got[0].Metadata)
			}
			if got[0].UserID != "u1" {
				t.Errorf("user = %q", got[0].UserID)
			}

			// Empty query lists newest first.
			recent, err := store.Search(ctx, "", SearchOpts{UserID: "u1"})
			if err != nil {
				t.Fatalf("Search error: %v", err)
			}
			if len(recent) != 2 || recent[0].ID != b || recent[1].ID != "mem-a" {
				t.Errorf("Search(\"\") = %+v", recent)
			}

			limited, _ := store.Search(ctx, "payment", SearchOpts{UserID: "u1", Limit: 1})
			if len(limited) != 1 {
				t.Errorf("limit 1 returned %d", len(limited))
			}

			other, _ := store.Search(ctx, "deploy", SearchOpts{UserID: "u2"})
			if len(other) != 1 || other[0].Content != "Deploy docs site" {
				t.Errorf("Search(u2) = %+v", other)
			}

			defaults, _ := store.Search(ctx, "deploy", SearchOpts{})
			if len(defaults) != 1 || defaults[0].UserID != DefaultUser {
				t.Errorf("Search(default user) = %+v", defaults)
			}

			none, err := store.Search(ctx, "kubernetes", SearchOpts{UserID: "u1"})
			if err != nil || len(none) != 0 {
				t.Errorf("Search(kubernetes) = %+v, %v", none, err)
			}

			// Forget.
			existed, err := store.Forget(ctx, "mem-a")
			if err != nil || !existed {
				t.Fatalf("Forget = %v, %v", existed, err)
			}
			existed, _ = store.Forget(ctx, "mem-a")
			if existed {
				t.Error("second Forget should report false")
			}
			left, _ := store.Search(ctx, "payment", SearchOpts{UserID: "u1"})
			if len(left) != 1 || left[0].ID != b {
				t.Errorf("after Forget = %+v", left)
			}
		})
	}
}

func TestTermsAndOverlap(t *testing.T) {
	got := terms("Hello, World! code_analysis v2")
	want := []string{"hello", "world", "code", "analysis", "v2"}
	if len(got) != len(want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	tests := []struct {
		query   string
		content string
		want    float64
	}{
		{"payment deploy", "deploy the payment service", 1},
		{"payment deploy deploy", "deploy it", 0.5},
		{"payment", "nothing here", 0},
		{"", "anything", 0},
	}
	for _, tt := range tests {
		if got := overlap(terms(tt.query), tt.content); got != tt.want {
			t.Errorf("overlap(%q, %q) = %v, want %v", tt.query, tt.content, got, tt.want)
		}
	}
}

func TestInMemoryStore_Closed(t *testing.T) {
	s := NewInMemoryStore()
	s.Close()
	if _, err := s.Remember(context.Background(), Record{Content: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Remember after Close = %v", err)
	}
	if _, err := s.Search(context.Background(), "x", SearchOpts{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Search after Close = %v", err)
	}
}

func TestBleveStore_Persistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "memory")
	ctx := context.Background()

	s, err := NewBleveStore(BleveStoreConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("NewBleveStore error: %v", err)
	}
	if _, err := s.Remember(ctx, Record{ID: "keep", Content: "Rotate the signing keys monthly"}); err != nil {
		t.Fatalf("Remember error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	reopened, err := NewBleveStore(BleveStoreConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	if n, _ := reopened.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	got, err := reopened.Search(ctx, "signing keys", SearchOpts{})
	if err != nil || len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("Search after reopen = %+v, %v", got, err)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	if _, err := s.Remember(ctx, Record{ID: "keep", Content: "Rotate the signing keys monthly"}); err != nil {
		t.Fatalf("Remember error: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Search(ctx, "keys", SearchOpts{})
	if err != nil || len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("Search after reopen = %+v, %v", got, err)
	}
}
