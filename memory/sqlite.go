package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a local SQLite database. Search is a
// term-overlap scan over the user's rows.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates
// the schema. Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at);
`)
	return err
}

func (s *SQLiteStore) Remember(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, time.Now(), uuid.NewString)
	if err != nil {
		return "", err
	}
	var meta sql.NullString
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return "", err
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, user_id, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Content, meta, rec.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query string, opts SearchOpts) ([]Result, error) {
	opts = opts.normalized()
	queryTerms := terms(query)

	sqlText := `SELECT id, user_id, content, metadata, created_at FROM memories WHERE user_id = ?`
	args := []interface{}{opts.UserID}
	if len(queryTerms) > 0 {
		// Prefilter to rows containing any term; scoring happens below.
		clauses := make([]string, 0, len(queryTerms))
		for _, t := range queryTerms {
			clauses = append(clauses, "LOWER(content) LIKE ?")
			args = append(args, "%"+t+"%")
		}
		sqlText += " AND (" + strings.Join(clauses, " OR ") + ")"
	} else {
		sqlText += " ORDER BY created_at DESC LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var rec Record
		var meta sql.NullString
		var created int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.CreatedAt = time.Unix(0, created)
		if meta.Valid {
			json.Unmarshal([]byte(meta.String), &rec.Metadata)
		}

		score := 1.0
		if len(queryTerms) > 0 {
			if score = overlap(queryTerms, rec.Content); score == 0 {
				continue
			}
		}
		results = append(results, Result{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankResults(results, opts.Limit), nil
}

func (s *SQLiteStore) Forget(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
