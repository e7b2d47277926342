package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps records in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// execWithRetry executes a statement, backing off exponentially while the database is locked.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Append inserts a record. Record IDs are unique.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	var data sql.NullString
	if len(rec.Data) > 0 {
		data = sql.NullString{String: string(rec.Data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, type, category, timestamp, content, data) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Category, rec.Timestamp.UnixNano(), rec.Content, data,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Search matches query against type (exact), category and content (substring,
// case-insensitive). Newest records come first.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, type, category, timestamp, content, data FROM records
			ORDER BY timestamp DESC, seq DESC LIMIT ?`, limit)
	} else {
		like := "%" + escapeLike(strings.ToLower(query)) + "%"
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, type, category, timestamp, content, data FROM records
			WHERE type = ? OR lower(category) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\'
			ORDER BY timestamp DESC, seq DESC LIMIT ?`, query, like, like, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var category, content, data sql.NullString
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.Type, &category, &ts, &content, &data); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec.Category = category.String
		rec.Content = content.String
		rec.Timestamp = time.Unix(0, ts).UTC()
		if data.Valid {
			rec.Data = []byte(data.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
