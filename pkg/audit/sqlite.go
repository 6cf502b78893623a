package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists events in a sqlite database. WAL mode keeps the
// worker's writes from blocking report queries.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("sql.Open(%s): %s", path, err)
	}

	db.SetMaxOpenConns(4)

	// Set the pragmas explicitly, the connection string params are not
	// honored by every driver version.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %s", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy_timeout: %s", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			op TEXT NOT NULL,
			path TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			uid INTEGER NOT NULL DEFAULT 0,
			allowed INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_path ON events(path)`,
		`CREATE INDEX IF NOT EXISTS idx_events_op ON events(op)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating events table: %s", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (at, op, path, target, pid, uid, allowed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UnixNano(), string(event.Op), event.Path, event.Target,
		event.PID, event.UID, boolToInt(event.Allowed))
	if err != nil {
		return fmt.Errorf("inserting event: %s", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Event, error) {
	query := `SELECT at, op, path, target, pid, uid, allowed FROM events`
	var conds []string
	var args []interface{}

	if f.Op != "" {
		conds = append(conds, "op = ?")
		args = append(args, string(f.Op))
	}
	if f.PathPrefix != "" {
		conds = append(conds, "path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.PathPrefix)+"%")
	}
	if f.DeniedOnly {
		conds = append(conds, "allowed = 0")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %s", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var at int64
		var allowed int
		if err := rows.Scan(&at, &ev.Op, &ev.Path, &ev.Target, &ev.PID, &ev.UID, &allowed); err != nil {
			return nil, fmt.Errorf("scanning event: %s", err)
		}
		ev.Timestamp = time.Unix(0, at)
		ev.Allowed = allowed != 0
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %s", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
