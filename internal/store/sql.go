package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// SQLStore keeps one row per venue. Saves replace the whole table inside a
// transaction so readers never see a half-written registry.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("SQLITE_PATH is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func OpenPostgres(ctx context.Context, databaseURL string) (*SQLStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS arcade_venues (
			name TEXT PRIMARY KEY,
			aliases TEXT NOT NULL,
			current_player_count TEXT NOT NULL DEFAULT '0',
			last_report_time TEXT NOT NULL DEFAULT '',
			last_reporter TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS arcade_cursor (
			id INTEGER PRIMARY KEY,
			last_message_id BIGINT NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrPersistence, err)
		}
	}
	return nil
}

func (s *SQLStore) LoadRegistry(ctx context.Context) (Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, aliases, current_player_count, last_report_time, last_reporter
		FROM arcade_venues`)
	if err != nil {
		return nil, fmt.Errorf("%w: query venues: %v", ErrPersistence, err)
	}
	defer rows.Close()

	doc := Document{}
	for rows.Next() {
		var (
			name    string
			aliases string
			v       VenueDoc
		)
		if err := rows.Scan(&name, &aliases, &v.CurrentPlayerCount, &v.LastReportTime, &v.LastReporter); err != nil {
			return nil, fmt.Errorf("%w: scan venue: %v", ErrPersistence, err)
		}
		if err := json.Unmarshal([]byte(aliases), &v.Aliases); err != nil {
			return nil, fmt.Errorf("%w: decode aliases of %s: %v", ErrPersistence, name, err)
		}
		if v.Aliases == nil {
			v.Aliases = []string{}
		}
		doc[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate venues: %v", ErrPersistence, err)
	}
	return doc, nil
}

func (s *SQLStore) SaveRegistry(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM arcade_venues`); err != nil {
		return fmt.Errorf("%w: clear venues: %v", ErrPersistence, err)
	}
	insert := s.rebind(`
		INSERT INTO arcade_venues (name, aliases, current_player_count, last_report_time, last_reporter)
		VALUES (?, ?, ?, ?, ?)`)

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := doc[name]
		aliases := v.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		rawAliases, err := json.Marshal(aliases)
		if err != nil {
			return fmt.Errorf("%w: encode aliases: %v", ErrPersistence, err)
		}
		if _, err := tx.ExecContext(ctx, insert, name, string(rawAliases), v.CurrentPlayerCount, v.LastReportTime, v.LastReporter); err != nil {
			return fmt.Errorf("%w: insert venue %s: %v", ErrPersistence, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func (s *SQLStore) LoadCursor(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT last_message_id FROM arcade_cursor WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: query cursor: %v", ErrPersistence, err)
	}
	return id, nil
}

func (s *SQLStore) SaveCursor(ctx context.Context, lastMessageID int64) error {
	q := s.rebind(`
		INSERT INTO arcade_cursor (id, last_message_id) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET last_message_id = excluded.last_message_id`)
	if _, err := s.db.ExecContext(ctx, q, lastMessageID); err != nil {
		return fmt.Errorf("%w: save cursor: %v", ErrPersistence, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
