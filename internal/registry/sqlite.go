package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fink5984/telefeed/internal/domain"
)

// SQLite stores accounts in a SQLite database.
type SQLite struct {
	db   *sql.DB
	opts Options
}

// OpenSQLite opens (creating if needed) the database at dbPath and migrates it
// to the current schema.
func OpenSQLite(dbPath string, opts Options) (*SQLite, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, opts.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLite{db: db, opts: opts}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// List returns the accounts sorted by name.
func (s *SQLite) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, enabled, api_id, api_hash, phone, bot_token, session_string, routes_file
		 FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	for rows.Next() {
		var (
			name string
			e    Entry
		)
		if err := rows.Scan(&name, &e.Enabled, &e.APIID, &e.APIHash, &e.Phone, &e.BotToken, &e.SessionString, &e.RoutesFile); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		entries[name] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return s.opts.toAccounts(entries)
}

// Import upserts entries in a single transaction. Existing accounts not in
// entries are left alone.
func (s *SQLite) Import(ctx context.Context, entries map[string]Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for name, e := range entries {
		if name == "" {
			return domain.ConfigErrorf("account with empty name")
		}
		routes := e.RoutesFile
		if routes == "" {
			routes = e.RuleFilePath
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (name, enabled, api_id, api_hash, phone, bot_token, session_string, routes_file, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
			   enabled=excluded.enabled, api_id=excluded.api_id, api_hash=excluded.api_hash,
			   phone=excluded.phone, bot_token=excluded.bot_token, session_string=excluded.session_string,
			   routes_file=excluded.routes_file, updated_at=excluded.updated_at`,
			name, e.Enabled, e.APIID, e.APIHash, e.Phone, e.BotToken, e.SessionString, routes, now, now,
		)
		if err != nil {
			return fmt.Errorf("import account %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// SetEnabled toggles an account. It reports whether the account exists.
func (s *SQLite) SetEnabled(ctx context.Context, name string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET enabled=?, updated_at=? WHERE name=?`,
		enabled, time.Now().UTC(), name,
	)
	if err != nil {
		return false, fmt.Errorf("update account %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
