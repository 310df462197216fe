// Package sqlite provides a SQLite-backed player profile store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"pylos/internal/ports"
	"pylos/internal/storage/sqlite/migrations"
)

const migrationTable = "schema_migrations"

// Store persists player profiles in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite profile store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreatePlayer registers a new player with zeroed counters.
func (s *Store) CreatePlayer(ctx context.Context, name string) (ports.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > ports.MaxPlayerNameLen {
		return ports.Profile{}, ports.ErrInvalidPlayerName
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO players (username, wins, loses, created_at) VALUES (?, 0, 0, ?)`,
		name, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.Profile{}, ports.ErrPlayerNameTaken
		}
		return ports.Profile{}, fmt.Errorf("insert player: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ports.Profile{}, fmt.Errorf("player id: %w", err)
	}
	return ports.Profile{ID: id, Name: name}, nil
}

// ListPlayers returns every player ordered by name.
func (s *Store) ListPlayers(ctx context.Context) ([]ports.Profile, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, username, wins, loses FROM players ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]ports.Profile, 0)
	for rows.Next() {
		var p ports.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Wins, &p.Loses); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return players, nil
}

// Lookup returns the profile of playerID.
func (s *Store) Lookup(ctx context.Context, playerID int64) (ports.Profile, error) {
	var p ports.Profile
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, wins, loses FROM players WHERE id = ?`, playerID,
	).Scan(&p.ID, &p.Name, &p.Wins, &p.Loses)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Profile{}, ports.ErrProfileNotFound
	}
	if err != nil {
		return ports.Profile{}, fmt.Errorf("lookup player %d: %w", playerID, err)
	}
	return p, nil
}

// RecordResult adds delta to the counters of playerID in a single statement.
func (s *Store) RecordResult(ctx context.Context, playerID int64, delta ports.ResultDelta) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE players SET wins = wins + ?, loses = loses + ? WHERE id = ?`,
		delta.Wins, delta.Loses, playerID,
	)
	if err != nil {
		return fmt.Errorf("record result for %d: %w", playerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record result for %d: %w", playerID, err)
	}
	if n == 0 {
		return ports.ErrProfileNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "players.username")
}

// applyMigrations executes each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}

var (
	_ ports.ProfilePort     = (*Store)(nil)
	_ ports.PlayerDirectory = (*Store)(nil)
)
