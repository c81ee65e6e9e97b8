package main

import (
	"database/sql"
	"log"

	_ "modernc.org/sqlite"
)

// ResultStore wraps the SQLite database holding finished-match results
type ResultStore struct {
	conn *sql.DB
}

// OpenResultStore opens (or creates) the SQLite database
func OpenResultStore(path string) (*ResultStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}

	store := &ResultStore{conn: conn}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection
func (s *ResultStore) Close() error {
	return s.conn.Close()
}

// migrate creates tables if they don't exist
func (s *ResultStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		match_id TEXT NOT NULL,
		player1 TEXT NOT NULL,
		player2 TEXT NOT NULL,
		score1 INTEGER NOT NULL DEFAULT 0,
		score2 INTEGER NOT NULL DEFAULT 0,
		winner INTEGER NOT NULL DEFAULT 0,
		flavor TEXT NOT NULL DEFAULT 'score',
		ended_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_match ON results(match_id);
	CREATE INDEX IF NOT EXISTS idx_results_ended ON results(ended_at);
	`
	_, err := s.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// SaveResult persists one finished-match result
func (s *ResultStore) SaveResult(res Result) error {
	_, err := s.conn.Exec(
		"INSERT INTO results (match_id, player1, player2, score1, score2, winner, flavor, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		res.MatchID, res.Player1, res.Player2, res.Score1, res.Score2, res.Winner, res.Flavor, res.EndedAt,
	)
	return err
}

// RecentResults returns the most recently finished matches
func (s *ResultStore) RecentResults(limit int) ([]Result, error) {
	rows, err := s.conn.Query(
		"SELECT match_id, player1, player2, score1, score2, winner, flavor, ended_at FROM results ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.MatchID, &res.Player1, &res.Player2, &res.Score1, &res.Score2, &res.Winner, &res.Flavor, &res.EndedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// GetSetting returns a settings value, or "" if absent
func (s *ResultStore) GetSetting(key string) string {
	var value string
	err := s.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

// SetSetting upserts a settings value
func (s *ResultStore) SetSetting(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
