// Package store persists uplink credentials and the transition journal in
// a single SQLite file under the daemon's state directory.
//
// Credentials are written only after a connect has been verified end to
// end, so a reboot never replays an SSID that was never reachable. The
// journal keeps the last transitions for postmortems on units that flap.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"uplink"
)

type Store struct {
	db *sql.DB
}

// Open creates the state directory and database as needed. The database
// file ends up 0600: it holds plaintext passphrases.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS credentials (
	ssid TEXT PRIMARY KEY,
	passphrase TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize credentials schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS transitions (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize transitions schema: %w", err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restrict state db permissions: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveCredential upserts by SSID. A re-connect to a known network with a
// new passphrase replaces the old one.
func (s *Store) SaveCredential(cred uplink.UplinkCredential) error {
	_, err := s.db.Exec(
		`INSERT INTO credentials (ssid, passphrase, priority, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(ssid) DO UPDATE SET
		 passphrase = excluded.passphrase,
		 priority = excluded.priority,
		 updated_at = excluded.updated_at`,
		cred.SSID,
		cred.Passphrase,
		cred.Priority,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save credential %q: %w", cred.SSID, err)
	}
	return nil
}

// LoadCredential returns the credential the device should try on boot:
// highest priority, most recently updated. ok is false when none is stored.
func (s *Store) LoadCredential() (uplink.UplinkCredential, bool, error) {
	var cred uplink.UplinkCredential
	err := s.db.QueryRow(
		`SELECT ssid, passphrase, priority FROM credentials
		 ORDER BY priority DESC, updated_at DESC LIMIT 1`,
	).Scan(&cred.SSID, &cred.Passphrase, &cred.Priority)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uplink.UplinkCredential{}, false, nil
		}
		return uplink.UplinkCredential{}, false, fmt.Errorf("load credential: %w", err)
	}
	return cred, true, nil
}

// ListCredentials returns all stored credentials, highest priority first.
func (s *Store) ListCredentials() ([]uplink.UplinkCredential, error) {
	rows, err := s.db.Query(
		`SELECT ssid, passphrase, priority FROM credentials
		 ORDER BY priority DESC, updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	out := make([]uplink.UplinkCredential, 0)
	for rows.Next() {
		var cred uplink.UplinkCredential
		if err := rows.Scan(&cred.SSID, &cred.Passphrase, &cred.Priority); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential rows: %w", err)
	}
	return out, nil
}

// DeleteCredential removes one SSID. Deleting an absent SSID is not an error.
func (s *Store) DeleteCredential(ssid string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE ssid = ?`, ssid); err != nil {
		return fmt.Errorf("delete credential %q: %w", ssid, err)
	}
	return nil
}

// ClearCredentials removes every stored credential. Used by disconnect so
// the next boot lands in setup mode instead of chasing a dropped network.
func (s *Store) ClearCredentials() error {
	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// AppendTransition journals one finished transition attempt.
func (s *Store) AppendTransition(att uplink.TransitionAttempt) error {
	reason := ""
	if att.Reason != nil {
		reason = att.Reason.Error()
	}
	_, err := s.db.Exec(
		`INSERT INTO transitions (id, target, attempts, started_at, finished_at, outcome, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		att.ID,
		att.Target.String(),
		att.Attempts,
		att.StartedAt.UTC().Format(time.RFC3339),
		att.FinishedAt.UTC().Format(time.RFC3339),
		att.Outcome.String(),
		reason,
	)
	if err != nil {
		return fmt.Errorf("append transition %s: %w", att.ID, err)
	}
	return nil
}

// RecentTransitions returns up to limit journal entries, newest first.
func (s *Store) RecentTransitions(limit int) ([]uplink.TransitionAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, target, attempts, started_at, finished_at, outcome, reason
		 FROM transitions ORDER BY finished_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	out := make([]uplink.TransitionAttempt, 0, limit)
	for rows.Next() {
		var att uplink.TransitionAttempt
		var target, outcome, startedAt, finished, reason string
		if err := rows.Scan(&att.ID, &target, &att.Attempts, &startedAt, &finished, &outcome, &reason); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		if m, ok := uplink.ParseMode(target); ok {
			att.Target = m
		}
		att.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		att.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		switch outcome {
		case "succeeded":
			att.Outcome = uplink.OutcomeSucceeded
		case "failed":
			att.Outcome = uplink.OutcomeFailed
		}
		if reason != "" {
			att.Reason = errors.New(reason)
		}
		out = append(out, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition rows: %w", err)
	}
	return out, nil
}
