// Package storage persists transfer history in a local SQLite database so
// completed, failed, and cancelled transfers survive restarts.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "roomdrop.db"

// ErrNotFound marks lookups that matched no row.
var ErrNotFound = errors.New("storage: not found")

const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  transfer_id    TEXT PRIMARY KEY,
  request_id     TEXT,
  file_name      TEXT NOT NULL,
  file_size      INTEGER NOT NULL,
  direction      TEXT NOT NULL CHECK(direction IN ('send','receive')),
  peer_device_id TEXT,
  peer_name      TEXT,
  status         TEXT NOT NULL CHECK(status IN ('sent','completed','failed','cancelled')),
  checksum       TEXT NOT NULL DEFAULT '',
  stored_path    TEXT NOT NULL DEFAULT '',
  recorded_at    INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_recorded_at
ON transfers (recorded_at DESC, transfer_id);
`,
}

// TransferRecord is one terminal transfer outcome.
type TransferRecord struct {
	TransferID string
	RequestID  string
	FileName   string
	FileSize   int64
	Direction  string
	PeerDevice string
	PeerName   string
	Status     string
	Checksum   string
	StoredPath string
	RecordedAt int64
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database under the given data directory and
// runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens a database at an explicit path and runs migrations.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration %d: %w", i, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransfer inserts or replaces one history row. A transfer that
// fails and later completes after a retry keeps a single row.
func (s *Store) RecordTransfer(record TransferRecord) error {
	if record.TransferID == "" {
		return errors.New("transfer_id is required")
	}
	if record.FileName == "" {
		return errors.New("file_name is required")
	}
	if record.Direction != DirectionSend && record.Direction != DirectionReceive {
		return fmt.Errorf("invalid direction %q", record.Direction)
	}
	if err := validateRecordStatus(record.Status); err != nil {
		return err
	}
	if record.RecordedAt == 0 {
		record.RecordedAt = time.Now().UnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO transfers (
			transfer_id,
			request_id,
			file_name,
			file_size,
			direction,
			peer_device_id,
			peer_name,
			status,
			checksum,
			stored_path,
			recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TransferID,
		record.RequestID,
		record.FileName,
		record.FileSize,
		record.Direction,
		record.PeerDevice,
		record.PeerName,
		record.Status,
		record.Checksum,
		record.StoredPath,
		record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record transfer %q: %w", record.TransferID, err)
	}
	return nil
}

// GetTransfer fetches one history row by transfer ID.
func (s *Store) GetTransfer(transferID string) (*TransferRecord, error) {
	row := s.db.QueryRow(
		`SELECT
			transfer_id, request_id, file_name, file_size, direction,
			peer_device_id, peer_name, status, checksum, stored_path, recorded_at
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)

	var record TransferRecord
	err := row.Scan(
		&record.TransferID,
		&record.RequestID,
		&record.FileName,
		&record.FileSize,
		&record.Direction,
		&record.PeerDevice,
		&record.PeerName,
		&record.Status,
		&record.Checksum,
		&record.StoredPath,
		&record.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}
	return &record, nil
}

// ListTransfers returns up to limit history rows, newest first. A limit
// of zero or less returns everything.
func (s *Store) ListTransfers(limit int) ([]TransferRecord, error) {
	query := `SELECT
			transfer_id, request_id, file_name, file_size, direction,
			peer_device_id, peer_name, status, checksum, stored_path, recorded_at
		FROM transfers
		ORDER BY recorded_at DESC, transfer_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var record TransferRecord
		if err := rows.Scan(
			&record.TransferID,
			&record.RequestID,
			&record.FileName,
			&record.FileSize,
			&record.Direction,
			&record.PeerDevice,
			&record.PeerName,
			&record.Status,
			&record.Checksum,
			&record.StoredPath,
			&record.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return out, nil
}

func validateRecordStatus(status string) error {
	switch status {
	case "sent", "completed", "failed", "cancelled":
		return nil
	}
	return fmt.Errorf("invalid transfer record status %q", status)
}
