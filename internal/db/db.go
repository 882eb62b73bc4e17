package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusInFlight    = "IN_FLIGHT"
	StatusMoved       = "MOVED"
	StatusDuplicate   = "DUPLICATE"
	StatusFailed      = "FAILED"
	StatusInterrupted = "INTERRUPTED"
)

// Record is one row of the transfer journal.
type Record struct {
	ID          string
	Plot        string
	SourcePath  string
	Destination string
	Status      string
	Size        int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	SpeedMiB    float64
	Error       string
}

// Store is the sqlite-backed transfer journal. It is an audit trail only;
// reservations are never restored from it.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}
	// Workers finish concurrently; one connection keeps sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS transfer_log (
		id TEXT PRIMARY KEY,
		plot TEXT NOT NULL,
		source_path TEXT NOT NULL,
		destination TEXT NOT NULL,
		status TEXT NOT NULL,
		size INTEGER,
		started_at DATETIME,
		finished_at DATETIME,
		duration_ms INTEGER DEFAULT 0,
		speed_mib REAL DEFAULT 0,
		error TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS transfer_log_status ON transfer_log(status);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin inserts an IN_FLIGHT row for a dispatched transfer.
func (s *Store) Begin(rec Record) error {
	_, err := s.db.Exec(`
		INSERT INTO transfer_log (id, plot, source_path, destination, status, size, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Plot, rec.SourcePath, rec.Destination, StatusInFlight, rec.Size, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("journal begin %s: %w", rec.Plot, err)
	}
	return nil
}

// Finish stores the outcome of a transfer started with Begin.
func (s *Store) Finish(id, status string, duration time.Duration, speedMiB float64, transferErr error) error {
	msg := ""
	if transferErr != nil {
		msg = transferErr.Error()
	}
	res, err := s.db.Exec(`
		UPDATE transfer_log
		SET status = ?, finished_at = ?, duration_ms = ?, speed_mib = ?, error = ?
		WHERE id = ?
	`, status, time.Now().UTC(), duration.Milliseconds(), speedMiB, msg, id)
	if err != nil {
		return fmt.Errorf("journal finish %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal finish %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

const selectColumns = `id, plot, source_path, destination, status, size, started_at, finished_at, duration_ms, speed_mib, error`

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			size       sql.NullInt64
			started    sql.NullTime
			finished   sql.NullTime
			durationMS sql.NullInt64
			speed      sql.NullFloat64
			msg        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Plot, &rec.SourcePath, &rec.Destination, &rec.Status,
			&size, &started, &finished, &durationMS, &speed, &msg); err != nil {
			return nil, err
		}
		rec.Size = size.Int64
		rec.StartedAt = started.Time
		rec.FinishedAt = finished.Time
		rec.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		rec.SpeedMiB = speed.Float64
		rec.Error = msg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// List returns the newest limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	q := `SELECT ` + selectColumns + ` FROM transfer_log ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	return scanRecords(rows)
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM transfer_log WHERE id = ?`, id)
	if err != nil {
		return Record{}, fmt.Errorf("journal get: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, sql.ErrNoRows
	}
	return recs[0], nil
}

// Interrupted returns transfers a previous process left IN_FLIGHT and marks
// them INTERRUPTED.
func (s *Store) Interrupted() ([]Record, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM transfer_log WHERE status = ? ORDER BY started_at`, StatusInFlight)
	if err != nil {
		return nil, fmt.Errorf("journal interrupted: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	_, err = s.db.Exec(`UPDATE transfer_log SET status = ?, error = ? WHERE status = ?`,
		StatusInterrupted, "process exited during transfer", StatusInFlight)
	if err != nil {
		return recs, fmt.Errorf("journal mark interrupted: %w", err)
	}
	return recs, nil
}

// Reset deletes the history of one plot, or everything when plot is empty.
func (s *Store) Reset(plot string) (int64, error) {
	var res sql.Result
	var err error
	if plot != "" {
		res, err = s.db.Exec("DELETE FROM transfer_log WHERE plot = ?", plot)
	} else {
		res, err = s.db.Exec("DELETE FROM transfer_log")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reset history: %w", err)
	}
	return res.RowsAffected()
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
