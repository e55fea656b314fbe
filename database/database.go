package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/jnesss/errsnoop/stack"
)

// DB handles database operations
type DB struct {
	Db *sql.DB
}

// ErrorStackRecord represents a reported error stack in the database
type ErrorStackRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EntryFunc string    `json:"entryFunc"`
	Result    int64     `json:"result"`
	ErrName   string    `json:"errName"`
	Depth     int       `json:"depth"`
	Stitched  bool      `json:"stitched"`
	StackText string    `json:"stackText"`
}

// NewDB opens (creating if needed) the sqlite database at dbPath.
func NewDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	if err := initErrorStackSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize error stack schema")
	}

	return &DB{Db: db}, nil
}

func initErrorStackSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS error_stacks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp  DATETIME NOT NULL,
		entry_func TEXT NOT NULL,
		result     INTEGER NOT NULL,
		err_name   TEXT,
		depth      INTEGER NOT NULL,
		stitched   BOOLEAN NOT NULL DEFAULT 0,
		stack_text TEXT NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to create error_stacks table")
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_stack_timestamp ON error_stacks(timestamp);",
		"CREATE INDEX IF NOT EXISTS idx_stack_entry_func ON error_stacks(entry_func);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return errors.Wrap(err, "failed to create index")
		}
	}

	return nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.Db.Close()
}

// InsertErrorStack stores one rendered error stack. It implements
// stack.Recorder.
func (db *DB) InsertErrorStack(r *stack.Report) error {
	_, err := db.Db.Exec(`
		INSERT INTO error_stacks (
			timestamp, entry_func, result, err_name, depth, stitched, stack_text
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.EntryFunc, r.Result, r.ErrName, r.Depth, r.Stitched, r.Text,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert error stack")
	}
	return nil
}

// RecentErrorStacks returns up to limit stacks, newest first.
func (db *DB) RecentErrorStacks(limit int) ([]ErrorStackRecord, error) {
	rows, err := db.Db.Query(`
		SELECT id, timestamp, entry_func, result, err_name, depth, stitched, stack_text
		FROM error_stacks
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query error stacks")
	}
	defer rows.Close()

	var records []ErrorStackRecord
	for rows.Next() {
		rec, err := scanErrorStack(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetErrorStack returns a single stack by id, or sql.ErrNoRows.
func (db *DB) GetErrorStack(id int64) (ErrorStackRecord, error) {
	row := db.Db.QueryRow(`
		SELECT id, timestamp, entry_func, result, err_name, depth, stitched, stack_text
		FROM error_stacks
		WHERE id = ?`, id)
	return scanErrorStack(row)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanErrorStack(s scanner) (ErrorStackRecord, error) {
	var rec ErrorStackRecord
	var errName sql.NullString
	err := s.Scan(&rec.ID, &rec.Timestamp, &rec.EntryFunc, &rec.Result,
		&errName, &rec.Depth, &rec.Stitched, &rec.StackText)
	if err != nil {
		if err == sql.ErrNoRows {
			return rec, err
		}
		return rec, errors.Wrap(err, "failed to scan error stack")
	}
	rec.ErrName = errName.String
	return rec, nil
}
