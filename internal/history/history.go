// Package history records every attempt to persist a weekly schedule.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

type Outcome string

const (
	OutcomeSaved  Outcome = "saved"
	OutcomeFailed Outcome = "failed"
)

// Change is one row of the schedule change log.
type Change struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	SessionID       string          `json:"sessionId"`
	Outcome         Outcome         `json:"outcome"`
	Strategy        string          `json:"strategy,omitempty"`
	ConflictIDs     []string        `json:"conflictIds"`
	Schedule        json.RawMessage `json:"schedule,omitempty"`
	PreviousVersion int64           `json:"previousVersion"`
	NewVersion      int64           `json:"newVersion"`
	Unverified      bool            `json:"unverified"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// DB wraps sql.DB for the change log.
type DB struct {
	*sql.DB
}

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS schedule_changes (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			conflict_ids TEXT NOT NULL DEFAULT '[]',
			conflicts_count INTEGER NOT NULL DEFAULT 0,
			schedule_json TEXT,
			previous_version INTEGER NOT NULL DEFAULT 0,
			new_version INTEGER NOT NULL DEFAULT 0,
			unverified BOOLEAN NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedule_changes_order ON schedule_changes(order_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Record inserts a change. Empty ID and CreatedAt are filled in.
func (db *DB) Record(ctx context.Context, c *Change) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.ConflictIDs == nil {
		c.ConflictIDs = []string{}
	}
	ids, err := json.Marshal(c.ConflictIDs)
	if err != nil {
		return err
	}
	var sched sql.NullString
	if len(c.Schedule) > 0 {
		sched = sql.NullString{String: string(c.Schedule), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO schedule_changes (id, order_id, session_id, outcome, strategy, conflict_ids,
			conflicts_count, schedule_json, previous_version, new_version, unverified, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrderID, c.SessionID, string(c.Outcome), c.Strategy, string(ids),
		len(c.ConflictIDs), sched, c.PreviousVersion, c.NewVersion, c.Unverified, c.Error, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule change: %w", err)
	}
	return nil
}

// ListByOrder returns the changes of an order, newest first.
func (db *DB) ListByOrder(ctx context.Context, orderID string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, session_id, outcome, strategy, conflict_ids, schedule_json,
			previous_version, new_version, unverified, error, created_at
		FROM schedule_changes
		WHERE order_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query schedule changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			c       Change
			outcome string
			ids     string
			sched   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.OrderID, &c.SessionID, &outcome, &c.Strategy, &ids, &sched,
			&c.PreviousVersion, &c.NewVersion, &c.Unverified, &c.Error, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Outcome = Outcome(outcome)
		if err := json.Unmarshal([]byte(ids), &c.ConflictIDs); err != nil {
			return nil, fmt.Errorf("decode conflict ids of %s: %w", c.ID, err)
		}
		if sched.Valid {
			c.Schedule = json.RawMessage(sched.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
