// Package journal keeps an audit trail of coordinator flows in SQLite.
//
// Every state transition is one row, ordered by a logical sequence number
// that resumes from the highest stored value when the file is reopened. The
// journal records what flows did; it is not a copy of the record store and
// nothing is restored from it.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/kudosync/internal/coordinator"
	"github.com/roach88/kudosync/internal/fault"
	"github.com/roach88/kudosync/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on transitions(user_id, seq)
const currentSchemaVersion = 1

// Entry is one journaled transition.
type Entry struct {
	Seq        int64             `json:"seq"`
	Token      string            `json:"token"`
	Kind       coordinator.Kind  `json:"kind"`
	From       coordinator.State `json:"from,omitempty"`
	To         coordinator.State `json:"to"`
	UserID     record.ID         `json:"userId"`
	Amount     int64             `json:"amount"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  fault.Kind        `json:"errorKind,omitempty"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Journal is an open journal file.
//
// Thread-safety: safe for concurrent use. Writes are serialized by the single
// connection.
type Journal struct {
	db     *sql.DB
	clock  *clock
	logger *slog.Logger
}

// Open creates or opens a journal at path and applies pragmas and
// migrations. The database is configured with WAL mode, NORMAL synchronous
// mode, a 5-second busy timeout and foreign key enforcement.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(seq) FROM transitions").Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read last seq: %w", err)
	}

	return &Journal{db: db, clock: newClockAt(last.Int64), logger: slog.Default()}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends a transition.
func (j *Journal) Record(ctx context.Context, t coordinator.Transition) error {
	var msg string
	var kind fault.Kind
	if t.Err != nil {
		msg = t.Err.Error()
		kind = fault.KindOf(t.Err)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(seq, token, kind, from_state, to_state, user_id, amount, error, error_kind, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.clock.Next(),
		t.Token,
		string(t.Kind),
		string(t.From),
		string(t.To),
		int64(t.UserID),
		t.Amount,
		msg,
		string(kind),
		t.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ObserveTransition implements coordinator.Observer. A failed write is
// logged: losing an audit row must not fail the flow.
func (j *Journal) ObserveTransition(t coordinator.Transition) {
	if err := j.Record(context.Background(), t); err != nil {
		j.logger.Warn("journal write failed", "flow", t.Token, "state", t.To, "error", err)
	}
}

// Flow returns every transition of one flow in order.
// Returns an empty slice (not nil) for an unknown token.
func (j *Journal) Flow(ctx context.Context, token string) ([]Entry, error) {
	return j.query(ctx, `
		SELECT seq, token, kind, from_state, to_state, user_id, amount, error, error_kind, recorded_at
		FROM transitions
		WHERE token = ?
		ORDER BY seq ASC
	`, token)
}

// Recent returns the last limit transitions, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT seq, token, kind, from_state, to_state, user_id, amount, error, error_kind, recorded_at
		FROM transitions
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
}

// Outcomes returns the terminal transition of the last limit finished flows,
// newest first.
func (j *Journal) Outcomes(ctx context.Context, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT seq, token, kind, from_state, to_state, user_id, amount, error, error_kind, recorded_at
		FROM transitions
		WHERE to_state IN (?, ?)
		ORDER BY seq DESC
		LIMIT ?
	`, string(coordinator.StateCommitted), string(coordinator.StateRolledBack), limit)
}

// LastSeq returns the highest sequence number written.
func (j *Journal) LastSeq() int64 {
	return j.clock.Current()
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind, from, to, errKind, at string
		var userID int64
		if err := rows.Scan(&e.Seq, &e.Token, &kind, &from, &to, &userID, &e.Amount, &e.Error, &errKind, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.Kind = coordinator.Kind(kind)
		e.From = coordinator.State(from)
		e.To = coordinator.State(to)
		e.UserID = record.ID(userID)
		e.ErrorKind = fault.Kind(errKind)
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("transition %d recorded_at: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return entries, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes transitions by user for per-user history.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transitions_user
		ON transitions(user_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
