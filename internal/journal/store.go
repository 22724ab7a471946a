// Package journal records every run in a local SQLite database: the search
// it polled for, each reservation attempt, classified errors, and the final
// reservation and payment. The Store is an engine.Observer.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// DefaultFile is the journal database name inside the data directory.
const DefaultFile = "journal.db"

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run outcomes
const (
	OutcomeRunning   = "running"
	OutcomeReserved  = "reserved"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Attempt outcomes
const (
	AttemptReserved = "reserved"
	AttemptRejected = "rejected"
	AttemptFailed   = "failed"
)

// RunInfo describes a run at start.
type RunInfo struct {
	Query   protocol.SearchQuery
	Seat    string
	AutoPay bool
}

// Run is one journalled run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Departure  string
	Arrival    string
	Date       string
	Hour       string
	Seat       string
	Polls      int
	Errors     int
	Outcome    string
	PNR        string
	Paid       bool
}

// Attempt is one journalled reservation attempt.
type Attempt struct {
	RunID     string
	At        time.Time
	TrainNo   string
	DepDate   string
	DepTime   string
	Seat      string
	Outcome   string
	ErrorKind string
	Message   string
}

// Store is the SQLite journal of one process. All engine callbacks are
// recorded under the current run.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time

	mutex sync.Mutex
	runID string
}

// Open opens or creates the journal at path.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.GetJournalLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, (5 * time.Second).Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single writer keeps SQLite from returning "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	store := &Store{db: db, logger: logger, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		departure TEXT NOT NULL,
		arrival TEXT NOT NULL,
		dep_date TEXT NOT NULL,
		dep_hour TEXT NOT NULL,
		seat TEXT NOT NULL,
		auto_pay INTEGER NOT NULL DEFAULT 0,
		polls INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT 'running',
		pnr TEXT NOT NULL DEFAULT '',
		paid INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		at TEXT NOT NULL,
		train_no TEXT NOT NULL,
		dep_date TEXT NOT NULL,
		dep_time TEXT NOT NULL,
		seat TEXT NOT NULL,
		outcome TEXT NOT NULL CHECK(outcome IN ('reserved', 'rejected', 'failed')),
		error_kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS error_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		at TEXT NOT NULL,
		operation TEXT NOT NULL,
		kind TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		at TEXT NOT NULL,
		pnr TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '',
		ok INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}

// StartRun opens a new run and makes it current. It returns the run id.
func (s *Store) StartRun(ctx context.Context, info RunInfo) (string, error) {
	id := uuid.NewString()
	query := `
	INSERT INTO runs (id, started_at, departure, arrival, dep_date, dep_hour, seat, auto_pay)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, s.timestamp(),
		info.Query.Departure, info.Query.Arrival, info.Query.Date, info.Query.Hour,
		info.Seat, info.AutoPay); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}

	s.mutex.Lock()
	s.runID = id
	s.mutex.Unlock()
	s.logger.Debug("Run started", "run_id", id)
	return id, nil
}

// RunID returns the current run id, or "" before StartRun.
func (s *Store) RunID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.runID
}

// FinishRun records the run's outcome and the reservation, if any.
func (s *Store) FinishRun(ctx context.Context, outcome, pnr string) error {
	runID := s.RunID()
	if runID == "" {
		return fmt.Errorf("no run in progress")
	}
	query := `UPDATE runs SET finished_at = ?, outcome = ?, pnr = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, s.timestamp(), outcome, pnr, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordPayment journals a payment attempt for the current run.
func (s *Store) RecordPayment(ctx context.Context, pnr, amount string, payErr error) error {
	runID := s.RunID()
	if runID == "" {
		return fmt.Errorf("no run in progress")
	}
	message := ""
	if payErr != nil {
		message = payErr.Error()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payments (run_id, at, pnr, amount, ok, message) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, s.timestamp(), pnr, amount, payErr == nil, message); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if payErr == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET paid = 1 WHERE id = ?`, runID); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
	}
	return tx.Commit()
}

// PollCompleted implements engine.Observer
func (s *Store) PollCompleted(attempt int, _ []protocol.Train) {
	s.exec("record poll", `UPDATE runs SET polls = ? WHERE id = ?`, attempt)
}

// ErrorClassified implements engine.Observer
func (s *Store) ErrorClassified(op errors.Operation, kind errors.Kind) {
	runID := s.RunID()
	if runID == "" {
		return
	}
	s.execRaw("record error",
		`INSERT INTO error_events (run_id, at, operation, kind) VALUES (?, ?, ?, ?)`,
		runID, s.timestamp(), string(op), kind.String())
	s.exec("record error", `UPDATE runs SET errors = errors + 1 WHERE id = ?`)
}

// ReservationAttempted implements engine.Observer
func (s *Store) ReservationAttempted(train protocol.Train, seat protocol.SeatClass, err error) {
	runID := s.RunID()
	if runID == "" {
		return
	}
	outcome, kind, message := AttemptReserved, "", ""
	if err != nil {
		k := errors.Classify(err)
		outcome, kind, message = AttemptFailed, k.String(), err.Error()
		if k == errors.KindBusinessRejection {
			outcome = AttemptRejected
		}
	}
	s.execRaw("record attempt",
		`INSERT INTO attempts (run_id, at, train_no, dep_date, dep_time, seat, outcome, error_kind, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.timestamp(), train.TrainNo, train.DepDate, train.DepTime, string(seat), outcome, kind, message)
}

// exec runs an update against the current run. The run id is appended as
// the last argument.
func (s *Store) exec(what, query string, args ...interface{}) {
	runID := s.RunID()
	if runID == "" {
		return
	}
	s.execRaw(what, query, append(args, runID)...)
}

// execRaw runs a statement for an observer callback. Observer callbacks
// cannot fail, so errors are logged.
func (s *Store) execRaw(what, query string, args ...interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.Warn("Journal write failed", "operation", what, "error", err.Error())
	}
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
	SELECT id, started_at, finished_at, departure, arrival, dep_date, dep_hour, seat, polls, errors, outcome, pnr, paid
	FROM runs
	ORDER BY started_at DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Departure, &r.Arrival, &r.Date, &r.Hour,
			&r.Seat, &r.Polls, &r.Errors, &r.Outcome, &r.PNR, &r.Paid); err != nil {
			return nil, err
		}
		if t, err := time.Parse(timeFormat, started); err == nil {
			r.StartedAt = t
		}
		if finished.Valid {
			if t, err := time.Parse(timeFormat, finished.String); err == nil {
				r.FinishedAt = &t
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Attempts returns the reservation attempts of a run in order.
func (s *Store) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	query := `
	SELECT run_id, at, train_no, dep_date, dep_time, seat, outcome, error_kind, message
	FROM attempts
	WHERE run_id = ?
	ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var at string
		if err := rows.Scan(&a.RunID, &at, &a.TrainNo, &a.DepDate, &a.DepTime, &a.Seat,
			&a.Outcome, &a.ErrorKind, &a.Message); err != nil {
			return nil, err
		}
		if t, err := time.Parse(timeFormat, at); err == nil {
			a.At = t
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ErrorCounts returns the classified errors of a run by kind.
func (s *Store) ErrorCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM error_events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
