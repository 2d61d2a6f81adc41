package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gkobilansky/funnel-goat/internal/events"
	"github.com/gkobilansky/funnel-goat/internal/frame"
	"github.com/gkobilansky/funnel-goat/internal/variation"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_name ON experiments(name);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    row_num INTEGER NOT NULL,
    client_id TEXT NOT NULL,
    visit_id TEXT NOT NULL,
    step TEXT NOT NULL,
    occurred_at TEXT,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_row ON events(experiment_id, row_num);
CREATE INDEX IF NOT EXISTS idx_events_visit ON events(experiment_id, visit_id);

CREATE TABLE IF NOT EXISTS assignments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    client_id TEXT NOT NULL,
    arm TEXT NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_client ON assignments(experiment_id, client_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EventColumns names the columns of the tables returned by LoadEvents.
func EventColumns() events.Columns {
	return events.DefaultColumns()
}

// ArmColumns names the columns of the tables returned by LoadAssignments.
func ArmColumns() variation.Columns {
	return variation.DefaultColumns()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, name, description string) (*Experiment, error) {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &Experiment{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   time.Unix(now, 0),
		UpdatedAt:   time.Unix(now, 0),
	}, nil
}

// GetOrCreateExperiment returns the named experiment, creating it if needed.
// The bool reports whether it was created.
func (s *SQLiteStore) GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, bool, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err == nil {
		return exp, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	exp, err = s.CreateExperiment(ctx, name, "")
	if err != nil {
		return nil, false, err
	}
	return exp, true, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	var exp Experiment
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM experiments WHERE name = ?`, name,
	).Scan(&exp.ID, &exp.Name, &exp.Description, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)
	return &exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at
		 FROM experiments ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var exps []*Experiment
	for rows.Next() {
		var exp Experiment
		var createdAt, updatedAt int64
		if err := rows.Scan(&exp.ID, &exp.Name, &exp.Description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		exp.CreatedAt = time.Unix(createdAt, 0)
		exp.UpdatedAt = time.Unix(updatedAt, 0)
		exps = append(exps, &exp)
	}

	return exps, rows.Err()
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, name string) error {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// First delete related rows
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE experiment_id = ?`, exp.ID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE experiment_id = ?`, exp.ID); err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, exp.ID); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}

	return tx.Commit()
}

// ImportEvents replaces the experiment's event log with evs, keeping their row order.
func (s *SQLiteStore) ImportEvents(ctx context.Context, name string, evs []events.Event) (int, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE experiment_id = ?`, exp.ID); err != nil {
		return 0, fmt.Errorf("failed to clear events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (experiment_id, row_num, client_id, visit_id, step, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range evs {
		var occurredAt sql.NullString
		if e.HasTime {
			occurredAt = sql.NullString{String: e.Time.UTC().Format(events.CanonicalLayout), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, exp.ID, i, e.ClientID, e.VisitID, e.Step, occurredAt); err != nil {
			return 0, fmt.Errorf("failed to insert event %d: %w", i, err)
		}
	}

	if err := s.touch(ctx, tx, exp.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit events: %w", err)
	}
	return len(evs), nil
}

// ImportAssignments replaces the experiment's arm assignments.
func (s *SQLiteStore) ImportAssignments(ctx context.Context, name string, a *variation.Assignments) (int, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE experiment_id = ?`, exp.ID); err != nil {
		return 0, fmt.Errorf("failed to clear assignments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assignments (experiment_id, client_id, arm) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	clients := a.Clients()
	for _, c := range clients {
		arm, _ := a.Arm(c)
		if _, err := stmt.ExecContext(ctx, exp.ID, c, arm); err != nil {
			return 0, fmt.Errorf("failed to insert assignment for %s: %w", c, err)
		}
	}

	if err := s.touch(ctx, tx, exp.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit assignments: %w", err)
	}
	return len(clients), nil
}

func (s *SQLiteStore) touch(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE experiments SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	return nil
}

// LoadEvents returns the imported event log in its original row order, with
// the columns of EventColumns. Null timestamps come back as empty cells.
func (s *SQLiteStore) LoadEvents(ctx context.Context, name string) (*frame.Frame, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, visit_id, step, occurred_at
		 FROM events WHERE experiment_id = ? ORDER BY row_num`,
		exp.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var client, visit, step string
		var occurredAt sql.NullString
		if err := rows.Scan(&client, &visit, &step, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, []string{client, visit, step, occurredAt.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	cols := EventColumns()
	return frame.New([]string{cols.Client, cols.Visit, cols.Step, cols.Time}, out), nil
}

// LoadAssignments returns the imported assignment table with the columns of ArmColumns.
func (s *SQLiteStore) LoadAssignments(ctx context.Context, name string) (*frame.Frame, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, arm FROM assignments WHERE experiment_id = ? ORDER BY id`,
		exp.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var client, arm string
		if err := rows.Scan(&client, &arm); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, []string{client, arm})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}

	cols := ArmColumns()
	return frame.New([]string{cols.Client, cols.Arm}, out), nil
}

func (s *SQLiteStore) GetCounts(ctx context.Context, name string) (*Counts, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	c := &Counts{ClientsBy: make(map[string]int)}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT visit_id),
			COUNT(DISTINCT client_id),
			COUNT(*) - COUNT(occurred_at)
		FROM events
		WHERE experiment_id = ?
	`, exp.ID).Scan(&c.Events, &c.Visits, &c.Clients, &c.UntimedRows)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT arm, COUNT(*)
		FROM assignments
		WHERE experiment_id = ?
		GROUP BY arm
		ORDER BY arm
	`, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var arm string
		var n int
		if err := rows.Scan(&arm, &n); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		c.ClientsBy[arm] = n
		c.Assigned += n
	}

	return c, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
