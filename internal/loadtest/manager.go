package loadtest

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/wssampler/internal/migrations"
)

// Manager handles load run persistence
type Manager struct {
	db *sql.DB
}

// NewManager creates a new load run manager
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	m := &Manager{db: db}

	// Run database migrations (includes schema initialization)
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// CreateRun creates a new load run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO load_runs
		(plan_name, plan_file, users, iterations, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.PlanName, run.PlanFile, run.Users, run.Iterations, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates a load run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE load_runs
		SET completed_at = ?, status = ?, total_samples = ?, total_success = ?, total_mismatch = ?,
		    total_connect_timeouts = ?, total_response_timeouts = ?, total_cancelled = ?, total_errors = ?,
		    avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalSamples, run.TotalSuccess, run.TotalMismatch,
		run.TotalConnectTimeouts, run.TotalResponseTimeouts, run.TotalCancelled, run.TotalErrors,
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

const runColumns = `
	id, plan_name, plan_file, users, iterations, started_at, completed_at, status,
	COALESCE(total_samples, 0), COALESCE(total_success, 0), COALESCE(total_mismatch, 0),
	COALESCE(total_connect_timeouts, 0), COALESCE(total_response_timeouts, 0), COALESCE(total_cancelled, 0), COALESCE(total_errors, 0),
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0)`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.PlanName, &run.PlanFile, &run.Users, &run.Iterations,
		&run.StartedAt, &completedAt, &run.Status,
		&run.TotalSamples, &run.TotalSuccess, &run.TotalMismatch,
		&run.TotalConnectTimeouts, &run.TotalResponseTimeouts, &run.TotalCancelled, &run.TotalErrors,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	run, err := scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM load_runs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return run, nil
}

// ListRuns returns load runs, newest first. limit <= 0 returns all of them.
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM load_runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a load run and all its samples
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM load_samples WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	result, err := tx.Exec("DELETE FROM load_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to delete run %d: %w", id, sql.ErrNoRows)
	}
	return tx.Commit()
}

// SaveSamplesBatch saves multiple samples in a single transaction
func (m *Manager) SaveSamplesBatch(samples []*Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO load_samples
		(run_id, user_id, iteration, round_name, timestamp, elapsed_ms, duration_ms, outcome,
		 matched, reused, error_code, message_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		_, err := stmt.Exec(s.RunID, s.UserID, s.Iteration, s.RoundName, s.Timestamp, s.ElapsedMs,
			s.DurationMs, s.Outcome, s.Matched, s.Reused, s.ErrorCode, s.MessageCount, s.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	return tx.Commit()
}

// GetSamples retrieves all samples for a run in elapsed order
func (m *Manager) GetSamples(runID int64) ([]*Sample, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, user_id, iteration, round_name, timestamp, elapsed_ms, duration_ms, outcome,
		       matched, reused, error_code, message_count, COALESCE(error_message, '')
		FROM load_samples
		WHERE run_id = ?
		ORDER BY elapsed_ms, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get samples: %w", err)
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		s := &Sample{}
		err := rows.Scan(&s.ID, &s.RunID, &s.UserID, &s.Iteration, &s.RoundName, &s.Timestamp,
			&s.ElapsedMs, &s.DurationMs, &s.Outcome, &s.Matched, &s.Reused, &s.ErrorCode,
			&s.MessageCount, &s.ErrorMessage)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// GetRoundSummary aggregates a run's samples per round name
func (m *Manager) GetRoundSummary(runID int64) ([]*RoundSummary, error) {
	rows, err := m.db.Query(`
		SELECT round_name, COUNT(*), SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), AVG(duration_ms)
		FROM load_samples
		WHERE run_id = ?
		GROUP BY round_name
		ORDER BY MIN(id)
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize rounds: %w", err)
	}
	defer rows.Close()

	var out []*RoundSummary
	for rows.Next() {
		rs := &RoundSummary{}
		if err := rows.Scan(&rs.RoundName, &rs.Samples, &rs.Success, &rs.AvgDurationMs); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
