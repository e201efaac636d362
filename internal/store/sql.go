package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/helix/internal/model"
)

// runColumns is the column list shared by every run SELECT.
const runColumns = `id, state, provider_type, external_handle, spec, outputs,
	error_message, submit_attempts, created_at, start_time, end_time,
	last_reconciled_at, next_attempt_at`

// runStore implements Store against any database/sql driver. Queries are
// written with ? placeholders; bind rewrites them for drivers that number
// their parameters.
type runStore struct {
	db   *sql.DB
	bind func(query string) string
	*runLocks
}

func (s *runStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *runStore) CreateRun(ctx context.Context, r *model.Run) error {
	spec, err := json.Marshal(r.Spec)
	if err != nil {
		return fmt.Errorf("marshal submission spec: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.bind(
		`INSERT INTO runs (
			id, state, provider_type, external_handle, spec, outputs,
			error_message, submit_attempts, created_at, start_time, end_time,
			last_reconciled_at, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.State, r.ProviderType, r.ExternalHandle, string(spec),
		nullString(string(r.Outputs)), r.ErrorMessage, r.SubmitAttempts,
		r.CreatedAt.UTC(), nullTime(r.StartTime), nullTime(r.EndTime),
		nullTime(r.LastReconciledAt), nullTime(r.NextAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *runStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, s.bind(
		`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// GetTasks returns the run's task list in provider-reported order.
func (s *runStore) GetTasks(ctx context.Context, runID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, run_id, name, cmd, start_time, end_time, exit_code, stdout, stderr
		FROM tasks WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var cmd, stdout, stderr sql.NullString
		var start, end sql.NullTime
		var exitCode sql.NullInt64
		if err := rows.Scan(&t.ID, &t.RunID, &t.Name, &cmd, &start, &end, &exitCode, &stdout, &stderr); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Command = cmd.String
		t.Stdout = stdout.String
		t.Stderr = stderr.String
		t.StartTime = timePtr(start)
		t.EndTime = timePtr(end)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			t.ExitCode = &code
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ListRuns returns one page of runs ordered by id ascending. It fetches
// pageSize+1 rows and trims, emitting a next-page token only when the
// trimmed row existed.
func (s *runStore) ListRuns(ctx context.Context, filter ListFilter, pageToken string, pageSize int) ([]*model.Run, string, error) {
	where := []string{"1 = 1"}
	var args []any

	if pageToken != "" {
		afterID, err := decodeCursor(pageToken)
		if err != nil {
			return nil, "", err
		}
		where = append(where, "id > ?")
		args = append(args, afterID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, filter.State)
	}
	if filter.ProviderType != "" {
		where = append(where, "provider_type = ?")
		args = append(args, filter.ProviderType)
	}
	args = append(args, pageSize+1)

	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT `+runColumns+` FROM runs WHERE `+strings.Join(where, " AND ")+
			` ORDER BY id LIMIT ?`), args...)
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate runs: %w", err)
	}

	next := ""
	if len(runs) > pageSize {
		runs = runs[:pageSize]
		next = encodeCursor(runs[len(runs)-1].ID)
	}
	return runs, next, nil
}

// CompareAndSetState applies one reconciliation pass atomically: the state
// change, any field updates, and the wholesale task replacement share a
// transaction, so readers observe either the whole pass or none of it.
func (s *runStore) CompareAndSetState(ctx context.Context, id, expectedState string, upd StateUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	set := []string{"state = ?", "last_reconciled_at = ?"}
	args := []any{upd.State, time.Now().UTC()}

	if upd.ExternalHandle != nil {
		set = append(set, "external_handle = ?")
		args = append(args, *upd.ExternalHandle)
	}
	if upd.StartTime != nil {
		set = append(set, "start_time = ?")
		args = append(args, upd.StartTime.UTC())
	}
	if upd.EndTime != nil {
		set = append(set, "end_time = ?")
		args = append(args, upd.EndTime.UTC())
	}
	if upd.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.Outputs != nil {
		set = append(set, "outputs = ?")
		args = append(args, string(upd.Outputs))
	}
	if upd.SubmitAttempts != nil {
		set = append(set, "submit_attempts = ?")
		args = append(args, *upd.SubmitAttempts)
	}
	if upd.ClearNextAttempt {
		set = append(set, "next_attempt_at = NULL")
	} else if upd.NextAttemptAt != nil {
		set = append(set, "next_attempt_at = ?")
		args = append(args, upd.NextAttemptAt.UTC())
	}
	args = append(args, id, expectedState)

	res, err := tx.ExecContext(ctx, s.bind(
		`UPDATE runs SET `+strings.Join(set, ", ")+` WHERE id = ? AND state = ?`), args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, s.bind(`SELECT state FROM runs WHERE id = ?`), id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check run state: %w", err)
		}
		return fmt.Errorf("%w: have %s, expected %s", ErrStateConflict, current, expectedState)
	}

	if upd.Tasks != nil {
		if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM tasks WHERE run_id = ?`), id); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		for i, t := range upd.Tasks {
			if _, err := tx.ExecContext(ctx, s.bind(
				`INSERT INTO tasks (run_id, seq, id, name, cmd, start_time, end_time, exit_code, stdout, stderr)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				id, i, t.ID, t.Name, nullString(t.Command),
				nullTime(t.StartTime), nullTime(t.EndTime), nullInt(t.ExitCode),
				nullString(t.Stdout), nullString(t.Stderr),
			); err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TouchReconciled records a pass that left the run otherwise unchanged.
func (s *runStore) TouchReconciled(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.bind(
		`UPDATE runs SET last_reconciled_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReconcilable returns ids for the poll loop: due QUEUED runs plus
// non-terminal runs whose last reconciliation predates staleBefore.
func (s *runStore) ListReconcilable(ctx context.Context, now, staleBefore time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id FROM runs
		WHERE (state = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
		   OR (state IN (?, ?, ?, ?) AND (last_reconciled_at IS NULL OR last_reconciled_at <= ?))
		ORDER BY id LIMIT ?`),
		model.StateQueued, now.UTC(),
		model.StateInitializing, model.StateRunning, model.StatePaused, model.StateCanceling,
		staleBefore.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reconcilable: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return ids, nil
}

// GetRunStats returns aggregate run counts by state and provider.
func (s *runStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		ByState:    make(map[string]int),
		ByProvider: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state, provider_type, COUNT(*) FROM runs GROUP BY state, provider_type`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state, provider string
		var count int
		if err := rows.Scan(&state, &provider, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Total += count
		stats.ByState[state] += count
		stats.ByProvider[provider] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	var spec string
	var outputs sql.NullString
	var start, end, reconciled, nextAttempt sql.NullTime
	if err := sc.Scan(
		&r.ID, &r.State, &r.ProviderType, &r.ExternalHandle, &spec, &outputs,
		&r.ErrorMessage, &r.SubmitAttempts, &r.CreatedAt, &start, &end,
		&reconciled, &nextAttempt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(spec), &r.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal submission spec: %w", err)
	}
	if outputs.Valid && outputs.String != "" {
		r.Outputs = json.RawMessage(outputs.String)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.StartTime = timePtr(start)
	r.EndTime = timePtr(end)
	r.LastReconciledAt = timePtr(reconciled)
	r.NextAttemptAt = timePtr(nextAttempt)
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
