package storage

import (
	"context"
	"database/sql"
)

// CreateRun inserts a batch run in the running state.
func (d *DB) CreateRun(ctx context.Context, run BatchRun) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO batch_runs(id, started_at, status) VALUES(?,?,?)`,
		run.ID, fmtTime(run.StartedAt), RunRunning)
	return err
}

// FinalizeRun writes the final counters and status for a run. Runs are
// append-only once finalized; this is the single finalizing write.
func (d *DB) FinalizeRun(ctx context.Context, run BatchRun) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE batch_runs SET completed_at = ?, items_attempted = ?, items_succeeded = ?, transitions_found = ?, notifications_sent = ?, cost_tokens = ?, status = ? WHERE id = ?`,
		fmtTime(run.CompletedAt), run.ItemsAttempted, run.ItemsSucceeded, run.TransitionsFound, run.NotificationsSent, run.CostTokens, run.Status, run.ID)
	return err
}

// AddCostEntry appends one cost-ledger row, one per external fetch call.
func (d *DB) AddCostEntry(ctx context.Context, e CostEntry) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO cost_ledger(run_id, recorded_at, asins_requested, tokens_consumed, tokens_left) VALUES(?,?,?,?,?)`,
		e.RunID, fmtTime(e.RecordedAt), e.ASINsRequested, e.TokensConsumed, e.TokensLeft)
	return err
}

// AddRunError records a captured per-item or per-group error.
func (d *DB) AddRunError(ctx context.Context, e RunError) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO run_errors(run_id, asin, stage, message, occurred_at) VALUES(?,?,?,?,?)`,
		e.RunID, nullIfEmpty(e.ASIN), e.Stage, e.Message, fmtTime(e.OccurredAt))
	return err
}

// RunErrors lists the errors captured for one run.
func (d *DB) RunErrors(ctx context.Context, runID string) ([]RunError, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT run_id, asin, stage, message, occurred_at FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunError
	for rows.Next() {
		var (
			e          RunError
			asinNS     sql.NullString
			occurredAt string
		)
		if err := rows.Scan(&e.RunID, &asinNS, &e.Stage, &e.Message, &occurredAt); err != nil {
			return nil, err
		}
		e.ASIN = asinNS.String
		e.OccurredAt = parseTime(occurredAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRuns returns the most recent batch runs.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, started_at, completed_at, items_attempted, items_succeeded, transitions_found, notifications_sent, cost_tokens, status
FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchRun
	for rows.Next() {
		var (
			run         BatchRun
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &startedAt, &completedAt, &run.ItemsAttempted, &run.ItemsSucceeded, &run.TransitionsFound, &run.NotificationsSent, &run.CostTokens, &run.Status); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(startedAt)
		run.CompletedAt = parseNullTime(completedAt)
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRun fetches a single run by id.
func (d *DB) GetRun(ctx context.Context, id string) (BatchRun, error) {
	var (
		run         BatchRun
		startedAt   string
		completedAt sql.NullString
	)
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, started_at, completed_at, items_attempted, items_succeeded, transitions_found, notifications_sent, cost_tokens, status
FROM batch_runs WHERE id = ?`, id).
		Scan(&run.ID, &startedAt, &completedAt, &run.ItemsAttempted, &run.ItemsSucceeded, &run.TransitionsFound, &run.NotificationsSent, &run.CostTokens, &run.Status)
	if err != nil {
		return BatchRun{}, err
	}
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseNullTime(completedAt)
	return run, nil
}

// GetStats aggregates counts for the stats command and the status API.
func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats

	row := d.sql.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tracked_items),
			(SELECT COUNT(*) FROM tracked_items WHERE active = 1),
			(SELECT COUNT(*) FROM transitions),
			(SELECT COUNT(*) FROM batch_runs),
			(SELECT COALESCE(SUM(tokens_consumed), 0) FROM cost_ledger);
	`)
	if err := row.Scan(&s.TrackedItems, &s.ActiveItems, &s.TotalTransitions, &s.TotalRuns, &s.TotalCostTokens); err != nil {
		return Stats{}, err
	}

	// Badges currently held: count entries across projection rows.
	rows, err := d.sql.QueryContext(ctx, `SELECT badges_json FROM badge_state`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var badgesJSON string
		if err := rows.Scan(&badgesJSON); err != nil {
			return Stats{}, err
		}
		s.BadgesHeld += countJSONKeys(badgesJSON)
	}
	return s, rows.Err()
}
