package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sellerwatch/sellerwatch/pkg/badge"
)

// CurrentBadges returns the last known badge set for an item. The
// badge_state projection is a cache: when its row is missing the set is
// rebuilt from the most recent snapshot, so a partially failed previous
// run can never make the projection the sole source of truth. The second
// return value is false when the item has never been observed at all.
func (d *DB) CurrentBadges(ctx context.Context, asin string) (badge.BadgeSet, bool, error) {
	set := badge.BadgeSet{ASIN: asin}

	var badgesJSON, ranksJSON string
	err := d.sql.QueryRowContext(ctx,
		`SELECT badges_json, ranks_json FROM badge_state WHERE asin = ?`, asin).
		Scan(&badgesJSON, &ranksJSON)
	switch {
	case err == sql.ErrNoRows:
		return d.badgesFromLatestSnapshot(ctx, asin)
	case err != nil:
		return set, false, err
	}

	if err := json.Unmarshal([]byte(badgesJSON), &set.Badges); err != nil {
		return set, false, fmt.Errorf("corrupt badge projection for %s: %w", asin, err)
	}
	if err := json.Unmarshal([]byte(ranksJSON), &set.Ranks); err != nil {
		return set, false, fmt.Errorf("corrupt rank projection for %s: %w", asin, err)
	}
	return set, true, nil
}

// badgesFromLatestSnapshot re-derives the badge set from the newest
// snapshot row when the projection is absent.
func (d *DB) badgesFromLatestSnapshot(ctx context.Context, asin string) (badge.BadgeSet, bool, error) {
	set := badge.BadgeSet{ASIN: asin}

	var ranksJSON, categoriesJSON string
	var fetchedAtStr string
	err := d.sql.QueryRowContext(ctx,
		`SELECT ranks_json, categories_json, fetched_at FROM snapshots WHERE asin = ? ORDER BY fetched_at DESC, id DESC LIMIT 1`, asin).
		Scan(&ranksJSON, &categoriesJSON, &fetchedAtStr)
	if err == sql.ErrNoRows {
		return set, false, nil
	}
	if err != nil {
		return set, false, err
	}

	snap := badge.Snapshot{ASIN: asin, FetchedAt: parseTime(fetchedAtStr)}
	if err := json.Unmarshal([]byte(ranksJSON), &snap.Ranks); err != nil {
		return set, false, fmt.Errorf("corrupt snapshot ranks for %s: %w", asin, err)
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &snap.CategoryNames); err != nil {
		return set, false, fmt.Errorf("corrupt snapshot categories for %s: %w", asin, err)
	}

	derived, _ := badge.Extract(snap)
	return derived, true, nil
}

// SaveItemResult persists the outcome of processing one item within one
// run, transactionally: the new snapshot row (append-only), the updated
// badge_state projection, the run's transitions, and the item's
// last-checked timestamp. Returned transitions carry their database ids.
// The UNIQUE(run_id, asin, category_id, kind) constraint rejects any
// duplicate transition for the same batch.
func (d *DB) SaveItemResult(ctx context.Context, runID string, snap badge.Snapshot, set badge.BadgeSet, transitions []badge.Transition) ([]badge.Transition, error) {
	ranksJSON, err := json.Marshal(snap.Ranks)
	if err != nil {
		return nil, err
	}
	categoriesJSON, err := json.Marshal(snap.CategoryNames)
	if err != nil {
		return nil, err
	}
	badgesJSON, err := json.Marshal(set.Badges)
	if err != nil {
		return nil, err
	}
	setRanksJSON, err := json.Marshal(set.Ranks)
	if err != nil {
		return nil, err
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots(asin, fetched_at, title, ranks_json, categories_json, monthly_sold, raw_payload) VALUES(?,?,?,?,?,?,?)`,
		snap.ASIN, fmtTime(snap.FetchedAt), nullIfEmpty(snap.Title), string(ranksJSON), string(categoriesJSON), nullIfZero(snap.MonthlySold), nullIfEmpty(snap.Raw))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO badge_state(asin, title, badges_json, ranks_json, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(asin) DO UPDATE SET title = excluded.title, badges_json = excluded.badges_json, ranks_json = excluded.ranks_json, updated_at = excluded.updated_at`,
		snap.ASIN, nullIfEmpty(snap.Title), string(badgesJSON), string(setRanksJSON), fmtTime(snap.FetchedAt))
	if err != nil {
		return nil, err
	}

	saved := make([]badge.Transition, 0, len(transitions))
	for _, tr := range transitions {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`INSERT INTO transitions(run_id, asin, category_id, category_name, kind, rank_before, rank_after, detected_at, notification_sent) VALUES(?,?,?,?,?,?,?,?,0)`,
			runID, tr.ASIN, tr.CategoryID, tr.CategoryName, tr.Kind, nullIfZero(tr.RankBefore), nullIfZero(tr.RankAfter), fmtTime(tr.DetectedAt))
		if err != nil {
			return nil, err
		}
		tr.RunID = runID
		tr.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		saved = append(saved, tr)
	}

	_, err = tx.ExecContext(ctx, `UPDATE tracked_items SET last_checked_at = ? WHERE asin = ?`, fmtTime(snap.FetchedAt), snap.ASIN)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// IsNotificationSent reports the persisted notification flag for a
// transition; the dispatcher's suppression check.
func (d *DB) IsNotificationSent(ctx context.Context, id int64) (bool, error) {
	var sent int
	err := d.sql.QueryRowContext(ctx, `SELECT notification_sent FROM transitions WHERE id = ?`, id).Scan(&sent)
	if err != nil {
		return false, err
	}
	return sent == 1, nil
}

// MarkNotificationSent flips the flag false->true. Called only after the
// delivery channel acknowledged the message; a crash before the ack
// leaves the flag false so a later run re-attempts delivery.
func (d *DB) MarkNotificationSent(ctx context.Context, id int64, at time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE transitions SET notification_sent = 1, notified_at = ? WHERE id = ? AND notification_sent = 0`, fmtTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transition %d not found or already marked sent", id)
	}
	return nil
}

// RecentTransitions lists the newest transitions, optionally filtered to
// one ASIN.
func (d *DB) RecentTransitions(ctx context.Context, limit int, asin string) ([]badge.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, run_id, asin, category_id, category_name, kind, rank_before, rank_after, detected_at, notification_sent FROM transitions`
	args := []interface{}{}
	if asin != "" {
		q += ` WHERE asin = ?`
		args = append(args, asin)
	}
	q += ` ORDER BY detected_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return d.queryTransitions(ctx, q, args...)
}

// TransitionsSince lists transitions detected at or after the given
// time, oldest first; feeds the daily summary.
func (d *DB) TransitionsSince(ctx context.Context, since time.Time) ([]badge.Transition, error) {
	q := `SELECT id, run_id, asin, category_id, category_name, kind, rank_before, rank_after, detected_at, notification_sent
FROM transitions WHERE detected_at >= ? ORDER BY detected_at, id`
	return d.queryTransitions(ctx, q, fmtTime(since))
}

// RunTransitions lists the transitions one run produced, in detection
// order.
func (d *DB) RunTransitions(ctx context.Context, runID string) ([]badge.Transition, error) {
	q := `SELECT id, run_id, asin, category_id, category_name, kind, rank_before, rank_after, detected_at, notification_sent
FROM transitions WHERE run_id = ? ORDER BY id`
	return d.queryTransitions(ctx, q, runID)
}

// UnnotifiedTransitions returns transitions whose delivery never got a
// positive acknowledgment, oldest first, so later runs can retry them.
func (d *DB) UnnotifiedTransitions(ctx context.Context, limit int) ([]badge.Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, run_id, asin, category_id, category_name, kind, rank_before, rank_after, detected_at, notification_sent
FROM transitions WHERE notification_sent = 0 ORDER BY detected_at, id LIMIT ?`
	return d.queryTransitions(ctx, q, limit)
}

func (d *DB) queryTransitions(ctx context.Context, q string, args ...interface{}) ([]badge.Transition, error) {
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []badge.Transition
	for rows.Next() {
		var (
			tr          badge.Transition
			rankBefore  sql.NullInt64
			rankAfter   sql.NullInt64
			detectedStr string
			sentInt     int
		)
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.ASIN, &tr.CategoryID, &tr.CategoryName, &tr.Kind, &rankBefore, &rankAfter, &detectedStr, &sentInt); err != nil {
			return nil, err
		}
		tr.RankBefore = int(rankBefore.Int64)
		tr.RankAfter = int(rankAfter.Int64)
		tr.DetectedAt = parseTime(detectedStr)
		tr.NotificationSent = sentInt == 1
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ItemTitle returns the best known display title for an ASIN: the
// projection's title, falling back to the tracked item's.
func (d *DB) ItemTitle(ctx context.Context, asin string) string {
	var titleNS sql.NullString
	err := d.sql.QueryRowContext(ctx, `SELECT title FROM badge_state WHERE asin = ?`, asin).Scan(&titleNS)
	if err == nil && titleNS.Valid && titleNS.String != "" {
		return titleNS.String
	}
	err = d.sql.QueryRowContext(ctx, `SELECT title FROM tracked_items WHERE asin = ?`, asin).Scan(&titleNS)
	if err == nil && titleNS.Valid {
		return titleNS.String
	}
	return ""
}
