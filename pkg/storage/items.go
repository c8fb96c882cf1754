package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrItemExists is returned when adding an ASIN that is already tracked.
var ErrItemExists = errors.New("item is already tracked")

// AddItem starts tracking an ASIN. Interval and priority fall back to
// sane defaults when unset.
func (d *DB) AddItem(ctx context.Context, item TrackedItem) error {
	if item.IntervalMinutes <= 0 {
		item.IntervalMinutes = 60
	}
	if item.Priority <= 0 {
		item.Priority = 1
	}

	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO tracked_items(asin, title, interval_minutes, priority, active, created_at) VALUES(?,?,?,?,1,CURRENT_TIMESTAMP)`,
		item.ASIN, nullIfEmpty(item.Title), item.IntervalMinutes, item.Priority)
	if err != nil {
		// A duplicate primary key is the only constraint on this insert;
		// anything else is a real store failure and passes through as-is.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrItemExists, item.ASIN)
		}
		return err
	}
	return nil
}

// SetItemActive toggles monitoring for an item. Items are never deleted.
func (d *DB) SetItemActive(ctx context.Context, asin string, active bool) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE tracked_items SET active = ? WHERE asin = ?`, boolToInt(active), asin)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown item %s", asin)
	}
	return nil
}

// ListItems returns tracked items, optionally including deactivated ones.
func (d *DB) ListItems(ctx context.Context, includeInactive bool) ([]TrackedItem, error) {
	q := `SELECT asin, title, interval_minutes, priority, active, created_at, last_checked_at FROM tracked_items`
	if !includeInactive {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY priority, asin`

	rows, err := d.sql.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DueItems selects active items whose monitoring interval has elapsed
// since their last check (or that have never been checked), highest
// priority first. priority <= 0 means no priority filter.
func (d *DB) DueItems(ctx context.Context, now time.Time, limit, priority int) ([]TrackedItem, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT asin, title, interval_minutes, priority, active, created_at, last_checked_at
FROM tracked_items
WHERE active = 1
  AND (last_checked_at IS NULL
       OR datetime(last_checked_at, '+' || interval_minutes || ' minutes') <= datetime(?))`
	args := []interface{}{fmtTime(now)}
	if priority > 0 {
		q += ` AND priority = ?`
		args = append(args, priority)
	}
	q += ` ORDER BY priority, last_checked_at LIMIT ?`
	args = append(args, limit)

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// TouchItemChecked records when an item was last checked.
func (d *DB) TouchItemChecked(ctx context.Context, asin string, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE tracked_items SET last_checked_at = ? WHERE asin = ?`, fmtTime(at), asin)
	return err
}

func scanItem(rows *sql.Rows) (TrackedItem, error) {
	var (
		item        TrackedItem
		titleNS     sql.NullString
		activeInt   int
		createdStr  string
		lastChecked sql.NullString
	)
	if err := rows.Scan(&item.ASIN, &titleNS, &item.IntervalMinutes, &item.Priority, &activeInt, &createdStr, &lastChecked); err != nil {
		return TrackedItem{}, err
	}
	item.Title = titleNS.String
	item.Active = activeInt == 1
	item.CreatedAt = parseTime(createdStr)
	item.LastCheckedAt = parseNullTime(lastChecked)
	return item, nil
}
