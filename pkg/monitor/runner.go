package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/sellerwatch/sellerwatch/pkg/keepa"
	"github.com/sellerwatch/sellerwatch/pkg/notify"
	"github.com/sellerwatch/sellerwatch/pkg/retry"
	"github.com/sellerwatch/sellerwatch/pkg/storage"
)

// Fetcher retrieves current product data for a group of ASINs in one
// upstream call.
type Fetcher interface {
	FetchBatch(ctx context.Context, asins []string) ([]badge.Snapshot, keepa.CallMeta, error)
}

// Notifier delivers one transition alert.
type Notifier interface {
	Notify(ctx context.Context, tr badge.Transition, title string) (notify.DeliveryResult, error)
}

// Runner executes one batch cycle: it partitions the due items into
// fetch groups, fans the groups out over a worker pool, and for each
// item diffs the fresh badge set against the stored one, persists the
// result and dispatches alerts. Each item belongs to exactly one group
// and each group is owned by exactly one worker, so there is a single
// writer per item throughout the run.
type Runner struct {
	Store    *storage.DB
	Fetcher  Fetcher
	Notifier Notifier // nil disables alert delivery

	GroupSize   int // ASINs per upstream call, capped at the API limit
	Concurrency int // worker count, defaults to 1
	Retry       retry.Policy
}

// RunBatch processes the given tracked items as one batch run. Per-item
// and per-group failures are recorded and skipped; the run keeps going.
// Only a configuration error (bad credentials, exhausted plan) aborts
// the run, fails it in the store, and is returned to the caller.
func (r *Runner) RunBatch(ctx context.Context, items []storage.TrackedItem) (Summary, error) {
	runID := uuid.New().String()
	startedAt := time.Now().UTC()
	ledger := NewLedger(runID)

	if err := r.Store.CreateRun(ctx, storage.BatchRun{ID: runID, StartedAt: startedAt}); err != nil {
		return ledger.Summary(), err
	}

	groups := partition(dedupe(items), r.groupSize())
	utils.Log.Infof("run %s: %d items in %d groups", runID, countItems(groups), len(groups))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalMu  sync.Mutex
		fatalErr error
	)
	fatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancel()
	}

	groupCh := make(chan []storage.TrackedItem)
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groupCh {
				if ctx.Err() != nil {
					continue
				}
				if err := r.processGroup(ctx, runID, group, ledger); err != nil {
					fatal(err)
				}
			}
		}()
	}
	for _, group := range groups {
		groupCh <- group
	}
	close(groupCh)
	wg.Wait()

	fatalMu.Lock()
	err := fatalErr
	fatalMu.Unlock()

	sum := ledger.Summary()
	status := storage.RunCompleted
	switch {
	case err != nil:
		status = storage.RunFailed
	case sum.Errors > 0:
		status = storage.RunCompletedWithErrors
	}

	finErr := r.Store.FinalizeRun(context.WithoutCancel(ctx), storage.BatchRun{
		ID:                runID,
		CompletedAt:       time.Now().UTC(),
		ItemsAttempted:    sum.ItemsAttempted,
		ItemsSucceeded:    sum.ItemsSucceeded,
		TransitionsFound:  sum.TransitionsFound,
		NotificationsSent: sum.NotificationsSent,
		CostTokens:        sum.CostTokens,
		Status:            status,
	})
	if err == nil {
		err = finErr
	}

	utils.Log.Infof("run %s %s: %d/%d items, %d transitions, %d notified, %d tokens",
		runID, status, sum.ItemsSucceeded, sum.ItemsAttempted, sum.TransitionsFound, sum.NotificationsSent, sum.CostTokens)
	return sum, err
}

// processGroup fetches one group and works through its items
// sequentially. A non-nil return means the whole run must stop.
func (r *Runner) processGroup(ctx context.Context, runID string, group []storage.TrackedItem, ledger *Ledger) error {
	asins := make([]string, len(group))
	for i, item := range group {
		asins[i] = item.ASIN
	}

	var (
		snapshots []badge.Snapshot
		meta      keepa.CallMeta
	)
	err := r.Retry.Do(ctx, func() error {
		var ferr error
		snapshots, meta, ferr = r.Fetcher.FetchBatch(ctx, asins)
		return ferr
	}, func(err error) bool {
		return !errors.Is(err, keepa.ErrConfiguration)
	})
	if err != nil {
		ledger.Attempted(len(group))
		// The row carries the whole group's ASINs so every failed
		// attempt stays attributable in the audit trail.
		groupErr := fmt.Errorf("group fetch failed for %s: %w", strings.Join(asins, ","), err)
		r.recordError(ctx, runID, "", "fetch", groupErr, ledger)
		if errors.Is(err, keepa.ErrConfiguration) {
			return err
		}
		utils.Log.Warnf("run %s: group of %d failed to fetch: %v", runID, len(group), err)
		return nil
	}

	if err := r.Store.AddCostEntry(ctx, storage.CostEntry{
		RunID:          runID,
		RecordedAt:     time.Now().UTC(),
		ASINsRequested: len(asins),
		TokensConsumed: meta.TokensConsumed,
		TokensLeft:     meta.TokensLeft,
	}); err != nil {
		utils.Log.Warnf("run %s: recording cost entry: %v", runID, err)
	}
	ledger.Cost(meta.TokensConsumed)

	byASIN := make(map[string]badge.Snapshot, len(snapshots))
	for _, s := range snapshots {
		byASIN[s.ASIN] = s
	}

	for _, item := range group {
		ledger.Attempted(1)
		if err := r.processItem(ctx, runID, item, byASIN, ledger); err != nil {
			utils.Log.Warnf("run %s: item %s: %v", runID, item.ASIN, err)
		}
	}
	return nil
}

// processItem diffs, persists and notifies for a single item. Errors
// are recorded against the run and returned for logging; they never
// stop the group.
func (r *Runner) processItem(ctx context.Context, runID string, item storage.TrackedItem, byASIN map[string]badge.Snapshot, ledger *Ledger) error {
	snap, ok := byASIN[item.ASIN]
	if !ok {
		err := fmt.Errorf("product not returned by the API")
		r.recordError(ctx, runID, item.ASIN, "fetch", err, ledger)
		return err
	}

	curr, usable := badge.Extract(snap)
	if !usable {
		// No rank data at all is a data-quality problem, not a lost
		// badge: skip the item and leave its stored state untouched.
		err := fmt.Errorf("no usable sales rank data")
		r.recordError(ctx, runID, item.ASIN, "extract", err, ledger)
		return err
	}

	prev, _, err := r.Store.CurrentBadges(ctx, item.ASIN)
	if err != nil {
		r.recordError(ctx, runID, item.ASIN, "diff", err, ledger)
		return err
	}

	transitions := badge.Diff(prev, curr, snap.FetchedAt)
	saved, err := r.Store.SaveItemResult(ctx, runID, snap, curr, transitions)
	if err != nil {
		r.recordError(ctx, runID, item.ASIN, "persist", err, ledger)
		return err
	}
	ledger.Succeeded()
	ledger.Transitions(len(saved))

	if r.Notifier == nil {
		return nil
	}
	title := snap.Title
	if title == "" {
		title = item.Title
	}
	for _, tr := range saved {
		res, err := r.Notifier.Notify(ctx, tr, title)
		switch res {
		case notify.Sent:
			ledger.Notified()
		case notify.Failed:
			// The flag stays false; a later run picks it up again.
			r.recordError(ctx, runID, item.ASIN, "notify", err, ledger)
		}
	}
	return nil
}

func (r *Runner) recordError(ctx context.Context, runID, asin, stage string, err error, ledger *Ledger) {
	ledger.Errored()
	if dbErr := r.Store.AddRunError(context.WithoutCancel(ctx), storage.RunError{
		RunID:      runID,
		ASIN:       asin,
		Stage:      stage,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}); dbErr != nil {
		utils.Log.Warnf("run %s: recording %s error: %v", runID, stage, dbErr)
	}
}

func (r *Runner) groupSize() int {
	if r.GroupSize <= 0 || r.GroupSize > keepa.MaxBatchSize {
		return keepa.MaxBatchSize
	}
	return r.GroupSize
}

func (r *Runner) concurrency() int {
	if r.Concurrency <= 0 {
		return 1
	}
	return r.Concurrency
}

// dedupe drops repeated ASINs, keeping the first occurrence so the
// priority ordering of the input survives.
func dedupe(items []storage.TrackedItem) []storage.TrackedItem {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, item := range items {
		if seen[item.ASIN] {
			continue
		}
		seen[item.ASIN] = true
		out = append(out, item)
	}
	return out
}

// partition splits the items into groups of at most size, preserving
// order.
func partition(items []storage.TrackedItem, size int) [][]storage.TrackedItem {
	var groups [][]storage.TrackedItem
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		groups = append(groups, items[:n])
		items = items[n:]
	}
	return groups
}

func countItems(groups [][]storage.TrackedItem) int {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	return n
}
