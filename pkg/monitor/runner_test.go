package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/sellerwatch/sellerwatch/pkg/keepa"
	"github.com/sellerwatch/sellerwatch/pkg/notify"
	"github.com/sellerwatch/sellerwatch/pkg/retry"
	"github.com/sellerwatch/sellerwatch/pkg/storage"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    [][]string
	ranks    map[string]map[string]int // asin -> category -> rank
	failWhen func(asins []string) error
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, asins []string) ([]badge.Snapshot, keepa.CallMeta, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), asins...))
	f.mu.Unlock()

	if f.failWhen != nil {
		if err := f.failWhen(asins); err != nil {
			return nil, keepa.CallMeta{}, err
		}
	}

	fetchedAt := time.Now().UTC()
	var out []badge.Snapshot
	for _, asin := range asins {
		ranks, ok := f.ranks[asin]
		if !ok {
			continue // unknown ASIN, the API returns null
		}
		names := make(map[string]string, len(ranks))
		for cat := range ranks {
			names[cat] = "Category " + cat
		}
		out = append(out, badge.Snapshot{
			ASIN:          asin,
			FetchedAt:     fetchedAt,
			Title:         "Product " + asin,
			Ranks:         ranks,
			CategoryNames: names,
		})
	}
	return out, keepa.CallMeta{TokensConsumed: len(asins), TokensLeft: 1000}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []badge.Transition
	fail bool
}

func (n *recordingNotifier) Notify(ctx context.Context, tr badge.Transition, title string) (notify.DeliveryResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return notify.Failed, fmt.Errorf("channel down")
	}
	n.sent = append(n.sent, tr)
	return notify.Sent, nil
}

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "monitor.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedItems(t *testing.T, db *storage.DB, n int) []storage.TrackedItem {
	t.Helper()
	items := make([]storage.TrackedItem, n)
	for i := range items {
		items[i] = storage.TrackedItem{ASIN: fmt.Sprintf("B%09d", i)}
		require.NoError(t, db.AddItem(context.Background(), items[i]))
	}
	return items
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRunBatchGroupsCallsAndCost(t *testing.T) {
	db := openTestDB(t)
	items := seedItems(t, db, 150)

	fetcher := &fakeFetcher{ranks: map[string]map[string]int{}}
	for _, item := range items {
		fetcher.ranks[item.ASIN] = map[string]int{"100": 5}
	}

	r := &Runner{Store: db, Fetcher: fetcher, GroupSize: 100, Retry: fastRetry()}
	sum, err := r.RunBatch(context.Background(), items)
	require.NoError(t, err)

	require.Equal(t, 2, fetcher.callCount(), "150 items at group size 100 is exactly 2 calls")
	require.Len(t, fetcher.calls[0], 100)
	require.Len(t, fetcher.calls[1], 50)
	require.Equal(t, 150, sum.ItemsAttempted)
	require.Equal(t, 150, sum.ItemsSucceeded)
	require.Equal(t, 150, sum.CostTokens, "one token per ASIN across both calls")
	require.Zero(t, sum.TransitionsFound, "rank 5 never produces a badge")

	run, err := db.GetRun(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Equal(t, storage.RunCompleted, run.Status)
	require.Equal(t, 150, run.CostTokens)
}

func TestRunBatchDetectsAndNotifiesInOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	items := seedItems(t, db, 1)
	asin := items[0].ASIN

	fetcher := &fakeFetcher{ranks: map[string]map[string]int{
		asin: {"300": 1, "21": 1, "9": 4},
	}}
	notifier := &recordingNotifier{}

	r := &Runner{Store: db, Fetcher: fetcher, Notifier: notifier, Retry: fastRetry()}
	sum, err := r.RunBatch(ctx, items)
	require.NoError(t, err)

	require.Equal(t, 2, sum.TransitionsFound)
	require.Equal(t, 2, sum.NotificationsSent)
	require.Len(t, notifier.sent, 2)
	require.Equal(t, badge.KindGained, notifier.sent[0].Kind)
	require.Equal(t, "21", notifier.sent[0].CategoryID, "ascending category id within a kind")
	require.Equal(t, "300", notifier.sent[1].CategoryID)

	// Second run with an unchanged set stays quiet.
	items2, err := db.ListItems(ctx, false)
	require.NoError(t, err)
	sum2, err := r.RunBatch(ctx, items2)
	require.NoError(t, err)
	require.Zero(t, sum2.TransitionsFound)
	require.Len(t, notifier.sent, 2)
}

func TestRunBatchIsolatesFailedGroup(t *testing.T) {
	db := openTestDB(t)
	items := seedItems(t, db, 30)

	fetcher := &fakeFetcher{ranks: map[string]map[string]int{}}
	for _, item := range items {
		fetcher.ranks[item.ASIN] = map[string]int{"100": 1}
	}
	// The middle group never comes back.
	badASIN := items[10].ASIN
	fetcher.failWhen = func(asins []string) error {
		for _, a := range asins {
			if a == badASIN {
				return fmt.Errorf("%w: connection reset", keepa.ErrTransport)
			}
		}
		return nil
	}

	r := &Runner{Store: db, Fetcher: fetcher, GroupSize: 10, Retry: fastRetry()}
	sum, err := r.RunBatch(context.Background(), items)
	require.NoError(t, err, "a transport failure must not fail the run")

	require.Equal(t, 30, sum.ItemsAttempted)
	require.Equal(t, 20, sum.ItemsSucceeded)
	require.Equal(t, 20, sum.TransitionsFound, "the surviving groups still produce their first-sight badges")
	require.Equal(t, 1, sum.Errors)

	run, err := db.GetRun(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Equal(t, storage.RunCompletedWithErrors, run.Status)

	errs, err := db.RunErrors(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "fetch", errs[0].Stage)
	// Every item of the failed group must be attributable from the record.
	for _, item := range items[10:20] {
		require.Contains(t, errs[0].Message, item.ASIN)
	}
}

func TestRunBatchConfigurationErrorFailsRun(t *testing.T) {
	db := openTestDB(t)
	items := seedItems(t, db, 5)

	fetcher := &fakeFetcher{
		ranks: map[string]map[string]int{},
		failWhen: func([]string) error {
			return fmt.Errorf("%w: status 401", keepa.ErrConfiguration)
		},
	}

	r := &Runner{Store: db, Fetcher: fetcher, Retry: fastRetry()}
	sum, err := r.RunBatch(context.Background(), items)
	require.ErrorIs(t, err, keepa.ErrConfiguration)
	require.Equal(t, 1, fetcher.callCount(), "configuration errors must not be retried")

	run, dbErr := db.GetRun(context.Background(), sum.RunID)
	require.NoError(t, dbErr)
	require.Equal(t, storage.RunFailed, run.Status)
}

func TestRunBatchSkipsItemsWithoutRankData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	items := seedItems(t, db, 2)

	fetcher := &fakeFetcher{ranks: map[string]map[string]int{
		items[0].ASIN: {"100": 1},
		items[1].ASIN: {}, // product exists but carries no ranks
	}}

	r := &Runner{Store: db, Fetcher: fetcher, Retry: fastRetry()}
	sum, err := r.RunBatch(ctx, items)
	require.NoError(t, err)

	require.Equal(t, 2, sum.ItemsAttempted)
	require.Equal(t, 1, sum.ItemsSucceeded)
	require.Equal(t, 1, sum.Errors)

	errs, err := db.RunErrors(ctx, sum.RunID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "extract", errs[0].Stage)
	require.Equal(t, items[1].ASIN, errs[0].ASIN)
}

func TestRunBatchDedupesItems(t *testing.T) {
	db := openTestDB(t)
	items := seedItems(t, db, 1)
	fetcher := &fakeFetcher{ranks: map[string]map[string]int{
		items[0].ASIN: {"100": 3},
	}}

	r := &Runner{Store: db, Fetcher: fetcher, Retry: fastRetry()}
	sum, err := r.RunBatch(context.Background(), append(items, items[0]))
	require.NoError(t, err)
	require.Equal(t, 1, sum.ItemsAttempted)
	require.Len(t, fetcher.calls[0], 1)
}

func TestRunBatchNotifyFailureKeepsTransition(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	items := seedItems(t, db, 1)

	fetcher := &fakeFetcher{ranks: map[string]map[string]int{
		items[0].ASIN: {"100": 1},
	}}
	notifier := &recordingNotifier{fail: true}

	r := &Runner{Store: db, Fetcher: fetcher, Notifier: notifier, Retry: fastRetry()}
	sum, err := r.RunBatch(ctx, items)
	require.NoError(t, err)
	require.Equal(t, 1, sum.TransitionsFound)
	require.Zero(t, sum.NotificationsSent)

	pending, err := db.UnnotifiedTransitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "an undelivered transition stays queued for later runs")
}
