package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/sellerwatch/sellerwatch/pkg/retry"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	sent      map[int64]bool
	markCalls int
	markErr   error
}

func newFakeStore() *fakeStore { return &fakeStore{sent: map[int64]bool{}} }

func (s *fakeStore) IsNotificationSent(ctx context.Context, id int64) (bool, error) {
	return s.sent[id], nil
}

func (s *fakeStore) MarkNotificationSent(ctx context.Context, id int64, at time.Time) error {
	s.markCalls++
	if s.markErr != nil {
		return s.markErr
	}
	s.sent[id] = true
	return nil
}

type fakeChannel struct {
	calls    int
	failures int // fail the first N sends
	messages []Message
}

func (c *fakeChannel) Send(ctx context.Context, msg Message) error {
	c.calls++
	if c.calls <= c.failures {
		return fmt.Errorf("%w: channel down", ErrDelivery)
	}
	c.messages = append(c.messages, msg)
	return nil
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func sampleTransition(id int64) badge.Transition {
	return badge.Transition{
		ID:           id,
		ASIN:         "B000NOTIF1",
		CategoryID:   "541966",
		CategoryName: "Electronics",
		Kind:         badge.KindGained,
		RankAfter:    1,
		DetectedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifySendsAndMarks(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	d := NewDispatcher(store, ch, fastRetry())

	res, err := d.Notify(context.Background(), sampleTransition(7), "Portable SSD")
	require.NoError(t, err)
	require.Equal(t, Sent, res)
	require.True(t, store.sent[7])
	require.Equal(t, 1, ch.calls)
}

func TestNotifySuppressesAlreadySent(t *testing.T) {
	store := newFakeStore()
	store.sent[7] = true
	ch := &fakeChannel{}
	d := NewDispatcher(store, ch, fastRetry())

	res, err := d.Notify(context.Background(), sampleTransition(7), "")
	require.NoError(t, err)
	require.Equal(t, Suppressed, res)
	require.Zero(t, ch.calls, "suppressed transitions must not hit the channel")
	require.Zero(t, store.markCalls)
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{failures: 2}
	d := NewDispatcher(store, ch, fastRetry())

	res, err := d.Notify(context.Background(), sampleTransition(9), "")
	require.NoError(t, err)
	require.Equal(t, Sent, res)
	require.Equal(t, 3, ch.calls)
	require.True(t, store.sent[9])
}

func TestNotifyExhaustionLeavesUnsent(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{failures: 100}
	d := NewDispatcher(store, ch, fastRetry())

	res, err := d.Notify(context.Background(), sampleTransition(11), "")
	require.Error(t, err)
	require.Equal(t, Failed, res)
	require.Equal(t, 3, ch.calls, "bounded retries")
	require.False(t, store.sent[11], "flag must stay false without an ack")
	require.Zero(t, store.markCalls)
}

func TestNotifyMarkFailureStillReportsSent(t *testing.T) {
	store := newFakeStore()
	store.markErr = errors.New("disk full")
	ch := &fakeChannel{}
	d := NewDispatcher(store, ch, fastRetry())

	res, err := d.Notify(context.Background(), sampleTransition(13), "")
	require.Error(t, err)
	require.Equal(t, Sent, res, "the channel acked; the caller should count the send")
}

func TestBuildMessageGained(t *testing.T) {
	tr := sampleTransition(0)
	msg := BuildMessage(tr, "Portable SSD 2TB")

	require.Equal(t, "Best Seller Alert: B000NOTIF1", msg.Text)
	require.Len(t, msg.Blocks, 3)

	main := msg.Blocks[0].Text.Text
	require.Contains(t, main, "🎉")
	require.Contains(t, main, "GAINED")
	require.Contains(t, main, "`B000NOTIF1`")
	require.Contains(t, main, "Portable SSD 2TB")
	require.Contains(t, main, "Electronics")
	require.Contains(t, main, "new → #1")
	require.Contains(t, main, "2025-06-01 12:00:00 UTC")

	buttons := msg.Blocks[2].Elements
	require.Len(t, buttons, 2)
	require.Equal(t, "https://amazon.com/dp/B000NOTIF1", buttons[0].URL)
	require.True(t, strings.HasPrefix(buttons[1].URL, "https://keepa.com/"))
}

func TestBuildMessageLost(t *testing.T) {
	tr := badge.Transition{
		ASIN:         "B000NOTIF2",
		CategoryID:   "100",
		CategoryName: "Widgets",
		Kind:         badge.KindLost,
		RankBefore:   1,
		DetectedAt:   time.Now().UTC(),
	}
	msg := BuildMessage(tr, "")

	main := msg.Blocks[0].Text.Text
	require.Contains(t, main, "LOST")
	require.Contains(t, main, "#1 → unranked")
	require.Contains(t, main, "Product B000NOTIF2", "missing title falls back to a synthetic label")
}
