package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/sellerwatch/sellerwatch/pkg/retry"
)

// DeliveryResult is the outcome of a notification attempt.
type DeliveryResult int

const (
	Sent DeliveryResult = iota
	Suppressed
	Failed
)

func (r DeliveryResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Suppressed:
		return "suppressed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SentStore is the slice of the persistent store the dispatcher needs for
// its at-most-once contract.
type SentStore interface {
	IsNotificationSent(ctx context.Context, id int64) (bool, error)
	MarkNotificationSent(ctx context.Context, id int64, at time.Time) error
}

// Dispatcher delivers transition alerts with at-most-once semantics per
// transition: it suppresses transitions already marked sent, retries
// channel failures with bounded backoff, and marks the persisted flag
// only after the channel acknowledged the message. Exhausted retries
// leave the flag false so a later run re-attempts delivery.
type Dispatcher struct {
	Store   SentStore
	Channel Channel
	Retry   retry.Policy
}

func NewDispatcher(store SentStore, channel Channel, policy retry.Policy) *Dispatcher {
	return &Dispatcher{Store: store, Channel: channel, Retry: policy}
}

// Notify delivers one transition alert. The title is the product display
// name when known.
func (d *Dispatcher) Notify(ctx context.Context, tr badge.Transition, title string) (DeliveryResult, error) {
	// Suppression check: a replayed run must not double-send.
	if tr.ID != 0 {
		sent, err := d.Store.IsNotificationSent(ctx, tr.ID)
		if err != nil {
			return Failed, err
		}
		if sent {
			utils.Log.Debugf("notify: suppressing already-sent transition %d (%s %s %s)", tr.ID, tr.ASIN, tr.Kind, tr.CategoryID)
			return Suppressed, nil
		}
	}

	msg := BuildMessage(tr, title)
	err := d.Retry.Do(ctx, func() error {
		return d.Channel.Send(ctx, msg)
	}, func(err error) bool {
		return errors.Is(err, ErrDelivery)
	})
	if err != nil {
		return Failed, err
	}

	if tr.ID != 0 {
		// The channel acked; a failure to persist the flag means the
		// event may be re-delivered later, which beats losing the alert.
		if err := d.Store.MarkNotificationSent(ctx, tr.ID, time.Now().UTC()); err != nil {
			utils.Log.Warnf("notify: sent transition %d but could not mark it: %v", tr.ID, err)
			return Sent, err
		}
	}
	return Sent, nil
}
