package events

import (
	"context"
	"errors"
	"time"
)

// StreamOptions tunes live job streams.
type StreamOptions struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

func (o StreamOptions) keepalive() time.Duration {
	if o.KeepaliveInterval <= 0 {
		return 10 * time.Second
	}
	return o.KeepaliveInterval
}

func (o StreamOptions) retry() time.Duration {
	if o.RetryDelay <= 0 {
		return 5 * time.Second
	}
	return o.RetryDelay
}

// ErrSubscriptionDropped ends a stream whose subscription the broker closed
// before the job finished. Clients should resume from their last event ID.
var ErrSubscriptionDropped = errors.New("subscription dropped")

// pump writes the snapshot, the backlog after lastID and then live events
// until the job is done, the subscription is dropped or ctx ends.
func pump(ctx context.Context, b *Broker, snapshot Event, lastID int64, keepalive time.Duration,
	send func(Event) error, ping func() error) error {
	backlog, ch, cancel := b.Subscribe(snapshot.JobID, lastID)
	defer cancel()

	if err := send(snapshot); err != nil {
		return err
	}
	if snapshot.Type == TypeDone {
		return nil
	}

	for _, ev := range backlog {
		if err := send(ev); err != nil {
			return err
		}
		if ev.Type == TypeDone {
			return nil
		}
	}

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return ErrSubscriptionDropped
			}
			if err := send(ev); err != nil {
				return err
			}
			if ev.Type == TypeDone {
				return nil
			}
		case <-ticker.C:
			if err := ping(); err != nil {
				return err
			}
		}
	}
}
