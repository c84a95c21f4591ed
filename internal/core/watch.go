package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/lib/pq"

	"github.com/coregx/strata/internal/dialects"
)

// watchPingInterval is how often an idle subscription verifies its
// connection is still alive.
const watchPingInterval = 90 * time.Second

// Notification is one message delivered on a watched channel.
type Notification struct {
	Channel string
	Payload string
}

// Subscription is an active watch on a notification channel. It owns a
// dedicated connection outside the pool; Close retires that connection
// instead of returning it.
type Subscription struct {
	channel  string
	listener *pq.Listener
	notify   chan Notification
	done     chan struct{}
	closing  sync.Once
	wg       sync.WaitGroup
}

// Watch subscribes to a notification channel. PostgreSQL only; other
// dialects return ErrWatchUnsupported. The subscription survives
// connection loss: the underlying listener reconnects with exponential
// backoff and reissues LISTEN, so no resubscribe is needed. Notifications
// sent while disconnected are lost, which is inherent to the mechanism.
func (p *Pool) Watch(ctx context.Context, channel string) (*Subscription, error) {
	if p.closed.Load() {
		return nil, ErrConnClosed
	}
	if p.dialect.Name != "postgres" {
		return nil, fmt.Errorf("strata: dialect %s: %w", p.dialect.Name, ErrWatchUnsupported)
	}

	dsn := p.dsn
	if p.credFn != nil {
		creds, err := p.credFn(ctx)
		if err != nil {
			return nil, fmt.Errorf("strata: resolve credentials: %w", err)
		}
		dsn, err = dialects.PostgresDSN(dsn, creds.Identity, creds.Secret)
		if err != nil {
			return nil, err
		}
	}

	reconnect := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	log := p.logger
	listener := pq.NewListener(dsn, reconnect.Min, reconnect.Max,
		func(event pq.ListenerEventType, err error) {
			switch event {
			case pq.ListenerEventConnectionAttemptFailed:
				log.Warn("watch connect failed", "channel", channel, "error", err)
			case pq.ListenerEventDisconnected:
				log.Warn("watch disconnected", "channel", channel, "error", err)
			case pq.ListenerEventReconnected:
				log.Info("watch reconnected", "channel", channel)
			}
		})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, normalizeError(p.dialect, "listen "+channel, err)
	}

	sub := &Subscription{
		channel:  channel,
		listener: listener,
		notify:   make(chan Notification, 64),
		done:     make(chan struct{}),
	}
	sub.wg.Add(1)
	go sub.loop(ctx, p)
	p.logger.Debug("watch started", "channel", channel)
	return sub, nil
}

// Channel returns the watched channel name.
func (sub *Subscription) Channel() string {
	return sub.channel
}

// Notifications returns the delivery channel. It closes when the
// subscription ends.
func (sub *Subscription) Notifications() <-chan Notification {
	return sub.notify
}

// Close ends the subscription and retires its connection. Safe to call
// more than once.
func (sub *Subscription) Close() error {
	var err error
	sub.closing.Do(func() {
		close(sub.done)
		err = sub.listener.Close()
		sub.wg.Wait()
	})
	return err
}

// loop forwards notifications and supervises the connection with periodic
// pings. Ping failures retry on an exponential schedule; the listener's
// own reconnect machinery does the actual repair.
func (sub *Subscription) loop(ctx context.Context, p *Pool) {
	defer sub.wg.Done()
	defer close(sub.notify)

	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	ping := time.NewTimer(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-sub.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnect marker from the driver, nothing to deliver.
				continue
			}
			retry.Reset()
			select {
			case sub.notify <- Notification{Channel: n.Channel, Payload: n.Extra}:
			default:
				p.logger.Warn("watch buffer full, dropping notification",
					"channel", sub.channel)
			}
		case <-ping.C:
			if err := sub.listener.Ping(); err != nil {
				delay := retry.Duration()
				p.logger.Warn("watch ping failed",
					"channel", sub.channel, "retry_in", delay, "error", err)
				resetTimer(ping, delay)
				continue
			}
			retry.Reset()
			resetTimer(ping, watchPingInterval)
		case <-ctx.Done():
			_ = sub.listener.Close()
			return
		case <-sub.done:
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
