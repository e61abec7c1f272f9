package notify

import (
	"context"
	"errors"
	"stakeledger/internal/config"
	"stakeledger/internal/metrics"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var log = config.InitLogger()

const (
	KindPaymentConfirmation = "payment_confirmation"
	KindReconciliationAlert = "reconciliation_alert"
)

var ErrClosed = errors.New("dispatcher closed")

type Notification struct {
	Kind      string
	Reference string
	Text      string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher delivers notifications on a background worker. Dispatch never
// blocks and never reports delivery failures to the caller.
type Dispatcher struct {
	sender  Sender
	queue   chan Notification
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sender Sender, size int) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		queue:   make(chan Notification, size),
		timeout: 15 * time.Second,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues n. It reports false when the queue is full or closed and
// the notification was dropped.
func (d *Dispatcher) Dispatch(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "dropped").Inc()
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "dropped").Inc()
		log.WithFields(logrus.Fields{"kind": n.Kind, "reference": n.Reference}).Warn("Notification queue full, dropping")
		return false
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(n.Kind, "failed").Inc()
		log.WithFields(logrus.Fields{"kind": n.Kind, "reference": n.Reference}).Error("Failed to deliver notification: ", err)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("notification_kind", n.Kind)
			scope.SetExtra("reference", n.Reference)
			sentry.CaptureException(err)
		})
		return
	}
	metrics.NotificationsTotal.WithLabelValues(n.Kind, "sent").Inc()
}
