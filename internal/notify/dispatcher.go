package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/cascade/internal/ledger"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

// AddressBook resolves the notification address of an account.
type AddressBook interface {
	Account(ctx context.Context, id string) (ledger.Account, error)
}

// Stats counts dispatcher outcomes since creation.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Skipped int64 `json:"skipped"`
}

type queued struct {
	accountID string
	event     Event
}

// Dispatcher queues events and delivers them from a single worker goroutine.
// Notify never blocks: when the queue is full the event is dropped and
// logged.
type Dispatcher struct {
	sender  Sender
	book    AddressBook
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}

	sent, failed, dropped, skipped atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan queued, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSendTimeout bounds each address lookup plus send.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher and starts its worker. Call Close to
// drain and stop it.
func NewDispatcher(sender Sender, book AddressBook, opts ...DispatcherOption) *Dispatcher {
	if sender == nil {
		sender = NopSender{}
	}
	d := &Dispatcher{
		sender:  sender,
		book:    book,
		logger:  slog.Default(),
		timeout: defaultSendTimeout,
		queue:   make(chan queued, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Notify enqueues e for accountID.
func (d *Dispatcher) Notify(accountID string, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("notification dropped after close", "account", accountID, "kind", e.Kind)
		return
	}
	select {
	case d.queue <- queued{accountID: accountID, event: e}:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping", "account", accountID, "kind", e.Kind)
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
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

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Skipped: d.skipped.Load(),
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		d.deliver(q)
	}
}

func (d *Dispatcher) deliver(q queued) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var chatID int64
	if d.book != nil {
		account, err := d.book.Account(ctx, q.accountID)
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("notification address lookup failed", "account", q.accountID, "error", err)
			return
		}
		chatID = account.TelegramChatID
	}
	if chatID == 0 {
		d.skipped.Add(1)
		return
	}

	if err := d.sender.Send(ctx, chatID, q.event.Message()); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification failed", "account", q.accountID, "kind", q.event.Kind, "error", err)
		return
	}
	d.sent.Add(1)
}
