package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWorkers     = 4
	defaultBuffer      = 64
	defaultMaxAttempts = 5
	deliveryTimeout    = 10 * time.Second
)

// Dispatcher delivers messages on a small worker pool. Enqueue never blocks
// the caller; failed or overflowing messages land in the retry queue.
type Dispatcher struct {
	notifier    Notifier
	queue       RetryQueue
	logger      *slog.Logger
	workers     int
	maxAttempts int

	mu     sync.RWMutex
	closed bool
	jobs   chan Message
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the number of delivery goroutines
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMaxAttempts caps redelivery of a message
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatcherLogger sets the logger for delivery failures
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher starts the worker pool. A nil queue means an in-memory one.
func NewDispatcher(notifier Notifier, queue RetryQueue, opts ...DispatcherOption) *Dispatcher {
	if queue == nil {
		queue = NewMemoryQueue()
	}
	d := &Dispatcher{
		notifier:    notifier,
		queue:       queue,
		logger:      slog.Default(),
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.jobs = make(chan Message, defaultBuffer)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := d.deliver(ctx, &msg); err != nil {
			d.fail(ctx, msg, err)
		}
		cancel()
	}
}

// Enqueue hands msg to the workers
func (d *Dispatcher) Enqueue(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed {
		select {
		case d.jobs <- msg:
			return
		default:
		}
	}
	d.logger.Warn("notification deferred to retry queue",
		slog.String("application_id", msg.ApplicationID),
		slog.Bool("closed", d.closed))
	if err := d.queue.Push(context.Background(), msg); err != nil {
		d.logger.Error("failed to queue notification",
			slog.String("application_id", msg.ApplicationID),
			slog.String("error", err.Error()))
	}
}

// Deliver sends msg synchronously
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	return d.deliver(ctx, &msg)
}

// deliver marks the in-app part as sent so a retry only resends the email
func (d *Dispatcher) deliver(ctx context.Context, msg *Message) error {
	if !msg.Notified {
		err := d.notifier.Notify(ctx, msg.RecipientID, msg.Title, msg.Body, msg.Severity)
		if err != nil {
			return fmt.Errorf("notify %s: %w", msg.RecipientID, err)
		}
		msg.Notified = true
	}
	if msg.Email != "" && msg.HTML != "" {
		if err := d.notifier.Email(ctx, msg.Email, msg.Title, msg.HTML); err != nil {
			return fmt.Errorf("email %s: %w", msg.Email, err)
		}
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, msg Message, cause error) {
	msg.Attempts++
	attrs := []any{
		slog.String("application_id", msg.ApplicationID),
		slog.String("message_id", msg.ID),
		slog.Int("attempts", msg.Attempts),
		slog.String("error", cause.Error()),
	}
	if msg.Attempts >= d.maxAttempts {
		d.logger.Error("notification dropped", attrs...)
		return
	}
	d.logger.Warn("notification failed, will retry", attrs...)
	if err := d.queue.Push(ctx, msg); err != nil {
		d.logger.Error("failed to queue notification", slog.String("error", err.Error()))
	}
}

// RetryPending drains the retry queue once. Messages that fail again go back
// with their attempt count increased. It returns how many were delivered.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	n, err := d.queue.Len(ctx)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for i := 0; i < n; i++ {
		msg, ok, err := d.queue.Pop(ctx)
		if err != nil {
			return delivered, err
		}
		if !ok {
			break
		}
		if err := d.deliver(ctx, &msg); err != nil {
			d.fail(ctx, msg, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Pending returns the retry queue length
func (d *Dispatcher) Pending(ctx context.Context) (int, error) {
	return d.queue.Len(ctx)
}

// Close stops accepting work and waits for in-flight deliveries
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("notification workers still running"), ctx.Err())
	}
}
