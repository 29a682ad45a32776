// Package notify delivers candidate notifications after a transition has
// been committed. Delivery is fire-and-forget: failures go to a retry queue
// and never affect application state.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Severity classifies a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier is the outbound notification port
type Notifier interface {
	Notify(ctx context.Context, recipientID, title, message string, severity Severity) error
	Email(ctx context.Context, address, subject, htmlBody string) error
}

// Message is one queued notification
type Message struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	RecipientID   string    `json:"recipient_id"`
	Email         string    `json:"email,omitempty"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	HTML          string    `json:"html,omitempty"`
	Severity      Severity  `json:"severity"`
	Attempts      int       `json:"attempts"`
	Notified      bool      `json:"notified,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LogNotifier writes notifications to a structured logger
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

func (n LogNotifier) Notify(ctx context.Context, recipientID, title, message string, severity Severity) error {
	n.logger().InfoContext(ctx, "notification",
		slog.String("recipient_id", recipientID),
		slog.String("title", title),
		slog.String("severity", string(severity)),
		slog.String("message", message))
	return nil
}

func (n LogNotifier) Email(ctx context.Context, address, subject, htmlBody string) error {
	n.logger().InfoContext(ctx, "email",
		slog.String("to", address),
		slog.String("subject", subject),
		slog.Int("bytes", len(htmlBody)))
	return nil
}

// Delivery is one call recorded by Recorder
type Delivery struct {
	RecipientID string
	Title       string
	Message     string
	Severity    Severity
	Email       bool
}

// Recorder is a Notifier that remembers every call, for tests and demos
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	fail       func(Delivery) error
}

// FailWith makes every delivery consult fn; a non-nil result fails it
func (r *Recorder) FailWith(fn func(Delivery) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
}

func (r *Recorder) record(d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(d); err != nil {
			return err
		}
	}
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *Recorder) Notify(ctx context.Context, recipientID, title, message string, severity Severity) error {
	return r.record(Delivery{RecipientID: recipientID, Title: title, Message: message, Severity: severity})
}

func (r *Recorder) Email(ctx context.Context, address, subject, htmlBody string) error {
	return r.record(Delivery{RecipientID: address, Title: subject, Message: htmlBody, Email: true})
}

// Deliveries returns a copy of the recorded calls
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Notifications returns recorded Notify calls only
func (r *Recorder) Notifications() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries() {
		if !d.Email {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}
