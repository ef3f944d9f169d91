// Package notify delivers per-recipient notifications for events raised by the
// denormalization core. Delivery is best-effort: a failed recipient is logged,
// counted and reported, and never stops delivery to the rest.
package notify

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/realapp/denorm/internal/metrics"
)

// Notification is one outbound event.
type Notification struct {
	Event string `json:"event"`

	// AuthorID is the user who caused the event. It is never notified.
	// Empty for system events, which notify every recipient.
	AuthorID string `json:"authorId,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`
}

// Sender delivers a notification to one user over one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, userID string, n Notification) error
}

// Report summarizes a dispatch.
type Report struct {
	// Sent lists recipients every channel accepted, in dispatch order.
	Sent []string

	// Failed holds the delivery error per recipient.
	Failed map[string]error

	// Enumeration is the error that cut recipient enumeration short, if any.
	Enumeration error
}

// Err joins every failure in the report.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failed)+1)
	if r.Enumeration != nil {
		errs = append(errs, r.Enumeration)
	}
	for userID, err := range r.Failed {
		errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
	}
	return errors.Join(errs...)
}

// Dispatcher fans a notification out to a recipient set.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher delivering over every sender.
func NewDispatcher(logger *slog.Logger, senders ...Sender) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		senders: senders,
		logger:  logger,
	}
}

// Dispatch sends n to every enumerated member plus the ids in also, each at most
// once, skipping the author. also covers members written by the triggering
// change that enumeration may not yet return.
//
// A cancelled context stops further sends; deliveries already made stand.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, members iter.Seq2[string, error], also ...string) Report {
	report := Report{Failed: make(map[string]error)}
	seen := make(map[string]bool)

	deliver := func(userID string) bool {
		if userID == "" || seen[userID] {
			return true
		}
		seen[userID] = true
		if n.AuthorID != "" && userID == n.AuthorID {
			return true
		}
		if err := ctx.Err(); err != nil {
			report.Failed[userID] = err
			return false
		}
		if err := d.send(ctx, userID, n); err != nil {
			report.Failed[userID] = err
			return true
		}
		report.Sent = append(report.Sent, userID)
		return true
	}

	if members != nil {
		for userID, err := range members {
			if err != nil {
				report.Enumeration = err
				d.logger.Warn("failed to enumerate notification recipients", "event", n.Event, "error", err)
				break
			}
			if !deliver(userID) {
				return report
			}
		}
	}
	for _, userID := range also {
		if !deliver(userID) {
			return report
		}
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, userID string, n Notification) error {
	var errs []error
	for _, s := range d.senders {
		if err := s.Send(ctx, userID, n); err != nil {
			metrics.NotificationsSent.WithLabelValues(s.Channel(), metrics.ResultFailed).Inc()
			d.logger.Warn("failed to send notification",
				"channel", s.Channel(),
				"event", n.Event,
				"userId", userID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Channel(), err))
			continue
		}
		metrics.NotificationsSent.WithLabelValues(s.Channel(), metrics.ResultOK).Inc()
	}
	return errors.Join(errs...)
}

// Members adapts a fixed id list to the enumeration Dispatch accepts.
func Members(ids ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}
