// Package notify delivers operational alerts from the trading engine to
// external channels (Telegram, Discord). Events are filtered by type so
// operators can mute routine entries and exits, but safety-critical events
// (quarantine, unbalanced) are always delivered.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// EventStream is the durable stream that keeps the recent event journal.
const EventStream = "events"

// Journal records events to a durable stream so dashboards can show recent
// activity after the fact. Satisfied by domain.SignalBus.
type Journal interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// JournalEntry is the JSON payload appended to the event stream.
type JournalEntry struct {
	Event   string    `json:"event"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// alwaysNotify lists event types that bypass the configured filter. A
// quarantined or unbalanced strategy needs manual intervention, so the
// operator must hear about it even with a narrow filter.
var alwaysNotify = map[string]bool{
	EventQuarantine: true,
	EventUnbalanced: true,
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; Notify only forwards messages whose event type is in
// the allowed set, except for safety-critical events which always pass.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	journal Journal
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed. Quarantine and unbalanced
// events are forwarded regardless of the filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithJournal configures the notifier to append every event, filtered or
// not, to the journal stream. Returns the notifier for chaining.
func (n *Notifier) WithJournal(j Journal) *Notifier {
	n.journal = j
	return n
}

// Notify sends a notification to all senders if the event type passes the
// filter. Safety-critical events (quarantine, unbalanced) always pass; other
// events pass when the filter is empty or names them. Every event is recorded
// to the journal regardless of the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	n.record(ctx, event, title, message)

	if !alwaysNotify[event] && len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// record appends the event to the journal stream. Journal failures are logged
// and swallowed; an unreachable journal must not block alert delivery.
func (n *Notifier) record(ctx context.Context, event, title, message string) {
	if n.journal == nil {
		return
	}

	payload, err := json.Marshal(JournalEntry{
		Event:   event,
		Title:   title,
		Message: message,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return
	}

	if err := n.journal.StreamAppend(ctx, EventStream, payload); err != nil {
		n.logger.WarnContext(ctx, "event journal append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
