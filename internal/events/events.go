// Package events defines the semantic events the core emits for the UI layer.
//
// Events carry data, not user-facing strings; rendering is the receiver's job.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/kudosync/internal/fault"
)

// Kind names a semantic event.
type Kind string

const (
	KudosSent         Kind = "kudos-sent"
	KudosFailed       Kind = "kudos-failed"
	RewardRedeemed    Kind = "reward-redeemed"
	RewardFailed      Kind = "reward-failed"
	SessionExpired    Kind = "session-expired"
	ProjectSaved      Kind = "project-saved"
	ProjectDeleted    Kind = "project-deleted"
	AssignmentChanged Kind = "assignment-changed"
	SyncCompleted     Kind = "sync-completed"
)

// Failure reports whether the kind signals a failed action.
func (k Kind) Failure() bool {
	switch k {
	case KudosFailed, RewardFailed, SessionExpired:
		return true
	}
	return false
}

// Event is one emitted event.
type Event struct {
	Kind Kind
	At   time.Time

	// Flow is the coordinator token, empty for events outside a flow.
	Flow string

	// Subject is the id of the record the event is about, if any.
	Subject string

	// Amount is the kudos moved, if any.
	Amount int64

	// Err is set on failure events.
	Err error
}

// Notifier receives events. Implementations must not block for long: they are
// called from coordinator lanes.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

// Multi fans an event out to every notifier in order.
func Multi(ns ...Notifier) Notifier {
	return NotifierFunc(func(e Event) {
		for _, n := range ns {
			if n != nil {
				n.Notify(e)
			}
		}
	})
}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// ForFlow returns the events emitted for one flow token.
func (r *Recorder) ForFlow(token string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Flow == token {
			out = append(out, e)
		}
	}
	return out
}

// LogNotifier writes events to a slog logger. Failures log at warn level.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(e Event) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []slog.Attr{slog.String("event", string(e.Kind))}
	if e.Flow != "" {
		attrs = append(attrs, slog.String("flow", e.Flow))
	}
	if e.Subject != "" {
		attrs = append(attrs, slog.String("subject", e.Subject))
	}
	if e.Amount != 0 {
		attrs = append(attrs, slog.Int64("amount", e.Amount))
	}

	level := slog.LevelInfo
	if e.Kind.Failure() {
		level = slog.LevelWarn
		if e.Err != nil {
			attrs = append(attrs,
				slog.String("kind", string(fault.KindOf(e.Err))),
				slog.String("error", e.Err.Error()))
		}
	}
	logger.LogAttrs(context.Background(), level, "event", attrs...)
}
