// Package history exports bot run events (start, exit) to analytics
// systems. It is write-only: nothing in the daemon reads history back.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventExit  EventType = "exit"
)

// Event is one lifecycle event of a bot run. Exit fields are set only on
// EventExit.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Bot        string    `json:"bot"`
	Category   string    `json:"category,omitempty"`
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`

	ExitCode   *int   `json:"exit_code,omitempty"`
	Signal     string `json:"signal,omitempty"`
	Outcome    string `json:"outcome,omitempty"` // success, failed, signaled, error
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// SQLArgs returns the column values shared by the SQL sinks, in the order
// of Columns. Exit fields are nil on start events.
func (e Event) SQLArgs() []any {
	var code, signal, outcome, dur any
	if e.ExitCode != nil {
		code = *e.ExitCode
	}
	if e.Signal != "" {
		signal = e.Signal
	}
	if e.Type == EventExit {
		outcome = e.Outcome
		dur = e.DurationMS
	}
	return []any{e.OccurredAt.UTC(), string(e.Type), e.Bot, e.Category, e.RunID, e.PID, e.StartedAt.UTC(), code, signal, outcome, dur}
}

// Columns of the bot_history table, matching SQLArgs.
const Columns = "occurred_at, event, bot, category, run_id, pid, started_at, exit_code, signal, outcome, duration_ms"
