// Package bus provides the cross-process job event channel and the
// per-request listener registry. Workers publish progress, completion and
// failure events through a Bridge; whichever process is streaming to the
// client subscribes once and dispatches into its local registry.
package bus

import "context"

// Kind identifies the type of a job event.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Event is a single job notification carried over the bridge.
type Event struct {
	Kind     Kind   `json:"kind"`
	JobID    string `json:"jobId"`
	Progress int    `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler consumes events delivered by a bridge subscription.
type Handler func(Event)

// Bridge is the cross-process publish/subscribe channel for job events. The
// process running a job and the process streaming to the client may differ;
// the bridge is what connects them.
type Bridge interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers a handler for all events on the channel and
	// returns a function that cancels the subscription.
	Subscribe(ctx context.Context, h Handler) (func(), error)
	Close() error
}
