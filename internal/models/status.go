// Package models defines the persisted and transient data structures of the
// speaking assessment pipeline.
package models

// Status is the processing state of a submission or practice round.
//
// Transitions:
//
//	pending → processing → completed
//	                     └→ failed
//
// Completed and failed are terminal. A status never moves backward.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Predecessors lists the statuses an entity may hold immediately before
// moving into s. Processing is re-enterable so that a broker redelivery of a
// half-finished job can resume it.
func (s Status) Predecessors() []Status {
	switch s {
	case StatusProcessing:
		return []Status{StatusPending, StatusProcessing}
	case StatusCompleted, StatusFailed:
		return []Status{StatusProcessing}
	default:
		return nil
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

// SessionStatus is the state of a scenario session. The only transition is
// in_progress → completed.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// IsTerminal returns true once the session is completed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted
}
