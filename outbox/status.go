package outbox

import "fmt"

// Status represents the lifecycle state of an outbox entry.
type Status string

const (
	// StatusPending indicates the entry waits for its next attempt.
	StatusPending Status = "pending"
	// StatusInProgress indicates the entry is leased by a worker.
	StatusInProgress Status = "in_progress"
	// StatusProcessed indicates the entry was delivered successfully.
	StatusProcessed Status = "processed"
	// StatusFailed indicates the entry failed terminally or ran out of attempts.
	StatusFailed Status = "failed"
	// StatusExpired indicates the entry outlived its expires_at before a successful ack.
	StatusExpired Status = "expired"
)

// TerminalStatuses lists the statuses that never change again.
var TerminalStatuses = []Status{StatusProcessed, StatusFailed, StatusExpired}

// ParseStatus validates and converts a raw status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the lifecycle.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusProcessed, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo reports whether moving from s to next is allowed.
// in_progress -> in_progress is a reclaim after lease expiry.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusExpired
	case StatusInProgress:
		switch next {
		case StatusInProgress, StatusPending, StatusProcessed, StatusFailed, StatusExpired:
			return true
		default:
			return false
		}
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// ActionType names the intent recorded by an entry.
type ActionType string

const (
	// ActionSchedule requests a new side effect.
	ActionSchedule ActionType = "schedule"
	// ActionCancel overlays a cancellation on a previously scheduled action.
	ActionCancel ActionType = "cancel"
	// ActionUpdate overlays new data on a previously scheduled action.
	ActionUpdate ActionType = "update"
	// ActionDelete requests removal of a previously delivered side effect.
	ActionDelete ActionType = "delete"
)

// IsValid reports whether the action type is known.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionSchedule, ActionCancel, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

func (a ActionType) String() string {
	return string(a)
}
