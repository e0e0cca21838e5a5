package types

import "fmt"

// NotificationStatus represents the processing state of a queued notification
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusDone       NotificationStatus = "done"
	NotificationStatusFailed     NotificationStatus = "failed"
)

// AllNotificationStatuses returns all valid notification statuses
func AllNotificationStatuses() []NotificationStatus {
	return []NotificationStatus{
		NotificationStatusPending,
		NotificationStatusProcessing,
		NotificationStatusDone,
		NotificationStatusFailed,
	}
}

// IsValid checks if the notification status is valid
func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationStatusPending,
		NotificationStatusProcessing,
		NotificationStatusDone,
		NotificationStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from this status.
// Only "done" is strictly terminal; "failed" rows may be retried.
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationStatusDone
}

// CanTransitionTo reports whether a transition to the given status is legal.
// Transitions are monotonic: pending→processing→{done|failed}, and
// failed→processing on retry. A row never leaves "done".
func (s NotificationStatus) CanTransitionTo(to NotificationStatus) bool {
	switch s {
	case NotificationStatusPending:
		return to == NotificationStatusProcessing
	case NotificationStatusProcessing:
		return to == NotificationStatusDone || to == NotificationStatusFailed
	case NotificationStatusFailed:
		return to == NotificationStatusProcessing
	default:
		return false
	}
}

// String returns the string representation of the notification status
func (s NotificationStatus) String() string {
	return string(s)
}

// ParseNotificationStatus parses a string into a NotificationStatus
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	status := NotificationStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid notification status: %s", s)
	}
	return status, nil
}
