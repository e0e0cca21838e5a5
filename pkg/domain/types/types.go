package types

import (
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// UserID represents the upstream platform's identifier for an authenticated user
type UserID string

// Validate checks if the user ID is valid
func (x UserID) Validate() error {
	if x == "" {
		return goerr.New("user ID is empty")
	}
	return nil
}

// String returns the string representation of the user ID
func (x UserID) String() string {
	return string(x)
}

// SubscriptionID represents the upstream subscription that produced a notification
type SubscriptionID string

// String returns the string representation of the subscription ID
func (x SubscriptionID) String() string {
	return string(x)
}

// NotificationID is the local identifier of a queued notification row
type NotificationID string

// NewNotificationID generates a new random notification ID
func NewNotificationID() NotificationID {
	return NotificationID(uuid.New().String())
}

// Validate checks if the notification ID is valid
func (x NotificationID) Validate() error {
	if x == "" {
		return goerr.New("notification ID is empty")
	}
	return nil
}

// String returns the string representation of the notification ID
func (x NotificationID) String() string {
	return string(x)
}

// MessageID is the upstream platform's globally unique message identifier
type MessageID string

// Validate checks if the message ID is valid
func (x MessageID) Validate() error {
	if x == "" {
		return goerr.New("message ID is empty")
	}
	return nil
}

// String returns the string representation of the message ID
func (x MessageID) String() string {
	return string(x)
}
