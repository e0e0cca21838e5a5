package model

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// Notification is one inbound change notification queued for processing.
// Rows are retained indefinitely for audit; terminal state is always
// "done" or "failed" with a recorded error.
type Notification struct {
	ID             types.NotificationID     `firestore:"id" json:"id"`
	SubscriptionID types.SubscriptionID     `firestore:"subscription_id" json:"subscription_id"`
	Resource       string                   `firestore:"resource" json:"resource"`
	ChangeType     types.ChangeType         `firestore:"change_type" json:"change_type"`
	Payload        json.RawMessage          `firestore:"payload" json:"payload"`
	Status         types.NotificationStatus `firestore:"status" json:"status"`
	Attempts       int                      `firestore:"attempts" json:"attempts"`
	LastError      string                   `firestore:"last_error" json:"last_error"`
	CreatedAt      time.Time                `firestore:"created_at" json:"created_at"`
	UpdatedAt      time.Time                `firestore:"updated_at" json:"updated_at"`
}

// NewNotification creates a pending notification from a validated inbound event
func NewNotification(subID types.SubscriptionID, resource string, changeType types.ChangeType, payload json.RawMessage) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:             types.NewNotificationID(),
		SubscriptionID: subID,
		Resource:       resource,
		ChangeType:     changeType,
		Payload:        payload,
		Status:         types.NotificationStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks if the notification is valid
func (n *Notification) Validate() error {
	if err := n.ID.Validate(); err != nil {
		return goerr.Wrap(err, "invalid notification ID")
	}
	if n.SubscriptionID == "" {
		return goerr.New("subscription ID is required", goerr.V("id", n.ID))
	}
	if n.Resource == "" {
		return goerr.New("resource is required", goerr.V("id", n.ID))
	}
	if !n.Status.IsValid() {
		return goerr.New("invalid notification status", goerr.V("id", n.ID), goerr.V("status", n.Status))
	}
	return nil
}

// Retriable reports whether a failed row still has retry budget left
func (n *Notification) Retriable(maxAttempts int) bool {
	return n.Status == types.NotificationStatusFailed && n.Attempts < maxAttempts
}
