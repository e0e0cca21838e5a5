package model

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// ErrSubscriptionNotFound is returned when a subscription is not registered
var ErrSubscriptionNotFound = goerr.New("subscription not found")

// Subscription binds an upstream subscription to the user whose delegated
// grant is used to fetch its resources
type Subscription struct {
	ID     types.SubscriptionID
	UserID types.UserID
	Name   string
}

// SubscriptionRegistry holds subscription configurations (settings only,
// no repository or use case instances)
type SubscriptionRegistry struct {
	entries map[types.SubscriptionID]*Subscription
	order   []types.SubscriptionID // preserves registration order
}

// NewSubscriptionRegistry creates a new empty SubscriptionRegistry
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		entries: make(map[types.SubscriptionID]*Subscription),
	}
}

// Register adds a subscription to the registry
func (r *SubscriptionRegistry) Register(sub *Subscription) {
	if _, exists := r.entries[sub.ID]; !exists {
		r.order = append(r.order, sub.ID)
	}
	r.entries[sub.ID] = sub
}

// Get retrieves a subscription by ID
func (r *SubscriptionRegistry) Get(id types.SubscriptionID) (*Subscription, error) {
	sub, ok := r.entries[id]
	if !ok {
		return nil, goerr.Wrap(ErrSubscriptionNotFound, "subscription not found",
			goerr.V("subscription_id", id))
	}
	return sub, nil
}

// UserOf resolves the owning user of a subscription
func (r *SubscriptionRegistry) UserOf(id types.SubscriptionID) (types.UserID, error) {
	sub, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return sub.UserID, nil
}

// List returns all registered subscriptions in registration order
func (r *SubscriptionRegistry) List() []*Subscription {
	result := make([]*Subscription, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.entries[id])
	}
	return result
}
