package usecase

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/utils/logging"
)

// IngestUseCase turns validated inbound change notifications into queued
// rows. Items with a wrong client state or an unknown subscription are
// dropped without failing the batch: the sender retries whole batches,
// so a hard error would re-deliver the valid items too.
type IngestUseCase struct {
	repo        interfaces.Repository
	registry    *model.SubscriptionRegistry
	clientState string
	wake        func()
}

// IngestOption is a functional option for IngestUseCase
type IngestOption func(*IngestUseCase)

// WithWake sets a callback invoked after new rows are queued, used to
// nudge the worker instead of waiting for its next poll
func WithWake(wake func()) IngestOption {
	return func(uc *IngestUseCase) {
		uc.wake = wake
	}
}

func NewIngestUseCase(repo interfaces.Repository, registry *model.SubscriptionRegistry, clientState string, options ...IngestOption) *IngestUseCase {
	uc := &IngestUseCase{
		repo:        repo,
		registry:    registry,
		clientState: clientState,
	}

	for _, opt := range options {
		opt(uc)
	}

	return uc
}

type inboundNotification struct {
	SubscriptionID string          `json:"subscriptionId"`
	ClientState    string          `json:"clientState"`
	ChangeType     string          `json:"changeType"`
	Resource       string          `json:"resource"`
	ResourceData   json.RawMessage `json:"resourceData"`
}

type resourceData struct {
	ODataID string `json:"@odata.id"`
	ID      string `json:"id"`
}

// ParseBatch decodes one webhook batch envelope. A malformed envelope is
// the only hard error on the receipt path; per-item problems are dealt
// with in Process.
func (uc *IngestUseCase) ParseBatch(body []byte) ([]json.RawMessage, error) {
	var envelope struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, goerr.Wrap(err, "failed to parse notification batch")
	}
	return envelope.Value, nil
}

// HandleNotifications parses and processes one webhook batch. It returns
// how many items were queued; dropped items are logged, not returned as
// errors.
func (uc *IngestUseCase) HandleNotifications(ctx context.Context, body []byte) (int, error) {
	items, err := uc.ParseBatch(body)
	if err != nil {
		return 0, err
	}
	return uc.Process(ctx, items)
}

// Process queues the valid items of a parsed batch
func (uc *IngestUseCase) Process(ctx context.Context, items []json.RawMessage) (int, error) {
	logger := logging.From(ctx)

	accepted := 0
	for _, raw := range items {
		var item inboundNotification
		if err := json.Unmarshal(raw, &item); err != nil {
			logger.Warn("dropping malformed notification item", "error", err)
			continue
		}

		if subtle.ConstantTimeCompare([]byte(item.ClientState), []byte(uc.clientState)) != 1 {
			logger.Warn("dropping notification with invalid client state",
				"subscription_id", item.SubscriptionID,
			)
			continue
		}

		subID := types.SubscriptionID(item.SubscriptionID)
		if _, err := uc.registry.UserOf(subID); err != nil {
			logger.Warn("dropping notification for unknown subscription",
				"subscription_id", item.SubscriptionID,
			)
			continue
		}

		resource := uc.extractResource(&item)
		if resource == "" {
			logger.Warn("dropping notification without resource",
				"subscription_id", item.SubscriptionID,
			)
			continue
		}

		changeType := types.ChangeType(item.ChangeType)
		if !changeType.IsValid() {
			changeType = types.ChangeTypeCreated
		}

		n := model.NewNotification(subID, resource, changeType, raw)
		if err := uc.repo.CreateNotification(ctx, n); err != nil {
			return accepted, goerr.Wrap(err, "failed to queue notification",
				goerr.V("subscription_id", subID),
			)
		}
		accepted++
	}

	if accepted > 0 {
		logger.Info("queued notifications", "count", accepted, "received", len(items))
		if uc.wake != nil {
			uc.wake()
		}
	}

	return accepted, nil
}

func (uc *IngestUseCase) extractResource(item *inboundNotification) string {
	if item.Resource != "" {
		return item.Resource
	}
	if len(item.ResourceData) == 0 {
		return ""
	}

	var data resourceData
	if err := json.Unmarshal(item.ResourceData, &data); err != nil {
		return ""
	}
	if data.ODataID != "" {
		return data.ODataID
	}
	return data.ID
}
