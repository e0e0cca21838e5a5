package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

// Stored messages can grow without bound; list responses never exceed this
const maxListLimit = 500

type UseCases struct {
	repo   interfaces.Repository
	Auth   *AuthUseCase
	Ingest *IngestUseCase
}

type Option func(*UseCases)

func WithAuth(auth *AuthUseCase) Option {
	return func(uc *UseCases) {
		uc.Auth = auth
	}
}

func WithIngest(ingest *IngestUseCase) Option {
	return func(uc *UseCases) {
		uc.Ingest = ingest
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo: repo,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// ListMessages returns recently ingested messages, newest first
func (uc *UseCases) ListMessages(ctx context.Context, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	msgs, err := uc.repo.ListMessages(ctx, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages")
	}
	return msgs, nil
}

// GetMessage returns one ingested message by its upstream ID
func (uc *UseCases) GetMessage(ctx context.Context, id types.MessageID) (*model.Message, error) {
	msg, err := uc.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get message", goerr.V("message_id", id))
	}
	return msg, nil
}
