package interfaces

import (
	"context"

	"github.com/secmon-lab/iris/pkg/domain/types"
)

// TokenSource supplies delegated access tokens for upstream API calls.
// ForceRefresh bypasses the cached expiry and is the recovery path when
// the upstream rejects a token that still looked valid locally.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID types.UserID) (string, error)
	ForceRefresh(ctx context.Context, userID types.UserID) (string, error)
}
