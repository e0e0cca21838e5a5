package http

import (
	"context"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/usecase"
	"github.com/secmon-lab/iris/pkg/utils/async"
	"github.com/secmon-lab/iris/pkg/utils/errutil"
)

// Inbound notification batches are small; anything bigger is abuse
const maxWebhookBodySize = 1 << 20

// graphWebhookHandler receives change notifications from the upstream.
//
// Two contract details matter here:
//   - The endpoint validation handshake must echo validationToken back as
//     plain text, not JSON, or the subscription is never created.
//   - Delivery must be acknowledged with 202 whenever the batch itself is
//     readable. Per-item problems are handled by dropping the item; a
//     non-2xx answer would make the sender re-deliver the whole batch.
func graphWebhookHandler(ingest *usecase.IngestUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token := r.URL.Query().Get("validationToken"); token != "" {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(token)) //nolint:errcheck
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
		if err != nil {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to read webhook body"), http.StatusBadRequest)
			return
		}

		items, err := ingest.ParseBatch(body)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		// Acknowledge before queueing: the sender's delivery timeout is
		// short, and repository writes must stay off this path
		w.WriteHeader(http.StatusAccepted)

		async.Dispatch(ctx, func(ctx context.Context) error {
			if _, err := ingest.Process(ctx, items); err != nil {
				return goerr.Wrap(err, "failed to process notification batch")
			}
			return nil
		})
	}
}
