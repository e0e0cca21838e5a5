package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/repository/firestore"
	"github.com/secmon-lab/iris/pkg/repository/memory"
	"github.com/secmon-lab/iris/pkg/usecase"
	"github.com/secmon-lab/iris/pkg/utils/errutil"
)

func isNotFound(err error) bool {
	return errors.Is(err, firestore.ErrNotFound) || errors.Is(err, memory.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data) //nolint:errcheck // header already committed
}

// listMessagesHandler serves recently ingested messages, newest first.
// The optional "limit" query parameter caps the page size.
func listMessagesHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errutil.HandleHTTP(ctx, w, goerr.New("invalid limit parameter"), http.StatusBadRequest)
				return
			}
			limit = n
		}

		msgs, err := uc.ListMessages(ctx, limit)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}

		writeJSON(w, r, map[string]any{"messages": msgs})
	}
}

func getMessageHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := types.MessageID(chi.URLParam(r, "messageID"))
		msg, err := uc.GetMessage(ctx, id)
		if err != nil {
			if isNotFound(err) {
				errutil.HandleHTTP(ctx, w, err, http.StatusNotFound)
				return
			}
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}

		writeJSON(w, r, msg)
	}
}
