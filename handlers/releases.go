package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.uber.org/zap"
)

const defaultReleases = 20

// ReleaseFeed serves the new-release list. service.Releases implements it.
type ReleaseFeed interface {
	Get(ctx context.Context, max int) ([]models.NewRelease, error)
	Refresh(ctx context.Context) (*models.ReleaseSnapshot, error)
}

type ReleasesHandler struct {
	Feed ReleaseFeed
	Log  *zap.Logger
}

func (h *ReleasesHandler) List(w http.ResponseWriter, r *http.Request) {
	n := defaultReleases
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		n = parsed
	}
	books, err := h.Feed.Get(r.Context(), n)
	if err != nil {
		h.Log.Warn("releases unavailable", zap.Error(err))
		http.Error(w, `{"error":"new releases unavailable"}`, http.StatusBadGateway)
		return
	}
	if books == nil {
		books = []models.NewRelease{}
	}
	writeJSON(w, http.StatusOK, books)
}

// Refresh forces a fetch from the sources, bypassing the cache.
func (h *ReleasesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Feed.Refresh(r.Context())
	if err != nil {
		h.Log.Warn("releases refresh failed", zap.Error(err))
		http.Error(w, `{"error":"failed to refresh new releases"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
