package handlers

import (
	"net/http"
	"strconv"

	"github.com/kevinaaaquil/booknook/backend/recommend"
)

type RecommendHandler struct {
	Engine *recommend.Engine
	// MaxLimit caps ?limit=. Zero means no cap.
	MaxLimit int
}

// Basic serves the collaborative + attribute variant.
func (h *RecommendHandler) Basic(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, ok := h.limit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Recommend(r.Context(), uid, n))
}

// AI serves the content-similarity + reading-behaviour variant.
func (h *RecommendHandler) AI(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, ok := h.limit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.RecommendAI(r.Context(), uid, n))
}

// limit parses ?limit=. Absent yields 0 so the engine default applies.
func (h *RecommendHandler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
		return 0, false
	}
	if h.MaxLimit > 0 && n > h.MaxLimit {
		n = h.MaxLimit
	}
	return n, true
}
