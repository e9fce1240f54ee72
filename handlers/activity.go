package handlers

import (
	"errors"
	"net/http"

	"github.com/kevinaaaquil/booknook/backend/activity"
	"github.com/kevinaaaquil/booknook/backend/library"
	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type ActivityHandler struct {
	Library *library.Library
	Tracker *activity.Tracker
	Log     *zap.Logger
}

type ProgressRequest struct {
	Progress *float64 `json:"progress" validate:"required,gte=0,lte=100"`
	CFI      string   `json:"cfiLocation" validate:"max=2000"`
}

// Progress saves the reader position for a book and records a read.
func (h *ActivityHandler) Progress(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.visibleBook(w, r)
	if !ok {
		return
	}
	var req ProgressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Tracker.RecordProgress(r.Context(), uid, id, *req.Progress, req.CFI); err != nil {
		h.Log.Error("save progress", zap.String("bookId", id.Hex()), zap.Error(err))
		http.Error(w, `{"error":"failed to save progress"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type RatingRequest struct {
	Rating *float64 `json:"rating" validate:"required,gte=1,lte=5"`
}

func (h *ActivityHandler) Rate(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.visibleBook(w, r)
	if !ok {
		return
	}
	var req RatingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Tracker.TrackQuietly(r.Context(), uid, id, models.ActionRate, models.ActivityMetadata{Rating: req.Rating})
	w.WriteHeader(http.StatusNoContent)
}

type ActivityRequest struct {
	BookID   string                  `json:"bookId" validate:"required,mongodb"`
	Action   models.Action           `json:"action" validate:"required,oneof=view read complete bookmark rate"`
	Metadata models.ActivityMetadata `json:"metadata"`
}

// Track records a client-reported action. Side-effect failures are logged;
// the event itself is accepted once it validates.
func (h *ActivityHandler) Track(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ActivityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := primitive.ObjectIDFromHex(req.BookID)
	if _, err := h.Library.Get(r.Context(), uid, id); err != nil {
		bookError(w, err, "failed to load book")
		return
	}
	err := h.Tracker.Track(r.Context(), uid, id, req.Action, req.Metadata)
	switch {
	case errors.Is(err, activity.ErrInvalidAction), errors.Is(err, activity.ErrMissingRating):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.Log.Warn("activity tracking failed",
			zap.String("action", string(req.Action)),
			zap.String("bookId", id.Hex()),
			zap.Error(err))
	}
	w.WriteHeader(http.StatusAccepted)
}

// visibleBook resolves the caller and the {id} book, writing the error
// response when either is unavailable.
func (h *ActivityHandler) visibleBook(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, primitive.ObjectID, bool) {
	uid, ok := currentUser(w, r)
	if !ok {
		return uid, primitive.NilObjectID, false
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return uid, id, false
	}
	if _, err := h.Library.Get(r.Context(), uid, id); err != nil {
		bookError(w, err, "failed to load book")
		return uid, id, false
	}
	return uid, id, true
}
