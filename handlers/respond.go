package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/kevinaaaquil/booknook/backend/library"
	"github.com/kevinaaaquil/booknook/backend/middleware"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body into dst and validates it.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid json")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// currentUser writes 401 and reports false when the request is unauthenticated.
func currentUser(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}
	return id, ok
}

func bookIDParam(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid book id"}`, http.StatusBadRequest)
		return primitive.NilObjectID, false
	}
	return id, true
}

// bookError maps library and store errors to responses.
func bookError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, `{"error":"book not found"}`, http.StatusNotFound)
	case errors.Is(err, library.ErrForbidden):
		http.Error(w, `{"error":"only the owner can change this book"}`, http.StatusForbidden)
	case errors.Is(err, library.ErrNoMatch):
		http.Error(w, `{"error":"no catalog match"}`, http.StatusNotFound)
	case errors.Is(err, library.ErrNoStorage):
		http.Error(w, `{"error":"storage not configured"}`, http.StatusServiceUnavailable)
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
