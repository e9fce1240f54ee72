package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kevinaaaquil/booknook/backend/activity"
	"github.com/kevinaaaquil/booknook/backend/library"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	listLimit      = 500
	downloadExpiry = 15 * time.Minute
)

// BookFinder lists books for the library view.
type BookFinder interface {
	FindBooks(ctx context.Context, q store.BookQuery) ([]models.Book, error)
}

// FileServer hands out stored files. service.S3Service implements it.
type FileServer interface {
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration, responseFilename string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
}

type BooksHandler struct {
	Library *library.Library
	Books   BookFinder
	// Files is nil when blob storage is not configured.
	Files   FileServer
	Tracker *activity.Tracker
	Log     *zap.Logger
}

// coverPath points the client at the cover endpoint when a cover was extracted.
func coverPath(book *models.Book) {
	if book.CoverS3Key != "" && book.CoverURL == "" {
		book.CoverURL = "/api/books/" + book.ID.Hex() + "/cover"
	}
}

// List returns the caller's books and every public book. Supports
// ?author=, ?category= and ?sort=popular.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := store.BookQuery{
		Viewer:  uid,
		Author:  r.URL.Query().Get("author"),
		Popular: r.URL.Query().Get("sort") == "popular",
		Limit:   listLimit,
	}
	if c := r.URL.Query().Get("category"); c != "" {
		q.Categories = []string{c}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		q.Limit = min(n, listLimit)
	}
	books, err := h.Books.FindBooks(r.Context(), q)
	if err != nil {
		h.Log.Error("list books", zap.Error(err))
		http.Error(w, `{"error":"failed to list books"}`, http.StatusInternalServerError)
		return
	}
	if books == nil {
		books = []models.Book{}
	}
	for i := range books {
		coverPath(&books[i])
	}
	writeJSON(w, http.StatusOK, books)
}

// Get returns one book and records a view.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	book, err := h.Library.Get(r.Context(), uid, id)
	if err != nil {
		bookError(w, err, "failed to load book")
		return
	}
	h.Tracker.TrackQuietly(r.Context(), uid, id, models.ActionView, models.ActivityMetadata{})
	coverPath(book)
	writeJSON(w, http.StatusOK, book)
}

type UpdateBookRequest struct {
	Title       *string  `json:"title" validate:"omitempty,min=1,max=300"`
	Author      *string  `json:"author" validate:"omitempty,min=1,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=5000"`
	Tags        []string `json:"tags" validate:"omitempty,max=50,dive,min=1,max=50"`
	Categories  []string `json:"categories" validate:"omitempty,max=20,dive,min=1,max=50"`
	CoverURL    *string  `json:"coverUrl" validate:"omitempty,url"`
	Private     *bool    `json:"private"`
}

func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateBookRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := h.Library.Update(r.Context(), uid, id, store.BookUpdate{
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		Tags:        req.Tags,
		Categories:  req.Categories,
		CoverURL:    req.CoverURL,
		Private:     req.Private,
	})
	if err != nil {
		bookError(w, err, "failed to update book")
		return
	}
	coverPath(book)
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Library.Delete(r.Context(), uid, id); err != nil {
		bookError(w, err, "failed to delete book")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type DownloadResponse struct {
	URL string `json:"url"`
}

func (h *BooksHandler) Download(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	book, err := h.Library.Get(r.Context(), uid, id)
	if err != nil {
		bookError(w, err, "failed to load book")
		return
	}
	if h.Files == nil {
		http.Error(w, `{"error":"download not configured"}`, http.StatusServiceUnavailable)
		return
	}
	url, err := h.Files.PresignedGetURL(r.Context(), book.File.Path, downloadExpiry, book.OriginalName)
	if err != nil {
		h.Log.Error("presign download", zap.String("bookId", id.Hex()), zap.Error(err))
		http.Error(w, `{"error":"failed to generate download url"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, DownloadResponse{URL: url})
}

// Cover streams the extracted cover image. It is public so <img src> works,
// which limits it to public books.
func (h *BooksHandler) Cover(w http.ResponseWriter, r *http.Request) {
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	book, err := h.Library.Get(r.Context(), primitive.NilObjectID, id)
	if err != nil {
		bookError(w, err, "failed to load book")
		return
	}
	if book.CoverS3Key == "" || h.Files == nil {
		http.Error(w, `{"error":"no cover"}`, http.StatusNotFound)
		return
	}
	body, contentType, err := h.Files.Get(r.Context(), book.CoverS3Key)
	if err != nil {
		http.Error(w, `{"error":"failed to load cover"}`, http.StatusInternalServerError)
		return
	}
	defer body.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = io.Copy(w, body)
}

// RefreshMetadata fills missing fields from the external catalogs.
func (h *BooksHandler) RefreshMetadata(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	book, err := h.Library.RefreshMetadata(r.Context(), uid, id)
	if err != nil {
		bookError(w, err, "failed to refresh metadata")
		return
	}
	coverPath(book)
	writeJSON(w, http.StatusOK, book)
}

// RecomputeFeatures re-derives content features from the stored file.
func (h *BooksHandler) RecomputeFeatures(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := bookIDParam(w, r)
	if !ok {
		return
	}
	cf, err := h.Library.RecomputeFeatures(r.Context(), uid, id)
	if err != nil {
		bookError(w, err, "failed to compute features")
		return
	}
	writeJSON(w, http.StatusOK, cf)
}
