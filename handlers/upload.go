package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kevinaaaquil/booknook/backend/library"
	"go.uber.org/zap"
)

type UploadHandler struct {
	Library  *library.Library
	MaxBytes int64
	Log      *zap.Logger
}

// Upload accepts a multipart EPUB in the "file" field. With ?probe=true it
// only reports what extraction finds; otherwise the book is stored and
// returned. Optional form fields override extracted metadata.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r)
	if !ok {
		return
	}

	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error":"file too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error":"failed to parse multipart form"}`, http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"missing file"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !library.IsEPUB(header.Filename, header.Header.Get("Content-Type")) {
		http.Error(w, `{"error":"only epub files are allowed"}`, http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, `{"error":"failed to read file"}`, http.StatusInternalServerError)
		return
	}

	if probe, _ := strconv.ParseBool(r.URL.Query().Get("probe")); probe {
		p, err := h.Library.Probe(r.Context(), header.Filename, data, uid)
		if err != nil {
			uploadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	coverURL := strings.TrimSpace(r.FormValue("coverUrl"))
	if err := validate.Var(coverURL, "omitempty,url"); err != nil {
		http.Error(w, `{"error":"invalid coverUrl"}`, http.StatusBadRequest)
		return
	}
	private, _ := strconv.ParseBool(r.FormValue("private"))

	book, err := h.Library.Upload(r.Context(), library.Upload{
		Filename:    header.Filename,
		Data:        data,
		Owner:       uid,
		Title:       strings.TrimSpace(r.FormValue("title")),
		Author:      strings.TrimSpace(r.FormValue("author")),
		Description: strings.TrimSpace(r.FormValue("description")),
		CoverURL:    coverURL,
		Tags:        splitTags(r.FormValue("tags")),
		Private:     private,
	}, func(pct int) {
		h.Log.Debug("upload progress", zap.String("file", header.Filename), zap.Int("percent", pct))
	})
	if err != nil {
		h.Log.Error("upload failed", zap.String("file", header.Filename), zap.Error(err))
		uploadError(w, err)
		return
	}
	coverPath(book)
	writeJSON(w, http.StatusCreated, book)
}

func uploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrInvalidFile):
		http.Error(w, `{"error":"invalid epub file"}`, http.StatusBadRequest)
	case errors.Is(err, library.ErrNoStorage):
		http.Error(w, `{"error":"upload not configured (missing S3)"}`, http.StatusServiceUnavailable)
	default:
		http.Error(w, `{"error":"failed to store book"}`, http.StatusInternalServerError)
	}
}

// splitTags accepts a comma separated list and drops empties.
func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
