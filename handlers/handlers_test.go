package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/kevinaaaquil/booknook/backend/activity"
	"github.com/kevinaaaquil/booknook/backend/library"
	"github.com/kevinaaaquil/booknook/backend/metadata"
	"github.com/kevinaaaquil/booknook/backend/middleware"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/recommend"
	"github.com/kevinaaaquil/booknook/backend/service"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// memFiles serves as both the library blob store and the download file server.
type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemFiles() *memFiles {
	return &memFiles{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memFiles) Put(_ context.Context, key string, body io.ReadSeeker, size int64, contentType string, progress service.ProgressFunc) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.types[key] = contentType
	m.mu.Unlock()
	if progress != nil {
		progress(size, size)
	}
	return nil
}

func (m *memFiles) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), m.types[key], nil
}

func (m *memFiles) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *memFiles) PresignedGetURL(_ context.Context, key string, _ time.Duration, filename string) (string, error) {
	return "https://files.test/" + key + "?name=" + filename, nil
}

func (m *memFiles) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type stubExtractor struct{ res metadata.Result }

func (s stubExtractor) Extract(context.Context, metadata.Input) *metadata.Result {
	r := s.res
	return &r
}

type stubFeed struct {
	books []models.NewRelease
	err   error
}

func (f stubFeed) Get(_ context.Context, max int) ([]models.NewRelease, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.books[:min(max, len(f.books))], nil
}

func (f stubFeed) Refresh(context.Context) (*models.ReleaseSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReleaseSnapshot{Books: f.books, FetchedAt: time.Now()}, nil
}

type harness struct {
	mem    *store.Memory
	files  *memFiles
	auth   *AuthHandler
	engine *recommend.Engine
	router chi.Router
	alice  primitive.ObjectID
	bob    primitive.ObjectID
}

func newHarness(t *testing.T, feed ReleaseFeed) *harness {
	t.Helper()
	log := zap.NewNop()
	mem := store.NewMemory()
	files := newMemFiles()
	lib := library.New(library.Options{
		Store: mem,
		Blobs: files,
		Extractor: stubExtractor{res: metadata.Result{
			Fields: metadata.Fields{
				Title:       "The Dispossessed",
				Author:      "Ursula K. Le Guin",
				Description: "An ambiguous utopia.",
			},
			ExtractionMethods: []string{metadata.MethodFilename, metadata.MethodEPUBMetadata, metadata.MethodEPUBCover},
			Cover:             []byte("\x89PNG fake"),
			CoverMediaType:    "image/png",
		}},
		Logger: log,
	})
	tracker := activity.NewTracker(mem, log)
	engine := recommend.NewEngine(mem, recommend.Options{Logger: log})
	t.Cleanup(engine.Wait)
	if feed == nil {
		feed = stubFeed{}
	}

	h := &harness{
		mem:    mem,
		files:  files,
		auth:   &AuthHandler{Users: mem, JWTSecret: testSecret, DefaultEmail: "Reader@Example.com", DefaultPass: "hunter2", Log: log},
		engine: engine,
	}
	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		id, err := mem.CreateUser(context.Background(), &models.User{Email: email})
		if err != nil {
			t.Fatal(err)
		}
		if h.alice.IsZero() {
			h.alice = id
		} else {
			h.bob = id
		}
	}

	books := &BooksHandler{Library: lib, Books: mem, Files: files, Tracker: tracker, Log: log}
	upload := &UploadHandler{Library: lib, MaxBytes: 10 << 20, Log: log}
	act := &ActivityHandler{Library: lib, Tracker: tracker, Log: log}
	rec := &RecommendHandler{Engine: engine, MaxLimit: 2}
	rel := &ReleasesHandler{Feed: feed, Log: log}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.auth.Login)
		r.Get("/books/{id}/cover", books.Cover)
		r.Get("/releases", rel.List)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(testSecret))
			r.Get("/me", h.auth.Me)
			r.Post("/upload", upload.Upload)
			r.Get("/books", books.List)
			r.Get("/books/{id}", books.Get)
			r.Patch("/books/{id}", books.Update)
			r.Delete("/books/{id}", books.Delete)
			r.Get("/books/{id}/download", books.Download)
			r.Post("/books/{id}/progress", act.Progress)
			r.Post("/books/{id}/rating", act.Rate)
			r.Post("/activity", act.Track)
			r.Get("/recommendations", rec.Basic)
			r.Get("/recommendations/ai", rec.AI)
			r.Post("/releases/refresh", rel.Refresh)
		})
	})
	h.router = r
	return h
}

func (h *harness) token(t *testing.T, id primitive.ObjectID) string {
	t.Helper()
	tok, err := h.auth.createToken(id.Hex(), "")
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// do sends a request as user (zero for anonymous) and returns the recorder.
func (h *harness) do(t *testing.T, user primitive.ObjectID, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !user.IsZero() {
		req.Header.Set("Authorization", "Bearer "+h.token(t, user))
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) doJSON(t *testing.T, user primitive.ObjectID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return h.do(t, user, method, path, r, "application/json")
}

// upload posts a multipart form with a file part and extra fields.
func (h *harness) upload(t *testing.T, user primitive.ObjectID, query, filename string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("PK not really a zip"))
	}
	mw.Close()
	return h.do(t, user, http.MethodPost, "/api/upload"+query, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestLogin(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing password", `{"email":"reader@example.com"}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope","password":"x"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
		{"wrong default password", `{"email":"reader@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"default credentials seed the user", `{"email":"READER@example.com","password":"hunter2"}`, http.StatusOK},
		{"seeded user checks bcrypt hash", `{"email":"reader@example.com","password":"hunter3"}`, http.StatusUnauthorized},
		{"seeded user logs in again", `{"email":"reader@example.com","password":"hunter2"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.doJSON(t, primitive.NilObjectID, http.MethodPost, "/api/auth/login", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr := h.doJSON(t, primitive.NilObjectID, http.MethodPost, "/api/auth/login", `{"email":"reader@example.com","password":"hunter2"}`)
	login := decode[LoginResponse](t, rr)
	if login.Email != "reader@example.com" || login.Token == "" {
		t.Fatalf("login = %+v", login)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	me := httptest.NewRecorder()
	h.router.ServeHTTP(me, req)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	if strings.Contains(me.Body.String(), "password") {
		t.Errorf("profile leaks password hash: %s", me.Body.String())
	}
	if got := decode[models.User](t, me); got.Email != "reader@example.com" {
		t.Errorf("me email = %q", got.Email)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t, nil)
	for _, path := range []string{"/api/books", "/api/me", "/api/recommendations"} {
		rr := h.do(t, primitive.NilObjectID, http.MethodGet, path, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rr.Code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rr.Code)
	}
}

func TestRecommendationLimit(t *testing.T) {
	h := newHarness(t, nil)
	for i, title := range []string{"One", "Two", "Three"} {
		_, err := h.mem.InsertBook(context.Background(), &models.Book{
			UserID:    h.bob,
			Title:     title,
			Author:    "Someone",
			ReadCount: int64(10 - i),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		path  string
		code  int
		count int
	}{
		{"/api/recommendations?limit=abc", http.StatusBadRequest, 0},
		{"/api/recommendations?limit=0", http.StatusBadRequest, 0},
		{"/api/recommendations?limit=1", http.StatusOK, 1},
		{"/api/recommendations?limit=999", http.StatusOK, 2},
		{"/api/recommendations/ai?limit=2", http.StatusOK, 2},
		{"/api/recommendations/ai", http.StatusOK, 3},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := h.do(t, h.alice, http.MethodGet, tt.path, nil, "")
			if rr.Code != tt.code {
				t.Fatalf("status = %d, want %d", rr.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			got := decode[[]models.Candidate](t, rr)
			if len(got) != tt.count {
				t.Fatalf("got %d recommendations, want %d", len(got), tt.count)
			}
			if got[0].Title != "One" || got[0].RecommendationReason == "" {
				t.Errorf("first = %q (%q)", got[0].Title, got[0].RecommendationReason)
			}
		})
	}
}

func TestReleases(t *testing.T) {
	feed := stubFeed{books: []models.NewRelease{
		{Title: "A", Author: "X", Source: service.SourceNYT},
		{Title: "B", Author: "Y", Source: service.SourceGoogleRecent},
	}}
	h := newHarness(t, feed)

	rr := h.do(t, primitive.NilObjectID, http.MethodGet, "/api/releases?limit=1", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decode[[]models.NewRelease](t, rr); len(got) != 1 || got[0].Title != "A" {
		t.Errorf("releases = %+v", got)
	}
	if rr := h.do(t, primitive.NilObjectID, http.MethodGet, "/api/releases?limit=-3", nil, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rr.Code)
	}
	rr = h.do(t, h.alice, http.MethodPost, "/api/releases/refresh", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rr.Code)
	}
	if snap := decode[models.ReleaseSnapshot](t, rr); len(snap.Books) != 2 {
		t.Errorf("refresh books = %d", len(snap.Books))
	}

	down := newHarness(t, stubFeed{err: errors.New("upstream down")})
	if rr := down.do(t, primitive.NilObjectID, http.MethodGet, "/api/releases", nil, ""); rr.Code != http.StatusBadGateway {
		t.Errorf("failing feed status = %d, want 502", rr.Code)
	}
	if rr := down.do(t, down.alice, http.MethodPost, "/api/releases/refresh", nil, ""); rr.Code != http.StatusBadGateway {
		t.Errorf("failing refresh status = %d, want 502", rr.Code)
	}
}
