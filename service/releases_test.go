package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevinaaaquil/booknook/backend/cache"
	"github.com/kevinaaaquil/booknook/backend/models"
)

const nytBody = `{"results": {"books": [
  {"rank": 1, "weeks_on_list": 2, "title": "THE WOMEN", "author": "Kristin Hannah", "primary_isbn13": "9781250178633"},
  {"rank": 2, "weeks_on_list": 30, "title": "FOURTH WING", "author": "Rebecca Yarros"}
]}}`

const recentGoogleBody = `{"totalItems": 2, "items": [
  {"volumeInfo": {"title": "The Women", "authors": ["Kristin Hannah"], "publishedDate": "2024-02-06"}},
  {"volumeInfo": {"title": "Fresh Book", "publishedDate": "2024-03-01"}}
]}`

type releaseServers struct {
	nyt, google  *httptest.Server
	nytCalls     int32
	googleCalls  int32
	nytStatus    int32
	googleStatus int32
	googleQuery  atomic.Value
}

func newReleaseServers(t *testing.T) *releaseServers {
	s := &releaseServers{nytStatus: http.StatusOK, googleStatus: http.StatusOK}
	s.nyt = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.nytCalls, 1)
		if r.URL.Query().Get("api-key") != "k" || !strings.HasSuffix(r.URL.Path, "/lists/current/combined-print-and-e-book-fiction.json") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(int(atomic.LoadInt32(&s.nytStatus)))
		w.Write([]byte(nytBody))
	}))
	s.google = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.googleCalls, 1)
		s.googleQuery.Store(r.URL.RawQuery)
		w.WriteHeader(int(atomic.LoadInt32(&s.googleStatus)))
		w.Write([]byte(recentGoogleBody))
	}))
	t.Cleanup(func() {
		s.nyt.Close()
		s.google.Close()
	})
	return s
}

type memReleaseStore struct {
	saved *models.ReleaseSnapshot
}

func (m *memReleaseStore) SaveReleaseSnapshot(_ context.Context, snap *models.ReleaseSnapshot) error {
	m.saved = snap
	return nil
}

func (m *memReleaseStore) LatestReleaseSnapshot(context.Context) (*models.ReleaseSnapshot, error) {
	if m.saved == nil {
		return nil, errors.New("none")
	}
	return m.saved, nil
}

func TestDedupeReleases(t *testing.T) {
	in := []models.NewRelease{
		{Title: "A", Author: "X", Source: SourceGoogleRecent, Description: "google"},
		{Title: "B", Author: "Y", Source: SourceGoogleRecent},
		{Title: "a", Author: "x", Source: SourceNYT, Description: "nyt"},
		{Title: "B", Author: "Y", Source: SourceGoogleRecent, Description: "dup"},
	}
	got := DedupeReleases(in)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Source != SourceNYT || got[0].Description != "nyt" {
		t.Errorf("NYT entry should win in place, got %+v", got[0])
	}
	if got[1].Description != "" {
		t.Errorf("first google entry should be kept, got %+v", got[1])
	}
}

func TestReleasesGetAndCache(t *testing.T) {
	s := newReleaseServers(t)
	store := &memReleaseStore{}
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	r := NewReleases(ReleasesOptions{
		NYTBaseURL:    s.nyt.URL,
		GoogleBaseURL: s.google.URL,
		NYTAPIKey:     "k",
		Cache:         cache.NewMemory(),
		TTL:           time.Hour,
		Store:         store,
	})
	r.now = func() time.Time { return now }

	got, err := r.Get(context.Background(), 20)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// The Women appears in both sources, so three distinct books remain.
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	if !got[0].IsNewRelease || got[1].IsNewRelease {
		t.Errorf("IsNewRelease flags wrong: %+v", got[:2])
	}
	if q, _ := s.googleQuery.Load().(string); !strings.Contains(q, "publishedDate%3A%3E2024-02-20") || !strings.Contains(q, "orderBy=newest") {
		t.Errorf("google query = %q", q)
	}
	if store.saved == nil || len(store.saved.Books) != 3 {
		t.Errorf("snapshot not persisted: %+v", store.saved)
	}

	if _, err := r.Get(context.Background(), 1); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if n := atomic.LoadInt32(&s.nytCalls); n != 1 {
		t.Errorf("nyt calls = %d, want 1 (cached)", n)
	}
}

func TestReleasesServeStaleOnFailure(t *testing.T) {
	s := newReleaseServers(t)
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	r := NewReleases(ReleasesOptions{
		NYTBaseURL:    s.nyt.URL,
		GoogleBaseURL: s.google.URL,
		NYTAPIKey:     "k",
		TTL:           time.Hour,
	})
	r.now = func() time.Time { return now }
	if _, err := r.Get(context.Background(), 0); err != nil {
		t.Fatalf("Get: %v", err)
	}

	atomic.StoreInt32(&s.nytStatus, http.StatusInternalServerError)
	atomic.StoreInt32(&s.googleStatus, http.StatusInternalServerError)
	now = now.Add(2 * time.Hour)

	got, err := r.Get(context.Background(), 0)
	if err != nil {
		t.Fatalf("Get with failing sources: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("stale len = %d, want 3", len(got))
	}
	if n := atomic.LoadInt32(&s.googleCalls); n != 2 {
		t.Errorf("google calls = %d, want 2 (refresh attempted)", n)
	}
}

func TestReleasesNothingAvailable(t *testing.T) {
	s := newReleaseServers(t)
	atomic.StoreInt32(&s.googleStatus, http.StatusBadGateway)
	r := NewReleases(ReleasesOptions{GoogleBaseURL: s.google.URL, NYTBaseURL: s.nyt.URL})
	if _, err := r.Get(context.Background(), 10); err == nil {
		t.Fatal("expected an error with no sources and no snapshot")
	}
}
