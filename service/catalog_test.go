package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevinaaaquil/booknook/backend/cache"
)

func TestGoogleQuery(t *testing.T) {
	tests := []struct {
		isbn, title, author string
		want                string
	}{
		{"978-1-250-17994-4", "Ignored", "Ignored", "isbn:9781250179944"},
		{"", "Surrounded by Idiots", "Thomas Erikson", `intitle:"Surrounded by Idiots" inauthor:"Thomas Erikson"`},
		{"", "Dune", "", `intitle:"Dune"`},
		{"", "", "Frank Herbert", `inauthor:"Frank Herbert"`},
		{"", " ", "", ""},
	}
	for _, tt := range tests {
		if got := GoogleQuery(tt.isbn, tt.title, tt.author); got != tt.want {
			t.Errorf("GoogleQuery(%q, %q, %q) = %q, want %q", tt.isbn, tt.title, tt.author, got, tt.want)
		}
	}
}

const googleVolume = `{
  "totalItems": 1,
  "items": [{
    "id": "vol1",
    "volumeInfo": {
      "title": "Surrounded by Idiots",
      "subtitle": "The Four Types of Human Behavior",
      "authors": ["Thomas Erikson"],
      "publisher": "St. Martin's Essentials",
      "publishedDate": "2019-07-30",
      "description": "  The four personality types.  ",
      "pageCount": 320,
      "categories": ["Psychology"],
      "language": "en",
      "imageLinks": {"thumbnail": "http://books.google.com/thumb.jpg"},
      "industryIdentifiers": [{"type": "ISBN_10", "identifier": "1250179947"}],
      "averageRating": 4.5,
      "ratingsCount": 12
    }
  }]
}`

func TestGoogleBooksLookupByISBN(t *testing.T) {
	var gotQuery, gotMax string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/volumes" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotMax = r.URL.Query().Get("maxResults")
		w.Write([]byte(googleVolume))
	}))
	defer srv.Close()

	g := NewGoogleBooks(CatalogOptions{BaseURL: srv.URL})
	rec := g.LookupByISBN(context.Background(), "978-1250179944")
	if rec == nil {
		t.Fatal("LookupByISBN returned nil")
	}
	if gotQuery != "isbn:9781250179944" || gotMax != "1" {
		t.Errorf("query = %q maxResults = %q", gotQuery, gotMax)
	}
	if rec.Title != "Surrounded by Idiots: The Four Types of Human Behavior" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.Author() != "Thomas Erikson" || rec.ISBN != "1250179947" || rec.PageCount != 320 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Description != "The four personality types." {
		t.Errorf("Description = %q", rec.Description)
	}
	if rec.Source != SourceGoogleISBN || rec.SourceID != "vol1" {
		t.Errorf("Source = %q SourceID = %q", rec.Source, rec.SourceID)
	}
}

func TestGoogleBooksMissAndFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"zero results", http.StatusOK, `{"totalItems":0}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"bad json", http.StatusOK, `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			g := NewGoogleBooks(CatalogOptions{BaseURL: srv.URL})
			if rec := g.LookupByTitleAuthor(context.Background(), "Dune", "Frank Herbert"); rec != nil {
				t.Fatalf("expected nil, got %+v", rec)
			}
		})
	}
}

func TestGoogleBooksTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(googleVolume))
	}))
	defer srv.Close()
	g := NewGoogleBooks(CatalogOptions{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	if rec := g.LookupByISBN(context.Background(), "9781250179944"); rec != nil {
		t.Fatal("expected nil on timeout")
	}
}

func TestCatalogCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(googleVolume))
	}))
	defer srv.Close()

	g := NewGoogleBooks(CatalogOptions{BaseURL: srv.URL, Cache: cache.NewMemory()})
	for i := 0; i < 3; i++ {
		if rec := g.LookupByTitleAuthor(context.Background(), "Surrounded by Idiots", "Thomas Erikson"); rec == nil {
			t.Fatalf("lookup %d returned nil", i)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestCatalogCachesMisses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		missTTL   time.Duration
		wait      time.Duration
		wantCalls int32
	}{
		{"miss is remembered", http.StatusOK, `{"totalItems":0}`, time.Minute, 0, 1},
		{"miss expires", http.StatusOK, `{"totalItems":0}`, 20 * time.Millisecond, 50 * time.Millisecond, 2},
		{"failure is not cached", http.StatusInternalServerError, `oops`, time.Minute, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGoogleBooks(CatalogOptions{BaseURL: srv.URL, Cache: cache.NewMemory(), MissTTL: tt.missTTL})
			for i := 0; i < 3; i++ {
				if i == 2 {
					time.Sleep(tt.wait)
				}
				if rec := g.LookupByTitleAuthor(context.Background(), "Unknown Book", "Nobody"); rec != nil {
					t.Fatalf("lookup %d = %+v, want nil", i, rec)
				}
			}
			if n := atomic.LoadInt32(&calls); n != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGoogleBooks(CatalogOptions{BaseURL: srv.URL})
	for i := 0; i < 10; i++ {
		g.LookupByISBN(context.Background(), "9781250179944")
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("upstream calls = %d, want 5 before the breaker opens", n)
	}
}

func TestOpenLibraryLookupByISBN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/books" || r.URL.Query().Get("bibkeys") != "ISBN:9781250179944" || r.URL.Query().Get("jscmd") != "data" {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"ISBN:9781250179944": {
			"title": "Surrounded by Idiots",
			"authors": [{"name": "Thomas Erikson"}],
			"publishers": [{"name": "St. Martin's Essentials"}],
			"publish_date": "2019",
			"number_of_pages": 320,
			"cover": {"medium": "https://covers.openlibrary.org/b/id/1-M.jpg"}
		}}`))
	}))
	defer srv.Close()

	o := NewOpenLibrary(CatalogOptions{BaseURL: srv.URL})
	rec := o.LookupByISBN(context.Background(), "978-1250179944")
	if rec == nil {
		t.Fatal("LookupByISBN returned nil")
	}
	if rec.Author() != "Thomas Erikson" || rec.Publisher != "St. Martin's Essentials" || rec.PageCount != 320 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Source != SourceOpenLibraryISBN || rec.ISBN != "9781250179944" {
		t.Errorf("Source = %q ISBN = %q", rec.Source, rec.ISBN)
	}
	if rec := o.LookupByISBN(context.Background(), "0000000000"); rec != nil {
		t.Errorf("expected miss, got %+v", rec)
	}
}

func TestOpenLibrarySearch(t *testing.T) {
	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		w.Write([]byte(`{"numFound": 1, "docs": [{
			"key": "/works/OL1W",
			"title": "Dune",
			"author_name": ["Frank Herbert"],
			"publisher": ["Chilton"],
			"first_publish_year": 1965,
			"isbn": ["0441013597"],
			"cover_i": 42
		}]}`))
	}))
	defer srv.Close()

	o := NewOpenLibrary(CatalogOptions{BaseURL: srv.URL})
	rec := o.LookupByTitleAuthor(context.Background(), "Dune", "Frank Herbert")
	if rec == nil {
		t.Fatal("LookupByTitleAuthor returned nil")
	}
	if gotQ != "title:Dune author:Frank Herbert" {
		t.Errorf("q = %q", gotQ)
	}
	if rec.PublishedDate != "1965" || rec.Thumbnail != "https://covers.openlibrary.org/b/id/42-M.jpg" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Source != SourceOpenLibraryTitle {
		t.Errorf("Source = %q", rec.Source)
	}
}

type fakeCatalog struct {
	rec   *CatalogRecord
	calls int
}

func (f *fakeCatalog) LookupByISBN(context.Context, string) *CatalogRecord {
	f.calls++
	return f.rec
}

func (f *fakeCatalog) LookupByTitleAuthor(context.Context, string, string) *CatalogRecord {
	f.calls++
	return f.rec
}

func TestChain(t *testing.T) {
	miss := &fakeCatalog{}
	hit := &fakeCatalog{rec: &CatalogRecord{Title: "Dune", Source: SourceOpenLibraryTitle}}
	never := &fakeCatalog{rec: &CatalogRecord{Title: "Other"}}

	rec := Chain{miss, hit, never}.LookupByTitleAuthor(context.Background(), "Dune", "")
	if rec == nil || rec.Title != "Dune" {
		t.Fatalf("Chain returned %+v", rec)
	}
	if miss.calls != 1 || hit.calls != 1 || never.calls != 0 {
		t.Errorf("calls = %d %d %d", miss.calls, hit.calls, never.calls)
	}
	if Chain(nil).LookupByISBN(context.Background(), "1") != nil {
		t.Error("empty chain should miss")
	}
}
