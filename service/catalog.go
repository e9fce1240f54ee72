package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/kevinaaaquil/booknook/backend/cache"
	"github.com/kevinaaaquil/booknook/backend/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Provenance tags recorded when a catalog contributes metadata.
const (
	SourceGoogleISBN       = "google_books_isbn"
	SourceGoogleTitle      = "google_books_title"
	SourceOpenLibraryISBN  = "open_library_isbn"
	SourceOpenLibraryTitle = "open_library_title"
)

// CatalogRecord is an external catalog entry in the common field set.
type CatalogRecord struct {
	SourceID      string   `json:"sourceId,omitempty"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	Description   string   `json:"description,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Publisher     string   `json:"publisher,omitempty"`
	PublishedDate string   `json:"publishedDate,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	Language      string   `json:"language,omitempty"`
	ISBN          string   `json:"isbn,omitempty"`
	PageCount     int      `json:"pageCount,omitempty"`
	AverageRating float64  `json:"averageRating,omitempty"`
	RatingsCount  int      `json:"ratingsCount,omitempty"`
	Source        string   `json:"source"`
}

// Author returns the first listed author.
func (r *CatalogRecord) Author() string {
	if r == nil || len(r.Authors) == 0 {
		return ""
	}
	return r.Authors[0]
}

// Catalog looks up books in an external source. Both methods return nil on
// no results or any transport or decode failure.
type Catalog interface {
	LookupByISBN(ctx context.Context, isbn string) *CatalogRecord
	LookupByTitleAuthor(ctx context.Context, title, author string) *CatalogRecord
}

// Chain asks each catalog in order and returns the first hit.
type Chain []Catalog

func (c Chain) LookupByISBN(ctx context.Context, isbn string) *CatalogRecord {
	for _, cat := range c {
		if rec := cat.LookupByISBN(ctx, isbn); rec != nil {
			return rec
		}
	}
	return nil
}

func (c Chain) LookupByTitleAuthor(ctx context.Context, title, author string) *CatalogRecord {
	for _, cat := range c {
		if rec := cat.LookupByTitleAuthor(ctx, title, author); rec != nil {
			return rec
		}
	}
	return nil
}

type CatalogOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Cache      cache.Store
	CacheTTL   time.Duration
	MissTTL    time.Duration
	Logger     *zap.Logger
}

var errUpstream = errors.New("catalog upstream error")

// catalogClient holds what every catalog source shares: the HTTP client,
// circuit breaker, cache and logger.
type catalogClient struct {
	name     string
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*CatalogRecord]
	cache    cache.Store
	cacheTTL time.Duration
	missTTL  time.Duration
	log      *zap.Logger
}

// cachedLookup is the cache value; a nil Record remembers a clean miss.
type cachedLookup struct {
	Record *CatalogRecord `json:"record"`
}

func newCatalogClient(name, defaultBase string, opts CatalogOptions) catalogClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.MissTTL <= 0 {
		opts.MissTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named(name)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	breaker := gobreaker.NewCircuitBreaker[*CatalogRecord](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return catalogClient{
		name:     name,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     opts.HTTPClient,
		breaker:  breaker,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		missTTL:  opts.MissTTL,
		log:      log,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// lookup serves from cache, otherwise runs fetch through the breaker. A nil
// record with nil error is a clean miss: it does not trip the breaker and is
// cached for missTTL. Failures are never cached.
func (c *catalogClient) lookup(ctx context.Context, key string, fetch func(context.Context) (*CatalogRecord, error)) *CatalogRecord {
	if c.cache != nil {
		var cached cachedLookup
		if ok, err := c.cache.Get(ctx, key, &cached); err == nil && ok {
			metrics.CacheLookups.WithLabelValues("catalog", "hit").Inc()
			return cached.Record
		}
		metrics.CacheLookups.WithLabelValues("catalog", "miss").Inc()
	}

	rec, err := c.breaker.Execute(func() (*CatalogRecord, error) {
		return fetch(ctx)
	})
	switch {
	case err != nil:
		metrics.CatalogRequests.WithLabelValues(c.name, "error").Inc()
		c.log.Warn("catalog lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	case rec == nil:
		metrics.CatalogRequests.WithLabelValues(c.name, "miss").Inc()
		c.log.Debug("catalog lookup found nothing", zap.String("key", key))
		c.remember(ctx, key, nil, c.missTTL)
		return nil
	}
	metrics.CatalogRequests.WithLabelValues(c.name, "hit").Inc()
	c.remember(ctx, key, rec, c.cacheTTL)
	return rec
}

func (c *catalogClient) remember(ctx context.Context, key string, rec *CatalogRecord, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, cachedLookup{Record: rec}, ttl); err != nil {
		c.log.Debug("catalog cache write failed", zap.Error(err))
	}
}

func (c *catalogClient) getJSON(ctx context.Context, rawURL string, dst any) error {
	return getJSON(ctx, c.http, c.name, rawURL, dst)
}

// getJSON issues a GET and decodes a 200 response into dst.
func getJSON(ctx context.Context, client *http.Client, source, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", errUpstream, source, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// openLibraryCoverURL returns a direct cover image URL by ISBN. Size: S (small), M (medium), L (large).
func openLibraryCoverURL(isbn, size string) string {
	clean := strings.ReplaceAll(strings.TrimSpace(isbn), "-", "")
	if clean == "" {
		return ""
	}
	return "https://covers.openlibrary.org/b/isbn/" + url.PathEscape(clean) + "-" + size + ".jpg"
}

func cleanISBN(isbn string) string {
	return strings.ReplaceAll(strings.TrimSpace(isbn), "-", "")
}
