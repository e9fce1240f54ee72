package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kevinaaaquil/booknook/backend/cache"
	"github.com/kevinaaaquil/booknook/backend/metrics"
	"github.com/kevinaaaquil/booknook/backend/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	nytBase            = "https://api.nytimes.com/svc/books/v3"
	nytList            = "combined-print-and-e-book-fiction"
	releasesCacheKey   = "releases:current"
	SourceNYT          = "nyt_bestseller"
	SourceGoogleRecent = "google_books"
	// A list entry counts as new while it has been on the list this many weeks or fewer.
	newReleaseWeeks = 4
)

// ReleaseStore persists feed snapshots.
type ReleaseStore interface {
	SaveReleaseSnapshot(ctx context.Context, snap *models.ReleaseSnapshot) error
	LatestReleaseSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error)
}

type ReleasesOptions struct {
	NYTBaseURL    string
	GoogleBaseURL string
	NYTAPIKey     string
	GoogleAPIKey  string
	HTTPClient    *http.Client
	Timeout       time.Duration
	Cache         cache.Store
	// TTL is how long a snapshot counts as fresh. Stale snapshots are kept
	// around and served when a refresh fails.
	TTL    time.Duration
	Store  ReleaseStore
	Logger *zap.Logger
}

// Releases builds the new-release feed from the NYT bestseller list and
// the newest Google Books volumes.
type Releases struct {
	nytBase    string
	googleBase string
	nytKey     string
	googleKey  string
	http       *http.Client
	cache      cache.Store
	ttl        time.Duration
	store      ReleaseStore
	log        *zap.Logger
	now        func() time.Time
}

func NewReleases(opts ReleasesOptions) *Releases {
	if opts.NYTBaseURL == "" {
		opts.NYTBaseURL = nytBase
	}
	if opts.GoogleBaseURL == "" {
		opts.GoogleBaseURL = googleBooksBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Releases{
		nytBase:    strings.TrimRight(opts.NYTBaseURL, "/"),
		googleBase: strings.TrimRight(opts.GoogleBaseURL, "/"),
		nytKey:     opts.NYTAPIKey,
		googleKey:  opts.GoogleAPIKey,
		http:       opts.HTTPClient,
		cache:      opts.Cache,
		ttl:        opts.TTL,
		store:      opts.Store,
		log:        opts.Logger.Named("releases"),
		now:        time.Now,
	}
}

// Get returns up to max releases. A fresh cached snapshot is served as is;
// otherwise the feed is refreshed, falling back to the last snapshot when
// every source fails.
func (r *Releases) Get(ctx context.Context, max int) ([]models.NewRelease, error) {
	stale := r.cached(ctx)
	if stale != nil && r.now().Sub(stale.FetchedAt) < r.ttl && len(stale.Books) > 0 {
		metrics.CacheLookups.WithLabelValues("releases", "hit").Inc()
		return limitReleases(stale.Books, max), nil
	}
	metrics.CacheLookups.WithLabelValues("releases", "miss").Inc()

	snap, err := r.Refresh(ctx)
	if err == nil {
		return limitReleases(snap.Books, max), nil
	}
	if stale == nil && r.store != nil {
		if persisted, perr := r.store.LatestReleaseSnapshot(ctx); perr == nil {
			stale = persisted
		}
	}
	if stale != nil && len(stale.Books) > 0 {
		r.log.Warn("serving stale releases", zap.Time("fetchedAt", stale.FetchedAt), zap.Error(err))
		return limitReleases(stale.Books, max), nil
	}
	return nil, err
}

func (r *Releases) cached(ctx context.Context) *models.ReleaseSnapshot {
	var snap models.ReleaseSnapshot
	ok, err := r.cache.Get(ctx, releasesCacheKey, &snap)
	if err != nil {
		r.log.Debug("releases cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &snap
}

var errNoReleaseSources = errors.New("releases: every source failed")

// Refresh fetches both sources concurrently, merges them and updates the
// cache and store.
func (r *Releases) Refresh(ctx context.Context) (*models.ReleaseSnapshot, error) {
	var nyt, google []models.NewRelease
	var nytErr, googleErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		nyt, nytErr = r.fetchNYT(gctx)
		return nil
	})
	g.Go(func() error {
		google, googleErr = r.fetchRecentGoogle(gctx)
		return nil
	})
	_ = g.Wait()

	if nytErr != nil {
		r.log.Warn("nyt bestsellers fetch failed", zap.Error(nytErr))
	}
	if googleErr != nil {
		r.log.Warn("google recent books fetch failed", zap.Error(googleErr))
	}
	if nytErr != nil && googleErr != nil {
		return nil, errors.Join(errNoReleaseSources, nytErr, googleErr)
	}

	books := DedupeReleases(append(nyt, google...))
	if len(books) == 0 {
		return nil, errNoReleaseSources
	}
	snap := &models.ReleaseSnapshot{Books: books, FetchedAt: r.now().UTC()}
	// Kept past the freshness window so it can be served stale.
	if err := r.cache.Set(ctx, releasesCacheKey, snap, 7*r.ttl); err != nil {
		r.log.Debug("releases cache write failed", zap.Error(err))
	}
	if r.store != nil {
		if err := r.store.SaveReleaseSnapshot(ctx, snap); err != nil {
			r.log.Warn("releases snapshot not persisted", zap.Error(err))
		}
	}
	return snap, nil
}

// DedupeReleases keeps one entry per lower-cased title and author. The NYT
// entry replaces another source's entry in place.
func DedupeReleases(books []models.NewRelease) []models.NewRelease {
	index := map[string]int{}
	out := make([]models.NewRelease, 0, len(books))
	for _, b := range books {
		key := strings.ToLower(b.Title) + "-" + strings.ToLower(b.Author)
		if i, ok := index[key]; ok {
			if b.Source == SourceNYT {
				out[i] = b
			}
			continue
		}
		index[key] = len(out)
		out = append(out, b)
	}
	return out
}

func limitReleases(books []models.NewRelease, max int) []models.NewRelease {
	if max > 0 && len(books) > max {
		return books[:max]
	}
	return books
}

type nytListResp struct {
	Results struct {
		Books []struct {
			Rank          int    `json:"rank"`
			WeeksOnList   int    `json:"weeks_on_list"`
			Title         string `json:"title"`
			Author        string `json:"author"`
			Description   string `json:"description"`
			BookImage     string `json:"book_image"`
			Publisher     string `json:"publisher"`
			PrimaryISBN13 string `json:"primary_isbn13"`
		} `json:"books"`
	} `json:"results"`
}

var errNoNYTKey = errors.New("nyt api key not configured")

func (r *Releases) fetchNYT(ctx context.Context) ([]models.NewRelease, error) {
	if r.nytKey == "" {
		return nil, errNoNYTKey
	}
	params := url.Values{}
	params.Set("api-key", r.nytKey)
	var data nytListResp
	if err := getJSON(ctx, r.http, "nyt", r.nytBase+"/lists/current/"+nytList+".json?"+params.Encode(), &data); err != nil {
		return nil, err
	}
	out := make([]models.NewRelease, 0, len(data.Results.Books))
	for _, b := range data.Results.Books {
		out = append(out, models.NewRelease{
			Title:        b.Title,
			Author:       b.Author,
			Description:  b.Description,
			CoverURL:     b.BookImage,
			Publisher:    b.Publisher,
			ISBN:         b.PrimaryISBN13,
			Rank:         b.Rank,
			WeeksOnList:  b.WeeksOnList,
			IsNewRelease: b.WeeksOnList <= newReleaseWeeks,
			Source:       SourceNYT,
		})
	}
	return out, nil
}

func (r *Releases) fetchRecentGoogle(ctx context.Context) ([]models.NewRelease, error) {
	since := r.now().AddDate(0, -3, 0).Format("2006-01-02")
	params := url.Values{}
	params.Set("q", "publishedDate:>"+since)
	params.Set("orderBy", "newest")
	params.Set("maxResults", "40")
	if r.googleKey != "" {
		params.Set("key", r.googleKey)
	}
	var data googleBooksVolumesResp
	if err := getJSON(ctx, r.http, "google_books", r.googleBase+"/volumes?"+params.Encode(), &data); err != nil {
		return nil, err
	}
	out := make([]models.NewRelease, 0, len(data.Items))
	for _, item := range data.Items {
		vi := item.VolumeInfo
		author := "Unknown"
		if len(vi.Authors) > 0 {
			author = strings.Join(vi.Authors, ", ")
		}
		rel := models.NewRelease{
			Title:         vi.Title,
			Author:        author,
			Description:   vi.Description,
			CoverURL:      vi.ImageLinks.Thumbnail,
			Publisher:     vi.Publisher,
			PublishedDate: vi.PublishedDate,
			Categories:    vi.Categories,
			IsNewRelease:  true,
			Source:        SourceGoogleRecent,
		}
		if len(vi.IndustryIdentifiers) > 0 {
			rel.ISBN = vi.IndustryIdentifiers[0].Identifier
		}
		out = append(out, rel)
	}
	return out, nil
}
