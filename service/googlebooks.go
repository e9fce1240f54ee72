package service

import (
	"context"
	"net/url"
	"strings"
)

const googleBooksBase = "https://www.googleapis.com/books/v1"

// googleBooksVolumesResp is the response from GET /volumes?q=...
type googleBooksVolumesResp struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		ID         string           `json:"id"`
		VolumeInfo googleVolumeInfo `json:"volumeInfo"`
	} `json:"items"`
}

type googleVolumeInfo struct {
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle"`
	Authors       []string `json:"authors"`
	Publisher     string   `json:"publisher"`
	PublishedDate string   `json:"publishedDate"`
	Description   string   `json:"description"`
	PageCount     int      `json:"pageCount"`
	Categories    []string `json:"categories"`
	Language      string   `json:"language"`
	ImageLinks    struct {
		SmallThumbnail string `json:"smallThumbnail"`
		Thumbnail      string `json:"thumbnail"`
	} `json:"imageLinks"`
	IndustryIdentifiers []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	} `json:"industryIdentifiers"`
	AverageRating float64 `json:"averageRating"`
	RatingsCount  int     `json:"ratingsCount"`
}

// GoogleBooks queries the Google Books volumes API.
type GoogleBooks struct {
	catalogClient
	apiKey string
}

func NewGoogleBooks(opts CatalogOptions) *GoogleBooks {
	return &GoogleBooks{
		catalogClient: newCatalogClient("google_books", googleBooksBase, opts),
		apiKey:        opts.APIKey,
	}
}

// GoogleQuery builds the volumes search string, preferring ISBN, then
// title and author, then either alone. It returns "" when all are empty.
func GoogleQuery(isbn, title, author string) string {
	isbn, title, author = strings.TrimSpace(isbn), strings.TrimSpace(title), strings.TrimSpace(author)
	switch {
	case isbn != "":
		return "isbn:" + cleanISBN(isbn)
	case title != "" && author != "":
		return `intitle:"` + title + `" inauthor:"` + author + `"`
	case title != "":
		return `intitle:"` + title + `"`
	case author != "":
		return `inauthor:"` + author + `"`
	}
	return ""
}

func (g *GoogleBooks) LookupByISBN(ctx context.Context, isbn string) *CatalogRecord {
	q := GoogleQuery(isbn, "", "")
	if q == "" {
		return nil
	}
	return g.lookup(ctx, "catalog:google:"+q, func(ctx context.Context) (*CatalogRecord, error) {
		rec, err := g.volumes(ctx, q, cleanISBN(isbn))
		if rec != nil {
			rec.Source = SourceGoogleISBN
		}
		return rec, err
	})
}

func (g *GoogleBooks) LookupByTitleAuthor(ctx context.Context, title, author string) *CatalogRecord {
	q := GoogleQuery("", title, author)
	if q == "" {
		return nil
	}
	return g.lookup(ctx, "catalog:google:"+strings.ToLower(q), func(ctx context.Context) (*CatalogRecord, error) {
		rec, err := g.volumes(ctx, q, "")
		if rec != nil {
			rec.Source = SourceGoogleTitle
		}
		return rec, err
	})
}

func (g *GoogleBooks) volumes(ctx context.Context, q, isbn string) (*CatalogRecord, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", "1")
	if g.apiKey != "" {
		params.Set("key", g.apiKey)
	}
	var data googleBooksVolumesResp
	if err := g.getJSON(ctx, g.baseURL+"/volumes?"+params.Encode(), &data); err != nil {
		return nil, err
	}
	if data.TotalItems == 0 || len(data.Items) == 0 {
		return nil, nil
	}
	item := data.Items[0]
	rec := recordFromVolume(item.VolumeInfo)
	rec.SourceID = item.ID
	if rec.ISBN == "" {
		rec.ISBN = isbn
	}
	if rec.Thumbnail == "" && rec.ISBN != "" {
		rec.Thumbnail = openLibraryCoverURL(rec.ISBN, "M")
	}
	return rec, nil
}

func recordFromVolume(vi googleVolumeInfo) *CatalogRecord {
	rec := &CatalogRecord{
		Title:         vi.Title,
		Authors:       vi.Authors,
		Description:   strings.TrimSpace(vi.Description),
		Categories:    vi.Categories,
		Publisher:     vi.Publisher,
		PublishedDate: vi.PublishedDate,
		Language:      vi.Language,
		PageCount:     vi.PageCount,
		AverageRating: vi.AverageRating,
		RatingsCount:  vi.RatingsCount,
		Thumbnail:     vi.ImageLinks.Thumbnail,
	}
	if vi.Subtitle != "" {
		rec.Title = rec.Title + ": " + vi.Subtitle
	}
	if rec.Thumbnail == "" {
		rec.Thumbnail = vi.ImageLinks.SmallThumbnail
	}
	for _, id := range vi.IndustryIdentifiers {
		if id.Type == "ISBN_13" || id.Type == "ISBN_10" {
			rec.ISBN = id.Identifier
			break
		}
	}
	return rec
}
