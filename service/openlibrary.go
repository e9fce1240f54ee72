package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const openLibraryBase = "https://openlibrary.org"

type openLibraryBook struct {
	Title      string `json:"title"`
	Subtitle   string `json:"subtitle"`
	Authors    []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	PublishDate   string `json:"publish_date"`
	NumberOfPages int    `json:"number_of_pages"`
	Subjects      []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Cover struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
	Key string `json:"key"`
}

type openLibrarySearchResp struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		Publisher        []string `json:"publisher"`
		FirstPublishYear int      `json:"first_publish_year"`
		ISBN             []string `json:"isbn"`
		CoverI           int      `json:"cover_i"`
		Language         []string `json:"language"`
		Subject          []string `json:"subject"`
		PagesMedian      int      `json:"number_of_pages_median"`
	} `json:"docs"`
}

// OpenLibrary queries the Open Library books and search APIs.
type OpenLibrary struct {
	catalogClient
}

func NewOpenLibrary(opts CatalogOptions) *OpenLibrary {
	return &OpenLibrary{catalogClient: newCatalogClient("open_library", openLibraryBase, opts)}
}

func (o *OpenLibrary) LookupByISBN(ctx context.Context, isbn string) *CatalogRecord {
	isbn = cleanISBN(isbn)
	if isbn == "" {
		return nil
	}
	return o.lookup(ctx, "catalog:openlibrary:isbn:"+isbn, func(ctx context.Context) (*CatalogRecord, error) {
		params := url.Values{}
		params.Set("bibkeys", "ISBN:"+isbn)
		params.Set("format", "json")
		params.Set("jscmd", "data")
		var data map[string]openLibraryBook
		if err := o.getJSON(ctx, o.baseURL+"/api/books?"+params.Encode(), &data); err != nil {
			return nil, err
		}
		b, ok := data["ISBN:"+isbn]
		if !ok {
			return nil, nil
		}
		rec := &CatalogRecord{
			SourceID:      b.Key,
			Title:         b.Title,
			PublishedDate: b.PublishDate,
			PageCount:     b.NumberOfPages,
			Thumbnail:     b.Cover.Medium,
			ISBN:          isbn,
			Source:        SourceOpenLibraryISBN,
		}
		if b.Subtitle != "" {
			rec.Title += ": " + b.Subtitle
		}
		for _, a := range b.Authors {
			rec.Authors = append(rec.Authors, a.Name)
		}
		if len(b.Publishers) > 0 {
			rec.Publisher = b.Publishers[0].Name
		}
		for _, s := range b.Subjects {
			rec.Categories = append(rec.Categories, s.Name)
		}
		if rec.Thumbnail == "" {
			rec.Thumbnail = openLibraryCoverURL(isbn, "M")
		}
		return rec, nil
	})
}

// OpenLibraryQuery builds the search.json q parameter.
func OpenLibraryQuery(title, author string) string {
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	switch {
	case title != "" && author != "":
		return "title:" + title + " author:" + author
	case title != "":
		return "title:" + title
	case author != "":
		return "author:" + author
	}
	return ""
}

func (o *OpenLibrary) LookupByTitleAuthor(ctx context.Context, title, author string) *CatalogRecord {
	q := OpenLibraryQuery(title, author)
	if q == "" {
		return nil
	}
	return o.lookup(ctx, "catalog:openlibrary:"+strings.ToLower(q), func(ctx context.Context) (*CatalogRecord, error) {
		params := url.Values{}
		params.Set("q", q)
		params.Set("limit", "1")
		var data openLibrarySearchResp
		if err := o.getJSON(ctx, o.baseURL+"/search.json?"+params.Encode(), &data); err != nil {
			return nil, err
		}
		if data.NumFound == 0 || len(data.Docs) == 0 {
			return nil, nil
		}
		d := data.Docs[0]
		rec := &CatalogRecord{
			SourceID:   d.Key,
			Title:      d.Title,
			Authors:    d.AuthorName,
			Categories: d.Subject,
			PageCount:  d.PagesMedian,
			Source:     SourceOpenLibraryTitle,
		}
		if len(d.Publisher) > 0 {
			rec.Publisher = d.Publisher[0]
		}
		if d.FirstPublishYear > 0 {
			rec.PublishedDate = strconv.Itoa(d.FirstPublishYear)
		}
		if len(d.ISBN) > 0 {
			rec.ISBN = d.ISBN[0]
		}
		if len(d.Language) > 0 {
			rec.Language = d.Language[0]
		}
		if d.CoverI > 0 {
			rec.Thumbnail = "https://covers.openlibrary.org/b/id/" + strconv.Itoa(d.CoverI) + "-M.jpg"
		}
		return rec, nil
	})
}
