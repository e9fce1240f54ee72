// Package library manages uploaded books: storing the EPUB and its cover,
// recovering metadata, and keeping content features current.
package library

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/kevinaaaquil/booknook/backend/features"
	"github.com/kevinaaaquil/booknook/backend/metadata"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/service"
	"github.com/kevinaaaquil/booknook/backend/store"
	"github.com/kevinaaaquil/booknook/backend/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	ContentTypeEPUB = "application/epub+zip"

	BookPrefix  = "books/"
	CoverPrefix = "books/covers/"

	// Spine sampling bounds for content features.
	FeatureSections = 10
	FeatureChars    = 50000
)

var (
	ErrForbidden   = errors.New("library: not the owner of this book")
	ErrInvalidFile = errors.New("library: file is not an epub")
	ErrNoMatch     = errors.New("library: no catalog match")
	ErrNoStorage   = errors.New("library: blob storage not configured")
)

// BlobStore holds book files and covers. service.S3Service implements it.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, progress service.ProgressFunc) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

// Extractor recovers metadata from an EPUB. metadata.Pipeline implements it.
type Extractor interface {
	Extract(ctx context.Context, in metadata.Input) *metadata.Result
}

type Store interface {
	InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	UpdateBook(ctx context.Context, id primitive.ObjectID, u store.BookUpdate) error
	DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	SetContentFeatures(ctx context.Context, id primitive.ObjectID, f *models.ContentFeatures) error
}

type Options struct {
	Store     Store
	Blobs     BlobStore
	Extractor Extractor
	Features  *features.Extractor
	// Catalog backs RefreshMetadata. May be nil.
	Catalog service.Catalog
	Logger  *zap.Logger
}

type Library struct {
	store     Store
	blobs     BlobStore
	extractor Extractor
	features  *features.Extractor
	catalog   service.Catalog
	log       *zap.Logger
	now       func() time.Time
}

func New(opts Options) *Library {
	if opts.Features == nil {
		opts.Features = features.NewExtractor(features.Config{})
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Library{
		store:     opts.Store,
		blobs:     opts.Blobs,
		extractor: opts.Extractor,
		features:  opts.Features,
		catalog:   opts.Catalog,
		log:       opts.Logger.Named("library"),
		now:       time.Now,
	}
}

// Upload is one EPUB and the fields the uploader chose. Non-empty fields
// always win over extracted ones.
type Upload struct {
	Filename    string
	Data        []byte
	Owner       primitive.ObjectID
	Title       string
	Author      string
	Description string
	CoverURL    string
	Tags        []string
	Private     bool
}

// Probe is what extraction found, for pre-filling an upload form.
type Probe struct {
	ExtractedMetadata *metadata.Result `json:"extractedMetadata"`
	// CoverURL is a data URL for an embedded cover, else a catalog cover URL.
	CoverURL string `json:"coverURL,omitempty"`
	Source   string `json:"source"`
	Degraded bool   `json:"degraded"`
}

// IsEPUB reports whether the upload looks like an EPUB by name or part type.
func IsEPUB(filename, contentType string) bool {
	return strings.EqualFold(path.Ext(filename), ".epub") || strings.HasPrefix(contentType, ContentTypeEPUB)
}

// Probe runs extraction without storing anything.
func (l *Library) Probe(ctx context.Context, filename string, data []byte, viewer primitive.ObjectID) (*Probe, error) {
	if len(data) == 0 {
		return nil, ErrInvalidFile
	}
	res := l.extractor.Extract(ctx, metadata.Input{Filename: filename, Data: data, Viewer: viewer})
	p := &Probe{
		ExtractedMetadata: res,
		CoverURL:          res.CoverURL,
		Source:            res.Source(),
		Degraded:          res.Degraded(),
	}
	if len(res.Cover) > 0 {
		p.CoverURL = "data:" + res.CoverMediaType + ";base64," + base64.StdEncoding.EncodeToString(res.Cover)
	}
	return p, nil
}

// Upload extracts metadata, stores the file, then writes the book record.
// progress, when set, sees a non-decreasing percentage: extraction covers
// 0 to 50 and the file transfer 50 to 100. If the record cannot be written
// the stored blobs are removed again.
func (l *Library) Upload(ctx context.Context, up Upload, progress func(pct int)) (*models.Book, error) {
	if len(up.Data) == 0 {
		return nil, ErrInvalidFile
	}
	if l.blobs == nil {
		return nil, ErrNoStorage
	}
	report := monotonic(progress)
	report(0)

	res := &metadata.Result{}
	if up.Title == "" || up.Author == "" || up.Description == "" {
		res = l.extractor.Extract(ctx, metadata.Input{Filename: up.Filename, Data: up.Data, Viewer: up.Owner})
	}
	report(30)

	cf := l.contentFeatures(up.Data, up.Tags, firstNonEmpty(up.Description, res.Description))
	report(40)

	now := l.now().UTC()
	book := &models.Book{
		UserID:            up.Owner,
		Title:             firstNonEmpty(up.Title, res.Title, strings.TrimSuffix(path.Base(up.Filename), path.Ext(up.Filename))),
		Author:            firstNonEmpty(up.Author, res.Author, models.DefaultAuthor),
		Description:       firstNonEmpty(up.Description, res.Description),
		CoverURL:          firstNonEmpty(up.CoverURL, res.CoverURL),
		Tags:              up.Tags,
		Categories:        res.Categories,
		ISBN:              res.ISBN,
		Publisher:         res.Publisher,
		PublicationDate:   res.PublicationDate,
		Language:          res.Language,
		PageCount:         res.PageCount,
		ContentFeatures:   &cf,
		Ratings:           []models.Rating{},
		ExtractionMethods: res.ExtractionMethods,
		Private:           up.Private,
		OriginalName:      up.Filename,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if book.Tags == nil {
		book.Tags = res.Tags
	}
	if book.Tags == nil {
		book.Tags = []string{}
	}

	var stored []string
	cleanup := func() {
		for _, key := range stored {
			if err := l.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
				l.log.Warn("orphaned blob", zap.String("key", key), zap.Error(err))
			}
		}
	}

	if len(res.Cover) > 0 && up.CoverURL == "" {
		key := service.ObjectKey(CoverPrefix, "cover"+coverExt(res.CoverMediaType))
		if err := l.blobs.Put(ctx, key, bytes.NewReader(res.Cover), int64(len(res.Cover)), res.CoverMediaType, nil); err != nil {
			l.log.Warn("cover upload failed", zap.String("file", up.Filename), zap.Error(err))
		} else {
			stored = append(stored, key)
			book.CoverS3Key = key
		}
	}
	report(50)

	key := service.ObjectKey(BookPrefix, up.Filename)
	size := int64(len(up.Data))
	err := l.blobs.Put(ctx, key, bytes.NewReader(up.Data), size, ContentTypeEPUB, func(sent, total int64) {
		if total > 0 {
			report(50 + int(sent*49/total))
		}
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("store file: %w", err)
	}
	stored = append(stored, key)
	book.File = models.FileRef{Path: key, Size: size, MimeType: ContentTypeEPUB}

	id, err := l.store.InsertBook(ctx, book)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("save book record: %w", err)
	}
	book.ID = id
	report(100)

	l.log.Info("book uploaded",
		zap.String("bookId", id.Hex()),
		zap.String("title", book.Title),
		zap.String("source", metadata.SourceLabel(book.ExtractionMethods)))
	return book, nil
}

// contentFeatures extracts features from the spine text, falling back to
// tags and description when the book has no readable text.
func (l *Library) contentFeatures(data []byte, tags []string, description string) models.ContentFeatures {
	if epub, err := utils.OpenEPUB(data); err == nil {
		if text := epub.SpineText(FeatureSections, FeatureChars); text != "" {
			return l.features.Extract(text)
		}
	}
	return features.FromMetadata(tags, description)
}

// Get returns a book the viewer may see.
func (l *Library) Get(ctx context.Context, viewer, id primitive.ObjectID) (*models.Book, error) {
	b, err := l.store.BookByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.VisibleTo(viewer) {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (l *Library) owned(ctx context.Context, owner, id primitive.ObjectID) (*models.Book, error) {
	b, err := l.store.BookByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != owner {
		return nil, ErrForbidden
	}
	return b, nil
}

// Update edits metadata or tags on an owned book.
func (l *Library) Update(ctx context.Context, owner, id primitive.ObjectID, u store.BookUpdate) (*models.Book, error) {
	if _, err := l.owned(ctx, owner, id); err != nil {
		return nil, err
	}
	if !u.Empty() {
		if err := l.store.UpdateBook(ctx, id, u); err != nil {
			return nil, err
		}
	}
	return l.store.BookByID(ctx, id)
}

// Delete removes an owned book and then its blobs. Blob failures are logged.
func (l *Library) Delete(ctx context.Context, owner, id primitive.ObjectID) error {
	if _, err := l.owned(ctx, owner, id); err != nil {
		return err
	}
	b, err := l.store.DeleteBook(ctx, id)
	if err != nil {
		return err
	}
	for _, key := range []string{b.File.Path, b.CoverS3Key} {
		if key == "" || l.blobs == nil {
			continue
		}
		if err := l.blobs.Delete(ctx, key); err != nil {
			l.log.Warn("blob not deleted", zap.String("bookId", id.Hex()), zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// RefreshMetadata fills empty fields of an owned book from the external
// catalog, by ISBN when known and otherwise by title and author.
func (l *Library) RefreshMetadata(ctx context.Context, owner, id primitive.ObjectID) (*models.Book, error) {
	b, err := l.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if l.catalog == nil {
		return nil, ErrNoMatch
	}
	var rec *service.CatalogRecord
	if b.ISBN != "" {
		rec = l.catalog.LookupByISBN(ctx, b.ISBN)
	}
	if rec == nil {
		author := b.Author
		if author == models.DefaultAuthor {
			author = ""
		}
		rec = l.catalog.LookupByTitleAuthor(ctx, b.Title, author)
	}
	if rec == nil {
		return nil, ErrNoMatch
	}

	u := catalogUpdate(b, rec)
	if !u.Empty() {
		if err := l.store.UpdateBook(ctx, id, u); err != nil {
			return nil, err
		}
	}
	return l.store.BookByID(ctx, id)
}

func catalogUpdate(b *models.Book, rec *service.CatalogRecord) store.BookUpdate {
	var u store.BookUpdate
	str := func(cur, v string) *string {
		if cur == "" && v != "" {
			return &v
		}
		return nil
	}
	u.Description = str(b.Description, rec.Description)
	u.ISBN = str(b.ISBN, rec.ISBN)
	u.Publisher = str(b.Publisher, rec.Publisher)
	u.PublicationDate = str(b.PublicationDate, rec.PublishedDate)
	u.Language = str(b.Language, rec.Language)
	u.CoverURL = str(b.CoverURL, rec.Thumbnail)
	if b.Author == models.DefaultAuthor && len(rec.Authors) > 0 {
		a := strings.Join(rec.Authors, ", ")
		u.Author = &a
	}
	if b.PageCount == 0 && rec.PageCount > 0 {
		u.PageCount = &rec.PageCount
	}
	if len(b.Categories) == 0 && len(rec.Categories) > 0 {
		u.Categories = rec.Categories
	}
	if !u.Empty() {
		u.ExtractionMethods = append(append([]string(nil), b.ExtractionMethods...), rec.Source)
	}
	return u
}

// RecomputeFeatures re-reads the stored file of an owned book and replaces
// its content features.
func (l *Library) RecomputeFeatures(ctx context.Context, owner, id primitive.ObjectID) (*models.ContentFeatures, error) {
	b, err := l.owned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	var data []byte
	if b.File.Path != "" && l.blobs != nil {
		body, _, err := l.blobs.Get(ctx, b.File.Path)
		if err != nil {
			return nil, fmt.Errorf("read stored file: %w", err)
		}
		data, err = io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("read stored file: %w", err)
		}
	}
	cf := l.contentFeatures(data, b.Tags, b.Description)
	if err := l.store.SetContentFeatures(ctx, id, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func coverExt(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "png"):
		return ".png"
	case strings.Contains(mediaType, "gif"):
		return ".gif"
	case strings.Contains(mediaType, "webp"):
		return ".webp"
	}
	return ".jpg"
}

// monotonic drops reports that would move progress backwards.
func monotonic(fn func(int)) func(int) {
	last := -1
	return func(pct int) {
		if fn == nil || pct <= last {
			return
		}
		if pct > 100 {
			pct = 100
		}
		last = pct
		fn(pct)
	}
}
