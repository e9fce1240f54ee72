package library

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/kevinaaaquil/booknook/backend/metadata"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/service"
	"github.com/kevinaaaquil/booknook/backend/signature"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, key string, body io.ReadSeeker, size int64, _ string, progress service.ProgressFunc) error {
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if progress != nil {
		progress(size/2, size)
		progress(size, size)
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), ContentTypeEPUB, nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

// failingInsert rejects every new book.
type failingInsert struct{ *store.Memory }

func (failingInsert) InsertBook(context.Context, *models.Book) (primitive.ObjectID, error) {
	return primitive.NilObjectID, errors.New("write concern failed")
}

var pngCover = []byte("\x89PNG\r\n\x1a\nfakepixels")

func epubFixture(t *testing.T, withCover bool) []byte {
	t.Helper()
	manifest := `<item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>`
	opfMeta := `<dc:title>The Left Hand of Darkness</dc:title><dc:creator>Ursula K. Le Guin</dc:creator>` +
		`<dc:description>An envoy on a winter world.</dc:description><dc:language>en</dc:language>`
	files := map[string][]byte{
		"META-INF/container.xml": []byte(`<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`),
		"OEBPS/ch1.xhtml": []byte(`<html><body><p>` +
			strings.Repeat("The story of the novel follows a character through the plot of winter. ", 3) +
			`</p></body></html>`),
	}
	if withCover {
		manifest += `<item id="cover" href="cover.png" media-type="image/png" properties="cover-image"/>`
		files["OEBPS/cover.png"] = pngCover
	}
	files["OEBPS/content.opf"] = []byte(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">` + opfMeta + `</metadata>
  <manifest>` + manifest + `</manifest>
  <spine><itemref idref="ch1"/></spine>
</package>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newLibrary(s Store, blobs BlobStore, catalog service.Catalog) *Library {
	return New(Options{
		Store:     s,
		Blobs:     blobs,
		Extractor: metadata.New(metadata.Options{Signatures: signature.Default()}),
		Catalog:   catalog,
	})
}

func TestUploadExtractsAndStores(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	blobs := newMemBlobs()
	lib := newLibrary(mem, blobs, nil)
	owner := primitive.NewObjectID()

	var steps []int
	book, err := lib.Upload(ctx, Upload{
		Filename: "le-guin.epub",
		Data:     epubFixture(t, true),
		Owner:    owner,
		Tags:     []string{"scifi"},
	}, func(pct int) { steps = append(steps, pct) })
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if book.Title != "The Left Hand of Darkness" || book.Author != "Ursula K. Le Guin" {
		t.Errorf("title/author = %q / %q", book.Title, book.Author)
	}
	if book.Description != "An envoy on a winter world." || book.Language != "en" {
		t.Errorf("description/language = %q / %q", book.Description, book.Language)
	}
	if book.ContentFeatures == nil || len(book.ContentFeatures.Keywords) == 0 {
		t.Errorf("content features = %+v", book.ContentFeatures)
	}
	if book.Ratings == nil || book.ReadCount != 0 || book.Private {
		t.Errorf("defaults not applied: %+v", book)
	}
	if !strings.HasPrefix(book.File.Path, BookPrefix) || !strings.HasSuffix(book.File.Path, ".epub") {
		t.Errorf("file key = %q", book.File.Path)
	}
	if !strings.HasPrefix(book.CoverS3Key, CoverPrefix) || !strings.HasSuffix(book.CoverS3Key, ".png") {
		t.Errorf("cover key = %q", book.CoverS3Key)
	}
	if len(blobs.keys()) != 2 {
		t.Errorf("blobs = %v", blobs.keys())
	}

	if len(steps) == 0 || steps[0] != 0 || steps[len(steps)-1] != 100 {
		t.Fatalf("progress = %v", steps)
	}
	sawHalf := false
	for i := 1; i < len(steps); i++ {
		if steps[i] <= steps[i-1] {
			t.Errorf("progress not increasing: %v", steps)
		}
		if steps[i] == 50 {
			sawHalf = true
		}
	}
	if !sawHalf {
		t.Errorf("progress never reported the end of extraction: %v", steps)
	}

	stored, err := mem.BookByID(ctx, book.ID)
	if err != nil || stored.Title != book.Title {
		t.Errorf("stored = %+v, %v", stored, err)
	}
}

func TestUploadCallerFieldsWin(t *testing.T) {
	lib := newLibrary(store.NewMemory(), newMemBlobs(), nil)
	book, err := lib.Upload(context.Background(), Upload{
		Filename:    "le-guin.epub",
		Data:        epubFixture(t, true),
		Owner:       primitive.NewObjectID(),
		Title:       "My Title",
		Author:      "Me",
		CoverURL:    "https://covers.example/x.jpg",
		Private:     true,
		Description: "",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if book.Title != "My Title" || book.Author != "Me" || !book.Private {
		t.Errorf("caller fields lost: %+v", book)
	}
	if book.CoverURL != "https://covers.example/x.jpg" || book.CoverS3Key != "" {
		t.Errorf("cover = %q / %q", book.CoverURL, book.CoverS3Key)
	}
	if book.Description != "An envoy on a winter world." {
		t.Errorf("description should come from extraction, got %q", book.Description)
	}
}

func TestUploadCorruptFileStillStores(t *testing.T) {
	lib := newLibrary(store.NewMemory(), newMemBlobs(), nil)
	book, err := lib.Upload(context.Background(), Upload{
		Filename: "Thomas Erikson - Surrounded by Idiots (2019).epub",
		Data:     []byte("not a zip"),
		Owner:    primitive.NewObjectID(),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if book.Title != "Surrounded by Idiots" || book.Author != "Thomas Erikson" {
		t.Errorf("got %q / %q", book.Title, book.Author)
	}
	if !metadata.IsDegraded(book.ExtractionMethods) {
		t.Errorf("methods = %v", book.ExtractionMethods)
	}
}

func TestUploadFailuresLeaveNothingBehind(t *testing.T) {
	t.Run("record write fails", func(t *testing.T) {
		blobs := newMemBlobs()
		lib := newLibrary(failingInsert{store.NewMemory()}, blobs, nil)
		_, err := lib.Upload(context.Background(), Upload{Filename: "a.epub", Data: epubFixture(t, true)}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if keys := blobs.keys(); len(keys) != 0 {
			t.Errorf("blobs left behind: %v", keys)
		}
	})

	t.Run("file transfer fails", func(t *testing.T) {
		mem := store.NewMemory()
		lib := newLibrary(mem, &memBlobs{objects: map[string][]byte{}, failPut: true}, nil)
		_, err := lib.Upload(context.Background(), Upload{Filename: "a.epub", Data: epubFixture(t, false)}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		books, _ := mem.FindBooks(context.Background(), store.BookQuery{})
		if len(books) != 0 {
			t.Errorf("book record written without a file: %+v", books)
		}
	})

	t.Run("empty data", func(t *testing.T) {
		lib := newLibrary(store.NewMemory(), newMemBlobs(), nil)
		if _, err := lib.Upload(context.Background(), Upload{Filename: "a.epub"}, nil); !errors.Is(err, ErrInvalidFile) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestProbe(t *testing.T) {
	mem := store.NewMemory()
	lib := newLibrary(mem, newMemBlobs(), nil)
	p, err := lib.Probe(context.Background(), "x.epub", epubFixture(t, true), primitive.NewObjectID())
	if err != nil {
		t.Fatal(err)
	}
	if p.ExtractedMetadata.Title != "The Left Hand of Darkness" || p.Source != "EPUB metadata" || p.Degraded {
		t.Errorf("probe = %+v", p)
	}
	if !strings.HasPrefix(p.CoverURL, "data:image/png;base64,") {
		t.Errorf("cover url = %q", p.CoverURL)
	}
	if books, _ := mem.FindBooks(context.Background(), store.BookQuery{}); len(books) != 0 {
		t.Error("probe must not persist")
	}
}

func TestDeleteOwnerOnly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	blobs := newMemBlobs()
	lib := newLibrary(mem, blobs, nil)
	owner := primitive.NewObjectID()
	book, err := lib.Upload(ctx, Upload{Filename: "a.epub", Data: epubFixture(t, true), Owner: owner}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := lib.Delete(ctx, primitive.NewObjectID(), book.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger delete err = %v", err)
	}
	if err := lib.Delete(ctx, owner, book.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.BookByID(ctx, book.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("book still present: %v", err)
	}
	if keys := blobs.keys(); len(keys) != 0 {
		t.Errorf("blobs left: %v", keys)
	}
}

type stubCatalog struct{ rec *service.CatalogRecord }

func (s stubCatalog) LookupByISBN(context.Context, string) *service.CatalogRecord { return nil }
func (s stubCatalog) LookupByTitleAuthor(context.Context, string, string) *service.CatalogRecord {
	return s.rec
}

func TestRefreshMetadataFillsEmptyFields(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	owner := primitive.NewObjectID()
	id, _ := mem.InsertBook(ctx, &models.Book{
		UserID: owner, Title: "Dune", Author: models.DefaultAuthor, Description: "Mine",
		ExtractionMethods: []string{metadata.MethodFilename},
	})
	lib := newLibrary(mem, newMemBlobs(), stubCatalog{rec: &service.CatalogRecord{
		Title: "Dune", Authors: []string{"Frank Herbert"}, Description: "Theirs",
		PageCount: 412, Source: service.SourceGoogleTitle,
	}})

	b, err := lib.RefreshMetadata(ctx, owner, id)
	if err != nil {
		t.Fatal(err)
	}
	if b.Author != "Frank Herbert" || b.Description != "Mine" || b.PageCount != 412 {
		t.Errorf("book = %+v", b)
	}
	if got := b.ExtractionMethods; len(got) != 2 || got[1] != service.SourceGoogleTitle {
		t.Errorf("methods = %v", got)
	}

	empty := newLibrary(mem, newMemBlobs(), stubCatalog{})
	if _, err := empty.RefreshMetadata(ctx, owner, id); !errors.Is(err, ErrNoMatch) {
		t.Errorf("err = %v", err)
	}
}

func TestRecomputeFeatures(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	blobs := newMemBlobs()
	lib := newLibrary(mem, blobs, nil)
	owner := primitive.NewObjectID()
	book, err := lib.Upload(ctx, Upload{Filename: "a.epub", Data: epubFixture(t, false), Owner: owner}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.SetContentFeatures(ctx, book.ID, &models.ContentFeatures{}); err != nil {
		t.Fatal(err)
	}

	cf, err := lib.RecomputeFeatures(ctx, owner, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cf.Keywords) == 0 {
		t.Error("no keywords recomputed")
	}
	stored, _ := mem.BookByID(ctx, book.ID)
	if stored.ContentFeatures == nil || len(stored.ContentFeatures.Keywords) != len(cf.Keywords) {
		t.Errorf("stored features = %+v", stored.ContentFeatures)
	}
}
