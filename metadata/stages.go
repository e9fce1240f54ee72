package metadata

import (
	"context"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kevinaaaquil/booknook/backend/features"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/service"
	"github.com/kevinaaaquil/booknook/backend/store"
	"github.com/kevinaaaquil/booknook/backend/utils"
	"go.uber.org/zap"
)

// Spine sampling bounds for the package stage.
const (
	SampleSections = 3
	SampleChars    = 20000
	// Analysis results at or below this confidence never override.
	analysisThreshold = 0.8
)

var (
	yearSuffix = regexp.MustCompile(`\s*\(\d{4}[^)]*\).*$`)

	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:title|book title)\s*[:\-]\s*([^.,\n\r]{3,50})`),
		regexp.MustCompile(`(?i)^([^.,\n\r]{3,50})\s*(?:by|author)\s+`),
	}
	authorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:author|by)\s*[:\-]\s*([^.,\n\r]{3,50})`),
		regexp.MustCompile(`(?i)(?:written by|authored by)\s+([^.,\n\r]{3,50})`),
	}
)

func baseName(filename string) string {
	return path.Base(strings.ReplaceAll(filename, "\\", "/"))
}

func trimExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".epub") {
		return strings.TrimSpace(name[:len(name)-len(".epub")])
	}
	return strings.TrimSpace(name)
}

// ParseFilename splits "Author - Title (YYYY...).epub" into title and author.
// Without a " - " separator the whole name is the title and author is empty.
func ParseFilename(filename string) (title, author string) {
	name := trimExt(baseName(filename))
	parts := strings.Split(name, " - ")
	if len(parts) < 2 {
		return name, ""
	}
	author = strings.TrimSpace(parts[0])
	title = strings.TrimSpace(strings.Join(parts[1:], " - "))
	title = strings.TrimSpace(yearSuffix.ReplaceAllString(title, ""))
	if title == "" {
		title = name
	}
	return title, author
}

// matchPattern returns the first capture accepted by accept.
func matchPattern(patterns []*regexp.Regexp, text string, accept func(string) bool) string {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if accept(candidate) {
			return candidate
		}
	}
	return ""
}

func plausible(current string) func(string) bool {
	return func(s string) bool {
		n := utf8.RuneCountInString(s)
		return n > 3 && n < 100 && s != current
	}
}

func (p *Pipeline) filenameStage(_ context.Context, v view) (*Partial, error) {
	title, author := ParseFilename(v.in.Filename)
	return &Partial{
		Fields:      Fields{Title: title, Author: author},
		Provisional: true,
		Methods:     []string{MethodFilename},
	}, nil
}

func (p *Pipeline) structureStage(_ context.Context, v view) (*Partial, error) {
	info, err := utils.ScanPackage(v.in.Data)
	if err != nil {
		return nil, err
	}
	if info.Title == "" {
		return nil, ErrStageSkipped
	}
	return &Partial{
		Fields:  Fields{Title: info.Title, Author: info.Creator, ISBN: info.ISBN},
		Methods: []string{MethodStructure},
	}, nil
}

func (p *Pipeline) packageStage(_ context.Context, v view) (*Partial, error) {
	book, err := utils.OpenEPUB(v.in.Data)
	if err != nil {
		return nil, err
	}
	md := book.Metadata()
	part := &Partial{
		Fields: Fields{
			Title:           md.Title,
			Author:          md.Creator,
			Description:     md.Description,
			Language:        md.Language,
			Publisher:       md.Publisher,
			PublicationDate: md.Date,
			ISBN:            md.ISBN,
			Categories:      md.Subjects,
		},
		Methods: []string{MethodEPUBMetadata},
	}

	if cover, mediaType, err := book.Cover(); err == nil && len(cover) > 0 {
		part.Cover = cover
		part.CoverMediaType = mediaType
		part.Methods = append(part.Methods, MethodEPUBCover)
	} else if err != nil {
		p.log.Debug("no epub cover", zap.String("file", v.in.Filename), zap.Error(err))
	}

	sample := book.SpineText(SampleSections, SampleChars)
	if sample == "" {
		return part, nil
	}
	part.Sample = sample
	part.Methods = append(part.Methods, MethodContentExtraction)

	currentTitle := v.Title
	if md.Title != "" && v.provisionalTitle {
		currentTitle = md.Title
	}
	if t := matchPattern(titlePatterns, sample, plausible(currentTitle)); t != "" {
		part.ContentTitle = t
		part.Methods = append(part.Methods, MethodTitlePattern)
		if part.Fields.Title == "" {
			part.Fields.Title = t
		}
	}
	currentAuthor := v.Author
	if md.Creator != "" && v.provisionalAuthor {
		currentAuthor = md.Creator
	}
	if a := matchPattern(authorPatterns, sample, plausible(currentAuthor)); a != "" {
		part.ContentAuthor = a
		part.Methods = append(part.Methods, MethodAuthorPattern)
		if part.Fields.Author == "" {
			part.Fields.Author = a
		}
	}
	return part, nil
}

func (p *Pipeline) signatureStage(_ context.Context, v view) (*Partial, error) {
	if v.sample == "" {
		return nil, ErrStageSkipped
	}
	m, ok := p.signatures.Match(v.sample, features.Fingerprint(v.sample))
	if !ok {
		return nil, ErrStageSkipped
	}
	md := m.Signature.Metadata
	return &Partial{
		Fields: Fields{
			Title:           md.Title,
			Author:          md.Author,
			Description:     md.Description,
			ISBN:            md.ISBN,
			Publisher:       md.Publisher,
			PublicationDate: md.PublicationDate,
			Tags:            md.Tags,
		},
		Override:   true,
		Confidence: m.Confidence,
		Methods:    []string{MethodSignature},
	}, nil
}

func (p *Pipeline) catalogStage(ctx context.Context, v view) (*Partial, error) {
	if p.catalog == nil {
		return nil, ErrStageSkipped
	}
	var rec *service.CatalogRecord
	switch {
	case v.ISBN != "":
		rec = p.catalog.LookupByISBN(ctx, v.ISBN)
	case v.Title != "" && !v.provisionalTitle:
		author := v.Author
		if v.provisionalAuthor {
			author = ""
		}
		rec = p.catalog.LookupByTitleAuthor(ctx, v.Title, author)
	default:
		return nil, ErrStageSkipped
	}
	if rec == nil {
		return nil, ErrStageSkipped
	}
	method := rec.Source
	if method == "" {
		method = "catalog"
	}
	return &Partial{
		Fields: Fields{
			Title:           rec.Title,
			Author:          strings.Join(rec.Authors, ", "),
			Description:     rec.Description,
			Categories:      rec.Categories,
			ISBN:            rec.ISBN,
			Publisher:       rec.Publisher,
			PublicationDate: rec.PublishedDate,
			Language:        rec.Language,
			PageCount:       rec.PageCount,
			CoverURL:        rec.Thumbnail,
		},
		Methods: []string{method},
	}, nil
}

func (p *Pipeline) internalStage(ctx context.Context, v view) (*Partial, error) {
	if p.books == nil || v.Title == "" || v.provisionalTitle {
		return nil, ErrStageSkipped
	}
	found, err := p.books.FindBooks(ctx, store.BookQuery{
		Title:   v.Title,
		Viewer:  v.in.Viewer,
		Exclude: v.in.Exclude,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrStageSkipped
	}
	b := found[0]
	author := b.Author
	if author == models.DefaultAuthor {
		author = ""
	}
	return &Partial{
		Fields: Fields{
			Author:      author,
			Description: b.Description,
			Tags:        b.Tags,
			CoverURL:    b.CoverURL,
		},
		Methods: []string{MethodInternalMatch},
	}, nil
}

func (p *Pipeline) analysisStage(_ context.Context, v view) (*Partial, error) {
	if v.sample == "" {
		return nil, ErrStageSkipped
	}
	a, ok := p.signatures.Analyze(v.sample)
	if !ok || a.Confidence <= analysisThreshold {
		return nil, ErrStageSkipped
	}
	return &Partial{
		Fields: Fields{
			Title:       a.Title,
			Author:      a.Author,
			Description: a.Description,
			Tags:        a.Tags,
		},
		Override:   true,
		Confidence: a.Confidence,
		Methods:    []string{MethodContentAnalysis},
	}, nil
}
