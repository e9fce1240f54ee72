package metadata

import (
	"github.com/kevinaaaquil/booknook/backend/models"
)

// Extraction method tags, recorded in the order stages contribute.
const (
	MethodFilename          = "filename"
	MethodStructure         = "epub_structure_analysis"
	MethodEPUBMetadata      = "epub_metadata"
	MethodEPUBCover         = "epub_cover"
	MethodContentExtraction = "content_extraction"
	MethodTitlePattern      = "title_pattern_match"
	MethodAuthorPattern     = "author_pattern_match"
	MethodSignature         = "content_signature_match"
	MethodInternalMatch     = "internal_db_match"
	MethodContentAnalysis   = "ai_content_analysis"
)

// Fields is the book metadata a stage can contribute.
type Fields struct {
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	ISBN            string   `json:"isbn,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationDate string   `json:"publicationDate,omitempty"`
	Language        string   `json:"language,omitempty"`
	PageCount       int      `json:"pageCount,omitempty"`
	CoverURL        string   `json:"coverUrl,omitempty"`
}

// Result is the outcome of one extraction. Title and Author are always set.
type Result struct {
	Fields
	// Pattern matches found in the sampled text, kept even when not adopted.
	ContentExtractedTitle  string   `json:"contentExtractedTitle,omitempty"`
	ContentExtractedAuthor string   `json:"contentExtractedAuthor,omitempty"`
	Confidence             float64  `json:"confidence,omitempty"`
	ExtractionMethods      []string `json:"extractionMethods"`

	Cover          []byte `json:"-"`
	CoverMediaType string `json:"-"`

	// Title and author still derived from the filename alone.
	provisionalTitle  bool
	provisionalAuthor bool
}

// Source is the label shown for where the metadata came from.
func (r *Result) Source() string { return SourceLabel(r.ExtractionMethods) }

// Degraded reports whether nothing beyond the filename was recovered.
func (r *Result) Degraded() bool { return IsDegraded(r.ExtractionMethods) }

func (r *Result) addMethods(methods ...string) {
	r.ExtractionMethods = append(r.ExtractionMethods, methods...)
}

// fill sets the fields of r that are empty or still provisional.
func (r *Result) fill(f Fields) {
	if f.Title != "" && (r.Title == "" || r.provisionalTitle) {
		r.Title = f.Title
		r.provisionalTitle = false
	}
	if f.Author != "" && (r.Author == "" || r.provisionalAuthor) {
		r.Author = f.Author
		r.provisionalAuthor = false
	}
	fillString(&r.Description, f.Description)
	fillString(&r.ISBN, f.ISBN)
	fillString(&r.Publisher, f.Publisher)
	fillString(&r.PublicationDate, f.PublicationDate)
	fillString(&r.Language, f.Language)
	fillString(&r.CoverURL, f.CoverURL)
	if len(r.Tags) == 0 && len(f.Tags) > 0 {
		r.Tags = append([]string(nil), f.Tags...)
	}
	if len(r.Categories) == 0 && len(f.Categories) > 0 {
		r.Categories = append([]string(nil), f.Categories...)
	}
	if r.PageCount == 0 {
		r.PageCount = f.PageCount
	}
}

// override replaces every field of r that f sets.
func (r *Result) override(f Fields) {
	if f.Title != "" {
		r.Title = f.Title
		r.provisionalTitle = false
	}
	if f.Author != "" {
		r.Author = f.Author
		r.provisionalAuthor = false
	}
	overrideString(&r.Description, f.Description)
	overrideString(&r.ISBN, f.ISBN)
	overrideString(&r.Publisher, f.Publisher)
	overrideString(&r.PublicationDate, f.PublicationDate)
	overrideString(&r.Language, f.Language)
	overrideString(&r.CoverURL, f.CoverURL)
	if len(f.Tags) > 0 {
		r.Tags = append([]string(nil), f.Tags...)
	}
	if len(f.Categories) > 0 {
		r.Categories = append([]string(nil), f.Categories...)
	}
	if f.PageCount > 0 {
		r.PageCount = f.PageCount
	}
}

func fillString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ensureFloor guarantees a title and author.
func (r *Result) ensureFloor(filename string) {
	if r.Title == "" {
		r.Title = trimExt(baseName(filename))
		if r.Title == "" {
			r.Title = "Untitled"
		}
		r.provisionalTitle = true
	}
	if r.Author == "" {
		r.Author = models.DefaultAuthor
		r.provisionalAuthor = true
	}
}

var sourceLabels = []struct {
	label   string
	methods []string
}{
	{"AI content analysis", []string{MethodContentAnalysis}},
	{"EPUB metadata", []string{MethodEPUBMetadata}},
	{"Google Books", []string{"google_books_isbn", "google_books_title"}},
	{"Open Library", []string{"open_library_isbn", "open_library_title"}},
	{"BookNook database", []string{MethodInternalMatch}},
}

// SourceLabel maps extraction methods to the label shown next to
// extracted metadata. The first matching label wins.
func SourceLabel(methods []string) string {
	for _, s := range sourceLabels {
		for _, m := range s.methods {
			if hasMethod(methods, m) {
				return s.label
			}
		}
	}
	if IsDegraded(methods) {
		return "filename only"
	}
	return "automated extraction"
}

// IsDegraded reports whether methods record nothing beyond the filename seed.
func IsDegraded(methods []string) bool {
	for _, m := range methods {
		if m != MethodFilename {
			return false
		}
	}
	return true
}

func hasMethod(methods []string, m string) bool {
	for _, x := range methods {
		if x == m {
			return true
		}
	}
	return false
}
