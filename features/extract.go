// Package features derives keyword, category and sentiment signals from book
// text and scores how alike two books are.
package features

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/signature"
)

const (
	DefaultMaxKeywords       = 30
	DefaultCategoryThreshold = 5
	// FingerprintSize is how many words Fingerprint keeps.
	FingerprintSize = 50

	minKeywordLen     = 4
	minFingerprintLen = 5
)

var stopWords = map[string]struct{}{
	"this": {}, "that": {}, "these": {}, "those": {}, "and": {}, "but": {}, "for": {},
	"with": {}, "about": {}, "from": {}, "have": {}, "has": {}, "had": {}, "were": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "whom": {}, "whose": {}, "which": {}, "why": {}, "how": {},
}

// IsStopWord reports whether w is dropped during keyword extraction.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

type category struct {
	name       string
	indicators []string
}

// Checked in this order; the output keeps it.
var categories = []category{
	{"fiction", []string{"novel", "story", "character", "plot"}},
	{"business", []string{"business", "management", "leadership", "strategy", "company"}},
	{"self-help", []string{"self", "improvement", "happiness", "success", "goal"}},
	{"psychology", []string{"psychology", "mind", "behavior", "personality", "mental"}},
	{"science", []string{"science", "research", "experiment", "theory", "discovery"}},
	{"biography", []string{"life", "born", "died", "biography", "memoir"}},
	{"history", []string{"history", "century", "war", "ancient", "historical"}},
	{"technology", []string{"technology", "computer", "software", "digital", "internet"}},
	{"philosophy", []string{"philosophy", "philosopher", "ethics", "moral", "existence"}},
	{"romance", []string{"love", "romance", "relationship", "kiss", "passion"}},
}

var (
	positiveWords = []string{"good", "great", "happy", "love", "excellent", "wonderful", "best", "joy"}
	negativeWords = []string{"bad", "terrible", "awful", "hate", "worst", "horrible", "sad", "angry"}
)

type Config struct {
	MaxKeywords       int
	CategoryThreshold int
	// Signatures supplies canonical keywords for recognized books. May be nil.
	Signatures *signature.Registry
}

type Extractor struct {
	maxKeywords int
	threshold   int
	signatures  *signature.Registry
}

func NewExtractor(cfg Config) *Extractor {
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = DefaultMaxKeywords
	}
	if cfg.CategoryThreshold <= 0 {
		cfg.CategoryThreshold = DefaultCategoryThreshold
	}
	return &Extractor{
		maxKeywords: cfg.MaxKeywords,
		threshold:   cfg.CategoryThreshold,
		signatures:  cfg.Signatures,
	}
}

// Empty is the feature set of text with no usable content.
func Empty() models.ContentFeatures {
	return models.ContentFeatures{Keywords: []string{}, Categories: []string{}}
}

// Extract never fails. Keywords are ordered by descending frequency with ties
// kept in first-seen order. Signature keywords, when injected, lead the list
// and push out the lowest-ranked keywords past the cap.
func (e *Extractor) Extract(text string) models.ContentFeatures {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return Empty()
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	out := models.ContentFeatures{
		Keywords:       rankKeywords(tokens, e.maxKeywords),
		Categories:     e.detectCategories(counts),
		SentimentScore: sumCounts(counts, positiveWords) - sumCounts(counts, negativeWords),
	}

	for _, hint := range e.signatures.FeatureHints(text) {
		out.Keywords = injectKeywords(out.Keywords, hint.Keywords, e.maxKeywords)
		out.Categories = appendMissing(out.Categories, hint.Categories)
	}
	return out
}

func (e *Extractor) detectCategories(counts map[string]int) []string {
	found := []string{}
	for _, c := range categories {
		if sumCounts(counts, c.indicators) > e.threshold {
			found = append(found, c.name)
		}
	}
	return found
}

func sumCounts(counts map[string]int, words []string) int {
	n := 0
	for _, w := range words {
		n += counts[w]
	}
	return n
}

// Tokenize lower-cases text and splits it on runs of anything other than
// letters, digits and underscore.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

func rankKeywords(tokens []string, max int) []string {
	return topWords(tokens, max, func(w string) bool {
		return utf8.RuneCountInString(w) >= minKeywordLen && !IsStopWord(w)
	})
}

// Fingerprint returns the most frequent words longer than four characters,
// at most FingerprintSize of them.
func Fingerprint(text string) []string {
	return topWords(Tokenize(text), FingerprintSize, func(w string) bool {
		return utf8.RuneCountInString(w) >= minFingerprintLen
	})
}

func topWords(tokens []string, max int, keep func(string) bool) []string {
	type entry struct {
		word  string
		count int
	}
	index := map[string]int{}
	var entries []entry
	for _, tok := range tokens {
		if !keep(tok) {
			continue
		}
		if i, ok := index[tok]; ok {
			entries[i].count++
			continue
		}
		index[tok] = len(entries)
		entries = append(entries, entry{word: tok, count: 1})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].count > entries[j].count
	})
	if len(entries) > max {
		entries = entries[:max]
	}
	words := make([]string, len(entries))
	for i, e := range entries {
		words[i] = e.word
	}
	return words
}

func injectKeywords(ranked, forced []string, max int) []string {
	out := make([]string, 0, max)
	seen := map[string]struct{}{}
	for _, list := range [][]string{forced, ranked} {
		for _, w := range list {
			if len(out) == max {
				return out
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func appendMissing(dst, add []string) []string {
	for _, a := range add {
		found := false
		for _, d := range dst {
			if d == a {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, a)
		}
	}
	return dst
}

// FromMetadata synthesizes features for a book that has none stored: its tags
// followed by the distinct description words longer than three characters.
func FromMetadata(tags []string, description string) models.ContentFeatures {
	f := Empty()
	seen := map[string]struct{}{}
	add := func(w string) {
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		f.Keywords = append(f.Keywords, w)
	}
	for _, t := range tags {
		if t != "" {
			add(t)
		}
	}
	for _, w := range Tokenize(description) {
		if utf8.RuneCountInString(w) >= minKeywordLen {
			add(w)
		}
	}
	return f
}
