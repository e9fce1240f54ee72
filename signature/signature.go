// Package signature recognizes specific cataloged books from their text.
//
// A Registry holds a list of Signatures. Each one can score a text sample
// for metadata recovery, inject canonical keywords into extracted features,
// and run a content-analysis rule that reports its own confidence.
package signature

import "strings"

// Points awarded per hit when scoring a sample against a signature.
const (
	TitlePoints       = 25
	AuthorPoints      = 25
	PhrasePoints      = 10
	CombinationPoints = 15
	FingerprintPoints = 5
	MaxScore          = 100

	// MatchThreshold is the minimum score for a signature to be adopted.
	MatchThreshold = 50
)

// Metadata is the canonical record adopted when a signature matches.
type Metadata struct {
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	Description     string   `json:"description,omitempty"`
	ISBN            string   `json:"isbn,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationDate string   `json:"publicationDate,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// Trigger matches when every All phrase is present and, if Any is non-empty,
// at least one Any phrase is present.
type Trigger struct {
	All []string
	Any []string
}

func (t Trigger) matches(lower string) bool {
	if len(t.All) == 0 && len(t.Any) == 0 {
		return false
	}
	for _, p := range t.All {
		if !strings.Contains(lower, p) {
			return false
		}
	}
	if len(t.Any) == 0 {
		return true
	}
	for _, p := range t.Any {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// FeatureHint injects keywords and categories into extracted features when
// any of its triggers fire.
type FeatureHint struct {
	Triggers   []Trigger
	Keywords   []string
	Categories []string
}

// AnalysisRule is a keyword-conjunction classifier. It fires only when every
// Required phrase appears in the sample.
type AnalysisRule struct {
	Required    []string
	Confidence  float64
	Description string
	Tags        []string
}

type Signature struct {
	Name             string
	TitlePatterns    []string
	AuthorPatterns   []string
	UniquePhrases    []string
	WordCombinations [][]string
	Metadata         Metadata
	Features         *FeatureHint
	Analysis         *AnalysisRule
}

// Score returns the cumulative match score of the lower-cased sample against s.
func (s *Signature) Score(lower string, fingerprint []string) int {
	score := 0
	for _, p := range s.TitlePatterns {
		if strings.Contains(lower, p) {
			score += TitlePoints
		}
	}
	for _, p := range s.AuthorPatterns {
		if strings.Contains(lower, p) {
			score += AuthorPoints
		}
	}
	for _, p := range s.UniquePhrases {
		if strings.Contains(lower, p) {
			score += PhrasePoints
		}
	}
	for _, combo := range s.WordCombinations {
		if len(combo) > 0 && containsAll(lower, combo) {
			score += CombinationPoints
		}
	}
	if len(fingerprint) > 0 {
		fp := make(map[string]struct{}, len(fingerprint))
		for _, w := range fingerprint {
			fp[w] = struct{}{}
		}
		for _, p := range s.UniquePhrases {
			if _, ok := fp[strings.Join(strings.Fields(p), "")]; ok {
				score += FingerprintPoints
			}
		}
	}
	return score
}

func containsAll(lower string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

// Match is the result of scoring a sample against the registry.
type Match struct {
	Signature  *Signature
	Score      int
	Confidence float64
}

// Analysis is the output of a fired AnalysisRule.
type Analysis struct {
	Signature   *Signature
	Title       string
	Author      string
	Description string
	Tags        []string
	Confidence  float64
}

// Registry is an immutable list of signatures, safe for concurrent use.
type Registry struct {
	sigs []Signature
}

func NewRegistry(sigs ...Signature) *Registry {
	cp := make([]Signature, len(sigs))
	copy(cp, sigs)
	return &Registry{sigs: cp}
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sigs)
}

// Match returns the highest-scoring signature whose score reaches
// MatchThreshold. Earlier registrations win ties.
func (r *Registry) Match(text string, fingerprint []string) (Match, bool) {
	if r == nil || text == "" {
		return Match{}, false
	}
	lower := strings.ToLower(text)
	var best Match
	for i := range r.sigs {
		score := r.sigs[i].Score(lower, fingerprint)
		if score >= MatchThreshold && score > best.Score {
			best = Match{Signature: &r.sigs[i], Score: score}
		}
	}
	if best.Signature == nil {
		return Match{}, false
	}
	best.Confidence = float64(best.Score) / MaxScore
	if best.Confidence > 1 {
		best.Confidence = 1
	}
	return best, true
}

// FeatureHints returns the hints of every signature whose triggers fire on text.
func (r *Registry) FeatureHints(text string) []FeatureHint {
	if r == nil || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []FeatureHint
	for _, s := range r.sigs {
		if s.Features == nil {
			continue
		}
		for _, t := range s.Features.Triggers {
			if t.matches(lower) {
				out = append(out, *s.Features)
				break
			}
		}
	}
	return out
}

// Analyze runs every analysis rule and returns the most confident one that fires.
func (r *Registry) Analyze(text string) (Analysis, bool) {
	if r == nil || text == "" {
		return Analysis{}, false
	}
	lower := strings.ToLower(text)
	var best Analysis
	found := false
	for i := range r.sigs {
		s := &r.sigs[i]
		if s.Analysis == nil || len(s.Analysis.Required) == 0 {
			continue
		}
		if !containsAll(lower, s.Analysis.Required) {
			continue
		}
		if found && s.Analysis.Confidence <= best.Confidence {
			continue
		}
		best = Analysis{
			Signature:   s,
			Title:       s.Metadata.Title,
			Author:      s.Metadata.Author,
			Description: s.Analysis.Description,
			Tags:        append([]string(nil), s.Analysis.Tags...),
			Confidence:  s.Analysis.Confidence,
		}
		found = true
	}
	return best, found
}
