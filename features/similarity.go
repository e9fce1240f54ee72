package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kevinaaaquil/booknook/backend/models"
)

// Weights combine the three similarity signals into one score.
type Weights struct {
	Keyword   float64
	Category  float64
	Sentiment float64
}

// DefaultWeights favour category agreement.
var DefaultWeights = Weights{Keyword: 0.4, Category: 0.5, Sentiment: 0.1}

// ParseWeights reads "keyword,category,sentiment".
func ParseWeights(s string) (Weights, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Weights{}, fmt.Errorf("weights: want 3 comma-separated values, got %d", len(parts))
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Weights{}, fmt.Errorf("weights: %w", err)
		}
		if f < 0 {
			return Weights{}, fmt.Errorf("weights: negative value %v", f)
		}
		v[i] = f
	}
	if sum := v[0] + v[1] + v[2]; math.Abs(sum-1) > 1e-9 {
		return Weights{}, fmt.Errorf("weights: must sum to 1, got %v", sum)
	}
	return Weights{Keyword: v[0], Category: v[1], Sentiment: v[2]}, nil
}

// Similarity scores a and b with DefaultWeights.
func Similarity(a, b models.ContentFeatures) float64 {
	return DefaultWeights.Similarity(a, b)
}

// Similarity returns a score in [0,1]. It is symmetric, and 0 when the books
// share neither a keyword nor a category.
func (w Weights) Similarity(a, b models.ContentFeatures) float64 {
	kw := Jaccard(a.Keywords, b.Keywords)
	cat := Jaccard(a.Categories, b.Categories)
	if kw == 0 && cat == 0 {
		return 0
	}
	diff := math.Abs(float64(a.SentimentScore - b.SentimentScore))
	sent := 1 - math.Min(diff/100, 1)
	score := w.Keyword*kw + w.Category*cat + w.Sentiment*sent
	return math.Max(0, math.Min(1, score))
}

// Jaccard is |a∩b| / |a∪b| over the distinct values, and 0 when both are empty.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	union := len(setA)
	inter := 0
	for s := range setB {
		if _, ok := setA[s]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
