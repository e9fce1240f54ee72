// Package recommend builds ranked, deduplicated book recommendations from a
// user's reading history, other readers' activity and book content features.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kevinaaaquil/booknook/backend/features"
	"github.com/kevinaaaquil/booknook/backend/metrics"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Variant names, also used as metric and analytics labels.
const (
	VariantBasic = "basic"
	VariantAI    = "ai"
)

// Recommendation reasons.
const (
	ReasonContent         = "Based on content similarity"
	ReasonShortSessions   = "Quick read based on your reading habits"
	ReasonLongSessions    = "Immersive read based on your reading habits"
	ReasonCollaborative   = "Readers who share your books also read this"
	ReasonPopularBasic    = "Popular among readers"
	ReasonPopularAI       = "Popular with other readers"
	ReasonPopularFallback = "Popular with readers"
)

const eventTimeout = 5 * time.Second

var errUserNotFound = errors.New("recommend: user not found")

// Store is the read side of the document store plus the analytics sink.
type Store interface {
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	FindBooks(ctx context.Context, q store.BookQuery) ([]models.Book, error)
	FindActivities(ctx context.Context, q store.ActivityQuery) ([]models.Activity, error)
	InsertRecommendationEvent(ctx context.Context, ev *models.RecommendationEvent) error
}

type Options struct {
	Weights      features.Weights
	DefaultLimit int
	Logger       *zap.Logger
}

type Engine struct {
	store        Store
	weights      features.Weights
	defaultLimit int
	log          *zap.Logger
	now          func() time.Time

	events sync.WaitGroup
}

func NewEngine(s Store, opts Options) *Engine {
	if opts.Weights == (features.Weights{}) {
		opts.Weights = features.DefaultWeights
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		store:        s,
		weights:      opts.Weights,
		defaultLimit: opts.DefaultLimit,
		log:          opts.Logger.Named("recommend"),
		now:          time.Now,
	}
}

// Wait blocks until pending analytics events are written.
func (e *Engine) Wait() { e.events.Wait() }

func (e *Engine) limit(maxCount int) int {
	if maxCount <= 0 {
		return e.defaultLimit
	}
	return maxCount
}

func half(n int) int { return (n + 1) / 2 }

// Recommend is the collaborative + attribute-content variant. It never fails:
// on any profile error it answers with popular books, and with an empty list
// if even that query fails.
func (e *Engine) Recommend(ctx context.Context, userID primitive.ObjectID, maxCount int) []models.Candidate {
	n := e.limit(maxCount)
	user, err := e.user(ctx, userID)
	if err != nil {
		return e.fallback(ctx, VariantBasic, userID, n, err)
	}
	if len(user.RecentlyRead) == 0 {
		return e.coldStart(ctx, VariantBasic, user, n, ReasonPopularBasic)
	}

	var collab, content []models.Candidate
	var g errgroup.Group
	g.Go(func() error {
		collab = e.branch(ctx, VariantBasic, "collaborative", func() ([]models.Candidate, error) {
			return e.collaborative(ctx, user, half(n))
		})
		return nil
	})
	g.Go(func() error {
		content = e.branch(ctx, VariantBasic, "attributes", func() ([]models.Candidate, error) {
			return e.attributes(ctx, user, half(n))
		})
		return nil
	})
	_ = g.Wait()

	sel := newSelection(user.ReadBookIDs(), n)
	nCollab := sel.add(collab)
	nContent := sel.add(content)
	nPopular := e.backfill(ctx, VariantBasic, user, sel, ReasonPopularBasic)

	out := sel.result()
	e.observe(VariantBasic, map[string]int{"collaborative": nCollab, "content": nContent, "popular": nPopular})
	e.recordEvent(ctx, &models.RecommendationEvent{
		UserID:               user.ID,
		Variant:              VariantBasic,
		CollaborativeCount:   nCollab,
		ContentBasedCount:    nContent,
		PopularCount:         nPopular,
		TotalRecommendations: len(out),
	})
	return out
}

// RecommendAI is the content-similarity + reading-behavior variant. Failure
// handling matches Recommend.
func (e *Engine) RecommendAI(ctx context.Context, userID primitive.ObjectID, maxCount int) []models.Candidate {
	n := e.limit(maxCount)
	user, err := e.user(ctx, userID)
	if err != nil {
		return e.fallback(ctx, VariantAI, userID, n, err)
	}
	if len(user.RecentlyRead) == 0 {
		return e.coldStart(ctx, VariantAI, user, n, ReasonPopularAI)
	}

	var content, behavior []models.Candidate
	var g errgroup.Group
	g.Go(func() error {
		content = e.branch(ctx, VariantAI, "content", func() ([]models.Candidate, error) {
			return e.contentSimilar(ctx, user, half(n))
		})
		return nil
	})
	g.Go(func() error {
		behavior = e.branch(ctx, VariantAI, "behavior", func() ([]models.Candidate, error) {
			return e.behavioral(ctx, user, half(n))
		})
		return nil
	})
	_ = g.Wait()

	sel := newSelection(user.ReadBookIDs(), n)
	nContent := sel.add(content)
	nBehavior := sel.add(behavior)
	nPopular := e.backfill(ctx, VariantAI, user, sel, ReasonPopularAI)

	out := sel.result()
	e.observe(VariantAI, map[string]int{"content": nContent, "behavior": nBehavior, "popular": nPopular})
	e.recordEvent(ctx, &models.RecommendationEvent{
		UserID:               user.ID,
		Variant:              VariantAI,
		ContentBasedCount:    nContent,
		BehaviorBasedCount:   nBehavior,
		PopularCount:         nPopular,
		TotalRecommendations: len(out),
	})
	return out
}

func (e *Engine) user(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := e.store.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, errUserNotFound
	}
	return u, nil
}

// branch runs one recommendation source. Errors and panics cost only that source.
func (e *Engine) branch(ctx context.Context, variant, name string, fn func() ([]models.Candidate, error)) (out []models.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("recommendation branch panicked",
				zap.String("variant", variant),
				zap.String("branch", name),
				zap.Any("panic", r))
			out = nil
		}
	}()
	out, err := fn()
	if err != nil {
		if ctx.Err() == nil {
			e.log.Warn("recommendation branch failed",
				zap.String("variant", variant),
				zap.String("branch", name),
				zap.Error(err))
		}
		return nil
	}
	return out
}

func (e *Engine) coldStart(ctx context.Context, variant string, user *models.User, n int, reason string) []models.Candidate {
	sel := newSelection(nil, n)
	count := e.backfill(ctx, variant, user, sel, reason)
	e.observe(variant, map[string]int{"popular": count})
	out := sel.result()
	e.recordEvent(ctx, &models.RecommendationEvent{
		UserID:               user.ID,
		Variant:              variant,
		PopularCount:         count,
		TotalRecommendations: len(out),
	})
	return out
}

func (e *Engine) fallback(ctx context.Context, variant string, userID primitive.ObjectID, n int, cause error) []models.Candidate {
	metrics.RecommendationFallbacks.WithLabelValues(variant).Inc()
	e.log.Warn("recommendations falling back to popular books",
		zap.String("variant", variant),
		zap.String("userId", userID.Hex()),
		zap.Error(cause))
	books, err := e.popular(ctx, userID, nil, n)
	if err != nil {
		e.log.Error("popular fallback failed", zap.String("variant", variant), zap.Error(err))
		return []models.Candidate{}
	}
	out := annotate(books, ReasonPopularFallback)
	e.observe(variant, map[string]int{"popular": len(out)})
	e.recordEvent(ctx, &models.RecommendationEvent{
		UserID:               userID,
		Variant:              variant,
		PopularCount:         len(out),
		TotalRecommendations: len(out),
	})
	return out
}

// backfill tops sel up with popular books and returns how many it added.
func (e *Engine) backfill(ctx context.Context, variant string, user *models.User, sel *selection, reason string) int {
	need := sel.remaining()
	if need == 0 {
		return 0
	}
	books, err := e.popular(ctx, user.ID, sel.excluded(), need)
	if err != nil {
		e.log.Warn("popular backfill failed", zap.String("variant", variant), zap.Error(err))
		return 0
	}
	return sel.add(annotate(books, reason))
}

func (e *Engine) popular(ctx context.Context, viewer primitive.ObjectID, exclude []primitive.ObjectID, n int) ([]models.Book, error) {
	return e.store.FindBooks(ctx, store.BookQuery{
		Viewer:  viewer,
		Exclude: exclude,
		Popular: true,
		Limit:   n,
	})
}

func (e *Engine) observe(variant string, counts map[string]int) {
	for source, c := range counts {
		if c > 0 {
			metrics.Recommendations.WithLabelValues(variant, source).Add(float64(c))
		}
	}
}

// recordEvent writes the analytics event in the background.
func (e *Engine) recordEvent(ctx context.Context, ev *models.RecommendationEvent) {
	ev.Timestamp = e.now().UTC()
	e.events.Add(1)
	go func() {
		defer e.events.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
		defer cancel()
		if err := e.store.InsertRecommendationEvent(ctx, ev); err != nil {
			e.log.Warn("recommendation event not recorded",
				zap.String("variant", ev.Variant),
				zap.Error(err))
		}
	}()
}

func annotate(books []models.Book, reason string) []models.Candidate {
	out := make([]models.Candidate, 0, len(books))
	for _, b := range books {
		out = append(out, models.Candidate{Book: b, RecommendationReason: reason})
	}
	return out
}

// selection accumulates candidates in order, keeping the first occurrence of
// each id, skipping read books and stopping at max.
type selection struct {
	read map[primitive.ObjectID]struct{}
	seen map[primitive.ObjectID]struct{}
	list []models.Candidate
	max  int
}

func newSelection(read []primitive.ObjectID, max int) *selection {
	s := &selection{
		read: make(map[primitive.ObjectID]struct{}, len(read)),
		seen: make(map[primitive.ObjectID]struct{}),
		max:  max,
	}
	for _, id := range read {
		s.read[id] = struct{}{}
	}
	return s
}

func (s *selection) add(cands []models.Candidate) int {
	added := 0
	for _, c := range cands {
		if len(s.list) >= s.max {
			break
		}
		if _, ok := s.read[c.ID]; ok {
			continue
		}
		if _, ok := s.seen[c.ID]; ok {
			continue
		}
		s.seen[c.ID] = struct{}{}
		s.list = append(s.list, c)
		added++
	}
	return added
}

func (s *selection) remaining() int { return s.max - len(s.list) }

func (s *selection) excluded() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(s.read)+len(s.seen))
	for id := range s.read {
		ids = append(ids, id)
	}
	for id := range s.seen {
		ids = append(ids, id)
	}
	return ids
}

func (s *selection) result() []models.Candidate {
	if s.list == nil {
		return []models.Candidate{}
	}
	return s.list
}
