package recommend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/kevinaaaquil/booknook/backend/features"
	"github.com/kevinaaaquil/booknook/backend/models"
	"github.com/kevinaaaquil/booknook/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// content similarity
	similarityPool = 50

	// reading behavior
	behaviorWindow        = 20
	defaultSessionMinutes = 30.0
	shortSessionMinutes   = 20.0
	pageThreshold         = 300

	// collaborative filtering
	coReadersPerBook = 50
	coReaderHistory  = 20

	// attribute matching
	attributeHistory  = 5
	booksPerAuthor    = 5
	maxCategoryFilter = 10
)

var readActions = []models.Action{models.ActionRead, models.ActionComplete}

// featuresOf returns the stored features, or ones derived from tags and
// description when the book has none.
func featuresOf(b *models.Book) models.ContentFeatures {
	if b.ContentFeatures != nil {
		return *b.ContentFeatures
	}
	return features.FromMetadata(b.Tags, b.Description)
}

// contentSimilar ranks other books by similarity to the most recently read
// one. Unrelated books stay in the ranking with a zero score.
func (e *Engine) contentSimilar(ctx context.Context, user *models.User, n int) ([]models.Candidate, error) {
	latest, ok := user.LatestRead()
	if !ok {
		return nil, nil
	}
	src, err := e.store.BookByID(ctx, latest.BookID)
	if err != nil {
		return nil, fmt.Errorf("source book: %w", err)
	}
	srcFeatures := featuresOf(src)
	if len(srcFeatures.Keywords) == 0 {
		return nil, nil
	}

	exclude := append(user.ReadBookIDs(), src.ID)
	pool, err := e.store.FindBooks(ctx, store.BookQuery{
		Viewer:  user.ID,
		Exclude: exclude,
		Limit:   similarityPool,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate pool: %w", err)
	}

	scored := make([]models.Candidate, 0, len(pool))
	for i := range pool {
		score := e.weights.Similarity(srcFeatures, featuresOf(&pool[i]))
		scored = append(scored, models.Candidate{
			Book:                 pool[i],
			SimilarityScore:      &score,
			RecommendationReason: ReasonContent,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].SimilarityScore > *scored[j].SimilarityScore
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

// behavioral suggests shorter or longer books from the user's mean session length.
func (e *Engine) behavioral(ctx context.Context, user *models.User, n int) ([]models.Candidate, error) {
	acts, err := e.store.FindActivities(ctx, store.ActivityQuery{
		UserID:  user.ID,
		Actions: readActions,
		Limit:   behaviorWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if len(acts) == 0 {
		return nil, nil
	}

	exclude := user.ReadBookIDs()
	var total float64
	var sessions int
	for _, a := range acts {
		if !slices.Contains(exclude, a.BookID) {
			exclude = append(exclude, a.BookID)
		}
		if d := a.Metadata.ReadingDurationMinutes; d != nil && *d > 0 {
			total += *d
			sessions++
		}
	}
	mean := defaultSessionMinutes
	if sessions > 0 {
		mean = total / float64(sessions)
	}

	q := store.BookQuery{
		Viewer:  user.ID,
		Exclude: exclude,
		Popular: true,
		Limit:   n * 2,
	}
	reason := ReasonLongSessions
	if mean < shortSessionMinutes {
		q.MaxPages = pageThreshold
		reason = ReasonShortSessions
	} else {
		q.MinPages = pageThreshold
	}
	books, err := e.store.FindBooks(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("books by length: %w", err)
	}
	sort.SliceStable(books, func(i, j int) bool { return books[i].ReadCount > books[j].ReadCount })
	if len(books) > n {
		books = books[:n]
	}
	return annotate(books, reason), nil
}

// collaborative tallies what other readers of the user's books went on to
// read. A co-reader counts once for every shared book.
func (e *Engine) collaborative(ctx context.Context, user *models.User, n int) ([]models.Candidate, error) {
	readIDs := user.ReadBookIDs()
	history := map[primitive.ObjectID][]models.Activity{}
	tally := map[primitive.ObjectID]int{}
	var order []primitive.ObjectID

	for _, bookID := range readIDs {
		acts, err := e.store.FindActivities(ctx, store.ActivityQuery{
			BookID:        bookID,
			ExcludeUserID: user.ID,
			Actions:       readActions,
			Limit:         coReadersPerBook,
		})
		if err != nil {
			return nil, fmt.Errorf("co-readers of %s: %w", bookID.Hex(), err)
		}
		seen := map[primitive.ObjectID]struct{}{}
		for _, a := range acts {
			if _, dup := seen[a.UserID]; dup {
				continue
			}
			seen[a.UserID] = struct{}{}

			theirs, ok := history[a.UserID]
			if !ok {
				theirs, err = e.store.FindActivities(ctx, store.ActivityQuery{
					UserID:         a.UserID,
					ExcludeBookIDs: readIDs,
					Actions:        readActions,
					Limit:          coReaderHistory,
				})
				if err != nil {
					return nil, fmt.Errorf("history of co-reader: %w", err)
				}
				history[a.UserID] = theirs
			}
			for _, t := range theirs {
				if _, counted := tally[t.BookID]; !counted {
					order = append(order, t.BookID)
				}
				tally[t.BookID]++
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return tally[order[i]] > tally[order[j]] })

	out := make([]models.Candidate, 0, n)
	for _, id := range order {
		if len(out) == n {
			break
		}
		b, err := e.store.BookByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("book %s: %w", id.Hex(), err)
		}
		if !b.VisibleTo(user.ID) {
			continue
		}
		out = append(out, models.Candidate{Book: *b, RecommendationReason: ReasonCollaborative})
	}
	return out, nil
}

// attributes matches the authors, then the categories, of the last few books
// read, and tops up with popular books.
func (e *Engine) attributes(ctx context.Context, user *models.User, n int) ([]models.Candidate, error) {
	readIDs := user.ReadBookIDs()
	recent := user.RecentlyRead
	if len(recent) > attributeHistory {
		recent = recent[:attributeHistory]
	}

	var authors, categories []string
	for _, r := range recent {
		b, err := e.store.BookByID(ctx, r.BookID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recent book: %w", err)
		}
		if b.Author != "" && b.Author != models.DefaultAuthor && !slices.Contains(authors, b.Author) {
			authors = append(authors, b.Author)
		}
		for _, c := range b.Categories {
			if !slices.Contains(categories, c) {
				categories = append(categories, c)
			}
		}
	}

	sel := newSelection(readIDs, n)
	for _, author := range authors {
		if sel.remaining() == 0 {
			break
		}
		books, err := e.store.FindBooks(ctx, store.BookQuery{
			Viewer:  user.ID,
			Author:  author,
			Exclude: readIDs,
			Limit:   booksPerAuthor,
		})
		if err != nil {
			return nil, fmt.Errorf("books by %s: %w", author, err)
		}
		sel.add(annotate(books, "By the same author: "+author))
	}

	if sel.remaining() > 0 && len(categories) > 0 {
		filter := categories
		if len(filter) > maxCategoryFilter {
			filter = filter[:maxCategoryFilter]
		}
		books, err := e.store.FindBooks(ctx, store.BookQuery{
			Viewer:     user.ID,
			Categories: filter,
			Exclude:    sel.excluded(),
			Limit:      sel.remaining(),
		})
		if err != nil {
			return nil, fmt.Errorf("books by category: %w", err)
		}
		for _, b := range books {
			var matched []string
			for _, c := range b.Categories {
				if slices.Contains(categories, c) {
					matched = append(matched, c)
				}
			}
			sel.add([]models.Candidate{{Book: b, RecommendationReason: "Similar category: " + strings.Join(matched, ", ")}})
		}
	}

	if sel.remaining() > 0 {
		books, err := e.popular(ctx, user.ID, sel.excluded(), sel.remaining())
		if err != nil {
			return nil, fmt.Errorf("popular: %w", err)
		}
		sel.add(annotate(books, ReasonPopularBasic))
	}
	return sel.result(), nil
}
