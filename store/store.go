package store

import (
	"context"
	"errors"
	"time"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrNotFound = errors.New("store: not found")

// Counter names a book counter that is only ever changed by atomic increment.
type Counter string

const (
	CounterView     Counter = "viewCount"
	CounterRead     Counter = "readCount"
	CounterComplete Counter = "completionCount"
)

// Store is the document store behind every component. DB and Memory
// implement it with the same query semantics.
type Store interface {
	InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	FindBooks(ctx context.Context, q BookQuery) ([]models.Book, error)
	UpdateBook(ctx context.Context, id primitive.ObjectID, u BookUpdate) error
	DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	SetContentFeatures(ctx context.Context, id primitive.ObjectID, f *models.ContentFeatures) error
	IncrementBookCounter(ctx context.Context, id primitive.ObjectID, c Counter) error
	AddRating(ctx context.Context, id primitive.ObjectID, r models.Rating) error

	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error)
	PushRecentlyRead(ctx context.Context, userID, bookID primitive.ObjectID, at time.Time) (bool, error)
	SetLastRead(ctx context.Context, userID, bookID primitive.ObjectID, pos models.ReadPosition) error

	InsertActivity(ctx context.Context, a *models.Activity) error
	FindActivities(ctx context.Context, q ActivityQuery) ([]models.Activity, error)
	InsertRecommendationEvent(ctx context.Context, ev *models.RecommendationEvent) error

	SaveReleaseSnapshot(ctx context.Context, snap *models.ReleaseSnapshot) error
	LatestReleaseSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error)
}

// BookQuery selects books. Zero fields do not constrain.
type BookQuery struct {
	// Viewer limits results to public books plus the viewer's own. A zero
	// Viewer sees public books only.
	Viewer     primitive.ObjectID
	Exclude    []primitive.ObjectID
	Title      string
	Author     string
	Categories []string // any overlap
	// MinPages and MaxPages are exclusive bounds; books without a page
	// count never match either.
	MinPages int
	MaxPages int
	// Popular sorts by readCount desc; otherwise newest first.
	Popular bool
	Limit   int
}

// ActivityQuery selects activity events, newest timestamp first.
type ActivityQuery struct {
	UserID         primitive.ObjectID
	ExcludeUserID  primitive.ObjectID
	BookID         primitive.ObjectID
	ExcludeBookIDs []primitive.ObjectID
	Actions        []models.Action
	Limit          int
}

// BookUpdate lists the editable book fields. Nil fields are left alone.
type BookUpdate struct {
	Title             *string
	Author            *string
	Description       *string
	Tags              []string
	Categories        []string
	ISBN              *string
	Publisher         *string
	PublicationDate   *string
	Language          *string
	PageCount         *int
	CoverURL          *string
	Private           *bool
	ExtractionMethods []string
}

// Empty reports whether u changes nothing.
func (u BookUpdate) Empty() bool {
	return u.Title == nil && u.Author == nil && u.Description == nil && u.Tags == nil &&
		u.Categories == nil && u.ISBN == nil && u.Publisher == nil && u.PublicationDate == nil &&
		u.Language == nil && u.PageCount == nil && u.CoverURL == nil && u.Private == nil &&
		u.ExtractionMethods == nil
}

// Apply copies the set fields of u onto b.
func (u BookUpdate) Apply(b *models.Book) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&b.Title, u.Title)
	setString(&b.Author, u.Author)
	setString(&b.Description, u.Description)
	setString(&b.ISBN, u.ISBN)
	setString(&b.Publisher, u.Publisher)
	setString(&b.PublicationDate, u.PublicationDate)
	setString(&b.Language, u.Language)
	setString(&b.CoverURL, u.CoverURL)
	if u.Tags != nil {
		b.Tags = append([]string(nil), u.Tags...)
	}
	if u.Categories != nil {
		b.Categories = append([]string(nil), u.Categories...)
	}
	if u.ExtractionMethods != nil {
		b.ExtractionMethods = append([]string(nil), u.ExtractionMethods...)
	}
	if u.PageCount != nil {
		b.PageCount = *u.PageCount
	}
	if u.Private != nil {
		b.Private = *u.Private
	}
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
