package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an in-process Store with the same query semantics as DB. It
// backs STORE_DRIVER=memory and the tests of every component above the store.
type Memory struct {
	mu         sync.RWMutex
	books      map[primitive.ObjectID]*models.Book
	users      map[primitive.ObjectID]*models.User
	activities []models.Activity
	events     []models.RecommendationEvent
	releases   []models.ReleaseSnapshot
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		books: map[primitive.ObjectID]*models.Book{},
		users: map[primitive.ObjectID]*models.User{},
	}
}

func cloneBook(b *models.Book) models.Book {
	c := *b
	c.Tags = append([]string(nil), b.Tags...)
	c.Categories = append([]string(nil), b.Categories...)
	c.Ratings = append([]models.Rating(nil), b.Ratings...)
	c.ExtractionMethods = append([]string(nil), b.ExtractionMethods...)
	if b.ContentFeatures != nil {
		f := *b.ContentFeatures
		f.Keywords = append([]string(nil), f.Keywords...)
		f.Categories = append([]string(nil), f.Categories...)
		c.ContentFeatures = &f
	}
	return c
}

func cloneUser(u *models.User) models.User {
	c := *u
	c.RecentlyRead = append([]models.RecentRead(nil), u.RecentlyRead...)
	if u.LastRead != nil {
		c.LastRead = make(map[string]models.ReadPosition, len(u.LastRead))
		for k, v := range u.LastRead {
			c.LastRead[k] = v
		}
	}
	return c
}

func (q BookQuery) matches(b *models.Book) bool {
	if b.Private && (q.Viewer.IsZero() || b.UserID != q.Viewer) {
		return false
	}
	if containsID(q.Exclude, b.ID) {
		return false
	}
	if q.Title != "" && b.Title != q.Title {
		return false
	}
	if q.Author != "" && b.Author != q.Author {
		return false
	}
	if len(q.Categories) > 0 && !overlaps(q.Categories, b.Categories) {
		return false
	}
	if q.MinPages > 0 || q.MaxPages > 0 {
		if b.PageCount <= 0 {
			return false
		}
		if q.MinPages > 0 && b.PageCount <= q.MinPages {
			return false
		}
		if q.MaxPages > 0 && b.PageCount >= q.MaxPages {
			return false
		}
	}
	return true
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (q ActivityQuery) matches(a *models.Activity) bool {
	if !q.UserID.IsZero() && a.UserID != q.UserID {
		return false
	}
	if q.UserID.IsZero() && !q.ExcludeUserID.IsZero() && a.UserID == q.ExcludeUserID {
		return false
	}
	if !q.BookID.IsZero() {
		if a.BookID != q.BookID {
			return false
		}
	} else if containsID(q.ExcludeBookIDs, a.BookID) {
		return false
	}
	if len(q.Actions) > 0 {
		found := false
		for _, act := range q.Actions {
			if act == a.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *Memory) InsertBook(_ context.Context, book *models.Book) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if book.ID.IsZero() {
		book.ID = primitive.NewObjectID()
	}
	c := cloneBook(book)
	m.books[c.ID] = &c
	return c.ID, nil
}

func (m *Memory) BookByID(_ context.Context, id primitive.ObjectID) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneBook(b)
	return &c, nil
}

func (m *Memory) FindBooks(_ context.Context, q BookQuery) ([]models.Book, error) {
	m.mu.RLock()
	var out []models.Book
	for _, b := range m.books {
		if q.matches(b) {
			out = append(out, cloneBook(b))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if q.Popular && out[i].ReadCount != out[j].ReadCount {
			return out[i].ReadCount > out[j].ReadCount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		// Map iteration is random; ObjectIDs grow with insertion order.
		return strings.Compare(out[i].ID.Hex(), out[j].ID.Hex()) > 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateBook(_ context.Context, id primitive.ObjectID, u BookUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	u.Apply(b)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteBook(_ context.Context, id primitive.ObjectID) (*models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.books, id)
	return b, nil
}

func (m *Memory) SetContentFeatures(_ context.Context, id primitive.ObjectID, f *models.ContentFeatures) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	if f == nil {
		b.ContentFeatures = nil
		return nil
	}
	c := *f
	c.Keywords = append([]string(nil), f.Keywords...)
	c.Categories = append([]string(nil), f.Categories...)
	b.ContentFeatures = &c
	return nil
}

func (m *Memory) IncrementBookCounter(_ context.Context, id primitive.ObjectID, c Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	switch c {
	case CounterView:
		b.ViewCount++
	case CounterRead:
		b.ReadCount++
	case CounterComplete:
		b.CompletionCount++
	}
	return nil
}

func (m *Memory) AddRating(_ context.Context, id primitive.ObjectID, r models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	b.Ratings = append(b.Ratings, r)
	var sum float64
	for _, x := range b.Ratings {
		sum += x.Rating
	}
	b.AverageRating = sum / float64(len(b.Ratings))
	return nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			c := cloneUser(u)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) UserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := cloneUser(u)
	return &c, nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	c := cloneUser(user)
	m.users[c.ID] = &c
	return c.ID, nil
}

func (m *Memory) PushRecentlyRead(_ context.Context, userID, bookID primitive.ObjectID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	for _, r := range u.RecentlyRead {
		if r.BookID == bookID {
			return false, nil
		}
	}
	list := append([]models.RecentRead{{BookID: bookID, Timestamp: at}}, u.RecentlyRead...)
	if len(list) > models.RecentlyReadCap {
		list = list[:models.RecentlyReadCap]
	}
	u.RecentlyRead = list
	return true, nil
}

func (m *Memory) SetLastRead(_ context.Context, userID, bookID primitive.ObjectID, pos models.ReadPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.LastRead == nil {
		u.LastRead = map[string]models.ReadPosition{}
	}
	u.LastRead[bookID.Hex()] = pos
	return nil
}

func (m *Memory) InsertActivity(_ context.Context, a *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	m.activities = append(m.activities, *a)
	return nil
}

func (m *Memory) FindActivities(_ context.Context, q ActivityQuery) ([]models.Activity, error) {
	m.mu.RLock()
	var out []models.Activity
	for i := range m.activities {
		if q.matches(&m.activities[i]) {
			out = append(out, m.activities[i])
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) InsertRecommendationEvent(_ context.Context, ev *models.RecommendationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	m.events = append(m.events, *ev)
	return nil
}

// RecommendationEvents returns the recorded analytics events.
func (m *Memory) RecommendationEvents() []models.RecommendationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.RecommendationEvent(nil), m.events...)
}

func (m *Memory) SaveReleaseSnapshot(_ context.Context, snap *models.ReleaseSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *snap
	c.Books = append([]models.NewRelease(nil), snap.Books...)
	m.releases = append(m.releases, c)
	return nil
}

func (m *Memory) LatestReleaseSnapshot(context.Context) (*models.ReleaseSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.releases) == 0 {
		return nil, ErrNotFound
	}
	latest := m.releases[0]
	for _, s := range m.releases[1:] {
		if s.FetchedAt.After(latest.FetchedAt) {
			latest = s
		}
	}
	return &latest, nil
}
