package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBookQueryFilter(t *testing.T) {
	viewer := primitive.NewObjectID()
	excl := []primitive.ObjectID{primitive.NewObjectID()}
	tests := []struct {
		name string
		q    BookQuery
		want bson.M
	}{
		{
			name: "public only",
			q:    BookQuery{},
			want: bson.M{"private": bson.M{"$ne": true}},
		},
		{
			name: "viewer sees own private books",
			q:    BookQuery{Viewer: viewer, Exclude: excl},
			want: bson.M{
				"$or": bson.A{
					bson.M{"private": bson.M{"$ne": true}},
					bson.M{"userId": viewer},
				},
				"_id": bson.M{"$nin": excl},
			},
		},
		{
			name: "short books",
			q:    BookQuery{MaxPages: 300},
			want: bson.M{"private": bson.M{"$ne": true}, "pageCount": bson.M{"$gt": 0, "$lt": 300}},
		},
		{
			name: "long books",
			q:    BookQuery{MinPages: 300},
			want: bson.M{"private": bson.M{"$ne": true}, "pageCount": bson.M{"$gt": 300}},
		},
		{
			name: "author and categories",
			q:    BookQuery{Author: "Thomas Erikson", Categories: []string{"psychology"}},
			want: bson.M{
				"private":    bson.M{"$ne": true},
				"author":     "Thomas Erikson",
				"categories": bson.M{"$in": []string{"psychology"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.filter(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filter() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestActivityQueryFilter(t *testing.T) {
	user := primitive.NewObjectID()
	book := primitive.NewObjectID()
	got := ActivityQuery{
		ExcludeUserID: user,
		BookID:        book,
		Actions:       []models.Action{models.ActionRead, models.ActionComplete},
	}.filter()
	want := bson.M{
		"userId": bson.M{"$ne": user},
		"bookId": book,
		"action": bson.M{"$in": []models.Action{models.ActionRead, models.ActionComplete}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("filter() = %#v, want %#v", got, want)
	}
}

func TestBookUpdateSet(t *testing.T) {
	title := "Dune"
	private := true
	got := BookUpdate{Title: &title, Private: &private, Tags: []string{"sf"}}.set()
	want := bson.M{"title": "Dune", "private": true, "tags": []string{"sf"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("set() = %#v, want %#v", got, want)
	}
	if !(BookUpdate{}).Empty() {
		t.Error("zero BookUpdate should be empty")
	}
}

func seedBooks(t *testing.T, m *Memory, owner primitive.ObjectID) []primitive.ObjectID {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	books := []models.Book{
		{Title: "Short", Author: "A", PageCount: 120, ReadCount: 5, Categories: []string{"fiction"}},
		{Title: "Long", Author: "A", PageCount: 640, ReadCount: 9, Categories: []string{"history"}},
		{Title: "Unknown length", Author: "B", ReadCount: 7},
		{Title: "Private", Author: "C", PageCount: 200, ReadCount: 50, Private: true, UserID: owner},
	}
	var ids []primitive.ObjectID
	for i := range books {
		books[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
		id, err := m.InsertBook(context.Background(), &books[i])
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func titles(books []models.Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestMemoryFindBooks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := primitive.NewObjectID()
	ids := seedBooks(t, m, owner)

	tests := []struct {
		name string
		q    BookQuery
		want []string
	}{
		{"popular public", BookQuery{Popular: true}, []string{"Long", "Unknown length", "Short"}},
		{"popular for owner", BookQuery{Popular: true, Viewer: owner, Limit: 2}, []string{"Private", "Long"}},
		{"newest first", BookQuery{}, []string{"Unknown length", "Long", "Short"}},
		{"short", BookQuery{MaxPages: 300, Viewer: owner}, []string{"Private", "Short"}},
		{"long", BookQuery{MinPages: 300}, []string{"Long"}},
		{"exclude", BookQuery{Popular: true, Exclude: []primitive.ObjectID{ids[1]}}, []string{"Unknown length", "Short"}},
		{"author", BookQuery{Author: "A", Popular: true}, []string{"Long", "Short"}},
		{"categories", BookQuery{Categories: []string{"history", "poetry"}}, []string{"Long"}},
		{"title", BookQuery{Title: "Short"}, []string{"Short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FindBooks(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if g := titles(got); !reflect.DeepEqual(g, tt.want) {
				t.Errorf("got %v, want %v", g, tt.want)
			}
		})
	}
}

func TestMemoryCountersAndRatings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ids := seedBooks(t, m, primitive.NewObjectID())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.IncrementBookCounter(ctx, ids[0], CounterRead)
		}()
	}
	wg.Wait()

	_ = m.AddRating(ctx, ids[0], models.Rating{Rating: 4})
	_ = m.AddRating(ctx, ids[0], models.Rating{Rating: 5})
	b, err := m.BookByID(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if b.ReadCount != 55 {
		t.Errorf("ReadCount = %d, want 55", b.ReadCount)
	}
	if b.AverageRating != 4.5 || len(b.Ratings) != 2 {
		t.Errorf("AverageRating = %v ratings = %d", b.AverageRating, len(b.Ratings))
	}
	if err := m.IncrementBookCounter(ctx, primitive.NewObjectID(), CounterView); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing book err = %v", err)
	}
}

func TestMemoryPushRecentlyRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	uid, _ := m.CreateUser(ctx, &models.User{Email: "reader@example.com"})

	book := primitive.NewObjectID()
	at := time.Now()
	if added, _ := m.PushRecentlyRead(ctx, uid, book, at); !added {
		t.Fatal("first push should add")
	}
	if added, _ := m.PushRecentlyRead(ctx, uid, book, at.Add(time.Minute)); added {
		t.Fatal("second push of the same book should not add")
	}
	for i := 0; i < 25; i++ {
		_, _ = m.PushRecentlyRead(ctx, uid, primitive.NewObjectID(), at.Add(time.Duration(i)*time.Second))
	}
	u, _ := m.UserByID(ctx, uid)
	if len(u.RecentlyRead) != models.RecentlyReadCap {
		t.Fatalf("len = %d, want %d", len(u.RecentlyRead), models.RecentlyReadCap)
	}
	for _, r := range u.RecentlyRead {
		if r.BookID == book {
			t.Error("oldest entry should have been truncated")
		}
	}
}

func TestMemoryFindActivities(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u1, u2 := primitive.NewObjectID(), primitive.NewObjectID()
	b1, b2 := primitive.NewObjectID(), primitive.NewObjectID()
	base := time.Now()
	events := []models.Activity{
		{UserID: u1, BookID: b1, Action: models.ActionRead, Timestamp: base},
		{UserID: u1, BookID: b2, Action: models.ActionView, Timestamp: base.Add(time.Minute)},
		{UserID: u2, BookID: b1, Action: models.ActionComplete, Timestamp: base.Add(2 * time.Minute)},
		{UserID: u2, BookID: b2, Action: models.ActionRead, Timestamp: base.Add(-time.Hour)},
		{UserID: u1, BookID: b2, Action: models.ActionRead, Timestamp: base.Add(3 * time.Minute)},
	}
	for i := range events {
		_ = m.InsertActivity(ctx, &events[i])
	}

	reads := []models.Action{models.ActionRead, models.ActionComplete}
	got, _ := m.FindActivities(ctx, ActivityQuery{UserID: u1, Actions: reads})
	if len(got) != 2 || got[0].BookID != b2 || got[1].BookID != b1 {
		t.Errorf("u1 reads newest first: %+v", got)
	}
	got, _ = m.FindActivities(ctx, ActivityQuery{BookID: b1, ExcludeUserID: u1, Actions: reads})
	if len(got) != 1 || got[0].UserID != u2 {
		t.Errorf("other readers of b1: %+v", got)
	}
	got, _ = m.FindActivities(ctx, ActivityQuery{UserID: u2, ExcludeBookIDs: []primitive.ObjectID{b1}, Limit: 5})
	if len(got) != 1 || got[0].BookID != b2 {
		t.Errorf("u2 excluding b1: %+v", got)
	}
}

func TestMemoryReleaseSnapshots(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.LatestReleaseSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	now := time.Now()
	_ = m.SaveReleaseSnapshot(ctx, &models.ReleaseSnapshot{FetchedAt: now, Books: []models.NewRelease{{Title: "new"}}})
	_ = m.SaveReleaseSnapshot(ctx, &models.ReleaseSnapshot{FetchedAt: now.Add(-time.Hour), Books: []models.NewRelease{{Title: "old"}}})
	snap, err := m.LatestReleaseSnapshot(ctx)
	if err != nil || snap.Books[0].Title != "new" {
		t.Errorf("latest = %+v, %v", snap, err)
	}
}
