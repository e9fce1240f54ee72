package store

import (
	"context"
	"errors"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (q ActivityQuery) filter() bson.M {
	f := bson.M{}
	switch {
	case !q.UserID.IsZero():
		f["userId"] = q.UserID
	case !q.ExcludeUserID.IsZero():
		f["userId"] = bson.M{"$ne": q.ExcludeUserID}
	}
	switch {
	case !q.BookID.IsZero():
		f["bookId"] = q.BookID
	case len(q.ExcludeBookIDs) > 0:
		f["bookId"] = bson.M{"$nin": q.ExcludeBookIDs}
	}
	if len(q.Actions) > 0 {
		f["action"] = bson.M{"$in": q.Actions}
	}
	return f
}

func (db *DB) InsertActivity(ctx context.Context, a *models.Activity) error {
	res, err := db.Activities().InsertOne(ctx, a)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		a.ID = oid
	}
	return nil
}

// FindActivities returns matching events ordered by their own timestamp, newest first.
func (db *DB) FindActivities(ctx context.Context, q ActivityQuery) ([]models.Activity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := db.Activities().Find(ctx, q.filter(), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Activity
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) InsertRecommendationEvent(ctx context.Context, ev *models.RecommendationEvent) error {
	_, err := db.RecommendationEvents().InsertOne(ctx, ev)
	return err
}

func (db *DB) SaveReleaseSnapshot(ctx context.Context, snap *models.ReleaseSnapshot) error {
	_, err := db.Releases().InsertOne(ctx, snap)
	return err
}

func (db *DB) LatestReleaseSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error) {
	var snap models.ReleaseSnapshot
	opts := options.FindOne().SetSort(bson.D{{Key: "fetchedAt", Value: -1}})
	err := db.Releases().FindOne(ctx, bson.M{}, opts).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
