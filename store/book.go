package store

import (
	"context"
	"errors"
	"time"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (q BookQuery) filter() bson.M {
	f := bson.M{}
	if q.Viewer.IsZero() {
		f["private"] = bson.M{"$ne": true}
	} else {
		f["$or"] = bson.A{
			bson.M{"private": bson.M{"$ne": true}},
			bson.M{"userId": q.Viewer},
		}
	}
	if len(q.Exclude) > 0 {
		f["_id"] = bson.M{"$nin": q.Exclude}
	}
	if q.Title != "" {
		f["title"] = q.Title
	}
	if q.Author != "" {
		f["author"] = q.Author
	}
	if len(q.Categories) > 0 {
		f["categories"] = bson.M{"$in": q.Categories}
	}
	if q.MinPages > 0 || q.MaxPages > 0 {
		pages := bson.M{"$gt": 0}
		if q.MinPages > 0 {
			pages["$gt"] = q.MinPages
		}
		if q.MaxPages > 0 {
			pages["$lt"] = q.MaxPages
		}
		f["pageCount"] = pages
	}
	return f
}

func (q BookQuery) sort() bson.D {
	if q.Popular {
		return bson.D{{Key: "readCount", Value: -1}, {Key: "createdAt", Value: -1}}
	}
	return bson.D{{Key: "createdAt", Value: -1}}
}

func (db *DB) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	res, err := db.Books().InsertOne(ctx, book, options.InsertOne())
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) FindBooks(ctx context.Context, q BookQuery) ([]models.Book, error) {
	opts := options.Find().SetSort(q.sort())
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := db.Books().Find(ctx, q.filter(), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var books []models.Book
	if err := cur.All(ctx, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOne(ctx, bson.M{"_id": id}).Decode(&book)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// DeleteBook removes a book by ID and returns the deleted document so the
// caller can release its blobs.
func (db *DB) DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&book)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (u BookUpdate) set() bson.M {
	set := bson.M{}
	put := func(key string, v *string) {
		if v != nil {
			set[key] = *v
		}
	}
	put("title", u.Title)
	put("author", u.Author)
	put("description", u.Description)
	put("isbn", u.ISBN)
	put("publisher", u.Publisher)
	put("publicationDate", u.PublicationDate)
	put("language", u.Language)
	put("coverUrl", u.CoverURL)
	if u.Tags != nil {
		set["tags"] = u.Tags
	}
	if u.Categories != nil {
		set["categories"] = u.Categories
	}
	if u.ExtractionMethods != nil {
		set["extractionMethods"] = u.ExtractionMethods
	}
	if u.PageCount != nil {
		set["pageCount"] = *u.PageCount
	}
	if u.Private != nil {
		set["private"] = *u.Private
	}
	return set
}

// UpdateBook sets the non-nil fields of u and bumps updatedAt.
func (db *DB) UpdateBook(ctx context.Context, id primitive.ObjectID, u BookUpdate) error {
	set := u.set()
	set["updatedAt"] = time.Now().UTC()
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) SetContentFeatures(ctx context.Context, id primitive.ObjectID, f *models.ContentFeatures) error {
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"contentFeatures": f}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) IncrementBookCounter(ctx context.Context, id primitive.ObjectID, c Counter) error {
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{string(c): 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRating appends r and recomputes averageRating in one pipeline update.
func (db *DB) AddRating(ctx context.Context, id primitive.ObjectID, r models.Rating) error {
	entry := bson.D{
		{Key: "userId", Value: r.UserID},
		{Key: "rating", Value: r.Rating},
		{Key: "timestamp", Value: r.Timestamp},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "ratings", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$ratings", bson.A{}}}},
			bson.A{entry},
		}}}}}}},
		{{Key: "$set", Value: bson.D{{Key: "averageRating", Value: bson.D{{Key: "$avg", Value: "$ratings.rating"}}}}}},
	}
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
