package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/booknook/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := db.Users().FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error) {
	res, err := db.Users().InsertOne(ctx, user, options.InsertOne())
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	err := db.Users().FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PushRecentlyRead prepends bookID to the user's recentlyRead list unless it
// is already there, keeping the newest RecentlyReadCap entries. It reports
// whether the list changed.
func (db *DB) PushRecentlyRead(ctx context.Context, userID, bookID primitive.ObjectID, at time.Time) (bool, error) {
	filter := bson.M{"_id": userID, "recentlyRead.bookId": bson.M{"$ne": bookID}}
	update := bson.M{"$push": bson.M{"recentlyRead": bson.M{
		"$each":     bson.A{models.RecentRead{BookID: bookID, Timestamp: at}},
		"$position": 0,
		"$slice":    models.RecentlyReadCap,
	}}}
	res, err := db.Users().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (db *DB) SetLastRead(ctx context.Context, userID, bookID primitive.ObjectID, pos models.ReadPosition) error {
	res, err := db.Users().UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{"lastRead." + bookID.Hex(): pos}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
