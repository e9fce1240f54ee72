package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecentlyReadCap bounds User.RecentlyRead.
const RecentlyReadCap = 20

type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email       string             `bson:"email" json:"email"`
	Password    string             `bson:"password" json:"-"` // bcrypt hash
	DisplayName string             `bson:"displayName,omitempty" json:"displayName,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`

	// RecentlyRead is most-recent-first and holds each bookId at most once.
	RecentlyRead []RecentRead `bson:"recentlyRead" json:"recentlyRead"`
	// LastRead is keyed by book id hex.
	LastRead map[string]ReadPosition `bson:"lastRead,omitempty" json:"lastRead,omitempty"`
}

type RecentRead struct {
	BookID    primitive.ObjectID `bson:"bookId" json:"bookId"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

type ReadPosition struct {
	Progress  float64   `bson:"progress" json:"progress"`
	CFI       string    `bson:"cfiLocation,omitempty" json:"cfiLocation,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ReadBookIDs returns the ids in RecentlyRead.
func (u *User) ReadBookIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(u.RecentlyRead))
	for _, r := range u.RecentlyRead {
		ids = append(ids, r.BookID)
	}
	return ids
}

// LatestRead returns the RecentlyRead entry with the newest timestamp.
func (u *User) LatestRead() (RecentRead, bool) {
	if len(u.RecentlyRead) == 0 {
		return RecentRead{}, false
	}
	latest := u.RecentlyRead[0]
	for _, r := range u.RecentlyRead[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return latest, true
}
