package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Action string

const (
	ActionView     Action = "view"
	ActionRead     Action = "read"
	ActionComplete Action = "complete"
	ActionBookmark Action = "bookmark"
	ActionRate     Action = "rate"
)

func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionRead, ActionComplete, ActionBookmark, ActionRate:
		return true
	}
	return false
}

// Activity is one user action against one book. Written once, never updated.
type Activity struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	BookID    primitive.ObjectID `bson:"bookId" json:"bookId"`
	Action    Action             `bson:"action" json:"action"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	Metadata  ActivityMetadata   `bson:"metadata" json:"metadata"`
}

// ActivityMetadata carries the optional values a tracked action may report.
type ActivityMetadata struct {
	Progress               *float64   `bson:"progress,omitempty" json:"progress,omitempty"`
	Rating                 *float64   `bson:"rating,omitempty" json:"rating,omitempty"`
	ReadingDurationMinutes *float64   `bson:"readingDurationMinutes,omitempty" json:"readingDurationMinutes,omitempty"`
	ReadingStartTime       *time.Time `bson:"readingStartTime,omitempty" json:"readingStartTime,omitempty"`
	CFI                    string     `bson:"cfiLocation,omitempty" json:"cfiLocation,omitempty"`
	Note                   string     `bson:"note,omitempty" json:"note,omitempty"`
}

// RecommendationEvent summarizes where one recommendation response came from.
type RecommendationEvent struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID               primitive.ObjectID `bson:"userId" json:"userId"`
	Variant              string             `bson:"variant" json:"variant"`
	Timestamp            time.Time          `bson:"timestamp" json:"timestamp"`
	ContentBasedCount    int                `bson:"contentBasedCount" json:"contentBasedCount"`
	BehaviorBasedCount   int                `bson:"behaviorBasedCount" json:"behaviorBasedCount"`
	CollaborativeCount   int                `bson:"collaborativeCount" json:"collaborativeCount"`
	PopularCount         int                `bson:"popularCount" json:"popularCount"`
	TotalRecommendations int                `bson:"totalRecommendations" json:"totalRecommendations"`
}
