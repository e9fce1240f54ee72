package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultAuthor is stored when no stage of extraction recovers an author.
const DefaultAuthor = "Unknown Author"

type Book struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          primitive.ObjectID `bson:"userId" json:"userId"`
	Title           string             `bson:"title" json:"title"`
	Author          string             `bson:"author" json:"author"`
	Description     string             `bson:"description,omitempty" json:"description,omitempty"`
	Tags            []string           `bson:"tags" json:"tags"`
	Categories      []string           `bson:"categories,omitempty" json:"categories,omitempty"`
	ISBN            string             `bson:"isbn,omitempty" json:"isbn,omitempty"`
	Publisher       string             `bson:"publisher,omitempty" json:"publisher,omitempty"`
	PublicationDate string             `bson:"publicationDate,omitempty" json:"publicationDate,omitempty"`
	Language        string             `bson:"language,omitempty" json:"language,omitempty"`
	PageCount       int                `bson:"pageCount,omitempty" json:"pageCount,omitempty"`
	CoverURL        string             `bson:"coverUrl,omitempty" json:"coverUrl,omitempty"`
	CoverS3Key      string             `bson:"coverS3Key,omitempty" json:"-"`

	ContentFeatures *ContentFeatures `bson:"contentFeatures,omitempty" json:"contentFeatures,omitempty"`

	ReadCount       int64    `bson:"readCount" json:"readCount"`
	ViewCount       int64    `bson:"viewCount" json:"viewCount"`
	CompletionCount int64    `bson:"completionCount" json:"completionCount"`
	AverageRating   float64  `bson:"averageRating" json:"averageRating"`
	Ratings         []Rating `bson:"ratings" json:"ratings"`

	// ExtractionMethods lists the pipeline stages that contributed, in run order.
	ExtractionMethods []string `bson:"extractionMethods,omitempty" json:"extractionMethods,omitempty"`

	Private      bool      `bson:"private" json:"private"`
	File         FileRef   `bson:"file" json:"file"`
	OriginalName string    `bson:"originalName" json:"originalName"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// FileRef points at the stored EPUB binary.
type FileRef struct {
	Path        string `bson:"path" json:"-"` // object key in S3
	DownloadURL string `bson:"downloadUrl,omitempty" json:"downloadUrl,omitempty"`
	Size        int64  `bson:"size" json:"size"`
	MimeType    string `bson:"mimeType" json:"mimeType"`
}

// ContentFeatures are the keyword/category/sentiment signals derived from book text.
type ContentFeatures struct {
	Keywords       []string `bson:"keywords" json:"keywords"`
	Categories     []string `bson:"categories" json:"categories"`
	SentimentScore int      `bson:"sentimentScore" json:"sentimentScore"`
}

type Rating struct {
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Rating    float64            `bson:"rating" json:"rating"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// VisibleTo reports whether userID may see the book.
func (b *Book) VisibleTo(userID primitive.ObjectID) bool {
	return !b.Private || b.UserID == userID
}

// Candidate is a book annotated for one recommendation response. Never persisted.
type Candidate struct {
	Book
	SimilarityScore      *float64 `json:"similarityScore,omitempty"`
	RecommendationReason string   `json:"recommendationReason,omitempty"`
}
