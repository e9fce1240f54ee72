package models

import "time"

// NewRelease is one entry in the recent-releases feed built from external catalogs.
type NewRelease struct {
	Title         string   `bson:"title" json:"title"`
	Author        string   `bson:"author" json:"author"`
	Description   string   `bson:"description,omitempty" json:"description,omitempty"`
	CoverURL      string   `bson:"coverUrl,omitempty" json:"coverUrl,omitempty"`
	ISBN          string   `bson:"isbn,omitempty" json:"isbn,omitempty"`
	Publisher     string   `bson:"publisher,omitempty" json:"publisher,omitempty"`
	PublishedDate string   `bson:"publishedDate,omitempty" json:"publishedDate,omitempty"`
	Categories    []string `bson:"categories,omitempty" json:"categories,omitempty"`
	Rank          int      `bson:"rank,omitempty" json:"rank,omitempty"`
	WeeksOnList   int      `bson:"weeksOnList,omitempty" json:"weeksOnList,omitempty"`
	IsNewRelease  bool     `bson:"isNewRelease" json:"isNewRelease"`
	Source        string   `bson:"source" json:"source"`
}

// ReleaseSnapshot is the persisted and cached form of the feed.
type ReleaseSnapshot struct {
	Books     []NewRelease `bson:"books" json:"books"`
	FetchedAt time.Time    `bson:"fetchedAt" json:"fetchedAt"`
}
