package search

import (
	"context"

	"metalearn/api/internal/store"
)

const DefaultLimit = 20

// Result is a single course hit returned to the caller.
type Result struct {
	CourseID string `json:"courseId"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text          string
	PublishedOnly bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push courses into a search index.
type Indexer interface {
	IndexCourses(records []CourseRecord) error
	DeleteCourse(courseID string) error
}

// CourseRecord is the data we index for a course.
type CourseRecord struct {
	CourseID    string `json:"courseId"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublished bool   `json:"isPublished"`
}

func RecordFromCourse(c store.Course) CourseRecord {
	rec := CourseRecord{
		CourseID:    c.ID,
		Slug:        c.Slug,
		Title:       c.Title,
		IsPublished: c.IsPublished,
	}
	if c.Description != nil {
		rec.Description = *c.Description
	}
	return rec
}

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	q.Limit = min(q.Limit, 100)
	q.Offset = max(q.Offset, 0)
	return q
}
