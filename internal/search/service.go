package search

import (
	"context"
	"strings"

	"metalearn/api/internal/logging"
)

// Index is a search backend that can also be written to.
type Index interface {
	Searcher
	Indexer
}

// Loader supplies every course for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]CourseRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	loader   Loader
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher, loader Loader) *Service {
	s := &Service{fallback: fallback, loader: loader}
	// Avoid a typed nil hiding behind the interface.
	if m, ok := index.(*Meili); !ok || m != nil {
		s.index = index
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logging.Ctx(ctx).Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCourse indexes a course (fire-and-forget to Meilisearch).
func (s *Service) IndexCourse(rec CourseRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.IndexCourses([]CourseRecord{rec}); err != nil {
			logging.Warn().Err(err).Str("course_id", rec.CourseID).Msg("index course")
		}
	}()
}

// DeleteCourse removes a course from the search index (fire-and-forget).
func (s *Service) DeleteCourse(courseID string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.DeleteCourse(courseID); err != nil {
			logging.Warn().Err(err).Str("course_id", courseID).Msg("delete course from index")
		}
	}()
}

// ReindexFromPG pushes every course from PostgreSQL into Meilisearch.
func (s *Service) ReindexFromPG(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.index.IndexCourses(records); err != nil {
		logging.Warn().Err(err).Msg("reindex courses")
		return
	}
	logging.Info().Int("courses", len(records)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
