package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metalearn/api/internal/store"
)

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	err     error
	results []Result
	indexed []CourseRecord
	lastQ   Query
}

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	return f.results, len(f.results), f.err
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexCourses(records []CourseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeIndex) DeleteCourse(string) error { return nil }

func (f *fakeIndex) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed)
}

type fakeLoader struct{ records []CourseRecord }

func (f fakeLoader) LoadAllRecords(context.Context) ([]CourseRecord, error) { return f.records, nil }

func TestSearchPrefersHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, results: []Result{{CourseID: "c1", Title: "Go"}}}
	fallback := &fakeIndex{healthy: true, results: []Result{{CourseID: "pg"}}}

	resp := NewService(index, fallback, nil).Search(context.Background(), Query{Text: "  go  ", PublishedOnly: true})
	if resp.Total != 1 || resp.Results[0].CourseID != "c1" || resp.Query != "go" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if index.lastQ.Limit != DefaultLimit || !index.lastQ.PublishedOnly {
		t.Fatalf("query not normalized: %+v", index.lastQ)
	}
}

func TestSearchFallsBack(t *testing.T) {
	fallback := &fakeIndex{healthy: true, results: []Result{{CourseID: "pg"}}}

	tests := []struct {
		name  string
		index Index
	}{
		{"no index", nil},
		{"typed nil meili", (*Meili)(nil)},
		{"unhealthy", &fakeIndex{healthy: false}},
		{"index error", &fakeIndex{healthy: true, err: errors.New("boom")}},
	}
	for _, tt := range tests {
		resp := NewService(tt.index, fallback, nil).Search(context.Background(), Query{Text: "go"})
		if len(resp.Results) != 1 || resp.Results[0].CourseID != "pg" {
			t.Fatalf("%s: expected fallback results, got %+v", tt.name, resp)
		}
	}
}

func TestSearchEmptyQueryAndFallbackError(t *testing.T) {
	svc := NewService(nil, &fakeIndex{err: errors.New("db down")}, nil)
	if resp := svc.Search(context.Background(), Query{Text: "   "}); resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("empty query response = %+v", resp)
	}
	if resp := svc.Search(context.Background(), Query{Text: "go"}); resp.Results == nil || resp.Total != 0 {
		t.Fatalf("fallback error response = %+v", resp)
	}
}

func TestIndexCourseAndReindex(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, &fakeIndex{}, fakeLoader{records: []CourseRecord{{CourseID: "a"}, {CourseID: "b"}}})

	description := "Concurrency in practice"
	svc.IndexCourse(RecordFromCourse(store.Course{ID: "c1", Slug: "go", Title: "Go", Description: &description, IsPublished: true}))
	deadline := time.Now().Add(2 * time.Second)
	for index.indexedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if index.indexedCount() != 1 || index.indexed[0].Description != description {
		t.Fatalf("indexed = %+v", index.indexed)
	}

	svc.ReindexFromPG(context.Background())
	if index.indexedCount() != 3 {
		t.Fatalf("indexed after reindex = %d, want 3", index.indexedCount())
	}
}
