package search

import (
	"context"
	"database/sql"
	"fmt"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks courses with plainto_tsquery and ts_rank over the generated
// search column, using ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = normalize(q)

	rows, err := p.db.QueryContext(ctx, `
		SELECT c.course_id::text, c.slug, c.course_name,
			ts_headline('english', coalesce(c.description, ''), q, 'MaxFragments=1,MaxWords=30') AS snippet,
			count(*) OVER () AS total
		FROM courses c, plainto_tsquery('english', $1) q
		WHERE c.search @@ q AND (c.is_published OR NOT $2)
		ORDER BY ts_rank(c.search, q) DESC, c.course_name
		LIMIT $3 OFFSET $4
	`, q.Text, q.PublishedOnly, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.CourseID, &r.Slug, &r.Title, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every course for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CourseRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT course_id::text, slug, course_name, coalesce(description, ''), is_published
		FROM courses
	`)
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	defer rows.Close()

	records := make([]CourseRecord, 0)
	for rows.Next() {
		var r CourseRecord
		if err := rows.Scan(&r.CourseID, &r.Slug, &r.Title, &r.Description, &r.IsPublished); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return records, nil
}
