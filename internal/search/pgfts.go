package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres there is nothing to serve.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over presentation titles and element text, ranked
// with ts_rank and snipped with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPresentation {
		where := "p.search_vector @@ " + tsQuery
		if q.FilterDocumentID != "" {
			where += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'presentation'::text AS type, p.id, p.title,
				p.owner_name AS snippet,
				p.id AS document_id, ''::text AS page_id,
				ts_rank(p.search_vector, %s) AS rank
			FROM presentations p
			WHERE %s`, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultElement {
		where := "e.search_vector @@ " + tsQuery
		if q.FilterDocumentID != "" {
			where += fmt.Sprintf(" AND s.presentation_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'element'::text AS type, e.id, e.kind AS title,
				ts_headline('simple', coalesce(e.content->>'text', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.presentation_id AS document_id, e.slide_id AS page_id,
				ts_rank(e.search_vector, %s) AS rank
			FROM slide_elements e
			JOIN slides s ON s.id = e.slide_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, document_id, page_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.PageID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PresentationRecord, []ElementRecord, error) {
	presRows, err := p.db.QueryContext(ctx, `SELECT id, title, owner_name FROM presentations`)
	if err != nil {
		return nil, nil, fmt.Errorf("load presentations: %w", err)
	}
	defer presRows.Close()

	presentations := make([]PresentationRecord, 0)
	for presRows.Next() {
		var r PresentationRecord
		if err := presRows.Scan(&r.ID, &r.Title, &r.Owner); err != nil {
			return nil, nil, fmt.Errorf("scan presentation: %w", err)
		}
		presentations = append(presentations, r)
	}
	if err := presRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate presentations: %w", err)
	}

	elemRows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.content->>'text', e.kind, s.presentation_id, e.slide_id
		FROM slide_elements e
		JOIN slides s ON s.id = e.slide_id
		WHERE coalesce(e.content->>'text', '') <> ''
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load elements: %w", err)
	}
	defer elemRows.Close()

	elements := make([]ElementRecord, 0)
	for elemRows.Next() {
		var r ElementRecord
		if err := elemRows.Scan(&r.ID, &r.Text, &r.Kind, &r.DocumentID, &r.PageID); err != nil {
			return nil, nil, fmt.Errorf("scan element: %w", err)
		}
		elements = append(elements, r)
	}
	if err := elemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate elements: %w", err)
	}
	return presentations, elements, nil
}
