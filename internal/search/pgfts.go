package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated search_vector columns.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// tsQuery matches both the unstemmed name columns and the stemmed prose.
const tsQuery = "(plainto_tsquery('simple', $1) || plainto_tsquery('english', $1))"

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var subQueries []string
	if q.wants(ResultClergy) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'clergy'::text AS type, c.id, c.name AS title,
				ts_headline('english', coalesce(NULLIF(c.notes, ''), c.church), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(c.search_vector, %[1]s) AS rank
			FROM clergy c
			WHERE c.search_vector @@ %[1]s`, tsQuery))
	}
	if q.wants(ResultWiki) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'wiki'::text AS type, w.slug AS id, w.title,
				ts_headline('english', w.body, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(w.search_vector, %[1]s) AS rank
			FROM wiki_pages w
			WHERE w.search_vector @@ %[1]s`, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, title
		LIMIT %d OFFSET %d`, union, q.normalizedLimit(), offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ClergyRecord, []WikiRecord, error) {
	clergyRows, err := p.db.QueryContext(ctx, `SELECT id, name, rank, church, notes FROM clergy`)
	if err != nil {
		return nil, nil, fmt.Errorf("load clergy: %w", err)
	}
	defer clergyRows.Close()

	clergy := make([]ClergyRecord, 0)
	for clergyRows.Next() {
		var c ClergyRecord
		if err := clergyRows.Scan(&c.ID, &c.Name, &c.Rank, &c.Church, &c.Notes); err != nil {
			return nil, nil, fmt.Errorf("scan clergy: %w", err)
		}
		clergy = append(clergy, c)
	}
	if err := clergyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate clergy: %w", err)
	}

	wikiRows, err := p.db.QueryContext(ctx, `SELECT slug, title, body FROM wiki_pages`)
	if err != nil {
		return nil, nil, fmt.Errorf("load wiki pages: %w", err)
	}
	defer wikiRows.Close()

	pages := make([]WikiRecord, 0)
	for wikiRows.Next() {
		var w WikiRecord
		if err := wikiRows.Scan(&w.ID, &w.Title, &w.Body); err != nil {
			return nil, nil, fmt.Errorf("scan wiki page: %w", err)
		}
		pages = append(pages, w)
	}
	if err := wikiRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate wiki pages: %w", err)
	}
	return clergy, pages, nil
}
