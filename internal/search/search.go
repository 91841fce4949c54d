package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClergy ResultType = "clergy"
	ResultWiki   ResultType = "wiki"
)

// ParseResultType accepts "", "clergy" or "wiki".
func ParseResultType(raw string) (ResultType, bool) {
	switch ResultType(raw) {
	case "":
		return "", true
	case ResultClergy, ResultWiki:
		return ResultType(raw), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

func (q Query) normalizedLimit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) wants(t ResultType) bool {
	return q.FilterType == "" || q.FilterType == t
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexClergy(records []ClergyRecord) error
	IndexWiki(records []WikiRecord) error
	DeleteClergy(id string) error
}

// ClergyRecord is the data we index for a clergy member.
type ClergyRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rank   string `json:"rank"`
	Church string `json:"church"`
	Notes  string `json:"notes"`
}

// WikiRecord is the data we index for a wiki page. ID is the slug.
type WikiRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}
