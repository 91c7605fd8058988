package models

import (
	"fmt"
	"strings"
)

// DefaultTopK is the number of chunks retrieved when a query does not say.
const DefaultTopK = 3

// MaxTopK caps the number of results a single query may ask for.
const MaxTopK = 50

// Query is a nearest-neighbor request against the index.
type Query struct {
	Query  string                 `json:"query"`
	TopK   int                    `json:"top_k,omitempty"`
	Filter map[string]interface{} `json:"filter,omitempty"`
}

// Validate ensures the query has text and normalizes TopK into [1, MaxTopK].
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	return nil
}

// QueryResult is a single ranked hit. Distance is cosine distance: 0 means identical direction.
type QueryResult struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Distance float64                `json:"distance"`
}

// QueryResponse is the response body for a retrieval request.
type QueryResponse struct {
	Query     string         `json:"query"`
	Results   []*QueryResult `json:"results"`
	Total     int            `json:"total"`
	QueryTime int64          `json:"query_time_ms"`
}
