package http

import (
	"time"

	"github.com/fyrsmithlabs/vecsnap/internal/query"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SearchRequest is the request body for POST /api/v1/search. Exactly one
// of Vector and Text must be set; Text requires an embedder.
type SearchRequest struct {
	Vector   []float32         `json:"vector,omitempty"`
	Text     string            `json:"text,omitempty"`
	K        int               `json:"k,omitempty"`
	MinScore *float64          `json:"min_score,omitempty"`
	Filter   map[string]string `json:"filter,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
//
// Degraded is set when the snapshot could not be loaded and Reason then
// names the snapshot error kind. Results is empty unless Stale is also set,
// in which case they come from the expired snapshot that was cached before
// the reload failed.
type SearchResponse struct {
	Results  []query.Result `json:"results"`
	Degraded bool           `json:"degraded"`
	Stale    bool           `json:"stale,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Took     time.Duration  `json:"took_ns"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Status   string      `json:"status"` // "ok" or "unloaded"
	Version  string      `json:"version,omitempty"`
	Snapshot query.Stats `json:"snapshot"`
}
