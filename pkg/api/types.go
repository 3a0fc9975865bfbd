package api

import (
	"time"

	"github.com/oxSaturn/chainsync/pkg/events"
)

// EventsResponse is the response body for GET /events.
type EventsResponse struct {
	Events []events.RawEvent `json:"events"`
	Cursor string             `json:"cursor"`
}

// FilterStats is the materialized event count for one filter.
type FilterStats struct {
	FilterID string `json:"filter_id"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
}

// StatsResponse is the response body for GET /stats.
type StatsResponse struct {
	Filters []FilterStats `json:"filters"`
}

// ErrorResponse is the response body for any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// ChainHealth is the per-chain status reported by GET /healthz.
type ChainHealth struct {
	Name        string `json:"name"`
	ChainID     uint64 `json:"chain_id"`
	State       string `json:"state"`
	LatestBlock uint64 `json:"latest_block"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Chains    []ChainHealth `json:"chains"`
}
