package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oxSaturn/chainsync/internal/checkpoint"
	"github.com/oxSaturn/chainsync/internal/coordinator"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	"github.com/oxSaturn/chainsync/pkg/events"
)

const defaultEventsLimit = 100

// Handler serves the read-only downstream HTTP surface over the sync store.
type Handler struct {
	store *syncstore.Store
	coord *coordinator.Coordinator
	log   *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(store *syncstore.Store, coord *coordinator.Coordinator, log *logger.Logger) *Handler {
	return &Handler{store: store, coord: coord, log: log}
}

// Health reports the per-chain lifecycle state and latest block.
// @Summary Health check
// @Description Report the sync engine's per-chain lifecycle state
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.coord.ChainStatuses()

	chains := make([]ChainHealth, len(statuses))
	for i, s := range statuses {
		chains[i] = ChainHealth{
			Name:        s.Name,
			ChainID:     s.ChainID,
			State:       string(s.State),
			LatestBlock: s.LatestBlock,
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Chains:    chains,
	})
}

// GetEvents retrieves materialized events for one or more filters, paginated
// by checkpoint.
// @Summary List materialized events
// @Description Retrieve events by filter id and checkpoint range
// @Tags Events
// @Produce json
// @Param filter_id query string true "Filter id (repeatable)"
// @Param from query string false "Lower checkpoint bound (exclusive)"
// @Param to query string false "Upper checkpoint bound (inclusive)"
// @Param limit query int false "Maximum number of events to return"
// @Success 200 {object} EventsResponse
// @Failure 400 {object} ErrorResponse
// @Router /events [get]
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	filters := r.URL.Query()["filter_id"]
	if len(filters) == 0 {
		respondError(w, http.StatusBadRequest, "at least one filter_id is required")
		return
	}

	from := checkpoint.Zero()
	if s := r.URL.Query().Get("from"); s != "" {
		from = checkpoint.Checkpoint(s)
	}

	to := checkpoint.Max()
	if s := r.URL.Query().Get("to"); s != "" {
		to = checkpoint.Checkpoint(s)
	}

	limit := defaultEventsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 5000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 5000")
			return
		}
		limit = n
	}

	page, err := h.store.GetEvents(r.Context(), syncstore.GetEventsQuery{
		Filters: filters,
		From:    from,
		To:      to,
		Limit:   limit,
	})
	if err != nil {
		h.log.Errorw("get events failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	raw, err := toRawEvents(page.Events)
	if err != nil {
		h.log.Errorw("decode event rows failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to decode events")
		return
	}

	respondJSON(w, http.StatusOK, EventsResponse{Events: raw, Cursor: string(page.Cursor)})
}

// GetStats retrieves an advisory materialized event count per configured
// filter.
// @Summary Event counts per filter
// @Description Retrieve an advisory materialized event count per configured filter
// @Tags Stats
// @Produce json
// @Success 200 {object} StatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var out []FilterStats
	for _, src := range h.coord.Sources() {
		count, err := h.store.GetEventCount(r.Context(), []string{src.FilterID})
		if err != nil {
			h.log.Errorw("get event count failed", "filter_id", src.FilterID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to query stats")
			return
		}
		out = append(out, FilterStats{FilterID: src.FilterID, Name: src.Name, Count: count})
	}

	respondJSON(w, http.StatusOK, StatsResponse{Filters: out})
}

// toRawEvents converts sync store rows into the public RawEvent shape,
// mirroring internal/coordinator's own conversion since the two packages
// cannot share it without an import cycle (coordinator already imports
// syncstore; this package depends on both but not the reverse).
func toRawEvents(rows []syncstore.EventRow) ([]events.RawEvent, error) {
	out := make([]events.RawEvent, len(rows))
	for i, r := range rows {
		ev, err := toRawEvent(r)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// eventPayload mirrors internal/syncstore's persisted event.data JSON shape;
// kept local rather than imported since syncstore does not export it.
type eventPayload struct {
	Data   string  `json:"data"`
	Topic0 *string `json:"topic0,omitempty"`
	Topic1 *string `json:"topic1,omitempty"`
	Topic2 *string `json:"topic2,omitempty"`
	Topic3 *string `json:"topic3,omitempty"`
}

func toRawEvent(r syncstore.EventRow) (events.RawEvent, error) {
	ev := events.RawEvent{
		FilterID:        r.FilterID,
		Checkpoint:      r.Checkpoint,
		ChainID:         r.ChainID,
		BlockNumber:     r.BlockNumber,
		BlockHash:       r.BlockHash,
		LogIndex:        r.LogIndex,
		TransactionHash: r.TransactionHash,
	}
	if r.Data == nil {
		return ev, nil
	}

	var p eventPayload
	if err := json.Unmarshal([]byte(*r.Data), &p); err != nil {
		return events.RawEvent{}, fmt.Errorf("unmarshal event %s payload: %w", r.FilterID, err)
	}
	ev.Data = &events.LogEventData{
		Data:   p.Data,
		Topic0: p.Topic0,
		Topic1: p.Topic1,
		Topic2: p.Topic2,
		Topic3: p.Topic3,
	}
	return ev, nil
}
