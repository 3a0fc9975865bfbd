// Package events defines the public data shapes the coordinator hands to
// the downstream indexing layer: materialized raw events paginated out of
// the sync store, and the realtime notifications a tip follower's block,
// reorg, and finalize callbacks translate into once a chain reaches its tip.
package events

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/oxSaturn/chainsync/internal/checkpoint"
)

// LogEventData is the minimal log payload carried on a RawEvent of log
// kind: enough to decode (topics, data) without a second lookup.
type LogEventData struct {
	Data   string  `json:"data"`
	Topic0 *string `json:"topic0,omitempty"`
	Topic1 *string `json:"topic1,omitempty"`
	Topic2 *string `json:"topic2,omitempty"`
	Topic3 *string `json:"topic3,omitempty"`
}

// RawEvent is one materialized event row handed to the downstream indexing
// layer, ordered by Checkpoint across every chain and filter in play. Data
// is nil for block events.
type RawEvent struct {
	FilterID        string                `json:"filter_id"`
	Checkpoint      checkpoint.Checkpoint `json:"checkpoint"`
	ChainID         uint64                `json:"chain_id"`
	BlockNumber     uint64                `json:"block_number"`
	BlockHash       common.Hash           `json:"block_hash"`
	LogIndex        uint                  `json:"log_index"`
	TransactionHash common.Hash           `json:"transaction_hash"`
	Data            *LogEventData         `json:"data,omitempty"`
}

// RealtimeEventType discriminates the three notifications the coordinator
// raises once a chain's followers are running.
type RealtimeEventType string

const (
	RealtimeBlock    RealtimeEventType = "block"
	RealtimeReorg    RealtimeEventType = "reorg"
	RealtimeFinalize RealtimeEventType = "finalize"
)

// RealtimeEvent is one notification raised to onRealtimeEvent. Events is
// only populated for Type == RealtimeBlock; Checkpoint is only populated
// for RealtimeReorg/RealtimeFinalize.
type RealtimeEvent struct {
	Type       RealtimeEventType     `json:"type"`
	ChainID    uint64                `json:"chain_id"`
	Events     []RawEvent            `json:"events,omitempty"`
	Checkpoint checkpoint.Checkpoint `json:"checkpoint,omitempty"`
}

// Source pairs a filter id with the user metadata the sync engine passes
// through untouched: a name, the chain it belongs to, and (for log sources)
// the ABI needed to decode its matched events.
type Source struct {
	FilterID    string
	Name        string
	NetworkName string
	ChainID     uint64
	ABI         string // non-empty only for log sources
}
