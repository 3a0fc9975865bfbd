// Package decode implements the downstream-facing decodeEvents operation:
// turning a materialized RawEvent (raw topics/data, addressed only by
// filter id) into a named, ABI-decoded Event the indexing runtime can hand
// to a user's event handler. It is the one place in the sync engine that
// understands contract ABIs; everything upstream of it treats event
// payloads as opaque hex.
package decode

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	chainsynccommon "github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/pkg/events"
)

// Kind discriminates the decoded event shapes a RawEvent can produce.
type Kind string

const (
	KindLog   Kind = "log"
	KindBlock Kind = "block"
)

// LogRef is the minimal log identity carried on a decoded log event. It
// deliberately mirrors RawEvent's fields (spec §6) rather than a full
// go-ethereum types.Log — the address isn't part of a materialized event
// row, so a handler needing it must look the log up by
// (BlockHash, LogIndex) against the raw tables.
type LogRef struct {
	Topics          []common.Hash
	Data            string
	LogIndex        uint
	BlockHash       common.Hash
	BlockNumber     uint64
	TransactionHash common.Hash
}

// BlockRef is the minimal block identity carried on a decoded event.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

// LogEvent is the decoded body of a log-kind Event: named arguments plus
// enough positional identity for a handler to look anything else up.
type LogEvent struct {
	Args  map[string]any
	ID    string
	Log   LogRef
	Block BlockRef
}

// Event is one decoded, handler-ready event. Log is non-nil only for
// Kind == KindLog; block-kind events carry no payload beyond their
// identity, matching how event.data is null for block events in the sync
// store.
type Event struct {
	Kind         Kind
	ChainID      uint64
	ContractName string
	LogEventName string
	Log          *LogEvent
	Block        BlockRef
	Checkpoint   string
}

// Decoder holds a per-filter-id ABI cache built once by NewDecoder
// (spec §9: "not a process-wide singleton" — a fresh Decoder is expected per
// batch, or reused across batches sharing the same sources).
type Decoder struct {
	sourcesByFilterID map[string]events.Source
	abiByFilterID     map[string]abi.ABI
	log               *logger.Logger
}

// NewDecoder parses each log source's ABI once and indexes sources by
// filter id, ready to decode any number of RawEvent batches sharing this
// source list.
func NewDecoder(sources []events.Source, log *logger.Logger) (*Decoder, error) {
	d := &Decoder{
		sourcesByFilterID: make(map[string]events.Source, len(sources)),
		abiByFilterID:     make(map[string]abi.ABI, len(sources)),
		log:               log.WithComponent(chainsynccommon.ComponentDecode),
	}

	for _, src := range sources {
		d.sourcesByFilterID[src.FilterID] = src
		if src.ABI == "" {
			continue
		}
		parsed, err := abi.JSON(strings.NewReader(src.ABI))
		if err != nil {
			return nil, fmt.Errorf("decode: parse ABI for source %q: %w", src.Name, err)
		}
		d.abiByFilterID[src.FilterID] = parsed
	}

	return d, nil
}

// DecodeEvents decodes a batch of RawEvent into handler-ready Events. A log
// event whose filter id has no registered ABI event for its topic0 is
// skipped with a warning rather than failing the whole batch — a malformed
// or unregistered log is a data condition, not something that should stall
// every other event in the batch.
func (d *Decoder) DecodeEvents(raw []events.RawEvent) []Event {
	out := make([]Event, 0, len(raw))

	for _, r := range raw {
		ev, ok := d.decodeOne(r)
		if ok {
			out = append(out, ev)
		}
	}

	return out
}

func (d *Decoder) decodeOne(r events.RawEvent) (Event, bool) {
	src, ok := d.sourcesByFilterID[r.FilterID]
	if !ok {
		d.log.Warnw("decode: no source registered for filter id", "filter_id", r.FilterID)
		return Event{}, false
	}

	if r.Data == nil {
		return Event{
			Kind:         KindBlock,
			ChainID:      r.ChainID,
			ContractName: src.Name,
			Block:        BlockRef{Number: r.BlockNumber, Hash: r.BlockHash},
			Checkpoint:   string(r.Checkpoint),
		}, true
	}

	contractABI, ok := d.abiByFilterID[r.FilterID]
	if !ok {
		d.log.Warnw("decode: log event has no ABI registered", "filter_id", r.FilterID)
		return Event{}, false
	}

	topics := collectTopics(r.Data)
	if len(topics) == 0 {
		d.log.Warnw("decode: log event has no topic0", "filter_id", r.FilterID)
		return Event{}, false
	}

	abiEvent, err := contractABI.EventByID(topics[0])
	if err != nil {
		d.log.Warnw("decode: no ABI event for topic0", "filter_id", r.FilterID, "topic0", topics[0].Hex(), "error", err)
		return Event{}, false
	}

	args, err := unpackLog(*abiEvent, topics, common.FromHex(r.Data.Data))
	if err != nil {
		d.log.Warnw("decode: failed to unpack log", "filter_id", r.FilterID, "event", abiEvent.Name, "error", err)
		return Event{}, false
	}

	return Event{
		Kind:         KindLog,
		ChainID:      r.ChainID,
		ContractName: src.Name,
		LogEventName: abiEvent.Name,
		Log: &LogEvent{
			Args: args,
			ID:   string(r.Checkpoint),
			Log: LogRef{
				Topics:          topics,
				Data:            r.Data.Data,
				LogIndex:        r.LogIndex,
				BlockHash:       r.BlockHash,
				BlockNumber:     r.BlockNumber,
				TransactionHash: r.TransactionHash,
			},
			Block: BlockRef{Number: r.BlockNumber, Hash: r.BlockHash},
		},
		Checkpoint: string(r.Checkpoint),
	}, true
}

// unpackLog decodes a log's non-indexed data into the event's ABI-defined
// arguments and its indexed arguments from topics[1:], mirroring
// go-ethereum's bind.BoundContract.UnpackLog.
func unpackLog(event abi.Event, topics []common.Hash, data []byte) (map[string]any, error) {
	out := make(map[string]any)

	if len(data) > 0 {
		if err := event.Inputs.UnpackIntoMap(out, data); err != nil {
			return nil, err
		}
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(topics) < 1+len(indexed) {
		return nil, fmt.Errorf("decode: event %q expects %d indexed topics, got %d", event.Name, len(indexed), len(topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, topics[1:len(indexed)+1]); err != nil {
		return nil, err
	}

	return out, nil
}

func collectTopics(p *events.LogEventData) []common.Hash {
	var topics []common.Hash
	for _, t := range []*string{p.Topic0, p.Topic1, p.Topic2, p.Topic3} {
		if t == nil {
			break
		}
		topics = append(topics, common.HexToHash(*t))
	}
	return topics
}
