package syncstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oxSaturn/chainsync/internal/checkpoint"
	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/interval"
)

// logEventData is the minimal payload persisted into event.data for a log
// event: the log's data plus its four topic slots.
type logEventData struct {
	Data   string  `json:"data"`
	Topic0 *string `json:"topic0,omitempty"`
	Topic1 *string `json:"topic1,omitempty"`
	Topic2 *string `json:"topic2,omitempty"`
	Topic3 *string `json:"topic3,omitempty"`
}

// PopulateEvents materializes filter hits in [r.Lo, r.Hi] from the raw
// tables into the event table, atomically, idempotently (ON CONFLICT DO
// NOTHING on the (filter_id, checkpoint, chain_id) primary key).
func (s *Store) PopulateEvents(ctx context.Context, f filter.Filter, chainID uint64, filterID string, r interval.Range) error {
	switch f.Kind {
	case filter.KindLog:
		return s.populateLogEvents(ctx, f.Log, chainID, filterID, r)
	case filter.KindBlock:
		return s.populateBlockEvents(ctx, f.Block, chainID, filterID, r)
	default:
		panic(fmt.Sprintf("syncstore: unhandled filter kind %q", f.Kind))
	}
}

func (s *Store) populateLogEvents(ctx context.Context, lf *filter.LogFilter, chainID uint64, filterID string, r interval.Range) error {
	lo := r.Lo
	if lf.FromBlock > lo {
		lo = lf.FromBlock
	}
	hi := r.Hi
	if lf.ToBlock != nil && *lf.ToBlock < hi {
		hi = *lf.ToBlock
	}
	if lo > hi {
		return nil
	}

	var childAddresses []string
	if lf.Address.IsChildAddressFilter() {
		addrs, err := s.GetAddresses(ctx, chainID, filter.ChildFilterID(lf.Address.Child))
		if err != nil {
			return fmt.Errorf("syncstore: populate events: resolve child addresses: %w", err)
		}
		for _, a := range addrs {
			childAddresses = append(childAddresses, strings.ToLower(a.Hex()))
		}
		if len(childAddresses) == 0 {
			return nil
		}
	}

	where, args := logWhereClause(lf, chainID, lo, hi, childAddresses)

	query := fmt.Sprintf(`SELECT l.block_hash, l.log_index, l.chain_id, l.block_number, l.transaction_hash,
		l.data, l.topic0, l.topic1, l.topic2, l.topic3, b.timestamp, t.transaction_index
		FROM %s l
		JOIN %s b ON b.hash = l.block_hash AND b.chain_id = l.chain_id
		JOIN %s t ON t.hash = l.transaction_hash AND t.chain_id = l.chain_id
		WHERE %s`, s.table("log"), s.table("block"), s.table("transaction"), where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("syncstore: populate events: select logs: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			blockHash, txHash                         string
			logIndex                                  uint
			rowChainID, blockNumber                    uint64
			data                                       string
			topic0, topic1, topic2, topic3             sql.NullString
			timestamp                                  uint64
			txIndex                                    uint64
		)

		if err := rows.Scan(&blockHash, &logIndex, &rowChainID, &blockNumber, &txHash,
			&data, &topic0, &topic1, &topic2, &topic3, &timestamp, &txIndex); err != nil {
			return fmt.Errorf("syncstore: populate events: scan log: %w", err)
		}

		payload, err := json.Marshal(logEventData{
			Data:   data,
			Topic0: nullToPtr(topic0),
			Topic1: nullToPtr(topic1),
			Topic2: nullToPtr(topic2),
			Topic3: nullToPtr(topic3),
		})
		if err != nil {
			return fmt.Errorf("syncstore: populate events: marshal payload: %w", err)
		}
		payloadStr := string(payload)

		cp := checkpoint.Encode(checkpoint.Fields{
			BlockTimestamp:   timestamp,
			ChainID:          rowChainID,
			BlockNumber:      blockNumber,
			TransactionIndex: txIndex,
			EventIndex:       uint64(logIndex),
		})

		events = append(events, EventRow{
			FilterID:        filterID,
			Checkpoint:      cp,
			ChainID:         rowChainID,
			BlockNumber:     blockNumber,
			BlockHash:       hexToHash(blockHash),
			LogIndex:        logIndex,
			TransactionHash: hexToHash(txHash),
			Data:            &payloadStr,
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return s.insertEvents(ctx, events)
}

func (s *Store) populateBlockEvents(ctx context.Context, bf *filter.BlockFilter, chainID uint64, filterID string, r interval.Range) error {
	lo := r.Lo
	if bf.FromBlock > lo {
		lo = bf.FromBlock
	}
	hi := r.Hi
	if bf.ToBlock != nil && *bf.ToBlock < hi {
		hi = *bf.ToBlock
	}
	if lo > hi {
		return nil
	}

	query := fmt.Sprintf(`SELECT hash, chain_id, number, timestamp FROM %s
		WHERE chain_id = ? AND number >= ? AND number <= ? AND (number - ?) %% ? = 0`,
		s.table("block"))

	rows, err := s.db.QueryContext(ctx, query, chainID, lo, hi, bf.Offset, bf.Interval)
	if err != nil {
		return fmt.Errorf("syncstore: populate events: select blocks: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			hash                     string
			rowChainID, number, ts   uint64
		)
		if err := rows.Scan(&hash, &rowChainID, &number, &ts); err != nil {
			return fmt.Errorf("syncstore: populate events: scan block: %w", err)
		}

		cp := checkpoint.Encode(checkpoint.Fields{
			BlockTimestamp: ts,
			ChainID:        rowChainID,
			BlockNumber:    number,
			IsBlockEvent:   true,
		})

		events = append(events, EventRow{
			FilterID:    filterID,
			Checkpoint:  cp,
			ChainID:     rowChainID,
			BlockNumber: number,
			BlockHash:   hexToHash(hash),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return s.insertEvents(ctx, events)
}

func (s *Store) insertEvents(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`INSERT INTO %s
		(filter_id, checkpoint, chain_id, block_number, block_hash, log_index, transaction_hash, data)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(filter_id, checkpoint, chain_id) DO NOTHING`, s.table("event"))

	for _, e := range events {
		_, err := tx.ExecContext(ctx, query, e.FilterID, string(e.Checkpoint), e.ChainID, e.BlockNumber,
			e.BlockHash.Hex(), e.LogIndex, e.TransactionHash.Hex(), e.Data)
		if err != nil {
			return fmt.Errorf("syncstore: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstore: commit insert events: %w", err)
	}

	return nil
}

func logWhereClause(lf *filter.LogFilter, chainID uint64, lo, hi uint64, childAddresses []string) (string, []any) {
	conds := []string{"l.chain_id = ?", "l.block_number >= ?", "l.block_number <= ?"}
	args := []any{chainID, lo, hi}

	switch lf.Address.Kind {
	case filter.AddressNone:
	case filter.AddressSingle:
		conds = append(conds, "l.address = ?")
		args = append(args, strings.ToLower(lf.Address.Single.Hex()))
	case filter.AddressSet:
		ph, setArgs := inClause(addressesToHex(lf.Address.Set))
		conds = append(conds, fmt.Sprintf("l.address IN (%s)", ph))
		args = append(args, setArgs...)
	case filter.AddressChildFilter:
		ph, setArgs := inClause(childAddresses)
		conds = append(conds, fmt.Sprintf("l.address IN (%s)", ph))
		args = append(args, setArgs...)
	}

	for i, topics := range lf.Topics {
		if len(topics) == 0 {
			continue
		}
		col := fmt.Sprintf("l.topic%d", i)
		hexes := make([]string, len(topics))
		for j, t := range topics {
			hexes[j] = strings.ToLower(t.Hex())
		}
		ph, topicArgs := inClause(hexes)
		conds = append(conds, fmt.Sprintf("%s IN (%s)", col, ph))
		args = append(args, topicArgs...)
	}

	return strings.Join(conds, " AND "), args
}

func addressesToHex(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(a.Hex())
	}
	return out
}

func nullToPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func hexToHash(h string) common.Hash {
	return common.HexToHash(h)
}
