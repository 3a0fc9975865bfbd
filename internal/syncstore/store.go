// Package syncstore implements the sync store (C4): the durable cache of
// raw chain rows, discovered child addresses, completed intervals, and
// materialized events that everything else in the sync engine reads from
// and writes to.
package syncstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	dbpkg "github.com/oxSaturn/chainsync/internal/db"
	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/syncstore/migrations"
)

// Store wraps a *sql.DB (SQLite) implementing the sync store's schema and
// operations. All multi-statement operations run inside a *sql.Tx.
type Store struct {
	db          *sql.DB
	log         *logger.Logger
	table       func(string) string
	maintenance dbpkg.Maintenance
}

// Open opens (and migrates) a sync store at dbPath.
func Open(dbPath string, log *logger.Logger) (*Store, error) {
	db, err := dbpkg.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("syncstore: failed to open db: %w", err)
	}

	if err := migrate(dbPath, db, log); err != nil {
		db.Close()
		return nil, err
	}

	return New(db, log), nil
}

// New wraps an already-open, already-migrated *sql.DB.
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{
		db:          db,
		log:         log.WithComponent("syncstore"),
		maintenance: &dbpkg.NoOpMaintenance{},
		table: func(name string) string {
			return migrations.Prefix + name
		},
	}
}

// SetMaintenance attaches the database maintenance coordinator that guards
// VACUUM/WAL-checkpoint runs against concurrent writers. Reorg pruning holds
// the coordinator's operation lock for the lifetime of its transaction, so a
// maintenance pass can never interleave with a half-applied prune; the other
// sync-store writes do not take the lock. Store behaves as it always has
// (no blocking) until this is called; main wires the real coordinator in.
func (s *Store) SetMaintenance(m dbpkg.Maintenance) {
	s.maintenance = m
}

func migrate(dbPath string, db *sql.DB, log *logger.Logger) error {
	migs, err := migrations.All()
	if err != nil {
		return fmt.Errorf("syncstore: failed to load migrations: %w", err)
	}

	if err := dbpkg.RunMigrationsDB(log, db, migs); err != nil {
		_ = dbPath
		return fmt.Errorf("syncstore: failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertBlock upserts a block row, ignoring conflicts on (hash, chain_id).
func (s *Store) InsertBlock(ctx context.Context, row BlockRow) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (hash, chain_id, number, timestamp, body) VALUES (?, ?, ?, ?, ?) ON CONFLICT(hash, chain_id) DO NOTHING",
		s.table("block"),
	)
	_, err := s.db.ExecContext(ctx, query, row.Hash.Hex(), row.ChainID, row.Number, row.Timestamp, row.Body)
	if err != nil {
		return fmt.Errorf("syncstore: insert block: %w", err)
	}
	return nil
}

// HasBlock checks point existence keyed by (hash, chain_id).
func (s *Store) HasBlock(ctx context.Context, hash common.Hash, chainID uint64) (bool, error) {
	return s.exists(ctx, "block", "hash = ? AND chain_id = ?", hash.Hex(), chainID)
}

// InsertLogs bulk-upserts logs inside a single transaction, ignoring
// conflicts on (block_hash, log_index, chain_id).
func (s *Store) InsertLogs(ctx context.Context, rows []LogRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`INSERT INTO %s
		(block_hash, log_index, chain_id, block_number, address, topic0, topic1, topic2, topic3, data, transaction_hash, body)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(block_hash, log_index, chain_id) DO NOTHING`, s.table("log"))

	for _, r := range rows {
		_, err := tx.ExecContext(ctx, query,
			r.BlockHash.Hex(), r.LogIndex, r.ChainID, r.BlockNumber, strings.ToLower(r.Address.Hex()),
			hashPtrHex(r.Topic0), hashPtrHex(r.Topic1), hashPtrHex(r.Topic2), hashPtrHex(r.Topic3),
			r.Data, r.TransactionHash.Hex(), r.Body)
		if err != nil {
			return fmt.Errorf("syncstore: insert log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstore: commit insert logs: %w", err)
	}

	return nil
}

func hashPtrHex(h *common.Hash) any {
	if h == nil {
		return nil
	}
	return h.Hex()
}

// InsertTransaction upserts a transaction row.
func (s *Store) InsertTransaction(ctx context.Context, row TransactionRow) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (hash, chain_id, block_number, transaction_index, body) VALUES (?,?,?,?,?) ON CONFLICT(hash, chain_id) DO NOTHING",
		s.table("transaction"),
	)
	_, err := s.db.ExecContext(ctx, query, row.Hash.Hex(), row.ChainID, row.BlockNumber, row.TransactionIndex, row.Body)
	if err != nil {
		return fmt.Errorf("syncstore: insert transaction: %w", err)
	}
	return nil
}

// HasTransaction checks point existence keyed by (hash, chain_id).
func (s *Store) HasTransaction(ctx context.Context, hash common.Hash, chainID uint64) (bool, error) {
	return s.exists(ctx, "transaction", "hash = ? AND chain_id = ?", hash.Hex(), chainID)
}

// InsertTransactionReceipt upserts a transaction_receipt row.
func (s *Store) InsertTransactionReceipt(ctx context.Context, row TransactionReceiptRow) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (hash, chain_id, block_number, body) VALUES (?,?,?,?) ON CONFLICT(hash, chain_id) DO NOTHING",
		s.table("transaction_receipt"),
	)
	_, err := s.db.ExecContext(ctx, query, row.Hash.Hex(), row.ChainID, row.BlockNumber, row.Body)
	if err != nil {
		return fmt.Errorf("syncstore: insert transaction receipt: %w", err)
	}
	return nil
}

// HasTransactionReceipt checks point existence keyed by (hash, chain_id).
func (s *Store) HasTransactionReceipt(ctx context.Context, hash common.Hash, chainID uint64) (bool, error) {
	return s.exists(ctx, "transaction_receipt", "hash = ? AND chain_id = ?", hash.Hex(), chainID)
}

func (s *Store) exists(ctx context.Context, table, where string, args ...any) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", s.table(table), where)

	var dummy int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("syncstore: exists check on %s: %w", table, err)
	}

	return true, nil
}

// InsertAddresses inserts discovered child addresses for filterID, ignoring
// duplicates.
func (s *Store) InsertAddresses(ctx context.Context, chainID uint64, filterID string, addrs []AddressDiscovery) error {
	if len(addrs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(
		"INSERT INTO %s (chain_id, filter_id, block_number, address) VALUES (?,?,?,?) ON CONFLICT(chain_id, filter_id, address) DO NOTHING",
		s.table("address"),
	)

	for _, a := range addrs {
		_, err := tx.ExecContext(ctx, query, chainID, filterID, a.BlockNumber, strings.ToLower(a.Address.Hex()))
		if err != nil {
			return fmt.Errorf("syncstore: insert address: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstore: commit insert addresses: %w", err)
	}

	return nil
}

// AddressDiscovery is one child address discovered at a given block.
type AddressDiscovery struct {
	Address     common.Address
	BlockNumber uint64
}

// GetAddresses returns every child address discovered for filterID.
func (s *Store) GetAddresses(ctx context.Context, chainID uint64, filterID string) ([]common.Address, error) {
	query := fmt.Sprintf("SELECT address FROM %s WHERE chain_id = ? AND filter_id = ?", s.table("address"))

	rows, err := s.db.QueryContext(ctx, query, chainID, filterID)
	if err != nil {
		return nil, fmt.Errorf("syncstore: get addresses: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("syncstore: scan address: %w", err)
		}
		out = append(out, common.HexToAddress(hex))
	}

	return out, rows.Err()
}

// InsertInterval appends one completed interval row for (kind, filterID).
func (s *Store) InsertInterval(ctx context.Context, chainID uint64, kind, filterID string, r interval.Range) error {
	query := fmt.Sprintf("INSERT INTO %s (chain_id, kind, filter_id, lo, hi) VALUES (?,?,?,?,?)", s.table("interval"))

	_, err := s.db.ExecContext(ctx, query, chainID, kind, filterID, r.Lo, r.Hi)
	if err != nil {
		return fmt.Errorf("syncstore: insert interval: %w", err)
	}

	return nil
}

// GetIntervals reads all interval rows for (kind, filterID), merges them
// into their union, writes the merged set back in a single transaction
// (compacting the table), and returns the union.
func (s *Store) GetIntervals(ctx context.Context, chainID uint64, kind, filterID string) ([]interval.Range, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("syncstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := fmt.Sprintf("SELECT lo, hi FROM %s WHERE chain_id = ? AND kind = ? AND filter_id = ?", s.table("interval"))

	rows, err := tx.QueryContext(ctx, selectQuery, chainID, kind, filterID)
	if err != nil {
		return nil, fmt.Errorf("syncstore: select intervals: %w", err)
	}

	var ranges []interval.Range
	for rows.Next() {
		var r interval.Range
		if err := rows.Scan(&r.Lo, &r.Hi); err != nil {
			rows.Close()
			return nil, fmt.Errorf("syncstore: scan interval: %w", err)
		}
		ranges = append(ranges, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	merged := interval.Union(ranges)

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE chain_id = ? AND kind = ? AND filter_id = ?", s.table("interval"))
	if _, err := tx.ExecContext(ctx, deleteQuery, chainID, kind, filterID); err != nil {
		return nil, fmt.Errorf("syncstore: compact delete intervals: %w", err)
	}

	insertQuery := fmt.Sprintf("INSERT INTO %s (chain_id, kind, filter_id, lo, hi) VALUES (?,?,?,?,?)", s.table("interval"))
	for _, r := range merged {
		if _, err := tx.ExecContext(ctx, insertQuery, chainID, kind, filterID, r.Lo, r.Hi); err != nil {
			return nil, fmt.Errorf("syncstore: compact insert intervals: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("syncstore: commit compact intervals: %w", err)
	}

	return merged, nil
}

// GetEventCount returns an advisory count of materialized events across
// filters; not guaranteed exact under concurrent writes.
func (s *Store) GetEventCount(ctx context.Context, filters []string) (int64, error) {
	if len(filters) == 0 {
		return 0, nil
	}

	placeholders, args := inClause(filters)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE filter_id IN (%s)", s.table("event"), placeholders)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("syncstore: get event count: %w", err)
	}

	return count, nil
}

// GetEvents returns event rows whose checkpoint is in (from, to] and whose
// filter_id is in q.Filters, ordered by (checkpoint asc, filter_id asc), at
// most q.Limit rows. Cursor is q.To if fewer than Limit rows were returned,
// otherwise the checkpoint of the last returned row.
func (s *Store) GetEvents(ctx context.Context, q GetEventsQuery) (EventsPage, error) {
	if len(q.Filters) == 0 || q.Limit <= 0 {
		return EventsPage{Cursor: q.To}, nil
	}

	placeholders, args := inClause(q.Filters)
	args = append(args, string(q.From), string(q.To), q.Limit)

	query := fmt.Sprintf(`SELECT filter_id, checkpoint, chain_id, block_number, block_hash, log_index, transaction_hash, data
		FROM %s
		WHERE filter_id IN (%s) AND checkpoint > ? AND checkpoint <= ?
		ORDER BY checkpoint ASC, filter_id ASC
		LIMIT ?`, s.table("event"), placeholders)

	var scanned []*EventRow
	if err := meddler.QueryAll(s.db, &scanned, query, args...); err != nil {
		return EventsPage{}, fmt.Errorf("syncstore: get events: %w", err)
	}

	rowsOut := make([]EventRow, len(scanned))
	for i, r := range scanned {
		rowsOut[i] = *r
	}

	cursor := q.To
	if len(rowsOut) == q.Limit {
		cursor = rowsOut[len(rowsOut)-1].Checkpoint
	}

	return EventsPage{Events: rowsOut, Cursor: cursor}, nil
}

// GetEventsAtBlock returns every event row for chainID and one of filters
// whose block_number equals blockNumber, ordered by checkpoint ascending.
// Used by realtime sync's block translation, which materializes and emits
// exactly one block's worth of events per tip advance rather than paginating
// an open-ended checkpoint range.
func (s *Store) GetEventsAtBlock(ctx context.Context, chainID uint64, filters []string, blockNumber uint64) ([]EventRow, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(filters)
	args = append([]any{chainID, blockNumber}, args...)

	query := fmt.Sprintf(`SELECT filter_id, checkpoint, chain_id, block_number, block_hash, log_index, transaction_hash, data
		FROM %s
		WHERE chain_id = ? AND block_number = ? AND filter_id IN (%s)
		ORDER BY checkpoint ASC`, s.table("event"), placeholders)

	var scanned []*EventRow
	if err := meddler.QueryAll(s.db, &scanned, query, args...); err != nil {
		return nil, fmt.Errorf("syncstore: get events at block: %w", err)
	}

	out := make([]EventRow, len(scanned))
	for i, r := range scanned {
		out[i] = *r
	}
	return out, nil
}

// InsertRpcRequestResult caches a deterministic RPC response, ignoring
// conflicts on the primary key.
func (s *Store) InsertRpcRequestResult(ctx context.Context, row RpcRequestResultRow) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (request, chain_id, block_number, result) VALUES (?,?,?,?) ON CONFLICT(request, chain_id, block_number) DO NOTHING",
		s.table("rpc_request_results"),
	)
	_, err := s.db.ExecContext(ctx, query, row.Request, row.ChainID, row.BlockNumber, row.Result)
	if err != nil {
		return fmt.Errorf("syncstore: insert rpc request result: %w", err)
	}
	return nil
}

// GetRpcRequestResult returns a cached RPC response, or ("", false, nil) if
// absent.
func (s *Store) GetRpcRequestResult(ctx context.Context, request string, chainID, blockNumber uint64) (string, bool, error) {
	query := fmt.Sprintf(
		"SELECT result FROM %s WHERE request = ? AND chain_id = ? AND block_number = ?",
		s.table("rpc_request_results"),
	)

	var result string
	err := s.db.QueryRowContext(ctx, query, request, chainID, blockNumber).Scan(&result)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("syncstore: get rpc request result: %w", err)
	}

	return result, true, nil
}

func inClause(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}
