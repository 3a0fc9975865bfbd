package syncstore

import (
	"context"
	"fmt"
)

// PruneAbove deletes every raw row, event row, discovered address, and
// cached RPC response for chainID whose block_number is strictly greater
// than ancestor, and truncates interval rows to [lo, min(hi, ancestor)]
// (dropping rows that start strictly above ancestor entirely). It runs
// inside a single transaction so a reorg never leaves the store in a
// partially-pruned state. This is the storage half of realtime sync's
// reorg handling (spec §4.7/§4.8): once a common ancestor is found,
// everything above it is invalidated uniformly across raw tables, events,
// interval bookkeeping, and the cached transport's own responses — without
// pruning rpc_request_results, CachedClient.GetBlockByNumber would keep
// serving the pre-reorg block forever, since cached rows are immutable
// once written.
//
// It holds the maintenance coordinator's operation lock for its whole
// duration; it is the only sync-store write that does so. A VACUUM that ran
// concurrently with a prune could see a transient mid-transaction state
// and checkpoint it into the WAL before the prune commits or rolls back.
func (s *Store) PruneAbove(ctx context.Context, chainID uint64, ancestor uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE chain_id = ? AND number > ?", s.table("block")),
		chainID, ancestor); err != nil {
		return fmt.Errorf("syncstore: prune block above %d: %w", ancestor, err)
	}

	tables := []string{"log", "transaction", "transaction_receipt", "address", "event", "rpc_request_results"}
	for _, t := range tables {
		query := fmt.Sprintf("DELETE FROM %s WHERE chain_id = ? AND block_number > ?", s.table(t))
		if _, err := tx.ExecContext(ctx, query, chainID, ancestor); err != nil {
			return fmt.Errorf("syncstore: prune %s above %d: %w", t, ancestor, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE chain_id = ? AND lo > ?", s.table("interval")),
		chainID, ancestor); err != nil {
		return fmt.Errorf("syncstore: prune intervals above %d: %w", ancestor, err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET hi = ? WHERE chain_id = ? AND hi > ?", s.table("interval")),
		ancestor, chainID, ancestor); err != nil {
		return fmt.Errorf("syncstore: truncate intervals above %d: %w", ancestor, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstore: commit prune above %d: %w", ancestor, err)
	}

	return nil
}
