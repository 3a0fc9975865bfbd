package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/config"
)

// Maintenance guards the sync store's SQLite file against unbounded WAL/
// free-page growth while coordinating with callers that hold the
// operation lock for the lifetime of a write (see syncstore.Store's reorg
// pruning, which folds AcquireOperationLock into its transaction boundary
// so a VACUUM can never interleave with a half-applied prune).
type Maintenance interface {
	Start(ctx context.Context) error
	// Stop cancels the background worker and waits for it to exit.
	Stop() error
	// AcquireOperationLock takes a shared lock for the duration of one
	// store write; the returned func releases it.
	AcquireOperationLock() func()
	GetMetrics() MaintenanceMetrics
	// RunMaintenance runs one WAL-checkpoint+VACUUM pass synchronously.
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance satisfies Maintenance without ever touching the
// database; NewMaintenanceCoordinator returns it for a nil config, and a
// syncstore.Store uses it until SetMaintenance is called.
type NoOpMaintenance struct{}

func (m *NoOpMaintenance) Start(ctx context.Context) error { return nil }

func (m *NoOpMaintenance) Stop() error { return nil }

func (m *NoOpMaintenance) RunMaintenance(ctx context.Context) error { return nil }

func (m *NoOpMaintenance) AcquireOperationLock() func() {
	return func() {}
}

func (m *NoOpMaintenance) GetMetrics() MaintenanceMetrics {
	return MaintenanceMetrics{}
}

// MaintenanceCoordinator is the real Maintenance: a ticker-driven
// WAL-checkpoint+VACUUM loop guarded by a RWMutex where sync-store writes
// hold the read side and a maintenance pass holds the write side, so a
// pass never runs concurrently with an in-flight write.
type MaintenanceCoordinator struct {
	db     *sql.DB
	config config.MaintenanceConfig
	dbPath string
	log    *logger.Logger

	opLock sync.RWMutex

	maintenanceCtx    context.Context
	maintenanceCancel context.CancelFunc
	maintenanceWg     sync.WaitGroup

	metricsLock         sync.Mutex
	lastMaintenanceTime time.Time
	maintenanceCount    uint64
	lastMaintenanceErr  error
}

// NewMaintenanceCoordinator creates a new maintenance coordinator.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log)
}

// newMaintenanceCoordinator is an internal constructor for MaintenanceCoordinator.
func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:     db,
		config: cfg,
		dbPath: dbPath,
		log:    log.WithComponent("db-maintenance"),
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("background maintenance disabled")
		return nil
	}

	m.maintenanceCtx, m.maintenanceCancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		m.log.Info("running startup maintenance pass")
		if err := m.RunMaintenance(m.maintenanceCtx); err != nil {
			m.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	m.maintenanceWg.Add(1)
	go m.maintenanceWorker(m.config.CheckInterval.Duration)

	m.log.Infof("background maintenance started, interval=%v checkpoint_mode=%s",
		m.config.CheckInterval.Duration, m.config.WALCheckpointMode)

	return nil
}

// Stop stops background maintenance and waits for the worker to exit.
func (m *MaintenanceCoordinator) Stop() error {
	if m.maintenanceCancel == nil {
		return nil
	}

	m.maintenanceCancel()
	m.maintenanceWg.Wait()
	m.log.Info("background maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) maintenanceWorker(checkInterval time.Duration) {
	defer m.maintenanceWg.Done()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.maintenanceCtx.Done():
			return

		case <-ticker.C:
			if err := m.RunMaintenance(m.maintenanceCtx); err != nil {
				m.log.Warnf("periodic maintenance failed: %v", err)
			}
		}
	}
}

// RunMaintenance runs one WAL-checkpoint+VACUUM pass, holding the write
// side of opLock for its duration so no store write interleaves with it.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now().UTC()

	maintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var maintenanceErr error

	initialDBSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("failed to read db size before maintenance: %v", err)
	}

	if err := m.walCheckpoint(); err != nil {
		m.log.Errorf("wal checkpoint failed: %v", err)
		maintenanceErr = fmt.Errorf("wal checkpoint: %w", err)
	}

	if err := m.vacuum(); err != nil {
		m.log.Warnf("vacuum failed (may be expected in wal mode): %v", err)
		if maintenanceErr == nil {
			maintenanceErr = fmt.Errorf("vacuum: %w", err)
		}
	}

	finalDBSize, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("failed to read db size after maintenance: %v", err)
	}

	duration := time.Since(start)

	m.metricsLock.Lock()
	m.lastMaintenanceTime = time.Now().UTC()
	m.maintenanceCount++
	m.lastMaintenanceErr = maintenanceErr
	m.metricsLock.Unlock()

	maintenanceDurationObserve(duration)
	maintenanceLastRunSet()

	if maintenanceErr != nil {
		maintenanceErrorInc()
		m.log.Warnf("maintenance completed with errors in %v: %v", duration, maintenanceErr)
		return maintenanceErr
	}

	maintenanceSuccessInc()
	m.log.Infof("maintenance completed in %v", duration)

	if initialDBSize > finalDBSize {
		spaceReclaimed := uint64(initialDBSize - finalDBSize)
		maintenanceSpaceReclaimedSet(spaceReclaimed)
		m.log.Infof("maintenance reclaimed %d MB", common.BytesToMB(spaceReclaimed))
	}

	dbSizeSet(finalDBSize)

	return nil
}

// walCheckpoint runs a WAL checkpoint in the mode configured for this
// coordinator; it's a no-op outside WAL journal mode.
func (m *MaintenanceCoordinator) walCheckpoint() error {
	isWAL, err := m.isWALMode()
	if err != nil {
		return fmt.Errorf("check journal mode: %w", err)
	}

	if !isWAL {
		m.log.Debug("database not in wal mode, skipping checkpoint")
		return nil
	}

	checkpointSQL := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)

	var busyCount, logFrames, checkpointedFrames int
	err = m.db.QueryRow(checkpointSQL).Scan(&busyCount, &logFrames, &checkpointedFrames)
	if err != nil {
		return fmt.Errorf("run wal checkpoint: %w", err)
	}

	m.log.Infof("wal checkpoint complete mode=%s busy=%d log_frames=%d checkpointed=%d",
		m.config.WALCheckpointMode, busyCount, logFrames, checkpointedFrames)

	walCheckpointInc(strings.ToLower(m.config.WALCheckpointMode))

	if busyCount > 0 {
		m.log.Warnf("wal checkpoint left %d busy pages uncheckpointed", busyCount)
	}

	return nil
}

// vacuum reclaims space freed by deletes and updates; it requires exclusive
// access to the database, which RunMaintenance already holds via opLock.
func (m *MaintenanceCoordinator) vacuum() error {
	if err := Vacuum(m.db); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("vacuum: database is locked, retry later")
		}
		return err
	}

	vacuumRunsInc()
	return nil
}

// isWALMode reports whether the database's journal mode is WAL.
func (m *MaintenanceCoordinator) isWALMode() (bool, error) {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}

// AcquireOperationLock takes the read side of opLock for the duration of
// one store write, so a maintenance pass can never interleave with it; the
// returned func releases it.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// GetMetrics returns current maintenance metrics.
func (m *MaintenanceCoordinator) GetMetrics() MaintenanceMetrics {
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()

	return MaintenanceMetrics{
		LastMaintenanceTime:  m.lastMaintenanceTime,
		MaintenanceCount:     m.maintenanceCount,
		LastMaintenanceError: m.lastMaintenanceErr,
	}
}

// MaintenanceMetrics provides visibility into maintenance operations.
type MaintenanceMetrics struct {
	LastMaintenanceTime  time.Time
	MaintenanceCount     uint64
	LastMaintenanceError error
}
