package historicalsync

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completedBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_historicalsync_completed_blocks_total",
			Help: "Total number of blocks fully synced by source",
		},
		[]string{"chain_id", "source"},
	)

	totalBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_historicalsync_total_blocks",
			Help: "Total blocks a source must sync, bounded by finality",
		},
		[]string{"chain_id", "source"},
	)

	cachedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_historicalsync_cached_blocks",
			Help: "Blocks already covered by cached intervals at startup",
		},
		[]string{"chain_id", "source"},
	)
)

func completedBlocksInc(chainID uint64, source string, n uint64) {
	completedBlocks.WithLabelValues(strconv.FormatUint(chainID, 10), source).Add(float64(n))
}

func totalBlocksSet(chainID uint64, source string, n uint64) {
	totalBlocks.WithLabelValues(strconv.FormatUint(chainID, 10), source).Set(float64(n))
}

func cachedBlocksSet(chainID uint64, source string, n uint64) {
	cachedBlocks.WithLabelValues(strconv.FormatUint(chainID, 10), source).Set(float64(n))
}
