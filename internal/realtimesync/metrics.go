package realtimesync

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tipBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_realtimesync_tip_block",
			Help: "Most recently observed head block number",
		},
		[]string{"chain_id"},
	)

	reorgsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_realtimesync_reorgs_total",
			Help: "Total reorgs detected by the tip follower",
		},
		[]string{"chain_id"},
	)

	bloomSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_realtimesync_bloom_skips_total",
			Help: "Blocks whose bloom filter ruled out every registered log filter",
		},
		[]string{"chain_id"},
	)
)

func tipBlockSet(chainID uint64, n uint64) {
	tipBlock.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(n))
}

func reorgsInc(chainID uint64) {
	reorgsTotal.WithLabelValues(strconv.FormatUint(chainID, 10)).Inc()
}

func bloomSkipsInc(chainID uint64) {
	bloomSkipsTotal.WithLabelValues(strconv.FormatUint(chainID, 10)).Inc()
}
