package localsync

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cursorBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_localsync_cursor_block",
			Help: "Current fromBlock cursor of the per-chain pacer",
		},
		[]string{"chain_id"},
	)

	finalizedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_localsync_finalized_block",
			Help: "Most recently observed finalized block number",
		},
		[]string{"chain_id"},
	)
)

func cursorBlockSet(chainID uint64, n uint64) {
	cursorBlock.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(n))
}

func finalizedBlockSet(chainID uint64, n uint64) {
	finalizedBlock.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(n))
}
