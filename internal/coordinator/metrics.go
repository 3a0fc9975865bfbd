package coordinator

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chainState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_coordinator_chain_state",
			Help: "Current lifecycle state per chain: 1 for the active state label, 0 otherwise",
		},
		[]string{"chain_id", "state"},
	)

	realtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_coordinator_realtime_events_total",
			Help: "Total realtime notifications emitted by type",
		},
		[]string{"chain_id", "type"},
	)

	realtimeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_coordinator_realtime_queue_depth",
			Help: "Pending items in the realtime translation queue",
		},
	)
)

var allStates = []State{StateNew, StateHistorical, StateTip, StateRealtime, StateComplete, StateKilled}

func chainStateSet(chainID uint64, s State) {
	id := strconv.FormatUint(chainID, 10)
	for _, candidate := range allStates {
		v := 0.0
		if candidate == s {
			v = 1.0
		}
		chainState.WithLabelValues(id, string(candidate)).Set(v)
	}
}

func realtimeEventsInc(chainID uint64, eventType string) {
	realtimeEventsTotal.WithLabelValues(strconv.FormatUint(chainID, 10), eventType).Inc()
}

func realtimeQueueDepthSet(n int) {
	realtimeQueueDepth.Set(float64(n))
}
