package common

const (
	ComponentHistoricalSync = "historical-sync"
	ComponentLocalSync      = "local-sync"
	ComponentRealtimeSync   = "realtime-sync"
	ComponentCoordinator    = "coordinator"
	ComponentSyncStore      = "sync-store"
	ComponentRPC            = "rpc"
	ComponentDecode         = "decode"
	ComponentMaintenance    = "maintenance"
	ComponentAPI            = "api"
)

var AllComponents = map[string]struct{}{
	ComponentHistoricalSync: {},
	ComponentLocalSync:      {},
	ComponentRealtimeSync:   {},
	ComponentCoordinator:    {},
	ComponentSyncStore:      {},
	ComponentRPC:            {},
	ComponentDecode:         {},
	ComponentMaintenance:    {},
	ComponentAPI:            {},
}
