package filter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ResolveChildAddress extracts the 20-byte address a child-address filter's
// location describes out of a log already known to match EventSelector.
func ResolveChildAddress(log *types.Log, loc ChildAddressLocation) (common.Address, error) {
	switch loc.Kind {
	case LocationTopic:
		if loc.Topic < 1 || loc.Topic > 3 {
			return common.Address{}, fmt.Errorf("filter: child address topic position %d out of range [1,3]", loc.Topic)
		}
		if loc.Topic >= len(log.Topics) {
			return common.Address{}, fmt.Errorf("filter: log has no topic at position %d", loc.Topic)
		}
		return common.BytesToAddress(log.Topics[loc.Topic].Bytes()), nil
	case LocationOffset:
		start := 12 + loc.Offset*32
		end := start + 20
		if end > len(log.Data) {
			return common.Address{}, fmt.Errorf("filter: log data too short for child address at word %d", loc.Offset)
		}
		return common.BytesToAddress(log.Data[start:end]), nil
	default:
		panic(fmt.Sprintf("filter: unhandled child address location kind %d", loc.Kind))
	}
}
