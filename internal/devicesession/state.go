package devicesession

import "github.com/labbench/controller/internal/types"

var allowedTransitions = map[types.ConnectionStatus]map[types.ConnectionStatus]struct{}{
	types.StatusDisconnected: {
		types.StatusConnected: {},
	},
	types.StatusConnected: {
		types.StatusError:        {},
		types.StatusDisconnected: {},
	},
	types.StatusError: {
		types.StatusConnected:    {},
		types.StatusDisconnected: {},
	},
}

// CanTransition reports whether a connection-status transition is valid
// (§4.3's disconnected/connected/error lifecycle).
func CanTransition(from, to types.ConnectionStatus) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
