package trigger

import "github.com/labbench/controller/internal/types"

var allowedTransitions = map[types.ScriptExecutionState]map[types.ScriptExecutionState]struct{}{
	types.ScriptIdle: {
		types.ScriptRunning: {},
	},
	types.ScriptRunning: {
		types.ScriptPaused: {},
		types.ScriptError:  {},
		types.ScriptIdle:   {}, // stop()
	},
	types.ScriptPaused: {
		types.ScriptRunning: {},
		types.ScriptIdle:    {}, // stop()
	},
}

// CanTransition reports whether a trigger-script execution-state transition
// is valid (§4.9: idle -> running -> (paused <-> running) -> idle|error).
func CanTransition(from, to types.ScriptExecutionState) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
