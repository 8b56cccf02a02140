package sequence

import "github.com/labbench/controller/internal/types"

var allowedTransitions = map[types.SequenceExecutionState]map[types.SequenceExecutionState]struct{}{
	types.SeqIdle: {
		types.SeqRunning: {},
	},
	types.SeqRunning: {
		types.SeqPaused:    {},
		types.SeqCompleted: {},
		types.SeqError:     {},
		types.SeqIdle:      {}, // abort()
	},
	types.SeqPaused: {
		types.SeqRunning: {},
		types.SeqIdle:    {}, // abort()
	},
}

// CanTransition reports whether a sequence execution-state transition is
// valid (§4.7: idle -> running -> (paused <-> running) -> completed|error,
// plus running|paused -> idle via abort()).
func CanTransition(from, to types.SequenceExecutionState) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
