package engine

import "slices"

// Lifecycle is the order a game moves through on the remote service.
var Lifecycle = []State{StateWaiting, StateInProgress, StateFinished}

// Transitions maps a lifecycle command to the state it leaves the game in.
var Transitions = map[CommandType]State{
	CmdStart: StateInProgress,
	CmdEnd:   StateFinished,
}

// Known reports whether s is one of the lifecycle states. Unknown values are
// still kept verbatim by the normalizer.
func (s State) Known() bool {
	return slices.Contains(Lifecycle, s)
}
