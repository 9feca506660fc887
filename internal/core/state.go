package core

// State is the node lifecycle state.
//
//	UNINITIALIZED → CONFIGURED → RUNNING → SHUTTING_DOWN → TERMINATED
//
// A node that fails to configure stays UNINITIALIZED; a node whose Run
// fails before the loop starts stays CONFIGURED.
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConfigured:
		return "CONFIGURED"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
