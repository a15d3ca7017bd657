package node

import (
	"sync/atomic"
)

// RunState follows the node through its lifecycle.
type RunState uint32

const (
	// Booting: loading stores and state.
	Booting RunState = iota
	// Syncing: catching up with a peer's tip.
	Syncing
	// Running: proposing and accepting blocks.
	Running
	// Shutdown ...
	Shutdown
)

// String ...
func (s RunState) String() string {
	switch s {
	case Booting:
		return "Booting"
	case Syncing:
		return "Syncing"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	}
	return "Unknown"
}

// runState wraps an atomically accessed RunState.
type runState struct {
	v uint32
}

func (rs *runState) get() RunState {
	return RunState(atomic.LoadUint32(&rs.v))
}

func (rs *runState) set(s RunState) {
	atomic.StoreUint32(&rs.v, uint32(s))
}
