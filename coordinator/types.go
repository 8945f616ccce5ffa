// Package coordinator implements the Query Coordinator described in
// spec.md: for one query it partitions scan work, launches remote
// fragment instances over rpc.Transport, reconciles their status,
// drives the coordinator fragment's own local execution, and
// guarantees atomic cancellation on any failure.
//
// Grounded on cloudimpl-ByteDB's distributed/coordinator.Coordinator,
// generalized from its ad hoc scan-fragment-per-worker planning to the
// full fragment-tree / exchange-edge model spec.md describes, and on
// original_source/be/src/runtime/coordinator.h for the exact lock
// ordering and termination-detection semantics.
package coordinator

import (
	"github.com/cloudimpl/querycoord/plan"
)

// QueryDescriptor is the immutable input to Exec: a unique query id,
// global options, a descriptor table shared by all fragments, and an
// ordered sequence of plan fragments (spec.md §3). Fragment 0 is the
// root/coordinator fragment by convention.
type QueryDescriptor struct {
	QueryID string

	DescriptorTbl []byte
	QueryGlobals  []byte
	QueryOptions  []byte

	Fragments []*plan.Fragment

	// ExchangeSenderFragment maps an exchange node id to the index of
	// the fragment whose output feeds it (carried by the frontend
	// alongside the plan; see plan.FindLeftmostInputFragment).
	ExchangeSenderFragment map[plan.NodeID]int

	// ExecAtCoord marks fragments that must run at the coordinator
	// host only. Fragment 0 is always included by Exec even if the
	// caller omits it.
	ExecAtCoord map[int]bool

	NeedsFinalization bool
	FinalizeParams    FinalizeParams
}

// FinalizeParams configures finalization for a distributed INSERT.
type FinalizeParams struct {
	// Overwrite allows a file move to replace a pre-existing
	// destination rather than failing (spec.md §4.8 point 1).
	Overwrite bool
}

// Progress is the (scan_ranges_completed, scan_ranges_total) tracker
// from spec.md §3, updated monotonically.
type Progress struct {
	Completed int64
	Total     int64
}

// instanceState is the lifecycle of one BackendExecState.
type instanceState int

const (
	instanceRunning instanceState = iota
	instanceTerminalOK
	instanceTerminalError
	instanceTerminalCancelled
)

func (s instanceState) terminal() bool {
	return s != instanceRunning
}
