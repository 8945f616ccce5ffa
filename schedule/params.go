package schedule

import "github.com/cloudimpl/querycoord/plan"

// Destination is one address+instance a fragment's output rows must
// stream to (the downstream exchange's receiver).
type Destination struct {
	Host       Host
	InstanceID string
}

// FragmentExecParams is the per-fragment output of host assignment
// and, after AssignScanRanges, of scan-range assignment. It is
// created here and is read-only for the rest of the query's lifetime
// (spec.md §3).
type FragmentExecParams struct {
	FragmentIdx int
	Hosts       []Host
	InstanceIDs []string // len(InstanceIDs) == len(Hosts)

	Destinations []Destination

	// PerExchangeNumSenders maps an exchange node id in this fragment
	// to the number of instances feeding it, used by the receiving
	// instance for termination detection.
	PerExchangeNumSenders map[plan.NodeID]int

	// ExecAtCoord marks a fragment that must run at the coordinator
	// host only (the root fragment, or any unpartitioned fragment the
	// planner flags this way).
	ExecAtCoord bool
}

// PerNodeScanRanges maps a scan node id to the scan ranges assigned to
// it on one host.
type PerNodeScanRanges map[plan.NodeID][]ScanRange

// FragmentScanRangeAssignment maps a host address to the scan ranges
// assigned to it, broken down per scan node, for a single fragment.
type FragmentScanRangeAssignment map[string]PerNodeScanRanges
