// Package rpc defines the wire-level contract between the
// coordinator and the worker backends, and the pluggable Transport
// that carries it. Per spec.md §6, the shapes of ExecPlanFragment and
// ReportExecStatus are contractual with the worker and are not
// redefined here beyond the fields the data model in spec.md §3
// requires them to carry; this package treats the RPC transport
// itself as an external collaborator, specified only by the Transport
// interface.
package rpc

import (
	"time"

	"github.com/cloudimpl/querycoord/plan"
	"github.com/cloudimpl/querycoord/schedule"
)

// ExecPlanFragmentParams is the payload for one instance's
// ExecPlanFragment RPC (spec.md §4.4).
type ExecPlanFragmentParams struct {
	QueryID     string
	FragmentIdx int
	BackendIdx  int // monotonic global index, assigned at launch

	InstanceID string

	// The fragment plan, descriptor table, and query globals/options
	// are opaque payloads produced by the external planner/frontend;
	// this coordinator forwards them unchanged.
	FragmentPlan   []byte
	DescriptorTbl  []byte
	QueryGlobals   []byte
	QueryOptions   []byte

	ScanRanges schedule.PerNodeScanRanges

	Destinations          []schedule.Destination
	PerExchangeNumSenders map[plan.NodeID]int

	CoordinatorAddress string
}

// CancelPlanFragmentParams is the payload for CancelPlanFragment.
type CancelPlanFragmentParams struct {
	QueryID    string
	InstanceID string
}

// ReportExecStatusParams is the payload backends send to
// UpdateFragmentExecStatus (spec.md §4.5); field names mirror
// spec.md's description of the contract exactly.
type ReportExecStatusParams struct {
	QueryID    string
	InstanceID string

	StatusOK      bool
	ErrorMessage  string

	Done bool

	ProfileSnapshot map[string]int64
	NewErrorLog     []string

	// Only populated for INSERT-shaped fragments.
	PartitionRowCounts map[string]int64
	FilesToMove        []FileMove

	Taken time.Time
}

// FileMove is one (src, dest) pair produced by a distributed INSERT;
// an empty Dest means src is to be deleted (spec.md §3).
type FileMove struct {
	Src  string
	Dest string
}
