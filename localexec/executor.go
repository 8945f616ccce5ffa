// Package localexec defines the coordinator's view of the coordinator
// fragment's own execution engine: the per-fragment execution engine
// itself is out of scope here (spec.md §1), so this package only
// names the narrow interface the coordinator drives locally.
package localexec

import "context"

// RowBatch is an opaque batch of result rows; its internal shape is
// owned by the execution engine, not by the coordinator.
type RowBatch interface {
	NumRows() int
}

// Executor runs the coordinator fragment in-process. Implementations
// are supplied by the per-fragment execution engine (out of scope);
// Prepare/Open/Next mirror PlanFragmentExecutor's lifecycle in
// original_source/be/src/runtime/coordinator.h.
type Executor interface {
	// Prepare sets up the in-process executor for fragment plan,
	// descriptor table, and query globals/options (all opaque here).
	Prepare(ctx context.Context, fragmentPlan, descriptorTbl, queryGlobals, queryOptions []byte) error

	// Open starts the executor. For a pure DML pipeline (e.g.
	// distributed INSERT) this runs the entire non-producing part of
	// the plan and no rows are ever returned from Next.
	Open(ctx context.Context) error

	// Next pulls one batch. A nil batch with a nil error means the
	// executor itself has drained; spec.md §4.6 requires the caller
	// (coordinator.Coordinator.GetNext) to additionally wait for all
	// remote backends to terminate before surfacing EOS to the client.
	Next(ctx context.Context) (RowBatch, error)

	// Cancel asks the executor to stop as soon as possible; it is
	// safe to call concurrently with Next (spec.md §4.7).
	Cancel()

	// Close releases executor resources. Safe to call multiple times.
	Close()
}
