package coordinator

import (
	"context"
	"time"

	"github.com/cloudimpl/querycoord/finalize"
	"github.com/cloudimpl/querycoord/profile"
	"github.com/cloudimpl/querycoord/qerror"
	"github.com/cloudimpl/querycoord/rpc"
)

// UpdateFragmentExecStatus is the inbound RPC surface backends call to
// report progress or completion (spec.md §4.5, §6). It is safe to
// call concurrently for different instances and is idempotent for a
// given instance once that instance has gone terminal.
func (c *Coordinator) UpdateFragmentExecStatus(ctx context.Context, params *rpc.ReportExecStatusParams) (qerror.Status, error) {
	c.globalLock.Lock()
	inst, ok := c.instances[params.InstanceID]
	c.globalLock.Unlock()
	if !ok {
		return qerror.New(qerror.Internal, "unknown instance %s for query %s", params.InstanceID, params.QueryID), nil
	}

	if params.ProfileSnapshot != nil && c.profile != nil {
		c.profile.RecordSnapshot(inst.FragmentIdx, params.InstanceID, profile.Snapshot{
			Counters: profileSnapshotOf(params),
			Taken:    params.Taken,
		})
	}

	var reportStatus qerror.Status
	if !params.StatusOK {
		reportStatus = qerror.New(qerror.RemoteExecFailed, "%s", params.ErrorMessage).WithFailingInstance(params.InstanceID)
	}

	becameTerminal, terminalStatus := inst.applyReport(params.Done, reportStatus, params.NewErrorLog)
	if !becameTerminal {
		return qerror.Status{}, nil
	}

	if c.profile != nil {
		c.profile.RecordCompletion(inst.FragmentIdx, params.InstanceID, completionDurationOf(inst, params))
	}

	c.recordInsertSideEffects(params)
	c.advanceProgress(params)
	c.decrementRemaining()

	if !terminalStatus.Ok() {
		c.globalLock.Lock()
		resultsReturned := c.resultsReturned
		c.globalLock.Unlock()
		if resultsReturned {
			// cancel_remote_fragments already ran for this query (spec.md
			// §4.7/§9 open question (a)): a late terminal error racing it
			// does not count against an already-successful query, and is
			// only logged.
			c.logInfo("msg", "late remote error ignored after results already returned", "query_id", c.queryID, "instance_id", params.InstanceID, "error", terminalStatus.Error())
			return qerror.Status{}, nil
		}
		return qerror.Status{}, c.updateStatus(terminalStatus)
	}
	return qerror.Status{}, nil
}

// decrementRemaining lowers the outstanding-backend counter and, once
// it reaches zero, signals anyone blocked in Wait (spec.md §4.6
// termination detection).
func (c *Coordinator) decrementRemaining() {
	c.globalLock.Lock()
	c.remainingBackends--
	remaining := c.remainingBackends
	c.globalLock.Unlock()

	if c.metrics != nil {
		c.metrics.RemainingBackends.Set(float64(remaining))
	}
	if remaining <= 0 {
		c.signalAllBackendsDone()
	}
}

// advanceProgress folds a ProfileSnapshot's declared scan-range
// completion count, if any, into the query-wide progress counter.
// Workers report this as a counter named "ScanRangesComplete" in
// their snapshot; absence means the fragment has no scan nodes. It is
// called once per instance, on that instance's terminal report, so
// each instance's count is added exactly once.
func (c *Coordinator) advanceProgress(params *rpc.ReportExecStatusParams) {
	n, ok := params.ProfileSnapshot[progressCounterName]
	if !ok {
		return
	}
	c.globalLock.Lock()
	if n > 0 {
		c.progress.Completed += n
	}
	completed := c.progress.Completed
	c.globalLock.Unlock()
	if c.metrics != nil {
		c.metrics.ScanRangesComplete.Set(float64(completed))
	}
}

const progressCounterName = "ScanRangesComplete"

func profileSnapshotOf(params *rpc.ReportExecStatusParams) map[string]int64 {
	if params.ProfileSnapshot == nil {
		return nil
	}
	snap := make(map[string]int64, len(params.ProfileSnapshot))
	for k, v := range params.ProfileSnapshot {
		snap[k] = v
	}
	return snap
}

func completionDurationOf(inst *BackendExecState, params *rpc.ReportExecStatusParams) time.Duration {
	if inst == nil || params.Taken.IsZero() || inst.launchedAt.IsZero() {
		return 0
	}
	return params.Taken.Sub(inst.launchedAt)
}

// recordInsertSideEffects folds a terminal INSERT instance's reported
// partition row counts and pending file moves into the query-wide
// accumulators the Finalizer later drains (spec.md §4.8).
func (c *Coordinator) recordInsertSideEffects(params *rpc.ReportExecStatusParams) {
	if len(params.PartitionRowCounts) == 0 && len(params.FilesToMove) == 0 {
		return
	}
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	if c.partitionRowCounts == nil {
		c.partitionRowCounts = make(map[string]int64)
	}
	for partition, n := range params.PartitionRowCounts {
		c.partitionRowCounts[partition] += n
	}
	for _, m := range params.FilesToMove {
		c.fileMoves = append(c.fileMoves, finalize.FileMove{Src: m.Src, Dest: m.Dest})
	}
}

// updateStatus is the single choke point through which the query's
// terminal status may be set: the first non-OK status wins, every
// later one is discarded. It triggers cancellation of
// every other running instance exactly once.
func (c *Coordinator) updateStatus(st qerror.Status) error {
	c.globalLock.Lock()
	if st.Ok() {
		c.globalLock.Unlock()
		return nil
	}
	first := c.status.Ok()
	if first {
		c.status = st
	}
	alreadyCancelled := c.cancelled
	c.cancelled = true
	c.globalLock.Unlock()

	if first {
		c.logError("msg", "query failed", "query_id", c.queryID, "kind", st.Kind.String(), "error", st.Message)
	}

	if c.metrics != nil && first {
		c.metrics.TerminalStatus.WithLabelValues(st.Kind.String()).Inc()
	}

	if !alreadyCancelled {
		c.cancelRemoteFragments(st)
	}

	c.globalLock.Lock()
	reported := c.status
	c.globalLock.Unlock()
	return reported
}
