package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cloudimpl/querycoord/plan"
	"github.com/cloudimpl/querycoord/profile"
	"github.com/cloudimpl/querycoord/qerror"
	"github.com/cloudimpl/querycoord/rpc"
	"github.com/cloudimpl/querycoord/schedule"
)

// Exec validates desc, computes host and scan-range assignment, then
// launches every non-root fragment's instances in parallel. Fragment 0
// is the root fragment and always runs in-process via the local
// executor driver; it is never dispatched over RPC, mirroring
// original_source/be/src/runtime/coordinator.h's executor_.
//
// Exec returns once every launch RPC has completed (or the first
// failure has triggered cancellation of the rest); it does not wait
// for fragments to finish running. Callers then drive rows with
// GetNext and/or block on Wait.
func (c *Coordinator) Exec(ctx context.Context, desc QueryDescriptor) error {
	c.globalLock.Lock()
	if c.launched {
		c.globalLock.Unlock()
		return errAlreadyLaunched
	}
	c.launched = true
	c.desc = desc
	c.globalLock.Unlock()

	if c.metrics != nil {
		c.metrics.QueriesInFlight.Inc()
	}
	c.logInfo("msg", "query starting", "query_id", c.queryID, "num_fragments", len(desc.Fragments))

	if err := validateDescriptor(desc); err != nil {
		return c.updateStatus(qerror.Wrap(qerror.PlanInvalid, err, "validating query descriptor"))
	}

	execAtCoord := make(map[int]bool, len(desc.ExecAtCoord)+1)
	for idx, v := range desc.ExecAtCoord {
		execAtCoord[idx] = v
	}
	execAtCoord[0] = true

	execParams, uniqueHosts, err := schedule.AssignHosts(desc.Fragments, desc.ExchangeSenderFragment, execAtCoord, c.oracle, c.coordHost, c.newInstanceID)
	if err != nil {
		return c.updateStatus(qerror.Wrap(qerror.HostAssignmentFailed, err, "assigning fragment hosts"))
	}

	scanAssignment := make([]schedule.FragmentScanRangeAssignment, len(desc.Fragments))
	var totalRanges int64
	for idx, f := range desc.Fragments {
		assignment, n, err := schedule.AssignScanRanges(f, execParams[idx], c.oracle)
		if err != nil {
			return c.updateStatus(qerror.Wrap(qerror.HostAssignmentFailed, err, "assigning scan ranges"))
		}
		scanAssignment[idx] = assignment
		totalRanges += n
	}

	c.globalLock.Lock()
	c.execParams = execParams
	c.scanAssignment = scanAssignment
	c.uniqueHosts = uniqueHosts
	c.progress.Total = totalRanges
	c.profile = profile.New(len(desc.Fragments))
	c.globalLock.Unlock()

	if c.metrics != nil {
		c.metrics.ScanRangesTotal.Set(float64(totalRanges))
	}

	if err := c.launchRemoteFragments(ctx); err != nil {
		return err
	}
	return c.runLocalFragment(ctx)
}

// validateDescriptor checks the invariants Exec relies on before
// touching scheduling: a non-empty fragment list and a well-formed
// fragment index sequence.
func validateDescriptor(desc QueryDescriptor) error {
	if len(desc.Fragments) == 0 {
		return errors.New("query descriptor has no fragments")
	}
	for idx, f := range desc.Fragments {
		if f == nil || f.Root == nil {
			return errors.Errorf("fragment %d has no plan root", idx)
		}
		if f.Idx != idx {
			return errors.Errorf("fragment %d: Idx field %d does not match position", idx, f.Idx)
		}
	}
	return nil
}

// launchRemoteFragments dispatches ExecPlanFragment to every instance
// of every fragment except fragment 0, in parallel, bailing out and
// cancelling already-launched instances on the first failure (spec.md
// §4.4: launch is all-or-nothing).
func (c *Coordinator) launchRemoteFragments(ctx context.Context) error {
	c.globalLock.Lock()
	var tasks []launchTask
	backendIdx := 0
	for fragIdx := 1; fragIdx < len(c.execParams); fragIdx++ {
		fp := c.execParams[fragIdx]
		for i, host := range fp.Hosts {
			instanceID := fp.InstanceIDs[i]
			state := newBackendExecState(fragIdx, instanceID, host)
			c.instances[instanceID] = state
			c.remainingBackends++
			tasks = append(tasks, launchTask{
				backendIdx:  backendIdx,
				fragmentIdx: fragIdx,
				instanceID:  instanceID,
				host:        host,
				state:       state,
			})
			backendIdx++
		}
	}
	if c.metrics != nil {
		c.metrics.RemainingBackends.Set(float64(c.remainingBackends))
	}
	c.globalLock.Unlock()

	if len(tasks) == 0 {
		return nil
	}

	c.logInfo("msg", "launching fragment instances", "query_id", c.queryID, "count", len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			return c.launchOne(gctx, t)
		})
	}

	if err := g.Wait(); err != nil {
		c.cancelInternal(qerror.Wrap(qerror.LaunchRPCFailed, err, "launching fragment instances"))
		return err
	}
	return nil
}

type launchTask struct {
	backendIdx  int
	fragmentIdx int
	instanceID  string
	host        schedule.Host
	state       *BackendExecState
}

func (c *Coordinator) launchOne(ctx context.Context, t launchTask) error {
	client, err := c.workerClient(t.host.Address)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", t.host.Address)
	}

	fp := c.execParams[t.fragmentIdx]
	params := &rpc.ExecPlanFragmentParams{
		QueryID:               c.queryID,
		FragmentIdx:           t.fragmentIdx,
		BackendIdx:            t.backendIdx,
		InstanceID:            t.instanceID,
		FragmentPlan:          fragmentPlanBytes(c.desc.Fragments[t.fragmentIdx]),
		DescriptorTbl:         c.desc.DescriptorTbl,
		QueryGlobals:          c.desc.QueryGlobals,
		QueryOptions:          c.desc.QueryOptions,
		ScanRanges:            scanRangesFor(c.scanAssignment[t.fragmentIdx], t.host.Address),
		Destinations:          fp.Destinations,
		PerExchangeNumSenders: fp.PerExchangeNumSenders,
		CoordinatorAddress:    c.coordHost.Address,
	}

	if c.profile != nil {
		c.profile.SetBytesAssigned(t.fragmentIdx, t.instanceID, sumScanRangeBytes(params.ScanRanges))
	}

	// Mark the instance launched before the RPC goes out, not after it
	// returns: cancelOne's wasLaunched check must already see this
	// instance as dispatched so a cancellation racing this in-flight
	// RPC still sends CancelPlanFragment instead of silently skipping
	// it (spec.md §4.4).
	t.state.markLaunched()

	start := time.Now()
	status, err := client.ExecPlanFragment(ctx, params)
	if c.metrics != nil {
		c.metrics.LaunchLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logError("msg", "launch RPC failed", "query_id", c.queryID, "instance_id", t.instanceID, "host", t.host.Address, "error", err)
		return errors.Wrapf(err, "ExecPlanFragment to %s for instance %s", t.host.Address, t.instanceID)
	}
	if !status.Ok() {
		c.logError("msg", "launch rejected by backend", "query_id", c.queryID, "instance_id", t.instanceID, "host", t.host.Address, "error", status.Error())
		return errors.New(status.WithFailingHost(t.host.Address).Error())
	}
	c.logDebug("msg", "fragment instance launched", "query_id", c.queryID, "instance_id", t.instanceID, "host", t.host.Address)
	return nil
}

// scanRangesFor extracts the scan-range assignment belonging to one
// host out of a fragment's full assignment; a host with nothing
// assigned (e.g. a fragment with fewer scan ranges than instances)
// gets an empty map, which is a valid, empty-work ExecPlanFragment.
func scanRangesFor(assignment schedule.FragmentScanRangeAssignment, host string) schedule.PerNodeScanRanges {
	if per, ok := assignment[host]; ok {
		return per
	}
	return schedule.PerNodeScanRanges{}
}

// sumScanRangeBytes totals the bytes assigned to one instance across
// every scan node, for the Profile Aggregator's bytes_assigned stat.
func sumScanRangeBytes(ranges schedule.PerNodeScanRanges) int64 {
	var total int64
	for _, rs := range ranges {
		for _, r := range rs {
			total += r.Bytes
		}
	}
	return total
}

// fragmentPlanBytes is a placeholder serialization hook: the plan
// tree itself is opaque per spec.md §6. plan.Fragment carries no
// serialized form and QueryDescriptor has no field for one, so it
// always returns nil and fragment plans launch with no plan bytes
// attached.
func fragmentPlanBytes(f *plan.Fragment) []byte { return nil }
