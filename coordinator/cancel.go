package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloudimpl/querycoord/qerror"
	"github.com/cloudimpl/querycoord/rpc"
)

// cancelRPCTimeout bounds how long cancelRemoteFragments waits for a
// single backend's CancelPlanFragment RPC (including retries) before
// giving up on that backend and marking it terminal locally, per
// spec.md §4.7 point 4.
const cancelRPCTimeout = 10 * time.Second

// Cancel is the client-initiated cancellation entry point (spec.md
// §4.7, scenario: client cancel mid-stream). It is idempotent: a
// second call after the query already has a terminal status is a
// no-op.
func (c *Coordinator) Cancel() error {
	return c.updateStatus(qerror.New(qerror.Cancelled, "query %s cancelled by client", c.queryID))
}

// cancelInternal is cancelRemoteFragments's entry point for a launch
// RPC failure discovered internally rather than by client request
// (local executor and finalizer failures call updateStatus
// directly); it funnels through the same
// updateStatus choke point as Cancel and UpdateFragmentExecStatus so
// only the first failure is ever recorded.
func (c *Coordinator) cancelInternal(st qerror.Status) {
	c.updateStatus(st)
}

// CancelRemoteFragments proactively cancels every non-terminal remote
// instance without marking the query's status an error, unlike Cancel.
// The canonical caller is a LIMIT clause satisfied by the coordinator
// fragment before remote producers finish generating rows no longer
// needed (spec.md §8 scenario 4; §9 open question (a) — the query
// stays OK and a late remote error racing this cancellation is logged,
// not surfaced, since any further report for an already-terminal
// instance is a no-op).
func (c *Coordinator) CancelRemoteFragments() {
	c.globalLock.Lock()
	c.resultsReturned = true
	c.globalLock.Unlock()
	c.cancelRemoteFragments(qerror.Status{})
}

// cancelRemoteFragments sends CancelPlanFragment to every instance
// that has not yet reached a terminal state. RPCs fan out in parallel
// and are best-effort: a failure to
// reach a backend does not change the query's status (spec.md §4.7
// point 3), but a backend that does not report terminal within
// cancelRPCTimeout, whether or not it acknowledged the cancel, is
// marked terminal locally so Wait/GetNext are not stuck waiting on it
// forever (point 4).
func (c *Coordinator) cancelRemoteFragments(st qerror.Status) {
	c.globalLock.Lock()
	targets := make([]*BackendExecState, 0, len(c.instances))
	for _, inst := range c.instances {
		if !inst.Done() {
			targets = append(targets, inst)
		}
	}
	c.globalLock.Unlock()

	if !st.Ok() {
		// A real cancellation (client Cancel, a failed update_status
		// transition, a local executor or finalizer failure) also stops
		// the coordinator fragment's own executor, even when no remote
		// instance is left to cancel; the limit-reached
		// cancel_remote_fragments entry point does not, since the local
		// executor already decided on its own there was nothing left to
		// produce (spec.md §4.7).
		c.executor.Cancel()
	}
	if len(targets) == 0 {
		return
	}
	reason := "client or internal cancellation"
	if st.Ok() {
		reason = "local completion made remaining remote output unnecessary"
	}
	c.logInfo("msg", "cancelling remote fragments", "query_id", c.queryID, "reason", reason, "count", len(targets))

	var wg sync.WaitGroup
	for _, inst := range targets {
		inst := inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.cancelOne(inst)
		}()
	}
	wg.Wait()
}

func (c *Coordinator) cancelOne(inst *BackendExecState) {
	// An instance whose ExecPlanFragment RPC was never dispatched (dialing
	// its host failed before markLaunched ran) has no backend to send a
	// cancel to and will never call back; give up on it immediately
	// instead of waiting out the full timeout. An instance whose RPC was
	// sent but failed counts as launched and takes the path below.
	if !inst.wasLaunched() {
		if inst.markCancelled() {
			c.decrementRemaining()
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelRPCTimeout)
	defer cancel()

	client, err := c.workerClient(inst.Host.Address)
	if err == nil {
		boff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		_ = backoff.Retry(func() error {
			if c.metrics != nil {
				c.metrics.CancelRPCsSent.Inc()
			}
			_, rpcErr := client.CancelPlanFragment(ctx, &rpc.CancelPlanFragmentParams{
				QueryID:    c.queryID,
				InstanceID: inst.InstanceID,
			})
			if rpcErr != nil && c.metrics != nil {
				c.metrics.CancelRPCFailures.Inc()
			}
			return rpcErr
		}, boff)
	}

	// Whether or not the RPC succeeded, give the backend until ctx's
	// deadline to report its own terminal status; if it hasn't by
	// then, cancelRPCTimeout has expired and this coordinator gives up
	// on it.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if inst.Done() {
			return
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			if inst.markCancelled() {
				c.decrementRemaining()
			}
			return
		}
	}
}
