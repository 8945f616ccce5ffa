package coordinator

import (
	"context"

	"github.com/cloudimpl/querycoord/localexec"
	"github.com/cloudimpl/querycoord/qerror"
)

// runLocalFragment prepares and opens the root fragment's in-process
// executor. It must be called once, after Exec has launched every
// remote instance, so Open's downstream exchanges can already find
// senders registered. Wait's callers rely on localOpenCh closing the
// moment this returns, win or lose, to know the coordinator fragment
// has finished open (spec.md §4.6).
func (c *Coordinator) runLocalFragment(ctx context.Context) error {
	defer c.localOpenOnce.Do(func() { close(c.localOpenCh) })

	desc := c.desc
	if err := c.executor.Prepare(ctx, fragmentPlanBytes(desc.Fragments[0]), desc.DescriptorTbl, desc.QueryGlobals, desc.QueryOptions); err != nil {
		return c.updateStatus(qerror.Wrap(qerror.LocalExecFailed, err, "preparing root fragment"))
	}
	if err := c.executor.Open(ctx); err != nil {
		return c.updateStatus(qerror.Wrap(qerror.LocalExecFailed, err, "opening root fragment"))
	}
	return nil
}

// GetNext pulls the next row batch from the root fragment. It
// serializes on waitLock since only a single client-facing stream is
// ever allowed; concurrent callers would otherwise race on the
// underlying executor.
//
// Once the local executor reports end-of-stream, GetNext still blocks
// until every remote instance has also reached a terminal state
// before reporting EOS to the caller (a nil batch, nil error) — a
// result row is not "final" until no backend could still fail
// (spec.md §4.6).
func (c *Coordinator) GetNext(ctx context.Context) (localexec.RowBatch, error) {
	c.waitLock.Lock()
	defer c.waitLock.Unlock()

	if st := c.currentStatus(); !st.Ok() {
		return nil, st
	}

	batch, err := c.executor.Next(ctx)
	if err != nil {
		return nil, c.updateStatus(qerror.Wrap(qerror.LocalExecFailed, err, "pulling from root fragment"))
	}
	if batch != nil {
		return batch, nil
	}

	// Local executor is drained; wait for remote termination before
	// surfacing EOS.
	if err := c.waitForRemoteCompletion(ctx); err != nil {
		return nil, err
	}
	if st := c.currentStatus(); !st.Ok() {
		return nil, st
	}
	return nil, nil
}

// Wait blocks until the coordinator fragment has finished open and,
// for a query with no client-visible row stream (NeedsFinalization:
// a distributed INSERT), until every remote instance has also reached
// a terminal state (spec.md §4.6). A row-returning query instead
// relies on GetNext's own EOS-gating to wait out remote backends, so
// Wait returns as soon as rows are ready to stream — it does not
// block for the query's full remote duration.
//
// For a query that needs finalization, Wait is also where the
// Finalizer runs exactly once, after every backend is terminal and
// the query status is OK (spec.md §4.8); a finalize failure is folded
// into the status Wait returns.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.waitLock.Lock()
	defer c.waitLock.Unlock()

	if err := c.waitForLocalOpen(ctx); err != nil {
		return err
	}
	if st := c.currentStatus(); !st.Ok() {
		return st
	}

	if !c.desc.NeedsFinalization {
		return nil
	}

	if err := c.waitForRemoteCompletion(ctx); err != nil {
		return err
	}
	if st := c.currentStatus(); !st.Ok() {
		return st
	}
	return c.runFinalize()
}

func (c *Coordinator) waitForLocalOpen(ctx context.Context) error {
	select {
	case <-c.localOpenCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) waitForRemoteCompletion(ctx context.Context) error {
	c.globalLock.Lock()
	ch := c.allDoneCh
	remaining := c.remainingBackends
	c.globalLock.Unlock()

	if remaining <= 0 {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) signalAllBackendsDone() {
	c.allDoneOnce.Do(func() {
		close(c.allDoneCh)
		c.logInfo("msg", "query summary", "summary", c.Summary())
	})
}

func (c *Coordinator) currentStatus() qerror.Status {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.status
}
