package coordinator

import (
	"sync"
	"time"

	"github.com/cloudimpl/querycoord/qerror"
	"github.com/cloudimpl/querycoord/schedule"
)

// BackendExecState tracks one fragment instance running on one
// backend host. It owns its own mutex so a status report for instance
// A never blocks a concurrent report for instance B; the coordinator's
// global_lock is only taken to fold a newly-terminal instance's status
// into the query-wide status.
//
// Grounded on BackendExecState in
// original_source/be/src/runtime/coordinator.h.
type BackendExecState struct {
	mu sync.Mutex

	FragmentIdx int
	InstanceID  string
	Host        schedule.Host

	state      instanceState
	status     qerror.Status
	errorLog   []string
	launchedAt time.Time
	lastReport time.Time
}

func newBackendExecState(fragmentIdx int, instanceID string, host schedule.Host) *BackendExecState {
	return &BackendExecState{
		FragmentIdx: fragmentIdx,
		InstanceID:  instanceID,
		Host:        host,
		state:       instanceRunning,
	}
}

func (b *BackendExecState) markLaunched() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchedAt = time.Now()
}

// Done reports whether this instance has already reached a terminal
// state. Duplicate terminal reports after this point are idempotent.
func (b *BackendExecState) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.terminal()
}

// wasLaunched reports whether an ExecPlanFragment RPC was ever
// dispatched for this instance. markLaunched runs before the RPC goes
// out, not after it returns, so a cancellation racing an in-flight
// launch still sends that instance a CancelPlanFragment instead of
// wrongly treating it as never-launched; an instance whose dial itself
// failed before markLaunched ran will never report status back, so the
// Cancellation Engine must not wait on it the way it waits on a
// launched-but-slow-to-ack instance.
func (b *BackendExecState) wasLaunched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.launchedAt.IsZero()
}

// applyReport folds one status report into this instance's state.
// Returns (becameTerminal, newlyTerminalStatus) -- becameTerminal is
// false for a duplicate terminal report or a non-terminal "still
// running" update, in which case the caller must not re-fold status
// into the query-wide state.
func (b *BackendExecState) applyReport(done bool, st qerror.Status, errorLog []string) (becameTerminal bool, terminal qerror.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastReport = time.Now()

	if b.state.terminal() {
		// Already terminal; later reports (including a redundant
		// "done" from the same backend) are ignored.
		return false, qerror.Status{}
	}

	if len(errorLog) > 0 {
		b.errorLog = append(b.errorLog, errorLog...)
	}

	if !done && st.Ok() {
		return false, qerror.Status{}
	}

	b.status = st
	if !st.Ok() {
		if st.Kind == qerror.Cancelled {
			b.state = instanceTerminalCancelled
		} else {
			b.state = instanceTerminalError
		}
	} else {
		b.state = instanceTerminalOK
	}
	return true, b.status
}

// markCancelled forces this instance terminal as a result of a
// coordinator-initiated cancellation, e.g. when cancelOne gives up
// waiting for a report once cancelRPCTimeout has expired
// (spec.md §4.7 point 4). It is a no-op if already terminal.
func (b *BackendExecState) markCancelled() (becameTerminal bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.terminal() {
		return false
	}
	b.state = instanceTerminalCancelled
	b.status = qerror.New(qerror.Cancelled, "instance %s cancelled by coordinator", b.InstanceID)
	return true
}

// ErrorLog returns a copy of the error log lines accumulated for this
// instance (spec.md §4.5's GetErrorLog union).
func (b *BackendExecState) ErrorLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.errorLog))
	copy(out, b.errorLog)
	return out
}

// Status returns a snapshot of this instance's current status.
func (b *BackendExecState) Status() qerror.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}
