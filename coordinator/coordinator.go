package coordinator

import (
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cloudimpl/querycoord/finalize"
	"github.com/cloudimpl/querycoord/localexec"
	"github.com/cloudimpl/querycoord/metrics"
	"github.com/cloudimpl/querycoord/profile"
	"github.com/cloudimpl/querycoord/qerror"
	"github.com/cloudimpl/querycoord/rpc"
	"github.com/cloudimpl/querycoord/schedule"
)

// Coordinator runs exactly one query: from Exec through Wait/GetNext
// to an optional PrepareCatalogUpdate, matching the one-query-per-
// instance lifetime of cloudimpl-ByteDB's Coordinator and of
// original_source/be/src/runtime/coordinator.h.
//
// Two locks are taken in a fixed order everywhere in this package,
// mirroring the original's wait_lock_/lock_ pair: waitLock serializes
// the single client-facing Wait/GetNext stream,
// globalLock protects every other field below. A BackendExecState's
// own mutex (backend.go) is always the innermost lock, never held
// while acquiring globalLock.
type Coordinator struct {
	queryID string
	logger  log.Logger

	oracle    schedule.LocalityOracle
	transport rpc.Transport
	executor  localexec.Executor
	metrics   *metrics.Coordinator
	profile   *profile.Aggregator
	fs        finalize.Filesystem

	coordHost     schedule.Host
	newInstanceID func() string

	waitLock   sync.Mutex
	globalLock sync.Mutex

	desc           QueryDescriptor
	execParams     []schedule.FragmentExecParams
	scanAssignment []schedule.FragmentScanRangeAssignment
	uniqueHosts    map[string]bool

	instances         map[string]*BackendExecState
	remainingBackends int

	status          qerror.Status
	cancelled       bool
	resultsReturned bool

	progress Progress

	partitionRowCounts map[string]int64
	fileMoves          []finalize.FileMove

	launched bool
	callback io.Closer

	allDoneOnce sync.Once
	allDoneCh   chan struct{}

	localOpenOnce sync.Once
	localOpenCh   chan struct{}

	finalizeOnce   sync.Once
	finalizeResult CatalogUpdate
	finalizeErr    error

	clientsMu     sync.Mutex
	workerClients map[string]rpc.WorkerClient
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger overrides the default nop logger.
func WithLogger(l log.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithMetrics attaches a prometheus-backed metric set; without this
// option metrics calls are simply skipped.
func WithMetrics(m *metrics.Coordinator) Option { return func(c *Coordinator) { c.metrics = m } }

// WithFilesystem overrides the Filesystem the Finalizer applies file
// moves with when Wait finalizes a query (finalize.OSFilesystem is the
// zero-value default).
func WithFilesystem(fs finalize.Filesystem) Option { return func(c *Coordinator) { c.fs = fs } }

// WithInstanceIDFunc overrides how fresh instance ids are minted;
// tests use this for deterministic ids.
func WithInstanceIDFunc(f func() string) Option { return func(c *Coordinator) { c.newInstanceID = f } }

// New builds a Coordinator for one query. oracle, transport, and
// executor are the three external collaborators spec.md §1 and §6
// name: locality/placement, RPC transport, and the coordinator
// fragment's own execution engine.
func New(queryID string, coordHost schedule.Host, oracle schedule.LocalityOracle, transport rpc.Transport, executor localexec.Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		queryID:       queryID,
		logger:        log.NewNopLogger(),
		oracle:        oracle,
		transport:     transport,
		executor:      executor,
		fs:            finalize.OSFilesystem{},
		coordHost:     coordHost,
		newInstanceID: func() string { return uuid.NewString() },
		instances:     make(map[string]*BackendExecState),
		uniqueHosts:   make(map[string]bool),
		workerClients: make(map[string]rpc.WorkerClient),
		allDoneCh:     make(chan struct{}),
		localOpenCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryID returns the query this Coordinator was built for.
func (c *Coordinator) QueryID() string { return c.queryID }

// UniqueHosts returns the set of distinct host addresses this query
// touches, across every fragment, including the coordinator host that
// runs fragment 0 (the unique_hosts accessor, spec.md §3).
func (c *Coordinator) UniqueHosts() []string {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	out := make([]string, 0, len(c.uniqueHosts))
	for h := range c.uniqueHosts {
		out = append(out, h)
	}
	return out
}

// Progress returns the current (completed, total) scan-range counters
// (spec.md §3).
func (c *Coordinator) Progress() Progress {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.progress
}

// QueryProfile returns the aggregated per-fragment profile built from
// every instance's latest snapshot (spec.md §4.5 step 2, §4.9).
func (c *Coordinator) QueryProfile() []profile.FragmentSummary {
	if c.profile == nil {
		return nil
	}
	summaries := make([]profile.FragmentSummary, 0, len(c.execParams))
	for _, idx := range c.profile.FragmentIndexes() {
		summaries = append(summaries, c.profile.FragmentProfile(idx))
	}
	return summaries
}

// PartitionRowCounts returns the union of per-partition row counts
// reported by every backend on a distributed INSERT (spec.md §4.8).
func (c *Coordinator) PartitionRowCounts() map[string]int64 {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	out := make(map[string]int64, len(c.partitionRowCounts))
	for k, v := range c.partitionRowCounts {
		out[k] = v
	}
	return out
}

// GetErrorLog returns every error log line accumulated across all
// instances (spec.md §4.5's "all error log lines ever reported, not
// just the latest"). Lines are grouped by instance, each instance's in
// arrival order; the order of the instances is not defined.
func (c *Coordinator) GetErrorLog() []string {
	c.globalLock.Lock()
	instances := make([]*BackendExecState, 0, len(c.instances))
	for _, inst := range c.instances {
		instances = append(instances, inst)
	}
	c.globalLock.Unlock()

	var out []string
	for _, inst := range instances {
		out = append(out, inst.ErrorLog()...)
	}
	return out
}

func (c *Coordinator) logDebug(keyvals ...interface{}) {
	level.Debug(c.logger).Log(keyvals...)
}

func (c *Coordinator) logInfo(keyvals ...interface{}) {
	level.Info(c.logger).Log(keyvals...)
}

func (c *Coordinator) logError(keyvals ...interface{}) {
	level.Error(c.logger).Log(keyvals...)
}

// workerClient returns a cached WorkerClient for address, dialing a
// fresh one on first use. One client is reused for every instance
// launched on the same host (spec.md §6: ExecPlanFragment and
// CancelPlanFragment share one connection per backend).
func (c *Coordinator) workerClient(address string) (rpc.WorkerClient, error) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	if client, ok := c.workerClients[address]; ok {
		return client, nil
	}
	client, err := c.transport.NewWorkerClient(address)
	if err != nil {
		return nil, err
	}
	c.workerClients[address] = client
	return client, nil
}

func (c *Coordinator) closeWorkerClients() {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	for _, client := range c.workerClients {
		client.Close()
	}
}

// Serve starts listening for the CoordinatorCallback RPCs backends
// send back to this coordinator (UpdateFragmentExecStatus) on
// address. Callers typically invoke this before Exec so backends can
// reach the coordinator as soon as they are launched. The returned
// closer stops the listener; Close also calls it automatically.
func (c *Coordinator) Serve(address string) (io.Closer, error) {
	closer, err := c.transport.ServeCoordinator(address, c)
	if err != nil {
		return nil, errors.Wrapf(err, "serving coordinator callback on %s", address)
	}
	c.callback = closer
	return closer, nil
}

// Close tears down this coordinator's worker client connections, the
// local executor, and, if Serve was called, its callback listener.
// Safe to call once the query has reached a terminal state.
func (c *Coordinator) Close() error {
	c.executor.Close()
	c.closeWorkerClients()
	if c.metrics != nil {
		c.metrics.QueriesInFlight.Dec()
	}
	if c.callback != nil {
		return c.callback.Close()
	}
	return nil
}

var errAlreadyLaunched = errors.New("coordinator: Exec called twice")
