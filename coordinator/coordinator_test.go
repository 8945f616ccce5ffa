package coordinator

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudimpl/querycoord/finalize"
	"github.com/cloudimpl/querycoord/localexec"
	"github.com/cloudimpl/querycoord/plan"
	"github.com/cloudimpl/querycoord/qerror"
	"github.com/cloudimpl/querycoord/rpc"
	"github.com/cloudimpl/querycoord/schedule"
)

// --- test doubles ---

type fakeBatch struct{ n int }

func (b fakeBatch) NumRows() int { return b.n }

type fakeExecutor struct {
	mu       sync.Mutex
	opened   bool
	cancels  int32
	batches  []localexec.RowBatch
	nextErr  error
}

func (e *fakeExecutor) Prepare(ctx context.Context, _, _, _, _ []byte) error { return nil }

func (e *fakeExecutor) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = true
	return nil
}

func (e *fakeExecutor) Next(ctx context.Context) (localexec.RowBatch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextErr != nil {
		return nil, e.nextErr
	}
	if len(e.batches) == 0 {
		return nil, nil
	}
	b := e.batches[0]
	e.batches = e.batches[1:]
	return b, nil
}

func (e *fakeExecutor) Cancel() { atomic.AddInt32(&e.cancels, 1) }
func (e *fakeExecutor) Close()  {}

// fakeWorker reports a successful terminal status back to the
// coordinator from a separate goroutine (after delay, if set) when
// ExecPlanFragment is called, simulating a remote backend that finishes
// on its own. With fail set it rejects the launch and never reports.
type fakeWorker struct {
	coord    *Coordinator
	fail     bool
	failHost string
	delay    time.Duration
}

func (w *fakeWorker) ExecPlanFragment(ctx context.Context, params *rpc.ExecPlanFragmentParams) (qerror.Status, error) {
	if w.fail {
		return qerror.New(qerror.LaunchRPCFailed, "simulated launch failure"), nil
	}
	go func() {
		if w.delay > 0 {
			time.Sleep(w.delay)
		}
		w.coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
			QueryID:    params.QueryID,
			InstanceID: params.InstanceID,
			StatusOK:   true,
			Done:       true,
			ProfileSnapshot: map[string]int64{
				"ScanRangesComplete": 1,
			},
			Taken: time.Now(),
		})
	}()
	return qerror.Status{}, nil
}

func (w *fakeWorker) CancelPlanFragment(ctx context.Context, params *rpc.CancelPlanFragmentParams) (qerror.Status, error) {
	return qerror.Status{}, nil
}

// --- fixtures ---

func twoFragmentDescriptor() (QueryDescriptor, map[plan.NodeID]int) {
	scanNode := &plan.Node{ID: 1, Type: plan.NodeTypeScan}
	exchangeNode := &plan.Node{ID: 0, Type: plan.NodeTypeExchange}

	fragments := []*plan.Fragment{
		{Idx: 0, Root: exchangeNode},
		{Idx: 1, Root: scanNode},
	}
	exchangeSenderFragment := map[plan.NodeID]int{0: 1}

	desc := QueryDescriptor{
		QueryID:                "q1",
		Fragments:              fragments,
		ExchangeSenderFragment: exchangeSenderFragment,
	}
	return desc, exchangeSenderFragment
}

func staticOracleTwoHosts() *schedule.StaticOracle {
	hostA := schedule.Host{Address: "hostA:1"}
	hostB := schedule.Host{Address: "hostB:1"}
	locations := map[int64][]schedule.ScanRangeLocations{
		1: {
			{Range: schedule.ScanRange{ID: "r0", Bytes: 100}, Candidates: []schedule.Host{hostA}},
		},
	}
	return schedule.NewStaticOracle(locations, []schedule.Host{hostA, hostB}, 0)
}

// threeFragmentDescriptor builds F0 (coord) <- F1 <- F2, where F2 is a
// scan leaf and F1 co-locates with F2's hosts (scenario 1, spec.md §8).
func threeFragmentDescriptor() QueryDescriptor {
	f2Scan := &plan.Node{ID: 2, Type: plan.NodeTypeScan}
	f1Exchange := &plan.Node{ID: 1, Type: plan.NodeTypeExchange}
	f0Exchange := &plan.Node{ID: 0, Type: plan.NodeTypeExchange}

	fragments := []*plan.Fragment{
		{Idx: 0, Root: f0Exchange},
		{Idx: 1, Root: f1Exchange},
		{Idx: 2, Root: f2Scan},
	}
	exchangeSenderFragment := map[plan.NodeID]int{0: 1, 1: 2}

	return QueryDescriptor{
		QueryID:                "q3",
		Fragments:              fragments,
		ExchangeSenderFragment: exchangeSenderFragment,
	}
}

// fourHostStaticOracle scatters 12 scan ranges evenly across 4
// candidate hosts, matching scenario 1's "≈3 ranges per host".
func fourHostStaticOracle() *schedule.StaticOracle {
	hosts := []schedule.Host{{Address: "hostA:1"}, {Address: "hostB:1"}, {Address: "hostC:1"}, {Address: "hostD:1"}}
	var locations []schedule.ScanRangeLocations
	for i := 0; i < 12; i++ {
		locations = append(locations, schedule.ScanRangeLocations{
			Range:      schedule.ScanRange{ID: strconv.Itoa(i), Bytes: 10},
			Candidates: hosts,
		})
	}
	return schedule.NewStaticOracle(map[int64][]schedule.ScanRangeLocations{2: locations}, hosts, 4)
}

// allSuccessWorker reports Done with the number of scan ranges it was
// actually handed, so progress tracking in the three-fragment scenario
// reflects real per-instance assignment instead of a fixed stub value.
type allSuccessWorker struct{ coord *Coordinator }

func (w *allSuccessWorker) ExecPlanFragment(ctx context.Context, params *rpc.ExecPlanFragmentParams) (qerror.Status, error) {
	var n int64
	for _, ranges := range params.ScanRanges {
		n += int64(len(ranges))
	}
	go w.coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
		QueryID:    params.QueryID,
		InstanceID: params.InstanceID,
		StatusOK:   true,
		Done:       true,
		ProfileSnapshot: map[string]int64{
			"ScanRangesComplete": n,
		},
		Taken: time.Now(),
	})
	return qerror.Status{}, nil
}

func (w *allSuccessWorker) CancelPlanFragment(ctx context.Context, params *rpc.CancelPlanFragmentParams) (qerror.Status, error) {
	return qerror.Status{}, nil
}

func sequentialIDs(prefix string) func() string {
	var n int32
	return func() string {
		id := atomic.AddInt32(&n, 1)
		return prefix + "-" + strconv.Itoa(int(id))
	}
}

// --- tests ---

func TestExecHappyPathDrainsAndWaits(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	exec := &fakeExecutor{batches: []localexec.RowBatch{fakeBatch{n: 3}}}

	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	worker := &fakeWorker{coord: coord}
	transport.RegisterWorker("hostA:1", worker)

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	batch, err := coord.GetNext(context.Background())
	if err != nil {
		t.Fatalf("GetNext (row): %v", err)
	}
	if batch == nil || batch.NumRows() != 3 {
		t.Fatalf("expected a 3-row batch, got %#v", batch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err = coord.GetNext(ctx)
	if err != nil {
		t.Fatalf("GetNext (EOS): %v", err)
	}
	if batch != nil {
		t.Fatalf("expected EOS, got %#v", batch)
	}

	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	progress := coord.Progress()
	if progress.Completed != 1 || progress.Total != 1 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
}

func TestExecThreeFragmentsFourHostsDrainsTenBatches(t *testing.T) {
	desc := threeFragmentDescriptor()
	oracle := fourHostStaticOracle()
	transport := rpc.NewMemTransport()

	var batches []localexec.RowBatch
	for i := 0; i < 10; i++ {
		batches = append(batches, fakeBatch{n: 1})
	}
	exec := &fakeExecutor{batches: batches}

	coord := New("q3", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	for _, addr := range []string{"hostA:1", "hostB:1", "hostC:1", "hostD:1"} {
		transport.RegisterWorker(addr, &allSuccessWorker{coord: coord})
	}

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	for i := 0; i < 10; i++ {
		batch, err := coord.GetNext(context.Background())
		if err != nil {
			t.Fatalf("GetNext batch %d: %v", i, err)
		}
		if batch == nil {
			t.Fatalf("expected batch %d, got EOS early", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err := coord.GetNext(ctx)
	if err != nil {
		t.Fatalf("GetNext (EOS): %v", err)
	}
	if batch != nil {
		t.Fatalf("expected EOS after 10 batches, got %#v", batch)
	}

	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	progress := coord.Progress()
	if progress.Total != 12 {
		t.Fatalf("expected 12 total scan ranges, got %d", progress.Total)
	}

	for _, idx := range []int{1, 2} {
		summary := coord.profile.FragmentProfile(idx)
		if summary.NumInstances == 0 {
			t.Fatalf("expected a query_profile entry for fragment %d, got none", idx)
		}
	}
}

func TestLimitReachedCancelsRemoteFragmentsButKeepsStatusOK(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	// The coordinator fragment hits its row limit and reports EOS on
	// its own; the remote producer (fragment 1) is deliberately never
	// told to finish, simulating scenario 4's "remote producers still
	// running" when the limit is hit.
	exec := &fakeExecutor{batches: []localexec.RowBatch{fakeBatch{n: 1}}}

	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	worker := &silentWorker{coord: coord}
	transport.RegisterWorker("hostA:1", worker)

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	batch, err := coord.GetNext(context.Background())
	if err != nil {
		t.Fatalf("GetNext (row): %v", err)
	}
	if batch == nil {
		t.Fatal("expected one row batch before the limit is hit")
	}

	// Exec's local fragment hits its row limit: cancel_remote_fragments
	// fires without the query status becoming an error.
	coord.CancelRemoteFragments()

	if st := coord.currentStatus(); !st.Ok() {
		t.Fatalf("expected status to stay OK after limit-triggered cancellation, got %+v", st)
	}

	// A late remote error arriving after the limit-triggered cancel must
	// be logged, not surfaced: status is already frozen OK.
	var instanceID string
	for id := range coord.instances {
		instanceID = id
	}
	status, err := coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
		QueryID:      "q1",
		InstanceID:   instanceID,
		StatusOK:     false,
		ErrorMessage: "late error racing the limit",
	})
	if err != nil {
		t.Fatalf("late remote error after limit must not surface: %v", err)
	}
	if !status.Ok() {
		t.Fatalf("expected a no-op status, got %+v", status)
	}

	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st := coord.currentStatus(); !st.Ok() {
		t.Fatalf("expected final status OK, got %+v", st)
	}
}

// silentWorker accepts ExecPlanFragment but never reports status back
// on its own, simulating a remote producer still running when the
// coordinator fragment independently decides it is done (scenario 4).
// It only reports terminal once the coordinator's own cancel RPC
// reaches it, exactly as a well-behaved backend would.
type silentWorker struct {
	coord      *Coordinator
	instanceID string
}

func (w *silentWorker) ExecPlanFragment(ctx context.Context, params *rpc.ExecPlanFragmentParams) (qerror.Status, error) {
	w.instanceID = params.InstanceID
	return qerror.Status{}, nil
}

func (w *silentWorker) CancelPlanFragment(ctx context.Context, params *rpc.CancelPlanFragmentParams) (qerror.Status, error) {
	go w.coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
		QueryID:    params.QueryID,
		InstanceID: params.InstanceID,
		StatusOK:   false,
		ErrorMessage: qerror.New(qerror.Cancelled, "instance cancelled").Message,
		Done:       true,
		Taken:      time.Now(),
	})
	return qerror.Status{}, nil
}

func TestExecLaunchFailureSetsStatusAndCancelsQuery(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	exec := &fakeExecutor{}

	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	worker := &fakeWorker{coord: coord, fail: true}
	transport.RegisterWorker("hostA:1", worker)

	err := coord.Exec(context.Background(), desc)
	if err == nil {
		t.Fatal("expected Exec to fail")
	}
	st := coord.currentStatus()
	if st.Kind != qerror.LaunchRPCFailed {
		t.Fatalf("expected LAUNCH_RPC_FAILED, got %v", st.Kind)
	}
}

func TestCancelMidStreamStopsLocalExecutor(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	// delay the worker's report so the query is still "running" when
	// Cancel is called.
	exec := &fakeExecutor{batches: []localexec.RowBatch{fakeBatch{n: 1}}}

	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	worker := &fakeWorker{coord: coord, delay: 500 * time.Millisecond}
	transport.RegisterWorker("hostA:1", worker)

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	if err := coord.Cancel(); err == nil {
		t.Fatal("expected Cancel to report a non-OK status")
	}

	st := coord.currentStatus()
	if st.Kind != qerror.Cancelled {
		t.Fatalf("expected CANCELLED, got %v", st.Kind)
	}

	// A second Cancel is idempotent: the first status wins.
	_ = coord.Cancel()
	st2 := coord.currentStatus()
	if st2.Kind != qerror.Cancelled || st2.Message != st.Message {
		t.Fatalf("expected the original cancellation to stick, got %+v", st2)
	}

	if atomic.LoadInt32(&exec.cancels) == 0 {
		t.Fatal("expected Cancel to signal the local executor to stop")
	}
}

func TestDuplicateTerminalReportIsIgnored(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	exec := &fakeExecutor{}

	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	worker := &fakeWorker{coord: coord}
	transport.RegisterWorker("hostA:1", worker)

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	// GetNext drains the local executor to EOS and, because EOS also
	// gates on remote completion, deterministically blocks until the
	// remote instance has reported terminal — unlike Wait, which now
	// returns as soon as local open finishes for a row-returning query.
	if _, err := coord.GetNext(context.Background()); err != nil {
		t.Fatalf("GetNext: %v", err)
	}
	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	var instanceID string
	for id := range coord.instances {
		instanceID = id
	}

	// Replay the same terminal report with a conflicting failure; it
	// must be ignored since the instance is already terminal.
	status, err := coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
		QueryID:    "q1",
		InstanceID: instanceID,
		StatusOK:   false,
		ErrorMessage: "late duplicate failure",
	})
	if err != nil {
		t.Fatalf("duplicate report returned error: %v", err)
	}
	if !status.Ok() {
		t.Fatalf("expected duplicate report to be a no-op, got %+v", status)
	}
	if st := coord.currentStatus(); !st.Ok() {
		t.Fatalf("query status must remain OK after a late duplicate failure, got %+v", st)
	}
}

// TestWaitReturnsAfterLocalOpenWhileRemoteStillRunning checks that Wait,
// for a row-returning query (NeedsFinalization false), returns as soon
// as the coordinator fragment finishes open rather than blocking for
// the full duration of a still-running remote instance; GetNext is the
// one that waits out the remote side via its own EOS gating.
func TestWaitReturnsAfterLocalOpenWhileRemoteStillRunning(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	exec := &fakeExecutor{batches: []localexec.RowBatch{fakeBatch{n: 1}}}

	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")))
	worker := &fakeWorker{coord: coord, delay: 500 * time.Millisecond}
	transport.RegisterWorker("hostA:1", worker)

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	start := time.Now()
	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Fatalf("Wait blocked for %s, expected it to return right after local open instead of waiting for the delayed remote instance", elapsed)
	}

	// GetNext, unlike Wait, still waits out the remote instance before
	// reporting EOS.
	if _, err := coord.GetNext(context.Background()); err != nil {
		t.Fatalf("GetNext (row): %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := coord.GetNext(ctx); err != nil {
		t.Fatalf("GetNext (EOS): %v", err)
	}
}

func TestPrepareCatalogUpdateAppliesFileMovesAndUnionsCounts(t *testing.T) {
	desc, _ := twoFragmentDescriptor()
	desc.NeedsFinalization = true
	oracle := staticOracleTwoHosts()
	transport := rpc.NewMemTransport()
	exec := &fakeExecutor{}

	fs := newFakeFilesystem("staging/p1.tmp")
	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")), WithFilesystem(fs))

	worker := &insertWorker{coord: coord}
	transport.RegisterWorker("hostA:1", worker)

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	update, err := coord.PrepareCatalogUpdate()
	if err != nil {
		t.Fatalf("PrepareCatalogUpdate: %v", err)
	}
	if update.PartitionRowCounts["p1"] != 42 {
		t.Fatalf("expected partition p1 row count 42, got %+v", update.PartitionRowCounts)
	}
	if !fs.Exists("final/p1.parquet") {
		t.Fatalf("expected finalize to move staging/p1.tmp to final/p1.parquet")
	}
}

// TestWaitFinalizesMultiBackendInsertSummingPartitionCounts covers a
// distributed INSERT where two backend instances both report counts
// for the same partition key: the Finalizer must sum them and apply
// both pending file moves, and it must do so from Wait itself, before
// any explicit PrepareCatalogUpdate call (spec.md §8 scenario 5).
func TestWaitFinalizesMultiBackendInsertSummingPartitionCounts(t *testing.T) {
	scanNode := &plan.Node{ID: 1, Type: plan.NodeTypeScan}
	exchangeNode := &plan.Node{ID: 0, Type: plan.NodeTypeExchange}
	desc := QueryDescriptor{
		QueryID:                "q1",
		Fragments:              []*plan.Fragment{{Idx: 0, Root: exchangeNode}, {Idx: 1, Root: scanNode}},
		ExchangeSenderFragment: map[plan.NodeID]int{0: 1},
		NeedsFinalization:      true,
	}

	hostA := schedule.Host{Address: "hostA:1"}
	hostB := schedule.Host{Address: "hostB:1"}
	locations := map[int64][]schedule.ScanRangeLocations{
		1: {
			{Range: schedule.ScanRange{ID: "r0", Bytes: 100}, Candidates: []schedule.Host{hostA}},
			{Range: schedule.ScanRange{ID: "r1", Bytes: 100}, Candidates: []schedule.Host{hostB}},
		},
	}
	oracle := schedule.NewStaticOracle(locations, []schedule.Host{hostA, hostB}, 0)
	transport := rpc.NewMemTransport()
	exec := &fakeExecutor{}

	fs := newFakeFilesystem("staging/a.tmp", "staging/b.tmp")
	coord := New("q1", schedule.Host{Address: "coord:1"}, oracle, transport, exec, WithInstanceIDFunc(sequentialIDs("inst")), WithFilesystem(fs))

	transport.RegisterWorker("hostA:1", &instanceInsertWorker{coord: coord, partitionCount: 10, src: "staging/a.tmp", dest: "final/a.parquet"})
	transport.RegisterWorker("hostB:1", &instanceInsertWorker{coord: coord, partitionCount: 15, src: "staging/b.tmp", dest: "final/b.parquet"})

	if err := coord.Exec(context.Background(), desc); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := coord.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Finalize must have already run as part of Wait, with no explicit
	// PrepareCatalogUpdate call yet.
	if !fs.Exists("final/a.parquet") || !fs.Exists("final/b.parquet") {
		t.Fatalf("expected both file moves applied by Wait, filesystem: %+v", fs.files)
	}
	counts := coord.PartitionRowCounts()
	if counts["p1"] != 25 {
		t.Fatalf("expected summed partition count 25, got %+v", counts)
	}

	update, err := coord.PrepareCatalogUpdate()
	if err != nil {
		t.Fatalf("PrepareCatalogUpdate: %v", err)
	}
	if update.PartitionRowCounts["p1"] != 25 {
		t.Fatalf("expected PrepareCatalogUpdate to echo the already-computed sum, got %+v", update.PartitionRowCounts)
	}
}

// instanceInsertWorker simulates one INSERT backend instance reporting
// its own partition row count and file move.
type instanceInsertWorker struct {
	coord          *Coordinator
	partitionCount int64
	src, dest      string
}

func (w *instanceInsertWorker) ExecPlanFragment(ctx context.Context, params *rpc.ExecPlanFragmentParams) (qerror.Status, error) {
	go w.coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
		QueryID:            params.QueryID,
		InstanceID:         params.InstanceID,
		StatusOK:           true,
		Done:               true,
		PartitionRowCounts: map[string]int64{"p1": w.partitionCount},
		FilesToMove:        []rpc.FileMove{{Src: w.src, Dest: w.dest}},
		Taken:              time.Now(),
	})
	return qerror.Status{}, nil
}

func (w *instanceInsertWorker) CancelPlanFragment(ctx context.Context, params *rpc.CancelPlanFragmentParams) (qerror.Status, error) {
	return qerror.Status{}, nil
}

// insertWorker simulates a distributed INSERT backend reporting
// partition row counts and a pending file move on completion.
type insertWorker struct{ coord *Coordinator }

func (w *insertWorker) ExecPlanFragment(ctx context.Context, params *rpc.ExecPlanFragmentParams) (qerror.Status, error) {
	go w.coord.UpdateFragmentExecStatus(context.Background(), &rpc.ReportExecStatusParams{
		QueryID:            params.QueryID,
		InstanceID:         params.InstanceID,
		StatusOK:           true,
		Done:               true,
		PartitionRowCounts: map[string]int64{"p1": 42},
		FilesToMove:        []rpc.FileMove{{Src: "staging/p1.tmp", Dest: "final/p1.parquet"}},
		Taken:              time.Now(),
	})
	return qerror.Status{}, nil
}

func (w *insertWorker) CancelPlanFragment(ctx context.Context, params *rpc.CancelPlanFragmentParams) (qerror.Status, error) {
	return qerror.Status{}, nil
}

type fakeFilesystem struct {
	mu    sync.Mutex
	files map[string]bool
}

func newFakeFilesystem(existing ...string) *fakeFilesystem {
	fs := &fakeFilesystem{files: make(map[string]bool)}
	for _, e := range existing {
		fs.files[e] = true
	}
	return fs
}

func (fs *fakeFilesystem) Move(src, dest string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, src)
	fs.files[dest] = true
	return nil
}

func (fs *fakeFilesystem) Delete(src string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, src)
	return nil
}

func (fs *fakeFilesystem) Exists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.files[path]
}

var _ finalize.Filesystem = (*fakeFilesystem)(nil)
