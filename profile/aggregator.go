// Package profile merges per-instance runtime counters into
// per-fragment averaged profiles and a query-level summary, and must
// stay safe to read while reports are still streaming in.
package profile

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is one instance's counters at a point in time. Per
// spec.md §4.5 step 2, snapshots are cumulative from the sender, so a
// later Snapshot for the same instance simply replaces the earlier
// one rather than being added to it.
type Snapshot struct {
	Counters map[string]int64
	Taken    time.Time
}

type instanceRecord struct {
	snapshot      Snapshot
	bytesAssigned int64
	completion    time.Duration
	hasCompletion bool
}

// Aggregator holds one fragment-indexed table of instance records.
// The number of fragments is fixed at construction time; an
// instance's record is created in its fragment's table the first time
// any method names that instance. Every read and write of a table,
// including creating a record, happens under that fragment's own lock.
// This mirrors spec.md §9's "write-local / read-after-synchronize"
// design: the aggregator never needs a cross-fragment lock, only one
// per fragment to protect that fragment's map.
type Aggregator struct {
	fragments []fragmentTable
}

type fragmentTable struct {
	mu        sync.Mutex
	instances map[string]*instanceRecord
}

// New creates an Aggregator for a query with numFragments fragments.
func New(numFragments int) *Aggregator {
	a := &Aggregator{fragments: make([]fragmentTable, numFragments)}
	for i := range a.fragments {
		a.fragments[i].instances = make(map[string]*instanceRecord)
	}
	return a
}

func (a *Aggregator) record(fragmentIdx int, instanceID string) *instanceRecord {
	t := &a.fragments[fragmentIdx]
	r, ok := t.instances[instanceID]
	if !ok {
		r = &instanceRecord{}
		t.instances[instanceID] = r
	}
	return r
}

// SetBytesAssigned records how many scan bytes were assigned to this
// instance; called once at launch time.
func (a *Aggregator) SetBytesAssigned(fragmentIdx int, instanceID string, bytes int64) {
	t := &a.fragments[fragmentIdx]
	t.mu.Lock()
	defer t.mu.Unlock()
	a.record(fragmentIdx, instanceID).bytesAssigned = bytes
}

// RecordSnapshot replaces the stored counters for one instance with a
// fresher cumulative snapshot. It takes the fragment table's lock, so
// concurrent calls for any instances are safe.
func (a *Aggregator) RecordSnapshot(fragmentIdx int, instanceID string, snap Snapshot) {
	t := &a.fragments[fragmentIdx]
	t.mu.Lock()
	defer t.mu.Unlock()
	a.record(fragmentIdx, instanceID).snapshot = snap
}

// RecordCompletion records the wall-clock time an instance took to
// reach a terminal state, folded into the fragment's completion-time
// summary stats.
func (a *Aggregator) RecordCompletion(fragmentIdx int, instanceID string, elapsed time.Duration) {
	t := &a.fragments[fragmentIdx]
	t.mu.Lock()
	defer t.mu.Unlock()
	r := a.record(fragmentIdx, instanceID)
	r.completion = elapsed
	r.hasCompletion = true
}

// FragmentSummary is the averaged view of one fragment's instances.
type FragmentSummary struct {
	FragmentIdx   int
	NumInstances  int
	AveragedCounters map[string]CounterSummary
	BytesAssigned SummaryStats
	CompletionTimes SummaryStats
	Rates         SummaryStats
}

// CounterSummary is the averaged/min/max/variance view of one
// identically-named counter across every instance of a fragment that
// reports it.
type CounterSummary struct {
	Stats SummaryStats
}

// FragmentProfile produces a lazily-computed snapshot of one
// fragment's averaged profile. Safe to call while reports are still
// streaming in: it only reads under the fragment's own lock.
func (a *Aggregator) FragmentProfile(fragmentIdx int) FragmentSummary {
	t := &a.fragments[fragmentIdx]
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := FragmentSummary{
		FragmentIdx:      fragmentIdx,
		NumInstances:     len(t.instances),
		AveragedCounters: make(map[string]CounterSummary),
	}

	counterAccum := make(map[string]*SummaryStats)
	for _, r := range t.instances {
		summary.BytesAssigned.Add(r.bytesAssigned)
		if r.hasCompletion {
			summary.CompletionTimes.Add(r.completion.Milliseconds())
			if r.completion > 0 {
				rate := (r.bytesAssigned * int64(time.Second)) / int64(r.completion)
				summary.Rates.Add(rate)
			}
		}
		for name, v := range r.snapshot.Counters {
			acc, ok := counterAccum[name]
			if !ok {
				acc = &SummaryStats{}
				counterAccum[name] = acc
			}
			acc.Add(v)
		}
	}
	for name, acc := range counterAccum {
		summary.AveragedCounters[name] = CounterSummary{Stats: *acc}
	}

	return summary
}

// TotalThroughput sums a named counter (e.g. a scan node's throughput
// counter) across every instance of every fragment. This is the
// ComputeTotalThroughput-equivalent carried over from
// original_source/be/src/runtime/coordinator.h (see SPEC_FULL.md §5).
func (a *Aggregator) TotalThroughput(counterName string) int64 {
	var total int64
	for i := range a.fragments {
		t := &a.fragments[i]
		t.mu.Lock()
		for _, r := range t.instances {
			total += r.snapshot.Counters[counterName]
		}
		t.mu.Unlock()
	}
	return total
}

// FragmentIndexes returns fragment indexes in ascending order, for
// deterministic iteration when building a full query profile.
func (a *Aggregator) FragmentIndexes() []int {
	out := make([]int, len(a.fragments))
	for i := range out {
		out[i] = i
	}
	sort.Ints(out)
	return out
}
