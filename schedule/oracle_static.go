package schedule

import "sort"

// StaticOracle is a reference LocalityOracle backed by a fixed table
// handed in at construction time, for tests and for standalone
// deployments that run without a real catalog/locality service
// (spec.md §4 "a reference implementation backs it with a static host
// table").
type StaticOracle struct {
	locations map[int64][]ScanRangeLocations
	allHosts  []Host
	maxFanout int
}

// NewStaticOracle builds a StaticOracle. locations maps a scan node id
// to its scan ranges and their candidate hosts; allHosts is the full
// worker pool HostsForFragment draws from when narrowing candidates;
// maxFanout caps how many hosts HostsForFragment returns for a leaf
// fragment (0 means unlimited).
func NewStaticOracle(locations map[int64][]ScanRangeLocations, allHosts []Host, maxFanout int) *StaticOracle {
	return &StaticOracle{locations: locations, allHosts: allHosts, maxFanout: maxFanout}
}

func (o *StaticOracle) ScanRangeLocations(nodeID int64) ([]ScanRangeLocations, error) {
	return o.locations[int64(nodeID)], nil
}

// HostsForFragment returns candidates deduplicated, sorted by address,
// and capped at maxFanout (keeping the lowest addresses), falling back
// to the oracle's full host pool if candidates is empty (e.g. a scan
// with no locality data at all).
func (o *StaticOracle) HostsForFragment(candidates []Host) ([]Host, error) {
	pool := candidates
	if len(pool) == 0 {
		pool = o.allHosts
	}

	seen := make(map[string]bool, len(pool))
	out := make([]Host, 0, len(pool))
	for _, h := range pool {
		if seen[h.Address] {
			continue
		}
		seen[h.Address] = true
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	if o.maxFanout > 0 && len(out) > o.maxFanout {
		out = out[:o.maxFanout]
	}
	return out, nil
}
