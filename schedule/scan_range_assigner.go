package schedule

import (
	"github.com/pkg/errors"

	"github.com/cloudimpl/querycoord/plan"
)

// AssignScanRanges distributes the scan ranges of every scan node in
// f across the hosts already assigned to f (params.Hosts), honoring
// locality.
//
// The policy is deterministic given input ordering and is not
// globally optimal: it greedily balances bytes, not an NP-hard
// bin-packing optimum (spec.md §4.3). Implementations MUST preserve
// input order for reproducibility; this one does, since the
// load-tracking map is updated in a single forward pass over
// locations in the order the oracle returned them.
func AssignScanRanges(
	f *plan.Fragment,
	params FragmentExecParams,
	oracle LocalityOracle,
) (FragmentScanRangeAssignment, int64, error) {
	assignment := make(FragmentScanRangeAssignment)
	var totalRanges int64

	fragmentHosts := make(map[string]bool, len(params.Hosts))
	for _, h := range params.Hosts {
		fragmentHosts[h.Address] = true
	}

	loadByHost := make(map[string]int64, len(params.Hosts))
	for _, h := range params.Hosts {
		loadByHost[h.Address] = 0
	}

	for _, nodeID := range plan.ScanNodes(f) {
		locations, err := oracle.ScanRangeLocations(int64(nodeID))
		if err != nil {
			return nil, 0, errors.Wrapf(err, "scan node %d: locations", nodeID)
		}

		for _, loc := range locations {
			totalRanges++

			var host Host
			if params.ExecAtCoord {
				if len(params.Hosts) == 0 {
					return nil, 0, errors.Errorf("scan node %d: exec-at-coord fragment has no host", nodeID)
				}
				host = params.Hosts[0]
			} else {
				host = pickLeastLoaded(loc.Candidates, fragmentHosts, loadByHost)
			}

			perNode, ok := assignment[host.Address]
			if !ok {
				perNode = make(PerNodeScanRanges)
				assignment[host.Address] = perNode
			}
			perNode[nodeID] = append(perNode[nodeID], loc.Range)
			loadByHost[host.Address] += loc.Range.Bytes
		}
	}

	return assignment, totalRanges, nil
}

// pickLeastLoaded walks candidates in input order and returns the one
// already carrying the fewest assigned bytes, restricted to hosts
// actually assigned to this fragment when possible (ties broken by
// input order of candidates, per spec.md §4.3).
func pickLeastLoaded(candidates []Host, fragmentHosts map[string]bool, loadByHost map[string]int64) Host {
	eligible := make([]Host, 0, len(candidates))
	for _, c := range candidates {
		if fragmentHosts[c.Address] {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		// The oracle's candidate list for this range didn't overlap
		// the fragment's assigned hosts; fall back to all candidates
		// rather than dropping the range.
		eligible = candidates
	}

	best := eligible[0]
	bestLoad := loadByHost[best.Address]
	for _, c := range eligible[1:] {
		if loadByHost[c.Address] < bestLoad {
			best = c
			bestLoad = loadByHost[c.Address]
		}
	}
	return best
}
