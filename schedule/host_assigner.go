package schedule

import (
	"github.com/pkg/errors"

	"github.com/cloudimpl/querycoord/plan"
)

// AssignHosts computes, for every fragment, the set of hosts its
// instances will run on.
//
// fragments is indexed by fragment index exactly as the query
// descriptor carries it; exchangeSenderFragment maps an exchange node
// id to the index of the fragment that feeds it (see
// plan.FindLeftmostInputFragment). newInstanceID is called once per
// (fragment, host) pair to mint a fresh instance id.
//
// Dependency order is resolved lazily: an interior fragment's hosts
// are computed by recursing into its leftmost input fragment first,
// so the caller does not need to pre-sort fragments leaves-first.
func AssignHosts(
	fragments []*plan.Fragment,
	exchangeSenderFragment map[plan.NodeID]int,
	execAtCoord map[int]bool,
	oracle LocalityOracle,
	coordHost Host,
	newInstanceID func() string,
) ([]FragmentExecParams, map[string]bool, error) {
	params := make([]FragmentExecParams, len(fragments))
	resolved := make([]bool, len(fragments))
	uniqueHosts := make(map[string]bool)

	var resolve func(idx int) error
	resolve = func(idx int) error {
		if resolved[idx] {
			return nil
		}
		if idx < 0 || idx >= len(fragments) {
			return errors.Errorf("fragment index %d out of range", idx)
		}
		f := fragments[idx]

		var hosts []Host
		switch {
		case execAtCoord[idx]:
			hosts = []Host{coordHost}

		case plan.IsLeaf(f, exchangeSenderFragment):
			candidates, err := leafCandidateHosts(f, oracle)
			if err != nil {
				return errors.Wrapf(err, "fragment %d: collecting scan-range candidates", idx)
			}
			assigned, err := oracle.HostsForFragment(candidates)
			if err != nil {
				return errors.Wrapf(err, "fragment %d: host assignment", idx)
			}
			if len(assigned) == 0 {
				return errors.Errorf("fragment %d: locality oracle returned no hosts", idx)
			}
			hosts = assigned

		default:
			inputIdx := plan.FindLeftmostInputFragment(f, exchangeSenderFragment)
			if err := resolve(inputIdx); err != nil {
				return err
			}
			// Co-locate with the leftmost producer: one network hop
			// saved on the hot path.
			hosts = params[inputIdx].Hosts
		}

		ids := make([]string, len(hosts))
		for i := range hosts {
			ids[i] = newInstanceID()
			uniqueHosts[hosts[i].Address] = true
		}

		params[idx] = FragmentExecParams{
			FragmentIdx:           idx,
			Hosts:                 hosts,
			InstanceIDs:           ids,
			PerExchangeNumSenders: make(map[plan.NodeID]int),
			ExecAtCoord:           execAtCoord[idx],
		}
		resolved[idx] = true
		return nil
	}

	for idx := range fragments {
		if err := resolve(idx); err != nil {
			return nil, nil, err
		}
	}

	// Fill in per-exchange sender counts now that every fragment's
	// instance count is known: fragment f's exchange that receives
	// from fragment idx gets len(params[idx].Hosts) senders.
	for idx, f := range fragments {
		inputIdx := plan.FindLeftmostInputFragment(f, exchangeSenderFragment)
		if inputIdx < 0 {
			continue
		}
		exchangeNode := plan.FindLeftmostNode(f.Root, plan.NodeTypeExchange)
		params[idx].PerExchangeNumSenders[exchangeNode] = len(params[inputIdx].Hosts)

		// The producing fragment streams its output to every instance
		// of the receiving fragment's exchange.
		destinations := make([]Destination, len(params[idx].Hosts))
		for i, h := range params[idx].Hosts {
			destinations[i] = Destination{Host: h, InstanceID: params[idx].InstanceIDs[i]}
		}
		params[inputIdx].Destinations = destinations
	}

	return params, uniqueHosts, nil
}

func leafCandidateHosts(f *plan.Fragment, oracle LocalityOracle) ([]Host, error) {
	seen := make(map[string]bool)
	var out []Host
	for _, nodeID := range plan.ScanNodes(f) {
		locations, err := oracle.ScanRangeLocations(int64(nodeID))
		if err != nil {
			return nil, err
		}
		for _, loc := range locations {
			for _, h := range loc.Candidates {
				if !seen[h.Address] {
					seen[h.Address] = true
					out = append(out, h)
				}
			}
		}
	}
	return out, nil
}
