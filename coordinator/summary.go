package coordinator

import (
	"fmt"
	"sort"
	"strings"
)

// Summary is a human-readable execution summary: hosts used, bytes
// scanned per host, and the completion-time spread across fragment
// instances. It is meant for logging once a query reaches a terminal
// state, not for the client RPC surface, grounded on
// PrintBackendInfo/ReportQuerySummary in
// original_source/be/src/runtime/coordinator.h.
func (c *Coordinator) Summary() string {
	c.globalLock.Lock()
	status := c.status
	hosts := make([]string, 0, len(c.uniqueHosts))
	for h := range c.uniqueHosts {
		hosts = append(hosts, h)
	}
	bytesByHost := make(map[string]int64, len(hosts))
	for _, params := range c.execParams {
		for i, host := range params.Hosts {
			if i < len(params.InstanceIDs) {
				bytesByHost[host.Address] += c.bytesForInstanceLocked(params.FragmentIdx, params.InstanceIDs[i])
			}
		}
	}
	c.globalLock.Unlock()
	sort.Strings(hosts)

	var b strings.Builder
	fmt.Fprintf(&b, "query %s: status=%s hosts=%d\n", c.queryID, status.Error(), len(hosts))
	for _, h := range hosts {
		fmt.Fprintf(&b, "  %s: %d bytes scanned\n", h, bytesByHost[h])
	}

	for _, profileSummary := range c.QueryProfile() {
		fmt.Fprintf(&b, "  fragment %d: %d instances, completion(ms) min=%d max=%d avg=%.1f\n",
			profileSummary.FragmentIdx, profileSummary.NumInstances,
			profileSummary.CompletionTimes.Min(), profileSummary.CompletionTimes.Max(), profileSummary.CompletionTimes.Mean())
	}
	return b.String()
}

// bytesForInstanceLocked reads one instance's assigned scan bytes out
// of the profile aggregator. Callers must hold globalLock.
func (c *Coordinator) bytesForInstanceLocked(fragmentIdx int, instanceID string) int64 {
	if c.profile == nil {
		return 0
	}
	summary := c.profile.FragmentProfile(fragmentIdx)
	if summary.NumInstances == 0 {
		return 0
	}
	// FragmentProfile aggregates across all instances of the fragment;
	// bytes-per-host is an approximation that splits the fragment total
	// evenly since the aggregator does not expose a per-instance
	// breakout (spec.md §9 keeps the aggregator write-local/fragment-
	// keyed, not instance-keyed, on read).
	return summary.BytesAssigned.Sum() / int64(summary.NumInstances)
}
