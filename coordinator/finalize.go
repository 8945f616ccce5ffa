package coordinator

import (
	"github.com/cloudimpl/querycoord/finalize"
	"github.com/cloudimpl/querycoord/qerror"
)

// CatalogUpdate is what PrepareCatalogUpdate hands back to the
// frontend for a distributed INSERT: the partition row counts it must
// fold into the catalog (spec.md §4.8).
type CatalogUpdate struct {
	PartitionRowCounts map[string]int64
}

// PrepareCatalogUpdate returns the partition row counts the Finalizer
// already computed. Wait is what actually runs finalization — applying
// every pending file move and unioning partition row counts — exactly
// once, after every backend is terminal and the query status is OK, for
// a query whose descriptor set NeedsFinalization (spec.md §4.8 point 1:
// finalize never runs on a failed query). This accessor exists so the
// frontend can retrieve the result without re-deriving it; calling it
// before Wait has returned for such a query is a programming error.
func (c *Coordinator) PrepareCatalogUpdate() (CatalogUpdate, error) {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.finalizeResult, c.finalizeErr
}

// runFinalize applies every pending file move reported by INSERT
// backends and unions partition row counts exactly once, called from
// Wait once every backend has reported terminal and the query status
// is OK. A failure here is folded into the query-wide status through
// updateStatus so it surfaces from Wait without requiring a separate
// PrepareCatalogUpdate call.
func (c *Coordinator) runFinalize() error {
	c.finalizeOnce.Do(func() {
		c.globalLock.Lock()
		moves := make([]finalize.FileMove, len(c.fileMoves))
		copy(moves, c.fileMoves)
		counts := make(map[string]int64, len(c.partitionRowCounts))
		for k, v := range c.partitionRowCounts {
			counts[k] = v
		}
		fs := c.fs
		if osfs, ok := fs.(finalize.OSFilesystem); ok && c.desc.FinalizeParams.Overwrite {
			osfs.Overwrite = true
			fs = osfs
		}
		c.globalLock.Unlock()

		if err := finalize.ApplyFileMoves(fs, moves); err != nil {
			st := qerror.Wrap(qerror.FinalizeFailed, err, "applying file moves")
			c.logError("msg", "finalize failed", "query_id", c.queryID, "error", st.Message)
			c.updateStatus(st)
			c.globalLock.Lock()
			c.finalizeErr = st
			c.globalLock.Unlock()
			return
		}

		c.logInfo("msg", "finalize complete", "query_id", c.queryID, "partitions", len(counts))
		c.globalLock.Lock()
		c.finalizeResult = CatalogUpdate{PartitionRowCounts: counts}
		c.globalLock.Unlock()
	})

	c.globalLock.Lock()
	defer c.globalLock.Unlock()
	return c.finalizeErr
}
