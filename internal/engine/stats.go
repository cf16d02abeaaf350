package engine

import "time"

// RunStats aggregates what one engine run did, for the summary box the
// CLI prints after syncing.
type RunStats struct {
	Duration      time.Duration
	ABookRequests int64
	CRMRequests   int64
	CRMCreated    int
	CRMUpdated    int
	CRMDeleted    int
	ABookCreated  int
}

// Stats snapshots both connectors' counters. Duration runs from engine
// construction, covering every operation of the invocation.
func (e *Engine) Stats() RunStats {
	ab := e.abook.Stats()
	cr := e.crm.Stats()
	return RunStats{
		Duration:      time.Since(e.start),
		ABookRequests: ab.Requests,
		CRMRequests:   cr.Requests,
		CRMCreated:    cr.Created,
		CRMUpdated:    cr.Updated,
		CRMDeleted:    cr.Deleted,
		ABookCreated:  ab.Created,
	}
}
