package ledger

import "sync/atomic"

// Stats is a snapshot of the reconciler's anomaly and activity counters.
// Anomalies are surfaced here and in logs, never as errors crossing
// component boundaries.
type Stats struct {
	DedupHits              int64
	Orphans                int64
	Regressions            int64
	DuplicateMismatches    int64
	BalanceInconsistencies int64
	PendingQueued          int64
}

type statsCounters struct {
	dedupHits              atomic.Int64
	orphans                atomic.Int64
	regressions            atomic.Int64
	duplicateMismatches    atomic.Int64
	balanceInconsistencies atomic.Int64
	pendingQueued          atomic.Int64
}

func (s *Reconciler) Stats() Stats {
	return Stats{
		DedupHits:              s.stats.dedupHits.Load(),
		Orphans:                s.stats.orphans.Load(),
		Regressions:            s.stats.regressions.Load(),
		DuplicateMismatches:    s.stats.duplicateMismatches.Load(),
		BalanceInconsistencies: s.stats.balanceInconsistencies.Load(),
		PendingQueued:          s.stats.pendingQueued.Load(),
	}
}
