package engine

import "github.com/depthsync/depthsync/internal/book"

// SnapshotScheduler is the counting policy that bounds client drift: after
// a configured number of applied diffs on a symbol, the next reconciliation
// cycle emits a full snapshot instead of an incremental diff. Driven purely
// by diff-application count, never wall-clock time.
type SnapshotScheduler struct {
	threshold int
}

// NewSnapshotScheduler creates a scheduler with the given diff threshold.
// A threshold of K yields exactly K diffbooks records between anchors; a
// non-positive threshold disables forced resyncs.
func NewSnapshotScheduler(threshold int) *SnapshotScheduler {
	return &SnapshotScheduler{threshold: threshold}
}

// ShouldForce reports whether the current cycle must emit a snapshot.
func (s *SnapshotScheduler) ShouldForce(set *book.Settings) bool {
	return s.threshold > 0 && set.PendingSnapshots > s.threshold
}

// Reset clears the pending counter after a snapshot emission.
func (s *SnapshotScheduler) Reset(set *book.Settings) {
	set.PendingSnapshots = 0
}
