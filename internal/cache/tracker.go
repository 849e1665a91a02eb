package cache

import (
	"sync"

	"github.com/WazeDev/hn-navpoints/pkg/core"
)

// SegmentTracker remembers which segments have been fetched and rendered and
// at which source update time, so unchanged segments are not fetched again.
// A stored update time never moves backward.
type SegmentTracker struct {
	mu      sync.Mutex
	entries map[int64]int64
}

func NewSegmentTracker() *SegmentTracker {
	return &SegmentTracker{
		entries: make(map[int64]int64),
	}
}

// ShouldProcess reports whether seg needs fetching: it has never been
// processed, or it changed since, or processAll forces it. It never
// modifies the stored entry.
func (t *SegmentTracker) ShouldProcess(seg core.Segment, processAll bool) bool {
	if processAll {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.entries[seg.ID]
	if !ok {
		return true
	}
	return seg.UpdatedOn > seen
}

// MarkProcessed inserts the entry or advances it to seg.UpdatedOn.
func (t *SegmentTracker) MarkProcessed(seg core.Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seen, ok := t.entries[seg.ID]; ok && seen >= seg.UpdatedOn {
		return
	}
	t.entries[seg.ID] = seg.UpdatedOn
}

func (t *SegmentTracker) Forget(segmentID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, segmentID)
}

func (t *SegmentTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[int64]int64)
}

// LastSeen returns the stored update time for a segment.
func (t *SegmentTracker) LastSeen(segmentID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.entries[segmentID]
	return seen, ok
}

func (t *SegmentTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
