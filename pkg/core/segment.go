// pkg/core/segment.go
package core

// Segment is a road segment owned by the host editor. The engine never
// mutates segments; it only reads id, street, geometry and update time.
type Segment struct {
	ID              int64   `json:"id"`
	PrimaryStreetID int64   `json:"primaryStreetID"`
	Geometry        []Point `json:"geometry"`
	// UpdatedOn is the host's last-modified marker in epoch milliseconds.
	UpdatedOn int64 `json:"updatedOn"`
	// HasHNs is set when the segment carries house numbers.
	HasHNs bool `json:"hasHNs"`
}

// IsTemporary reports whether the segment has not been committed yet.
// Uncommitted entities carry zero or negative ids.
func (s Segment) IsTemporary() bool {
	return s.ID <= 0
}

// SegmentIDs returns the ids of the given segments in order.
func SegmentIDs(segs []Segment) []int64 {
	ids := make([]int64, len(segs))
	for i, s := range segs {
		ids[i] = s.ID
	}
	return ids
}
