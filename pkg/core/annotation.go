// pkg/core/annotation.go
package core

// AnnotationRecord is a house number attached to a segment. Records are
// immutable once received.
type AnnotationRecord struct {
	ID        string `json:"id"`
	SegmentID int64  `json:"segID"`
	Number    string `json:"number"`
	Forced    bool   `json:"forced"`
	// UpdatedBy is the last editor's user id, nil when never touched by an editor.
	UpdatedBy *int64 `json:"updatedBy,omitempty"`
	// FractionPoint is the navigation point on the segment.
	FractionPoint Point `json:"fractionPoint"`
	// LabelPoint is where the house number itself sits.
	LabelPoint Point `json:"labelPoint"`
}

// HasEditor reports whether the record was last touched by an editor.
func (r AnnotationRecord) HasEditor() bool {
	return r.UpdatedBy != nil
}

// WithNumber returns a copy of the record carrying a different number.
func (r AnnotationRecord) WithNumber(number string) AnnotationRecord {
	r.Number = number
	return r
}
