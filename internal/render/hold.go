package render

import "github.com/WazeDev/hn-navpoints/pkg/core"

// HoldBuffer keeps rendered sets detached from the layers while their
// annotation is being dragged, so they can be restored untouched if the
// drag ends without a change.
type HoldBuffer struct {
	r     *Reconciler
	held  map[string]core.RenderedSet
	order []string
}

func newHoldBuffer(r *Reconciler) *HoldBuffer {
	return &HoldBuffer{
		r:    r,
		held: make(map[string]core.RenderedSet),
	}
}

// Hold detaches the set drawn for featureID and keeps it. An older held
// copy is replaced. When nothing is drawn, an existing held copy stays in
// place. It reports whether featureID is held afterwards.
func (h *HoldBuffer) Hold(featureID string) bool {
	current := h.r.Current(featureID)
	if current.Empty() {
		return h.Has(featureID)
	}
	h.Discard(featureID)
	h.r.RemoveFeature(featureID)
	h.held[featureID] = current
	h.order = append(h.order, featureID)
	return true
}

// Flush re-adds every held set and empties the buffer.
func (h *HoldBuffer) Flush() int {
	return h.FlushIDs(append([]string(nil), h.order...))
}

// FlushIDs re-adds the held sets among ids.
func (h *HoldBuffer) FlushIDs(ids []string) int {
	var lines, labels []*core.Feature
	n := 0
	for _, id := range ids {
		set, ok := h.held[id]
		if !ok {
			continue
		}
		h.Discard(id)
		lines = append(lines, set.Lines...)
		if set.Label != nil {
			labels = append(labels, set.Label)
		}
		n++
	}
	if n > 0 {
		h.r.attach(lines, labels)
	}
	return n
}

// Discard forgets a held set without restoring it.
func (h *HoldBuffer) Discard(featureID string) {
	if _, ok := h.held[featureID]; !ok {
		return
	}
	delete(h.held, featureID)
	for i, id := range h.order {
		if id == featureID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *HoldBuffer) discardSegment(segmentID int64) {
	for _, id := range append([]string(nil), h.order...) {
		set := h.held[id]
		if len(set.Lines) > 0 && set.Lines[0].SegmentID == segmentID {
			h.Discard(id)
		}
	}
}

// Has reports whether featureID is held.
func (h *HoldBuffer) Has(featureID string) bool {
	_, ok := h.held[featureID]
	return ok
}

// Len returns the number of held sets.
func (h *HoldBuffer) Len() int { return len(h.held) }

// Clear drops every held set.
func (h *HoldBuffer) Clear() {
	h.held = make(map[string]core.RenderedSet)
	h.order = nil
}
