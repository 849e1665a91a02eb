package host

import "github.com/WazeDev/hn-navpoints/pkg/core"

// Signal names a mutation published on the host event bus.
type Signal string

const (
	SignalSegmentsAdded       Signal = "segmentsAdded"
	SignalSegmentsRemoved     Signal = "segmentsRemoved"
	SignalAnnotationAdded     Signal = "annotationAdded"
	SignalAnnotationChanged   Signal = "annotationChanged"
	SignalAnnotationDeleted   Signal = "annotationDeleted"
	SignalAnnotationIDChanged Signal = "annotationIdChanged"
	SignalAfterAction         Signal = "afterAction"
	SignalAfterUndoAction     Signal = "afterUndoAction"
	SignalAfterClearActions   Signal = "afterClearActions"
	SignalZoomChanged         Signal = "zoomChanged"
	SignalViewportMoved       Signal = "viewportMoved"
	SignalEditModeChanged     Signal = "editModeChanged"
	SignalSaveCommitted       Signal = "saveCommitted"
	SignalReloadRequested     Signal = "reloadRequested"
)

// Signals lists every signal the engine subscribes to while enabled.
var Signals = []Signal{
	SignalSegmentsAdded,
	SignalSegmentsRemoved,
	SignalAnnotationAdded,
	SignalAnnotationChanged,
	SignalAnnotationDeleted,
	SignalAnnotationIDChanged,
	SignalAfterAction,
	SignalAfterUndoAction,
	SignalAfterClearActions,
	SignalZoomChanged,
	SignalViewportMoved,
	SignalEditModeChanged,
	SignalSaveCommitted,
	SignalReloadRequested,
}

// EventBus lets the engine subscribe to host signals. The returned function
// removes the subscription.
//
// Payloads per signal:
//
//	segmentsAdded, segmentsRemoved     []core.Segment
//	annotationAdded, annotationDeleted core.AnnotationRecord
//	annotationChanged                  AnnotationChange
//	annotationIdChanged                AnnotationIDChange
//	afterAction, afterUndoAction       Action
//	zoomChanged                        int
//	editModeChanged                    bool
//	others                             nil
type EventBus interface {
	On(signal Signal, fn func(payload any)) (unsubscribe func())
}

// AnnotationChange describes an in-place edit of a house number.
type AnnotationChange struct {
	Record   core.AnnotationRecord
	Previous *core.AnnotationRecord
}

// AnnotationIDChange is published when a temporary id is replaced by the
// permanent one assigned on save.
type AnnotationIDChange struct {
	OldID  string
	Record core.AnnotationRecord
}

// Action is an entry of the host's undo stack. Before is the state prior to
// the forward action, After the state following it; either may be nil.
type Action struct {
	Description string
	Before      *core.AnnotationRecord
	After       *core.AnnotationRecord
}

// MarkerEventType classifies a house-number marker interaction.
type MarkerEventType string

const (
	MarkerDragStart MarkerEventType = "dragStart"
	MarkerDragEnd   MarkerEventType = "dragEnd"
	MarkerDelete    MarkerEventType = "delete"
)

// MarkerEvent is raised by the host's house-number markers in edit mode.
type MarkerEvent struct {
	Type   MarkerEventType
	Record core.AnnotationRecord
	// Changed is set on dragEnd when the drop altered the model.
	Changed bool
}

// MarkerSource exposes the per-marker drag/delete interactions available
// while the host is editing house numbers.
type MarkerSource interface {
	MarkersAttached() bool
	OnMarkerEvent(fn func(MarkerEvent)) (unsubscribe func())
}

// UIObserver reports host UI state that has no event of its own.
type UIObserver interface {
	OnActiveFieldChanged(fn func(active bool)) (unsubscribe func())
	OnSaveStateChanged(fn func(pending bool)) (unsubscribe func())
}
