// Package host declares the collaborators the engine consumes from the
// editing application: the segment model, the viewport, feature layers, the
// mutation event bus and a few UI hooks. Nothing here is implemented by the
// engine itself.
package host

import "github.com/WazeDev/hn-navpoints/pkg/core"

// SegmentProvider gives read access to the host's segment model.
type SegmentProvider interface {
	SegmentsWhere(pred func(core.Segment) bool) []core.Segment
	SegmentByID(id int64) (core.Segment, bool)
	SegmentsByIDs(ids []int64) []core.Segment
}

// Viewport exposes the current map zoom level and visible extent.
type Viewport interface {
	Zoom() int
	Extent() core.Extent
}

// Layer is a vector feature sink on the map surface.
type Layer interface {
	Name() string
	AddFeatures(features []*core.Feature)
	RemoveFeatures(features []*core.Feature)
	FeaturesByAttribute(key, value string) []*core.Feature
	DestroyFeatures()
	SetVisibility(visible bool)
	Visible() bool
}

// MarkerLayer is an optional interface for layers that can carry labels as
// interactive markers (needed for hover tooltips).
type MarkerLayer interface {
	AddMarker(f *core.Feature)
	RemoveMarker(f *core.Feature)
}

// Raiser is an optional interface for layers that can be moved above the
// host's own layers.
type Raiser interface {
	RaiseToTop()
}

// Host bundles every collaborator handed to the engine. Markers, UI and
// Popover are optional.
type Host struct {
	Segments SegmentProvider
	Viewport Viewport
	Bus      EventBus
	Markers  MarkerSource
	UI       UIObserver
	Popover  Popover
}
