// pkg/core/feature.go
package core

import (
	"strconv"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Color is a named stroke/label color.
type Color string

const (
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorWhite  Color = "white"
	ColorBlack  Color = "black"
)

// FeatureKind identifies the role of a feature inside a rendered set.
type FeatureKind string

const (
	KindHalo  FeatureKind = "halo"
	KindLine  FeatureKind = "line"
	KindLabel FeatureKind = "label"
)

// Attribute keys understood by Layer.FeaturesByAttribute.
const (
	AttrFeatureID = "featureId"
	AttrSegmentID = "segmentId"
	AttrStreetID  = "streetId"
	AttrKind      = "kind"
)

// Style carries the vector style of a feature.
type Style struct {
	StrokeWidth     int     `json:"strokeWidth"`
	StrokeColor     Color   `json:"strokeColor"`
	StrokeOpacity   float64 `json:"strokeOpacity"`
	StrokeDashstyle string  `json:"strokeDashstyle,omitempty"`
	StrokeDashArray string  `json:"strokeDashArray,omitempty"`
	FillColor       Color   `json:"fillColor,omitempty"`
	FillOpacity     float64 `json:"fillOpacity,omitempty"`
}

// Feature is one renderable primitive on a layer.
type Feature struct {
	// Handle is unique per feature instance.
	Handle string
	// FeatureID is shared by the two lines and the label of one annotation.
	FeatureID string
	SegmentID int64
	StreetID  int64
	Kind      FeatureKind
	Geometry  geom.Geometry
	Style     Style
	// The remaining fields are only set on labels.
	Number    string
	Color     Color
	Forced    bool
	UpdatedBy *int64
}

// Attribute returns the string form of a named attribute and whether the
// feature carries it.
func (f *Feature) Attribute(key string) (string, bool) {
	switch key {
	case AttrFeatureID:
		return f.FeatureID, true
	case AttrSegmentID:
		return strconv.FormatInt(f.SegmentID, 10), true
	case AttrStreetID:
		return strconv.FormatInt(f.StreetID, 10), true
	case AttrKind:
		return string(f.Kind), true
	}
	return "", false
}

// RenderedSet groups the features drawn for a single annotation.
type RenderedSet struct {
	FeatureID string
	Lines     []*Feature
	Label     *Feature
}

// Empty reports whether the set holds no features.
func (s RenderedSet) Empty() bool {
	return len(s.Lines) == 0 && s.Label == nil
}
