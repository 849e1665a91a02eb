package host

import "github.com/WazeDev/hn-navpoints/pkg/core"

// Pixel is a screen position relative to the map viewport.
type Pixel struct {
	X float64
	Y float64
}

// Size is a width/height pair in pixels.
type Size struct {
	W float64
	H float64
}

// Placement positions a popover relative to the viewport.
type Placement struct {
	Left  float64
	Top   float64
	Below bool
	// ArrowLeft is the arrow offset from the popover's left edge.
	ArrowLeft float64
}

// TooltipContent is what the popover shows for a label.
type TooltipContent struct {
	FeatureID string
	SegmentID int64
	Number    string
	Forced    bool
	UpdatedBy *int64
	Color     core.Color
}

// Popover is the host element used to show label tooltips.
type Popover interface {
	Size() Size
	ViewportSize() Size
	Show(content TooltipContent, p Placement)
	Hide()
}
