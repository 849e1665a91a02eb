// pkg/core/types.go
package core

// Point is a planar position in EPSG:3857 (web mercator) map units.
type Point struct {
	X float64 `json:"x"` // easting
	Y float64 `json:"y"` // northing
}

// Extent is an axis-aligned bounding box in map units.
type Extent struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Empty reports whether the extent has no area.
func (e Extent) Empty() bool {
	return e.MaxX <= e.MinX || e.MaxY <= e.MinY
}
