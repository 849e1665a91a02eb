package geo

import (
	"errors"

	"github.com/WazeDev/hn-navpoints/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Everything the engine renders is in EPSG:3857, the map's projection. The
// house-number endpoint answers in EPSG:4326 and is converted on arrival.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var to3857 = wgs84.EPSG().Transform(4326, 3857)

// PointFrom4326 converts a longitude/latitude pair to a map point.
func PointFrom4326(coords []float64) (core.Point, error) {
	if len(coords) < 2 {
		return core.Point{}, ErrInvalidCoordinates
	}
	lon, lat := coords[0], coords[1]
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return core.Point{}, ErrInvalidCoordinates
	}
	x, y, _ := to3857(lon, lat, 0)
	return core.Point{X: x, Y: y}, nil
}

// Coords3857From4326 creates a geometry point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	p, err := PointFrom4326([]float64{longitude, latitude})
	if err != nil {
		return geom.Point{}, err
	}
	return ToPoint(p), nil
}

// ToPoint converts a map point to a geometry point.
func ToPoint(p core.Point) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Y},
		Type: geom.DimXY,
	})
}

// Line builds a line string through the given points.
func Line(points ...core.Point) geom.LineString {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

// SegmentGeometry returns the segment's shape as a geometry. A single vertex
// yields a point; no vertices yield an empty geometry.
func SegmentGeometry(points []core.Point) geom.Geometry {
	switch len(points) {
	case 0:
		return geom.Geometry{}
	case 1:
		return ToPoint(points[0]).AsGeometry()
	default:
		return Line(points...).AsGeometry()
	}
}

// ExtentGeometry converts a view extent to a geometry.
func ExtentGeometry(e core.Extent) geom.Geometry {
	env := geom.NewEnvelope(
		geom.XY{X: e.MinX, Y: e.MinY},
		geom.XY{X: e.MaxX, Y: e.MaxY},
	)
	return env.AsGeometry()
}

// Intersects reports whether a segment polyline touches the extent.
func Intersects(e core.Extent, points []core.Point) bool {
	if len(points) == 0 {
		return false
	}
	return geom.Intersects(ExtentGeometry(e), SegmentGeometry(points))
}
