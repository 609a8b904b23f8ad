// Package geo parses anchor strings and converts between plot-local,
// world, and map coordinates.
//
// World coordinates are flat meters. For journal export they are read as
// EPSG:3857 (web mercator) meters and reprojected to EPSG:4326, so the
// exported anchors open in standard map tooling without a custom CRS.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidAnchor is returned when an anchor string cannot be parsed.
var ErrInvalidAnchor = errors.New("invalid anchor coordinates")

// ParseAnchor parses a string in the format "x,y" or "x,y,z" into a point
// and elevation.
func ParseAnchor(anchor string) (point geom.Point, elev float64, err error) {
	parts := strings.Split(anchor, ",")
	if len(parts) < 2 {
		return geom.NewEmptyPoint(geom.DimXYZ), 0, ErrInvalidAnchor
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), 0, ErrInvalidAnchor
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), 0, ErrInvalidAnchor
	}
	if len(parts) > 2 {
		elev, err = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return geom.NewEmptyPoint(geom.DimXYZ), 0, ErrInvalidAnchor
		}
	}
	point = geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    elev,
			Type: geom.CoordinatesType(geom.DimXYZ),
		},
	)
	return point, elev, nil
}

// FormatAnchor renders a point back into the "x,y,z" wire form.
func FormatAnchor(p geom.Point) string {
	coords, ok := p.Coordinates()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g", coords.X, coords.Y, coords.Z)
}

// PlotLocalToWorld offsets a plot-local point by the plot origin announced
// in the welcome message.
func PlotLocalToWorld(origin geom.XY, local geom.Point) geom.Point {
	coords, ok := local.Coordinates()
	if !ok {
		return local
	}
	coords.X += origin.X
	coords.Y += origin.Y
	return geom.NewPoint(coords)
}

// WorldToLatLon reprojects world meters to longitude and latitude.
func WorldToLatLon(p geom.Point) (lon, lat float64) {
	coords, ok := p.Coordinates()
	if !ok {
		return 0, 0
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(3857, 4326)
	lon, lat, _ = f(coords.X, coords.Y, 0)
	return lon, lat
}

// Distance returns the planar distance in meters between two points.
// Either point being empty yields +Inf, which fails any range check.
func Distance(a, b geom.Point) float64 {
	ca, okA := a.Coordinates()
	cb, okB := b.Coordinates()
	if !okA || !okB {
		return math.Inf(1)
	}
	return math.Hypot(ca.X-cb.X, ca.Y-cb.Y)
}
