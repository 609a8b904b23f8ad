package geo

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ParseBoundary parses a JSON array of coordinates into a geom.LineString.
// Input format: "[[x1,y1],[x2,y2],...]". The welcome message uses this form
// for the plot boundary.
func ParseBoundary(input string) (geom.LineString, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return geom.LineString{}, fmt.Errorf("failed to parse boundary JSON: %w", err)
	}

	if len(coords) < 2 {
		return geom.LineString{}, fmt.Errorf("boundary must have at least 2 points, got %d", len(coords))
	}

	flatCoords := make([]float64, 0, len(coords)*2)
	for i, coord := range coords {
		if len(coord) < 2 {
			return geom.LineString{}, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		flatCoords = append(flatCoords, coord[0], coord[1])
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// FormatBoundary renders a boundary back into the "[[x1,y1],...]" wire
// form. An empty linestring renders as "[]".
func FormatBoundary(ls geom.LineString) string {
	seq := ls.Coordinates()
	coords := make([][]float64, 0, seq.Length())
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		coords = append(coords, []float64{xy.X, xy.Y})
	}
	out, err := json.Marshal(coords)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// BoundaryToLatLon reprojects a world-meters boundary to longitude and
// latitude so it can be drawn on standard map tooling.
func BoundaryToLatLon(ls geom.LineString) geom.LineString {
	seq := ls.Coordinates()
	flatCoords := make([]float64, 0, seq.Length()*2)
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		lon, lat := WorldToLatLon(geom.NewPoint(geom.Coordinates{XY: xy, Type: geom.DimXY}))
		flatCoords = append(flatCoords, lon, lat)
	}
	return geom.NewLineString(geom.NewSequence(flatCoords, geom.DimXY))
}
