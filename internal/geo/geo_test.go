package geo

import (
	"errors"
	"math"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
)

func TestParseAnchor_ValidWithElevation(t *testing.T) {
	point, elev, err := ParseAnchor("100.5,200.25,50.0")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != 100.5 {
		t.Errorf("expected X=100.5, got %f", coords.X)
	}
	if coords.Y != 200.25 {
		t.Errorf("expected Y=200.25, got %f", coords.Y)
	}
	if elev != 50.0 {
		t.Errorf("expected elevation=50.0, got %f", elev)
	}
}

func TestParseAnchor_ValidWithoutElevation(t *testing.T) {
	point, elev, err := ParseAnchor("100.5,200.25")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != 100.5 {
		t.Errorf("expected X=100.5, got %f", coords.X)
	}
	if coords.Y != 200.25 {
		t.Errorf("expected Y=200.25, got %f", coords.Y)
	}
	if elev != 0 {
		t.Errorf("expected elevation=0, got %f", elev)
	}
}

func TestParseAnchor_NegativeCoordinates(t *testing.T) {
	point, elev, err := ParseAnchor("-100.5,-200.25,-50.0")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != -100.5 {
		t.Errorf("expected X=-100.5, got %f", coords.X)
	}
	if coords.Y != -200.25 {
		t.Errorf("expected Y=-200.25, got %f", coords.Y)
	}
	if elev != -50.0 {
		t.Errorf("expected elevation=-50.0, got %f", elev)
	}
}

func TestParseAnchor_SpacesTolerated(t *testing.T) {
	point, _, err := ParseAnchor("100, 200, 3")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != 100 {
		t.Errorf("expected X=100, got %f", coords.X)
	}
	if coords.Y != 200 {
		t.Errorf("expected Y=200, got %f", coords.Y)
	}
}

func TestParseAnchor_InvalidTooFewComponents(t *testing.T) {
	_, _, err := ParseAnchor("100.5")

	if err == nil {
		t.Fatal("expected error for invalid anchor")
	}
	if !errors.Is(err, ErrInvalidAnchor) {
		t.Errorf("expected ErrInvalidAnchor, got %v", err)
	}
}

func TestParseAnchor_InvalidNonNumeric(t *testing.T) {
	_, _, err := ParseAnchor("abc,def")

	if err == nil {
		t.Fatal("expected error for invalid anchor")
	}
	if !errors.Is(err, ErrInvalidAnchor) {
		t.Errorf("expected ErrInvalidAnchor, got %v", err)
	}
}

func TestFormatAnchor_RoundTrip(t *testing.T) {
	point, _, err := ParseAnchor("12.5,-3,7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := FormatAnchor(point)
	if got != "12.5,-3,7" {
		t.Errorf("expected 12.5,-3,7, got %s", got)
	}
}

func TestFormatAnchor_EmptyPoint(t *testing.T) {
	got := FormatAnchor(geom.NewEmptyPoint(geom.DimXYZ))
	if got != "" {
		t.Errorf("expected empty string, got %s", got)
	}
}

func TestPlotLocalToWorld(t *testing.T) {
	local, _, err := ParseAnchor("10,20,5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	world := PlotLocalToWorld(geom.XY{X: 1000, Y: 2000}, local)
	coords, ok := world.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if coords.X != 1010 {
		t.Errorf("expected X=1010, got %f", coords.X)
	}
	if coords.Y != 2020 {
		t.Errorf("expected Y=2020, got %f", coords.Y)
	}
	if coords.Z != 5 {
		t.Errorf("expected Z=5, got %f", coords.Z)
	}
}

func TestWorldToLatLon_Origin(t *testing.T) {
	point, _, err := ParseAnchor("0,0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lon, lat := WorldToLatLon(point)
	if math.Abs(lon) > 1e-6 {
		t.Errorf("expected lon close to 0, got %f", lon)
	}
	if math.Abs(lat) > 1e-6 {
		t.Errorf("expected lat close to 0, got %f", lat)
	}
}

func TestWorldToLatLon_KnownPoint(t *testing.T) {
	// 111319.49 web mercator meters east is one degree of longitude.
	point, _, err := ParseAnchor("111319.49079327357,0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lon, lat := WorldToLatLon(point)
	if math.Abs(lon-1.0) > 1e-6 {
		t.Errorf("expected lon close to 1.0, got %f", lon)
	}
	if math.Abs(lat) > 1e-6 {
		t.Errorf("expected lat close to 0, got %f", lat)
	}
}

func TestDistance(t *testing.T) {
	a, _, _ := ParseAnchor("0,0")
	b, _, _ := ParseAnchor("3,4")

	if d := Distance(a, b); d != 5 {
		t.Errorf("expected distance 5, got %f", d)
	}
}

func TestDistance_EmptyPoint(t *testing.T) {
	a, _, _ := ParseAnchor("0,0")

	if d := Distance(a, geom.NewEmptyPoint(geom.DimXYZ)); !math.IsInf(d, 1) {
		t.Errorf("expected +Inf for empty point, got %f", d)
	}
}
