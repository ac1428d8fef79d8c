package esri

import (
	"bytes"
	"encoding/json"
)

// GeometryKind is the shape of an ESRI geometry, decided once when the JSON is decoded.
type GeometryKind int

const (
	GeometryNone GeometryKind = iota
	GeometryPoint
	GeometryMultiPoint
	GeometryPath
	GeometryRing
)

func (k GeometryKind) String() string {
	switch k {
	case GeometryPoint:
		return "point"
	case GeometryMultiPoint:
		return "multipoint"
	case GeometryPath:
		return "path"
	case GeometryRing:
		return "ring"
	default:
		return "none"
	}
}

// Geometry is an ESRI JSON geometry. ESRI geometries carry no type tag; the shape is
// inferred from which fields are present, in this order: x and y, points, paths, rings.
// A geometry matching none of them, or whose coordinates cannot be read, is GeometryNone.
type Geometry struct {
	Kind   GeometryKind
	X      float64
	Y      float64
	Points [][]float64
	Paths  [][][]float64
	Rings  [][][]float64
}

// NewPoint returns a point geometry.
func NewPoint(x, y float64) *Geometry {
	return &Geometry{Kind: GeometryPoint, X: x, Y: y}
}

// NewMultiPoint returns a multipoint geometry.
func NewMultiPoint(points [][]float64) *Geometry {
	return &Geometry{Kind: GeometryMultiPoint, Points: points}
}

// NewPolyline returns a path geometry.
func NewPolyline(paths [][][]float64) *Geometry {
	return &Geometry{Kind: GeometryPath, Paths: paths}
}

// NewPolygon returns a ring geometry.
func NewPolygon(rings [][][]float64) *Geometry {
	return &Geometry{Kind: GeometryRing, Rings: rings}
}

// UnmarshalJSON classifies the geometry. It never fails: malformed input yields
// GeometryNone so a single bad feature cannot break a whole feature-set.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	*g = Geometry{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}

	switch {
	case present(fields, "x") && present(fields, "y"):
		var x, y float64
		if json.Unmarshal(fields["x"], &x) != nil || json.Unmarshal(fields["y"], &y) != nil {
			return nil
		}
		g.Kind, g.X, g.Y = GeometryPoint, x, y
	case present(fields, "points"):
		var points [][]float64
		if json.Unmarshal(fields["points"], &points) != nil || !validPositions(points) {
			return nil
		}
		g.Kind, g.Points = GeometryMultiPoint, points
	case present(fields, "paths"):
		var paths [][][]float64
		if json.Unmarshal(fields["paths"], &paths) != nil || !validParts(paths) {
			return nil
		}
		g.Kind, g.Paths = GeometryPath, paths
	case present(fields, "rings"):
		var rings [][][]float64
		if json.Unmarshal(fields["rings"], &rings) != nil || !validParts(rings) {
			return nil
		}
		g.Kind, g.Rings = GeometryRing, rings
	}

	return nil
}

// MarshalJSON writes the geometry back in ESRI form.
func (g Geometry) MarshalJSON() ([]byte, error) {
	switch g.Kind {
	case GeometryPoint:
		return json.Marshal(map[string]float64{"x": g.X, "y": g.Y})
	case GeometryMultiPoint:
		return json.Marshal(map[string]any{"points": g.Points})
	case GeometryPath:
		return json.Marshal(map[string]any{"paths": g.Paths})
	case GeometryRing:
		return json.Marshal(map[string]any{"rings": g.Rings})
	default:
		return []byte("null"), nil
	}
}

// present reports whether key exists with a non-null value.
func present(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func validPositions(positions [][]float64) bool {
	for _, p := range positions {
		if len(p) < 2 {
			return false
		}
	}
	return true
}

func validParts(parts [][][]float64) bool {
	for _, part := range parts {
		if !validPositions(part) {
			return false
		}
	}
	return true
}
