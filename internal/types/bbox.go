// Package types holds the value types shared across the overlay pipeline.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// BoundingBox represents a geographic bounding box in WGS84 (EPSG:4326)
type BoundingBox struct {
	MinLon float64 // Western edge (degrees)
	MinLat float64 // Southern edge (degrees)
	MaxLon float64 // Eastern edge (degrees)
	MaxLat float64 // Northern edge (degrees)
}

// NewBoundingBox builds a box from the [west, south, east, north] ordering used by
// map viewports and ESRI envelopes.
func NewBoundingBox(bbox [4]float64) BoundingBox {
	return BoundingBox{MinLon: bbox[0], MinLat: bbox[1], MaxLon: bbox[2], MaxLat: bbox[3]}
}

// FromBound converts an orb bound (min = south-west, max = north-east).
func FromBound(b orb.Bound) BoundingBox {
	return BoundingBox{MinLon: b.Min.Lon(), MinLat: b.Min.Lat(), MaxLon: b.Max.Lon(), MaxLat: b.Max.Lat()}
}

// ParseBoundingBox parses "west,south,east,north".
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}

	var vals [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("invalid bbox value %q: %w", part, err)
		}
		vals[i] = v
	}

	b := NewBoundingBox(vals)
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate reports boxes whose edges are inverted or outside WGS84 ranges.
func (b BoundingBox) Validate() error {
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return fmt.Errorf("inverted bbox %s", b)
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("bbox %s outside WGS84 range", b)
	}
	return nil
}

// Array returns the box as [west, south, east, north].
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// Bound returns the orb equivalent of the box.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// Envelope formats the box as an ESRI envelope parameter: "xmin,ymin,xmax,ymax".
func (b BoundingBox) Envelope() string {
	vals := b.Array()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// Viewport is the visible map extent after the user stopped moving the map.
type Viewport struct {
	Bounds BoundingBox
	Zoom   float64
}
