// Package tile handles XYZ (slippy map) tile coordinates of the raster basemap.
package tile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// MaxZoom is the deepest zoom level accepted in tile paths.
const MaxZoom = 22

// Coords represents a tile coordinate in the Web Mercator tile system (z/x/y)
type Coords struct {
	Z uint32 // Zoom level
	X uint32 // X coordinate (column)
	Y uint32 // Y coordinate (row, from the north)
}

// NewCoords creates a new Coords from zoom, x, y values
func NewCoords(z, x, y uint32) Coords {
	return Coords{Z: z, X: x, Y: y}
}

// String returns the coordinate as "z/x/y".
func (c Coords) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Path returns the relative file path "z/x/y.ext" used by tile folders and URLs.
func (c Coords) Path(extension string) string {
	return fmt.Sprintf("%d/%d/%d.%s", c.Z, c.X, c.Y, extension)
}

// Validate reports coordinates outside the tile grid of their zoom level.
func (c Coords) Validate() error {
	if c.Z > MaxZoom {
		return fmt.Errorf("zoom %d exceeds maximum %d", c.Z, MaxZoom)
	}
	n := uint32(1) << c.Z
	if c.X >= n || c.Y >= n {
		return fmt.Errorf("tile %s outside the zoom %d grid", c, c.Z)
	}
	return nil
}

// TMSRow returns the row in TMS numbering (from the south), as stored in MBTiles.
func (c Coords) TMSRow() uint32 {
	return (uint32(1) << c.Z) - 1 - c.Y
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bounds returns the geographic bounding box for this tile in WGS84 (EPSG:4326)
func (c Coords) Bounds() types.BoundingBox {
	return types.FromBound(c.Tile().Bound())
}

// ParseCoords parses "z/x/y" with an optional file extension, e.g. "13/4297/2754.png".
func ParseCoords(s string) (Coords, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 {
		return Coords{}, fmt.Errorf("invalid tile coordinate format: %s", s)
	}
	y, _, _ := strings.Cut(parts[2], ".")
	return ParseParts(parts[0], parts[1], y)
}

// ParseParts parses and validates the separate z, x and y path segments.
func ParseParts(z, x, y string) (Coords, error) {
	var vals [3]uint32
	for i, s := range []string{z, x, y} {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return Coords{}, fmt.Errorf("invalid tile coordinate %q: %w", s, err)
		}
		vals[i] = uint32(v)
	}

	c := NewCoords(vals[0], vals[1], vals[2])
	if err := c.Validate(); err != nil {
		return Coords{}, err
	}
	return c, nil
}

// Union returns the smallest box covering all tiles.
func Union(tiles []Coords) types.BoundingBox {
	if len(tiles) == 0 {
		return types.BoundingBox{}
	}
	b := tiles[0].Tile().Bound()
	for _, t := range tiles[1:] {
		b = b.Union(t.Tile().Bound())
	}
	return types.FromBound(b)
}
