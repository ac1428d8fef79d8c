// Package mbtiles stores the raster basemap as an MBTiles SQLite database.
package mbtiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// ErrTileNotFound is returned when the database has no tile at the requested coordinates.
var ErrTileNotFound = errors.New("tile not found")

// Metadata contains MBTiles metadata fields.
type Metadata struct {
	Name        string // Human-readable tileset identifier
	Format      string // Tile data type (png, jpg, webp)
	Attribution string
	Description string
	Type        string // "baselayer" or "overlay"
	Version     string
	Bounds      types.BoundingBox
	Center      [3]float64 // lon, lat, zoom
	MinZoom     int
	MaxZoom     int
}

// ContentType returns the MIME type of the tiles.
func (m Metadata) ContentType() string {
	switch strings.ToLower(m.Format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	set := func(key, value string) {
		if value != "" {
			result[key] = value
		}
	}
	set("name", m.Name)
	set("format", m.Format)
	set("attribution", m.Attribution)
	set("description", m.Description)
	set("type", m.Type)
	set("version", m.Version)

	result["minzoom"] = strconv.Itoa(m.MinZoom)
	if m.MaxZoom > 0 {
		result["maxzoom"] = strconv.Itoa(m.MaxZoom)
	}
	if m.Bounds != (types.BoundingBox{}) {
		result["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
			m.Bounds.MinLon, m.Bounds.MinLat, m.Bounds.MaxLon, m.Bounds.MaxLat)
	}
	if m.Center != [3]float64{} {
		result["center"] = fmt.Sprintf("%.6f,%.6f,%d",
			m.Center[0], m.Center[1], int(m.Center[2]))
	}

	return result
}

// parseMetadata is the inverse of ToMap. Malformed numeric fields are ignored.
func parseMetadata(values map[string]string) Metadata {
	meta := Metadata{
		Name:        values["name"],
		Format:      values["format"],
		Attribution: values["attribution"],
		Description: values["description"],
		Type:        values["type"],
		Version:     values["version"],
	}

	if i, err := strconv.Atoi(values["minzoom"]); err == nil {
		meta.MinZoom = i
	}
	if i, err := strconv.Atoi(values["maxzoom"]); err == nil {
		meta.MaxZoom = i
	}
	if v, ok := values["bounds"]; ok {
		if b, err := types.ParseBoundingBox(v); err == nil {
			meta.Bounds = b
		}
	}
	if v, ok := values["center"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 3 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Center[i] = f
				}
			}
		}
	}

	return meta
}
