package maplibre

// StyleVersion is the only MapLibre style version.
const StyleVersion = 8

// Style is a MapLibre style document.
type Style struct {
	Version  int               `json:"version"`
	Name     string            `json:"name,omitempty"`
	Center   []float64         `json:"center,omitempty"`
	Zoom     float64           `json:"zoom"`
	Sources  map[string]Source `json:"sources"`
	Layers   []Layer           `json:"layers"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// Source is a style source. Raster sources carry tile URLs, GeoJSON sources a data URL
// or inline data.
type Source struct {
	Type        string   `json:"type"`
	Tiles       []string `json:"tiles,omitempty"`
	TileSize    int      `json:"tileSize,omitempty"`
	MinZoom     int      `json:"minzoom,omitempty"`
	MaxZoom     int      `json:"maxzoom,omitempty"`
	Attribution string   `json:"attribution,omitempty"`
	Data        any      `json:"data,omitempty"`
}

// RasterSource builds a raster tile source.
func RasterSource(tiles []string, attribution string, minZoom, maxZoom int) Source {
	return Source{
		Type:        "raster",
		Tiles:       tiles,
		TileSize:    256,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		Attribution: attribution,
	}
}

// GeoJSONSource builds a GeoJSON source. data is a URL or an inline object.
func GeoJSONSource(data any) Source {
	return Source{Type: "geojson", Data: data}
}
