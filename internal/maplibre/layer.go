// Package maplibre models the parts of the MapLibre style specification the overlay
// produces: layers, filter expressions and the style document.
package maplibre

// LayerType is a MapLibre layer type.
type LayerType string

const (
	LayerFill   LayerType = "fill"
	LayerLine   LayerType = "line"
	LayerCircle LayerType = "circle"
	LayerSymbol LayerType = "symbol"
	LayerRaster LayerType = "raster"
)

// Paint and layout property names.
const (
	FillColor    = "fill-color"
	FillOpacity  = "fill-opacity"
	LineColor    = "line-color"
	LineWidth    = "line-width"
	CircleColor  = "circle-color"
	CircleRadius = "circle-radius"
	IconImage    = "icon-image"
	IconSize     = "icon-size"
)

// Layer is a MapLibre layer definition. Exactly one of Paint and Layout is set for
// overlay layers: icon layers are styled through layout, everything else through paint.
type Layer struct {
	ID     string         `json:"id" yaml:"id"`
	Type   LayerType      `json:"type" yaml:"type"`
	Source string         `json:"source" yaml:"source"`
	Filter Expression     `json:"filter,omitempty" yaml:"filter,omitempty"`
	Paint  map[string]any `json:"paint,omitempty" yaml:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// Expression is a MapLibre expression in its JSON array form.
type Expression []any

// EqualsFilter matches features whose property field equals value.
func EqualsFilter(field string, value any) Expression {
	return Expression{"==", Expression{"get", field}, value}
}

// ImageOptions are the options passed when registering a style image.
type ImageOptions struct {
	PixelRatio float64 `json:"pixelRatio"`
}
