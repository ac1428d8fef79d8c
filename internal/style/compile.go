// Package style compiles ESRI unique-value renderers into MapLibre style rules.
package style

import (
	"strconv"
	"strings"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
)

const (
	defaultColor       = "#000000"
	defaultLineWidth   = 1.0
	defaultCircleSize  = 6.0
	defaultIconSize    = 12.0
	defaultContentType = "image/png"
	iconScale          = 1.5
	outlinedOpacity    = 0.5
)

// Rule is the styling of one renderer class.
type Rule struct {
	Value      esri.Discriminant `json:"value" yaml:"value"`
	Label      string            `json:"label,omitempty" yaml:"label,omitempty"`
	SymbolType esri.SymbolType   `json:"symbolType" yaml:"symbolType"`
	Paint      map[string]any    `json:"paint,omitempty" yaml:"paint,omitempty"`
	Layout     map[string]any    `json:"layout,omitempty" yaml:"layout,omitempty"`
	Icon       *Icon             `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Icon is the image a picture-marker rule references.
type Icon struct {
	ID          string  `json:"id" yaml:"id"`
	ImageData   string  `json:"-" yaml:"-"`
	ContentType string  `json:"contentType" yaml:"contentType"`
	Width       float64 `json:"width" yaml:"width"`
	Height      float64 `json:"height" yaml:"height"`
}

// Compile turns a renderer into an ordered list of rules, one per class with a
// supported symbol. Classes with other symbol kinds are skipped.
func Compile(r *esri.Renderer) []Rule {
	if r == nil {
		return nil
	}

	var rules []Rule
	add := func(c esri.UniqueValueClass) {
		if rule, ok := compileClass(c); ok {
			rules = append(rules, rule)
		}
	}

	if len(r.UniqueValueGroups) > 0 {
		for _, g := range r.UniqueValueGroups {
			if !g.HasClasses() {
				add(g.UniqueValueClass)
				continue
			}
			for _, c := range g.Classes {
				add(c)
			}
		}
		return rules
	}

	for _, c := range r.UniqueValueInfos {
		add(c)
	}
	return rules
}

func compileClass(c esri.UniqueValueClass) (Rule, bool) {
	sym := c.Symbol
	if sym == nil {
		return Rule{}, false
	}

	value := c.Discriminant()
	rule := Rule{Value: value, Label: c.Label, SymbolType: sym.Type}

	switch sym.Type {
	case esri.SymbolFill:
		opacity := 1.0
		if sym.Outline != nil && sym.Outline.Width != 0 {
			opacity = outlinedOpacity
		}
		rule.Paint = map[string]any{
			maplibre.FillColor:   FormatColor(sym.Color),
			maplibre.FillOpacity: opacity,
		}
	case esri.SymbolLine:
		rule.Paint = map[string]any{
			maplibre.LineColor: FormatColor(sym.Color),
			maplibre.LineWidth: orDefault(sym.Width, defaultLineWidth),
		}
	case esri.SymbolMarker:
		rule.Paint = map[string]any{
			maplibre.CircleColor:  FormatColor(sym.Color),
			maplibre.CircleRadius: orDefault(sym.Size, defaultCircleSize),
		}
	case esri.SymbolPictureMarker:
		if sym.ImageData == "" {
			return Rule{}, false
		}
		id := IconID(value)
		contentType := sym.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		rule.Layout = map[string]any{
			maplibre.IconImage: id,
			maplibre.IconSize:  iconScale,
		}
		rule.Icon = &Icon{
			ID:          id,
			ImageData:   sym.ImageData,
			ContentType: contentType,
			Width:       orDefault(sym.Width, defaultIconSize),
			Height:      orDefault(sym.Height, defaultIconSize),
		}
	default:
		return Rule{}, false
	}

	return rule, true
}

// FormatColor formats an ESRI color array as a CSS rgba() string. Components are
// joined as given, alpha included. An absent color is opaque black.
func FormatColor(c esri.Color) string {
	if len(c) == 0 {
		return defaultColor
	}
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "rgba(" + strings.Join(parts, ",") + ")"
}

// IconID is the style image id of a picture-marker class.
func IconID(value esri.Discriminant) string {
	return "esri-pms-" + value.String()
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
