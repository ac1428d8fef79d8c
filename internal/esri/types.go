// Package esri models the ESRI REST/JSON dialect spoken by ArcGIS feature services
// and provides a client for the two requests the overlay needs: layer metadata
// (for the renderer) and bounding-box feature queries.
package esri

import "encoding/json"

// SymbolType identifies an ESRI symbol class.
type SymbolType string

const (
	SymbolFill          SymbolType = "esriSFS"
	SymbolLine          SymbolType = "esriSLS"
	SymbolMarker        SymbolType = "esriSMS"
	SymbolPictureMarker SymbolType = "esriPMS"
)

// ServiceError is the error object ArcGIS returns inside an otherwise successful response.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// FeatureSet is the body of a feature query.
type FeatureSet struct {
	GeometryType          string        `json:"geometryType,omitempty"`
	Features              []Feature     `json:"features"`
	ExceededTransferLimit bool          `json:"exceededTransferLimit,omitempty"`
	Error                 *ServiceError `json:"error,omitempty"`
}

// Feature is a single ESRI feature. Geometry is nil when the service sent none.
type Feature struct {
	Geometry   *Geometry      `json:"geometry"`
	Attributes map[string]any `json:"attributes"`
}

// LayerMetadata is the subset of a feature layer's ?f=pjson description we use.
type LayerMetadata struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	GeometryType string        `json:"geometryType"`
	DrawingInfo  *DrawingInfo  `json:"drawingInfo"`
	Error        *ServiceError `json:"error,omitempty"`
}

// DrawingInfo holds the layer symbology.
type DrawingInfo struct {
	Renderer *Renderer `json:"renderer"`
}

// Renderer is a unique-value renderer. Services publish classes either grouped
// (uniqueValueGroups) or flat (uniqueValueInfos).
type Renderer struct {
	Type              string             `json:"type"`
	Field1            string             `json:"field1,omitempty"`
	Field2            string             `json:"field2,omitempty"`
	Field3            string             `json:"field3,omitempty"`
	DefaultSymbol     *Symbol            `json:"defaultSymbol,omitempty"`
	DefaultLabel      string             `json:"defaultLabel,omitempty"`
	UniqueValueGroups []UniqueValueGroup `json:"uniqueValueGroups,omitempty"`
	UniqueValueInfos  []UniqueValueClass `json:"uniqueValueInfos,omitempty"`
}

// UniqueValueGroup holds a list of classes. Older services put value and symbol on
// the group itself and omit classes; Classes is nil in that case.
type UniqueValueGroup struct {
	Heading string             `json:"heading,omitempty"`
	Classes []UniqueValueClass `json:"classes"`
	UniqueValueClass
}

// HasClasses reports whether the group carries an explicit (possibly empty) class list.
func (g UniqueValueGroup) HasClasses() bool {
	return g.Classes != nil
}

// UniqueValueClass maps one attribute value to a symbol.
type UniqueValueClass struct {
	Label  string     `json:"label,omitempty"`
	Value  any        `json:"value,omitempty"`
	Values ValueLists `json:"values,omitempty"`
	Symbol *Symbol    `json:"symbol,omitempty"`
}

// Discriminant returns the value this class matches. The first entry of the first
// values list wins over the scalar value.
func (c UniqueValueClass) Discriminant() Discriminant {
	if first, ok := c.Values.First(); ok {
		return NewDiscriminant(first)
	}
	return NewDiscriminant(c.Value)
}

// ValueLists is the decoded "values" field, a list of per-field value lists.
type ValueLists []any

// UnmarshalJSON accepts anything; values that are not a JSON array are dropped.
func (v *ValueLists) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		*v = nil
		return nil
	}
	*v = raw
	return nil
}

// First returns values[0][0] when values[0] is itself a list.
func (v ValueLists) First() (any, bool) {
	if len(v) == 0 {
		return nil, false
	}
	list, ok := v[0].([]any)
	if !ok {
		return nil, false
	}
	if len(list) == 0 {
		return nil, true
	}
	return list[0], true
}

// Symbol covers the fields of the four supported symbol classes.
type Symbol struct {
	Type        SymbolType `json:"type"`
	Style       string     `json:"style,omitempty"`
	Color       Color      `json:"color,omitempty"`
	Outline     *Symbol    `json:"outline,omitempty"`
	Width       float64    `json:"width,omitempty"`
	Height      float64    `json:"height,omitempty"`
	Size        float64    `json:"size,omitempty"`
	URL         string     `json:"url,omitempty"`
	ImageData   string     `json:"imageData,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	XOffset     float64    `json:"xoffset,omitempty"`
	YOffset     float64    `json:"yoffset,omitempty"`
	Angle       float64    `json:"angle,omitempty"`
}

// Color is an ESRI [r, g, b, a] array with components in 0..255.
type Color []float64
