package style

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
)

func decodeRenderer(t *testing.T, data string) *esri.Renderer {
	t.Helper()
	var r esri.Renderer
	require.NoError(t, json.Unmarshal([]byte(data), &r))
	return &r
}

func TestCompileTwoFillClasses(t *testing.T) {
	r := decodeRenderer(t, `{
		"type": "uniqueValue",
		"field1": "kind",
		"uniqueValueGroups": [{"classes": [
			{"values": [["A"]], "symbol": {"type": "esriSFS", "color": [255, 0, 0, 255]}},
			{"values": [["B"]], "symbol": {"type": "esriSFS", "color": [0, 128, 0, 200], "outline": {"type": "esriSLS", "width": 0.75}}}
		]}]
	}`)

	rules := Compile(r)
	require.Len(t, rules, 2)

	assert.Equal(t, "A", rules[0].Value.Value())
	assert.Equal(t, esri.SymbolFill, rules[0].SymbolType)
	assert.Equal(t, map[string]any{
		maplibre.FillColor:   "rgba(255,0,0,255)",
		maplibre.FillOpacity: 1.0,
	}, rules[0].Paint)

	assert.Equal(t, "B", rules[1].Value.Value())
	assert.Equal(t, "rgba(0,128,0,200)", rules[1].Paint[maplibre.FillColor])
	assert.Equal(t, 0.5, rules[1].Paint[maplibre.FillOpacity])
}

func TestCompileSymbolDefaults(t *testing.T) {
	r := &esri.Renderer{
		UniqueValueGroups: []esri.UniqueValueGroup{{Classes: []esri.UniqueValueClass{
			{Value: "fill", Symbol: &esri.Symbol{Type: esri.SymbolFill, Outline: &esri.Symbol{Type: esri.SymbolLine}}},
			{Value: "line", Symbol: &esri.Symbol{Type: esri.SymbolLine}},
			{Value: "marker", Symbol: &esri.Symbol{Type: esri.SymbolMarker}},
			{Value: "pic", Symbol: &esri.Symbol{Type: esri.SymbolPictureMarker, ImageData: "iVBORw0KGgo="}},
		}}},
	}

	rules := Compile(r)
	require.Len(t, rules, 4)

	assert.Equal(t, "#000000", rules[0].Paint[maplibre.FillColor])
	assert.Equal(t, 1.0, rules[0].Paint[maplibre.FillOpacity], "zero-width outline keeps full opacity")

	assert.Equal(t, "#000000", rules[1].Paint[maplibre.LineColor])
	assert.Equal(t, 1.0, rules[1].Paint[maplibre.LineWidth])

	assert.Equal(t, "#000000", rules[2].Paint[maplibre.CircleColor])
	assert.Equal(t, 6.0, rules[2].Paint[maplibre.CircleRadius])

	pic := rules[3]
	assert.Nil(t, pic.Paint)
	assert.Equal(t, map[string]any{maplibre.IconImage: "esri-pms-pic", maplibre.IconSize: 1.5}, pic.Layout)
	require.NotNil(t, pic.Icon)
	assert.Equal(t, Icon{ID: "esri-pms-pic", ImageData: "iVBORw0KGgo=", ContentType: "image/png", Width: 12, Height: 12}, *pic.Icon)
}

func TestCompileExplicitSizes(t *testing.T) {
	r := decodeRenderer(t, `{"uniqueValueGroups": [{"classes": [
		{"value": 1, "symbol": {"type": "esriSLS", "color": [1, 2, 3, 4], "width": 2.5}},
		{"value": 2, "symbol": {"type": "esriSMS", "color": [5, 6, 7, 8], "size": 9}},
		{"value": 3, "symbol": {"type": "esriPMS", "imageData": "AAAA", "contentType": "image/gif", "width": 20, "height": 16}}
	]}]}`)

	rules := Compile(r)
	require.Len(t, rules, 3)
	assert.Equal(t, 2.5, rules[0].Paint[maplibre.LineWidth])
	assert.Equal(t, "rgba(1,2,3,4)", rules[0].Paint[maplibre.LineColor])
	assert.Equal(t, 9.0, rules[1].Paint[maplibre.CircleRadius])
	assert.Equal(t, "esri-pms-3", rules[2].Icon.ID)
	assert.Equal(t, "image/gif", rules[2].Icon.ContentType)
	assert.Equal(t, 20.0, rules[2].Icon.Width)
	assert.Equal(t, 16.0, rules[2].Icon.Height)
}

func TestCompileDropsUnsupported(t *testing.T) {
	r := decodeRenderer(t, `{"uniqueValueGroups": [{"classes": [
		{"value": "text", "symbol": {"type": "esriTS"}},
		{"value": "nosymbol"},
		{"value": "pic-url", "symbol": {"type": "esriPMS", "url": "marker.png"}},
		{"value": "ok", "symbol": {"type": "esriSMS"}}
	]}]}`)

	rules := Compile(r)
	require.Len(t, rules, 1)
	assert.Equal(t, "ok", rules[0].Value.Value())
}

func TestCompileGroupShapes(t *testing.T) {
	r := decodeRenderer(t, `{"uniqueValueGroups": [
		{"value": "legacy", "symbol": {"type": "esriSLS"}},
		{"classes": []},
		{"classes": [{"value": "new", "symbol": {"type": "esriSLS"}}]}
	]}`)

	rules := Compile(r)
	require.Len(t, rules, 2)
	assert.Equal(t, "legacy", rules[0].Value.Value())
	assert.Equal(t, "new", rules[1].Value.Value())
}

func TestCompileUniqueValueInfos(t *testing.T) {
	r := decodeRenderer(t, `{"type": "uniqueValue", "field1": "zone", "uniqueValueInfos": [
		{"value": "R1", "symbol": {"type": "esriSFS", "color": [10, 20, 30, 255]}},
		{"value": "R2", "symbol": {"type": "esriSFS", "color": [40, 50, 60, 255]}}
	]}`)

	rules := Compile(r)
	require.Len(t, rules, 2)
	assert.Equal(t, "R2", rules[1].Value.Value())

	r.UniqueValueGroups = []esri.UniqueValueGroup{{Classes: []esri.UniqueValueClass{}}}
	assert.Empty(t, Compile(r), "groups take precedence over infos")
}

func TestCompileEmpty(t *testing.T) {
	assert.Empty(t, Compile(nil))
	assert.Empty(t, Compile(&esri.Renderer{Type: "simple"}))
}

func TestFormatColor(t *testing.T) {
	tests := []struct {
		in   esri.Color
		want string
	}{
		{nil, "#000000"},
		{esri.Color{}, "#000000"},
		{esri.Color{255, 255, 0, 128}, "rgba(255,255,0,128)"},
		{esri.Color{0.5, 1, 2}, "rgba(0.5,1,2)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatColor(tt.in))
	}
}
