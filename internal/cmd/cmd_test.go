package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/mbtiles"
	"github.com/MeKo-Tech/esrioverlay/internal/tile"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

const twoClassRenderer = `{
	"type": "uniqueValue",
	"field1": "kind",
	"uniqueValueInfos": [
		{"value": "A", "label": "A", "symbol": {"type": "esriSFS", "color": [255, 0, 0, 255]}},
		{"value": "B", "label": "B", "symbol": {"type": "esriSLS", "color": [0, 0, 255, 128], "width": 2}}
	]
}`

func TestCompileTheme(t *testing.T) {
	var renderer esri.Renderer
	require.NoError(t, json.Unmarshal([]byte(twoClassRenderer), &renderer))

	out, err := compileTheme(context.Background(), "parks", "esri-vector-1", "kind", &renderer)
	require.NoError(t, err)

	assert.False(t, out.Default)
	require.Len(t, out.Rules, 2)
	require.Len(t, out.Layers, 2)
	assert.Equal(t, "esri-vector-1-cat-A", out.Layers[0].ID)
	assert.Equal(t, maplibre.LayerFill, out.Layers[0].Type)
	assert.Equal(t, "esri-vector-1-cat-B", out.Layers[1].ID)
	assert.Equal(t, maplibre.LayerLine, out.Layers[1].Type)
}

func TestCompileThemeWithoutRenderer(t *testing.T) {
	out, err := compileTheme(context.Background(), "parks", "esri-vector-0", "kind", nil)
	require.NoError(t, err)

	assert.True(t, out.Default)
	assert.Empty(t, out.Rules)
	require.Len(t, out.Layers, 1)
	assert.Equal(t, "esri-vector-0-default", out.Layers[0].ID)
}

func TestWriteCompileOutput(t *testing.T) {
	var renderer esri.Renderer
	require.NoError(t, json.Unmarshal([]byte(twoClassRenderer), &renderer))
	out, err := compileTheme(context.Background(), "parks", "esri-vector-0", "kind", &renderer)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeCompileOutput(&buf, out, false))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "esri-vector-0", decoded["sourceId"])
	assert.Len(t, decoded["layers"], 2)

	buf.Reset()
	require.NoError(t, writeCompileOutput(&buf, out, true))
	decoded = nil
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "parks", decoded["theme"])
	layers, ok := decoded["layers"].([]any)
	require.True(t, ok)
	require.Len(t, layers, 2)
	first, ok := layers[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "esri-vector-0-cat-A", first["id"])
}

func TestSelectTheme(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("themes", []map[string]any{
		{"name": "parks", "url": "http://example.com/0", "unique_field": "kind"},
		{"name": "roads", "url": "http://example.com/1", "unique_field": "class"},
	})

	th, i, err := selectTheme("roads", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, "class", th.UniqueField)

	th, i, err = selectTheme("", "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	assert.Equal(t, "parks", th.Name)

	_, i, err = selectTheme("1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, _, err = selectTheme("rivers", "", "")
	assert.Error(t, err)

	th, _, err = selectTheme("", "http://example.com/9", "")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/9", th.URL)
	assert.Error(t, th.Validate(), "ad-hoc theme without field cannot be compiled")
}

func TestLoadThemesValidates(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("themes", []map[string]any{{"name": "broken", "url": "http://example.com/0"}})

	_, err := loadThemes()
	assert.ErrorContains(t, err, "unique_field is required")
}

func TestInitialViewport(t *testing.T) {
	v, err := initialViewport([]float64{2.25, 48.25}, 12)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v.Zoom)
	require.NoError(t, v.Bounds.Validate())
	assert.LessOrEqual(t, v.Bounds.MinLon, 2.25)
	assert.GreaterOrEqual(t, v.Bounds.MaxLon, 2.25)
	assert.LessOrEqual(t, v.Bounds.MinLat, 48.25)
	assert.GreaterOrEqual(t, v.Bounds.MaxLat, 48.25)

	_, err = initialViewport([]float64{2.25}, 12)
	assert.Error(t, err)
	_, err = initialViewport([]float64{2.25, 48.25}, 30)
	assert.Error(t, err)
}

func writeTileFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestScanTilesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTileFile(t, dir, "12/2074/1409.png", []byte("a"))
	writeTileFile(t, dir, "13/4148/2818.png", []byte("b"))
	writeTileFile(t, dir, "13/4148/readme.txt", []byte("c"))
	writeTileFile(t, dir, "2/9/9.png", []byte("out of range"))

	tiles, err := scanTilesDirectory(dir)
	require.NoError(t, err)
	require.Len(t, tiles, 2)

	meta := packMetadata(tiles, types.BoundingBox{})
	assert.Equal(t, 12, meta.MinZoom)
	assert.Equal(t, 13, meta.MaxZoom)
	assert.Equal(t, "png", meta.Format)
}

func TestRunPack(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	writeTileFile(t, dir, "12/2074/1409.png", []byte("tile-a"))
	writeTileFile(t, dir, "12/2075/1409.png", []byte("tile-b"))
	output := filepath.Join(t.TempDir(), "basemap.mbtiles")

	viper.Set("pack.input_dir", dir)
	viper.Set("pack.output", output)
	viper.Set("pack.name", "Test")
	viper.Set("pack.progress", false)
	require.NoError(t, runPack(packCmd, nil))

	r, err := mbtiles.OpenReader(output)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.ReadTile(context.Background(), tile.NewCoords(12, 2075, 1409))
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-b"), data)

	meta, err := r.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test", meta.Name)
	assert.Equal(t, 12, meta.MinZoom)
	want := tile.Union([]tile.Coords{tile.NewCoords(12, 2074, 1409), tile.NewCoords(12, 2075, 1409)})
	assert.InDelta(t, want.MinLon, meta.Bounds.MinLon, 1e-6)
	assert.InDelta(t, want.MaxLon, meta.Bounds.MaxLon, 1e-6)
}

func TestConfigCenter(t *testing.T) {
	t.Cleanup(viper.Reset)

	tests := []struct {
		name   string
		config string
		env    string
		want   []float64
	}{
		{"config file list", "center: [7.1, 50.7]\nzoom: 11\n", "", []float64{7.1, 50.7}},
		{"config file integers", "center: [7, 50]\n", "", []float64{7, 50}},
		{"environment", "", "9.7,52.4", []float64{9.7, 52.4}},
		{"flag default", "", "", []float64{2.25, 48.25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			require.NoError(t, viper.BindPFlag("center", serveCmd.Flags().Lookup("center")))
			if tt.config != "" {
				path := filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.config), 0o644))
				viper.SetConfigFile(path)
				require.NoError(t, viper.ReadInConfig())
			}
			if tt.env != "" {
				viper.Set("center", tt.env)
			}

			center, err := configCenter(serveCmd.Flags())
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, center, 1e-9)
		})
	}
}

func TestConfigCenterInvalid(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("center", "east,north")

	_, err := configCenter(serveCmd.Flags())
	assert.Error(t, err)
}
