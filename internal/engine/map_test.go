package engine

import (
	"encoding/json"
	"image"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

func viewport(w, s, e, n, zoom float64) types.Viewport {
	return types.Viewport{Bounds: types.NewBoundingBox([4]float64{w, s, e, n}), Zoom: zoom}
}

func pointCollection(lon, lat float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{lon, lat}))
	return fc
}

func TestMapSourcesAndLayers(t *testing.T) {
	m := NewMap(Options{})

	assert.False(t, m.HasSource("esri-vector-0"))
	require.NoError(t, m.AddSource("esri-vector-0", pointCollection(2, 48)))
	assert.True(t, m.HasSource("esri-vector-0"))
	assert.Error(t, m.AddSource("esri-vector-0", nil), "duplicate source")
	assert.Error(t, m.AddSource(BasemapSourceID, nil), "reserved id")

	assert.Error(t, m.SetSourceData("missing", nil))
	require.NoError(t, m.SetSourceData("esri-vector-0", pointCollection(3, 49)))

	fc, ok := m.SourceData("esri-vector-0")
	require.True(t, ok)
	assert.Equal(t, orb.Point{3, 49}, fc.Features[0].Geometry)

	layer := maplibre.Layer{ID: "esri-vector-0-default", Type: maplibre.LayerCircle, Source: "esri-vector-0"}
	require.NoError(t, m.AddLayer(layer))
	assert.True(t, m.HasLayer(layer.ID))
	assert.Error(t, m.AddLayer(layer), "duplicate layer")
	assert.Error(t, m.AddLayer(maplibre.Layer{ID: "x", Source: "nope"}), "unknown source")
}

func TestMapImagesAreAddedOnce(t *testing.T) {
	m := NewMap(Options{})
	first := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	second := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	require.NoError(t, m.AddImage("esri-pms-a", first, maplibre.ImageOptions{PixelRatio: 1}))
	require.NoError(t, m.AddImage("esri-pms-a", second, maplibre.ImageOptions{PixelRatio: 2}))

	img, opts, ok := m.Image("esri-pms-a")
	require.True(t, ok)
	assert.Same(t, first, img)
	assert.Equal(t, 1.0, opts.PixelRatio)
	assert.Error(t, m.AddImage("nil", nil, maplibre.ImageOptions{}))
}

func TestSubscribeCoalescesToLatest(t *testing.T) {
	m := NewMap(Options{Viewport: viewport(0, 0, 1, 1, 3)})
	ch, cancel := m.Subscribe()
	defer cancel()

	for i := 1; i <= 10; i++ {
		require.NoError(t, m.SetViewport(viewport(0, 0, float64(i), 1, float64(i))))
	}

	select {
	case v := <-ch:
		assert.Equal(t, 10.0, v.Zoom)
	case <-time.After(time.Second):
		t.Fatal("no viewport delivered")
	}

	select {
	case v := <-ch:
		t.Fatalf("unexpected extra viewport %+v", v)
	default:
	}

	assert.Equal(t, 10.0, m.Viewport().Zoom)
}

func TestSubscribeCancel(t *testing.T) {
	m := NewMap(Options{})
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	require.NoError(t, m.SetViewport(viewport(0, 0, 1, 1, 1)))
	select {
	case <-ch:
		t.Fatal("cancelled subscription received a viewport")
	default:
	}
}

func TestSetViewportRejectsInvalidBounds(t *testing.T) {
	m := NewMap(Options{})
	assert.Error(t, m.SetViewport(viewport(10, 0, 5, 1, 1)))
}

func TestChanges(t *testing.T) {
	m := NewMap(Options{})
	events, cancel := m.Changes()
	defer cancel()

	require.NoError(t, m.AddSource("s", nil))
	require.NoError(t, m.SetSourceData("s", nil))
	m.Warn("theme Parks: renderer unavailable")

	want := []Event{
		{Type: EventSource, Action: "added", ID: "s"},
		{Type: EventSource, Action: "updated", ID: "s"},
		{Type: EventWarning, Message: "theme Parks: renderer unavailable"},
	}
	for _, w := range want {
		select {
		case got := <-events:
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatalf("missing event %+v", w)
		}
	}
}

func TestStyleDocument(t *testing.T) {
	m := NewMap(Options{
		Name:               "test",
		Viewport:           viewport(2, 48, 2.5, 48.5, 11),
		BasemapTiles:       []string{"/basemap/{z}/{x}/{y}.png"},
		BasemapAttribution: "© OpenStreetMap",
		SourceURL:          "/sources/%s.geojson",
	})
	require.NoError(t, m.AddSource("esri-vector-0", nil))
	require.NoError(t, m.AddLayer(maplibre.Layer{ID: "esri-vector-0-default", Type: maplibre.LayerCircle, Source: "esri-vector-0"}))

	s := m.Style()
	assert.Equal(t, 8, s.Version)
	assert.Equal(t, []float64{2.25, 48.25}, s.Center)
	assert.Equal(t, 11.0, s.Zoom)
	require.Len(t, s.Layers, 2)
	assert.Equal(t, BasemapSourceID, s.Layers[0].ID)
	assert.Equal(t, "esri-vector-0-default", s.Layers[1].ID)
	assert.Equal(t, "/sources/esri-vector-0.geojson", s.Sources["esri-vector-0"].Data)
	assert.Equal(t, "raster", s.Sources[BasemapSourceID].Type)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":8`)
}

func TestStyleInlinesDataWithoutSourceURL(t *testing.T) {
	m := NewMap(Options{})
	fc := pointCollection(1, 2)
	require.NoError(t, m.AddSource("s", fc))

	s := m.Style()
	assert.Same(t, fc, s.Sources["s"].Data)
	assert.Empty(t, s.Layers, "no basemap without tiles")
}
