package layers

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/style"
)

type fakeRegistry struct {
	mu     sync.Mutex
	images map[string]image.Image
	adds   atomic.Int32
	delay  time.Duration
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{images: map[string]image.Image{}}
}

func (r *fakeRegistry) HasImage(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.images[id]
	return ok
}

func (r *fakeRegistry) AddImage(id string, img image.Image, _ maplibre.ImageOptions) error {
	time.Sleep(r.delay)
	r.adds.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[id] = img
	return nil
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func pictureRule(value, data string) style.Rule {
	d := esri.NewDiscriminant(value)
	id := style.IconID(d)
	return style.Rule{
		Value:      d,
		SymbolType: esri.SymbolPictureMarker,
		Layout:     map[string]any{maplibre.IconImage: id, maplibre.IconSize: 1.5},
		Icon:       &style.Icon{ID: id, ImageData: data, ContentType: "image/png", Width: 12, Height: 12},
	}
}

func TestBuildLayerDefinitions(t *testing.T) {
	rules := []style.Rule{
		{Value: esri.NewDiscriminant("A"), SymbolType: esri.SymbolFill, Paint: map[string]any{maplibre.FillColor: "rgba(1,2,3,255)", maplibre.FillOpacity: 1.0}},
		{Value: esri.NewDiscriminant("B"), SymbolType: esri.SymbolLine, Paint: map[string]any{maplibre.LineColor: "#000000", maplibre.LineWidth: 1.0}},
		{Value: esri.NewDiscriminant(3.0), SymbolType: esri.SymbolMarker, Paint: map[string]any{maplibre.CircleRadius: 6.0}},
		{Value: esri.NewDiscriminant("X"), SymbolType: "esriTS", Paint: map[string]any{}},
	}

	b := NewBuilder(Config{Registry: newFakeRegistry()})
	layers, err := b.Build(context.Background(), rules, "esri-vector-0", "kind")
	require.NoError(t, err)
	require.Len(t, layers, 4)

	assert.Equal(t, maplibre.Layer{
		ID:     "esri-vector-0-cat-A",
		Type:   maplibre.LayerFill,
		Source: "esri-vector-0",
		Filter: maplibre.Expression{"==", maplibre.Expression{"get", "kind"}, "A"},
		Paint:  map[string]any{maplibre.FillColor: "rgba(1,2,3,255)", maplibre.FillOpacity: 1.0},
	}, layers[0])

	assert.Equal(t, maplibre.LayerLine, layers[1].Type)
	assert.Equal(t, "esri-vector-0-cat-3", layers[2].ID)
	assert.Equal(t, maplibre.LayerCircle, layers[2].Type)
	assert.Equal(t, 3.0, layers[2].Filter[2])
	assert.Equal(t, maplibre.LayerCircle, layers[3].Type, "unknown symbol kinds fall back to circles")
}

func TestBuildRegistersIconBeforeReturning(t *testing.T) {
	reg := newFakeRegistry()
	b := NewBuilder(Config{Registry: reg})

	layers, err := b.Build(context.Background(), []style.Rule{pictureRule("park", pngBase64(t, 24, 24))}, "esri-vector-1", "type")
	require.NoError(t, err)
	require.Len(t, layers, 1)

	l := layers[0]
	assert.Equal(t, maplibre.LayerSymbol, l.Type)
	assert.Nil(t, l.Paint)
	assert.Equal(t, "esri-pms-park", l.Layout[maplibre.IconImage])

	require.True(t, reg.HasImage("esri-pms-park"))
	img := reg.images["esri-pms-park"]
	assert.Equal(t, 12, img.Bounds().Dx(), "icon is scaled to the marker size")
	assert.Equal(t, 12, img.Bounds().Dy())
}

func TestBuildRegistersIconOnce(t *testing.T) {
	reg := newFakeRegistry()
	reg.delay = 20 * time.Millisecond
	b := NewBuilder(Config{Registry: reg})

	data := pngBase64(t, 12, 12)
	rules := []style.Rule{pictureRule("p", data), pictureRule("p", data)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			layers, err := b.Build(context.Background(), rules, "esri-vector-0", "kind")
			assert.NoError(t, err)
			assert.Len(t, layers, 1, "duplicate values collapse to one layer")
		}()
	}
	wg.Wait()

	_, err := b.Build(context.Background(), rules, "esri-vector-0", "kind")
	require.NoError(t, err)

	assert.Equal(t, int32(1), reg.adds.Load())
}

func TestBuildKeepsFirstRuleForDuplicateValue(t *testing.T) {
	b := NewBuilder(Config{})
	rules := []style.Rule{
		{Value: esri.NewDiscriminant("A"), SymbolType: esri.SymbolFill, Paint: map[string]any{maplibre.FillColor: "rgba(255,0,0,255)"}},
		{Value: esri.NewDiscriminant("B"), SymbolType: esri.SymbolLine, Paint: map[string]any{maplibre.LineColor: "rgba(0,0,255,255)"}},
		{Value: esri.NewDiscriminant("A"), SymbolType: esri.SymbolMarker, Paint: map[string]any{maplibre.CircleColor: "#000000"}},
	}

	layers, err := b.Build(context.Background(), rules, "esri-vector-0", "kind")
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "esri-vector-0-cat-A", layers[0].ID)
	assert.Equal(t, maplibre.LayerFill, layers[0].Type)
	assert.Equal(t, "esri-vector-0-cat-B", layers[1].ID)
}

func TestBuildSkipsUndecodableIcon(t *testing.T) {
	reg := newFakeRegistry()
	b := NewBuilder(Config{Registry: reg})

	rules := []style.Rule{
		pictureRule("good", pngBase64(t, 12, 12)),
		pictureRule("bad", base64.StdEncoding.EncodeToString([]byte("not an image"))),
		{Value: esri.NewDiscriminant("line"), SymbolType: esri.SymbolLine, Paint: map[string]any{maplibre.LineWidth: 1.0}},
	}

	layers, err := b.Build(context.Background(), rules, "esri-vector-0", "kind")
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "esri-vector-0-cat-good", layers[0].ID)
	assert.Equal(t, "esri-vector-0-cat-line", layers[1].ID)
	assert.False(t, reg.HasImage("esri-pms-bad"))
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(Config{Registry: newFakeRegistry()})
	_, err := b.Build(ctx, []style.Rule{pictureRule("p", pngBase64(t, 12, 12))}, "s", "f")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildWithoutRegistry(t *testing.T) {
	b := NewBuilder(Config{})
	layers, err := b.Build(context.Background(), []style.Rule{pictureRule("p", "garbage")}, "s", "f")
	require.NoError(t, err)
	assert.Len(t, layers, 1)
}

func TestDefaultLayers(t *testing.T) {
	layers := DefaultLayers("esri-vector-2")
	require.Len(t, layers, 1)
	assert.Equal(t, "esri-vector-2-default", layers[0].ID)
	assert.Equal(t, maplibre.LayerCircle, layers[0].Type)
	assert.Nil(t, layers[0].Filter)
	assert.Equal(t, 6.0, layers[0].Paint[maplibre.CircleRadius])
}

func TestDecodeIcon(t *testing.T) {
	data := pngBase64(t, 30, 20)

	tests := []struct {
		name    string
		data    string
		w, h    float64
		wantW   int
		wantH   int
		wantErr bool
	}{
		{"resize", data, 15, 10, 15, 10, false},
		{"native size", data, 30, 20, 30, 20, false},
		{"data url", "data:image/png;base64," + data, 12, 12, 12, 12, false},
		{"unpadded", base64.RawStdEncoding.EncodeToString(mustDecode(t, data)), 12, 12, 12, 12, false},
		{"bad base64", "!!!", 12, 12, 0, 0, true},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello")), 12, 12, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeIcon(context.Background(), style.Icon{ID: "i", ImageData: tt.data, Width: tt.w, Height: tt.h})
			if tt.wantErr {
				var decodeErr *IconDecodeError
				require.ErrorAs(t, err, &decodeErr)
				assert.Equal(t, "i", decodeErr.ID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestDecodeIconTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := DecodeIcon(ctx, style.Icon{ID: "slow", ImageData: pngBase64(t, 12, 12)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}
