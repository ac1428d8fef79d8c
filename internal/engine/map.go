// Package engine holds the map state the overlay draws into: a MapLibre style document
// with its GeoJSON sources, layers and images, plus the current viewport. Browser
// clients mirror it over HTTP and WebSocket.
package engine

import (
	"fmt"
	"image"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// BasemapSourceID is the id of the raster basemap source and layer.
const BasemapSourceID = "basemap"

// Options configures a Map.
type Options struct {
	Name     string
	Viewport types.Viewport

	// BasemapTiles are the raster tile URL templates. No basemap is added when empty.
	BasemapTiles       []string
	BasemapAttribution string
	BasemapMinZoom     int
	BasemapMaxZoom     int

	// SourceURL formats the data URL of a GeoJSON source in Style, e.g.
	// "/sources/%s.geojson". When empty, source data is inlined.
	SourceURL string
}

type styleImage struct {
	img  image.Image
	opts maplibre.ImageOptions
}

// Map is an in-memory rendering engine. All methods are safe for concurrent use.
type Map struct {
	opts Options
	bus  *Bus

	mu          sync.RWMutex
	viewport    types.Viewport
	sources     map[string]*geojson.FeatureCollection
	sourceOrder []string
	layers      []maplibre.Layer
	layerIndex  map[string]int
	images      map[string]styleImage

	settleMu sync.Mutex
	settle   map[chan types.Viewport]struct{}
}

// NewMap creates an empty map.
func NewMap(opts Options) *Map {
	if opts.BasemapMaxZoom == 0 {
		opts.BasemapMaxZoom = 19
	}
	return &Map{
		opts:       opts,
		bus:        NewBus(),
		viewport:   opts.Viewport,
		sources:    make(map[string]*geojson.FeatureCollection),
		layerIndex: make(map[string]int),
		images:     make(map[string]styleImage),
		settle:     make(map[chan types.Viewport]struct{}),
	}
}

// Viewport returns the current viewport.
func (m *Map) Viewport() types.Viewport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewport
}

// SetViewport moves the map and notifies viewport subscribers once it has settled.
func (m *Map) SetViewport(v types.Viewport) error {
	if err := v.Bounds.Validate(); err != nil {
		return fmt.Errorf("invalid viewport: %w", err)
	}

	m.mu.Lock()
	m.viewport = v
	m.mu.Unlock()

	m.settleMu.Lock()
	for ch := range m.settle {
		offer(ch, v)
	}
	m.settleMu.Unlock()

	m.bus.Publish(Event{Type: EventViewport, Action: "updated", Message: v.Bounds.String()})
	return nil
}

// Subscribe returns a channel that receives the viewport each time it settles, and a
// function that ends the subscription. A slow receiver sees only the latest viewport;
// intermediate ones are dropped, the last one never is.
func (m *Map) Subscribe() (<-chan types.Viewport, func()) {
	ch := make(chan types.Viewport, 1)

	m.settleMu.Lock()
	m.settle[ch] = struct{}{}
	m.settleMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.settleMu.Lock()
			delete(m.settle, ch)
			m.settleMu.Unlock()
		})
	}
}

// offer replaces any pending value in ch with v. Callers hold settleMu, so
// after draining the buffer the second send cannot block.
func offer(ch chan types.Viewport, v types.Viewport) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Changes subscribes to the change feed. Call the returned function to unsubscribe.
func (m *Map) Changes() (<-chan Event, func()) {
	ch := m.bus.Subscribe()
	return ch, func() { m.bus.Unsubscribe(ch) }
}

// Warn publishes a user-facing warning on the change feed.
func (m *Map) Warn(message string) {
	m.bus.Publish(Event{Type: EventWarning, Message: message})
}

// HasSource reports whether a source exists.
func (m *Map) HasSource(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sources[id]
	return ok
}

// AddSource adds a GeoJSON source.
func (m *Map) AddSource(id string, data *geojson.FeatureCollection) error {
	if id == BasemapSourceID {
		return fmt.Errorf("source id %q is reserved", id)
	}

	m.mu.Lock()
	if _, ok := m.sources[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("source %q already exists", id)
	}
	m.sources[id] = orEmpty(data)
	m.sourceOrder = append(m.sourceOrder, id)
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventSource, Action: "added", ID: id})
	return nil
}

// SetSourceData replaces the data of an existing source. Its layers are untouched.
func (m *Map) SetSourceData(id string, data *geojson.FeatureCollection) error {
	m.mu.Lock()
	if _, ok := m.sources[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("source %q not found", id)
	}
	m.sources[id] = orEmpty(data)
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventSource, Action: "updated", ID: id})
	return nil
}

// SourceData returns the current data of a source.
func (m *Map) SourceData(id string) (*geojson.FeatureCollection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fc, ok := m.sources[id]
	return fc, ok
}

// AddLayer appends a layer on top of the existing ones.
func (m *Map) AddLayer(layer maplibre.Layer) error {
	m.mu.Lock()
	if _, ok := m.layerIndex[layer.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("layer %q already exists", layer.ID)
	}
	if _, ok := m.sources[layer.Source]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("layer %q references unknown source %q", layer.ID, layer.Source)
	}
	m.layerIndex[layer.ID] = len(m.layers)
	m.layers = append(m.layers, layer)
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventLayer, Action: "added", ID: layer.ID})
	return nil
}

// HasLayer reports whether a layer exists.
func (m *Map) HasLayer(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.layerIndex[id]
	return ok
}

// Layers returns a copy of the overlay layers in drawing order.
func (m *Map) Layers() []maplibre.Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]maplibre.Layer(nil), m.layers...)
}

// HasImage reports whether a style image exists.
func (m *Map) HasImage(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.images[id]
	return ok
}

// AddImage registers a style image. Adding an id that already exists does nothing.
func (m *Map) AddImage(id string, img image.Image, opts maplibre.ImageOptions) error {
	if img == nil {
		return fmt.Errorf("image %q is nil", id)
	}

	m.mu.Lock()
	if _, ok := m.images[id]; ok {
		m.mu.Unlock()
		return nil
	}
	m.images[id] = styleImage{img: img, opts: opts}
	m.mu.Unlock()

	m.bus.Publish(Event{Type: EventImage, Action: "added", ID: id})
	return nil
}

// Image returns a registered style image.
func (m *Map) Image(id string) (image.Image, maplibre.ImageOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.images[id]
	return entry.img, entry.opts, ok
}

// Style renders the map as a MapLibre style document: the raster basemap first, then
// the overlay layers in the order they were added.
func (m *Map) Style() maplibre.Style {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lon, lat := m.viewport.Bounds.Center()
	s := maplibre.Style{
		Version: maplibre.StyleVersion,
		Name:    m.opts.Name,
		Center:  []float64{lon, lat},
		Zoom:    m.viewport.Zoom,
		Sources: make(map[string]maplibre.Source, len(m.sources)+1),
		Layers:  make([]maplibre.Layer, 0, len(m.layers)+1),
		Metadata: map[string]any{
			"esrioverlay:bounds": m.viewport.Bounds.Array(),
		},
	}

	if len(m.opts.BasemapTiles) > 0 {
		s.Sources[BasemapSourceID] = maplibre.RasterSource(m.opts.BasemapTiles,
			m.opts.BasemapAttribution, m.opts.BasemapMinZoom, m.opts.BasemapMaxZoom)
		s.Layers = append(s.Layers, maplibre.Layer{
			ID:     BasemapSourceID,
			Type:   maplibre.LayerRaster,
			Source: BasemapSourceID,
		})
	}

	for _, id := range m.sourceOrder {
		if m.opts.SourceURL != "" {
			s.Sources[id] = maplibre.GeoJSONSource(fmt.Sprintf(m.opts.SourceURL, id))
		} else {
			s.Sources[id] = maplibre.GeoJSONSource(m.sources[id])
		}
	}
	s.Layers = append(s.Layers, m.layers...)

	return s
}

func orEmpty(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	if fc == nil {
		return geojson.NewFeatureCollection()
	}
	return fc
}
