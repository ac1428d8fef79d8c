// Package layers turns compiled style rules into MapLibre layer definitions and
// registers the icons those layers reference.
package layers

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/style"
)

// DefaultDecodeTimeout bounds a single icon decode.
const DefaultDecodeTimeout = 5 * time.Second

// ImageRegistry is the part of the rendering engine that stores style images.
type ImageRegistry interface {
	HasImage(id string) bool
	AddImage(id string, img image.Image, opts maplibre.ImageOptions) error
}

// Config configures a Builder.
type Config struct {
	// Registry receives picture-marker icons. When nil, icons are not registered.
	Registry      ImageRegistry
	DecodeTimeout time.Duration
	Logger        *slog.Logger
}

// Builder builds layer definitions. It is safe for concurrent use; an icon id is
// registered at most once across all calls.
type Builder struct {
	registry      ImageRegistry
	decodeTimeout time.Duration
	logger        *slog.Logger
	inflight      singleflight.Group
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = DefaultDecodeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		registry:      cfg.Registry,
		decodeTimeout: cfg.DecodeTimeout,
		logger:        cfg.Logger,
	}
}

// LayerID is the id of the layer styling value within sourceID.
func LayerID(sourceID string, value esri.Discriminant) string {
	return sourceID + "-cat-" + value.String()
}

// DefaultLayerID is the id of the fallback layer of sourceID.
func DefaultLayerID(sourceID string) string {
	return sourceID + "-default"
}

// LayerTypeFor maps a symbol kind to a layer type. Unknown kinds draw as circles.
func LayerTypeFor(t esri.SymbolType) maplibre.LayerType {
	switch t {
	case esri.SymbolFill:
		return maplibre.LayerFill
	case esri.SymbolLine:
		return maplibre.LayerLine
	case esri.SymbolMarker:
		return maplibre.LayerCircle
	case esri.SymbolPictureMarker:
		return maplibre.LayerSymbol
	default:
		return maplibre.LayerCircle
	}
}

// Build returns one layer per rule, filtered on field. Every icon the returned layers
// reference is registered before Build returns. Layers whose icon fails to decode are
// left out. Rules that map to an id already built are skipped; the first one wins.
// Build only fails when ctx ends.
func (b *Builder) Build(ctx context.Context, rules []style.Rule, sourceID, field string) ([]maplibre.Layer, error) {
	failed, err := b.registerIcons(ctx, rules)
	if err != nil {
		return nil, err
	}

	layers := make([]maplibre.Layer, 0, len(rules))
	built := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if rule.Icon != nil && failed[rule.Icon.ID] {
			continue
		}
		id := LayerID(sourceID, rule.Value)
		if built[id] {
			continue
		}
		built[id] = true

		layer := maplibre.Layer{
			ID:     id,
			Type:   LayerTypeFor(rule.SymbolType),
			Source: sourceID,
			Filter: maplibre.EqualsFilter(field, rule.Value.Value()),
		}
		if rule.SymbolType == esri.SymbolPictureMarker && rule.Layout != nil {
			layer.Layout = copyProps(rule.Layout)
		} else {
			layer.Paint = copyProps(rule.Paint)
		}
		layers = append(layers, layer)
	}

	return layers, nil
}

// DefaultLayers styles a source that has no renderer: every feature as a black circle.
func DefaultLayers(sourceID string) []maplibre.Layer {
	return []maplibre.Layer{{
		ID:     DefaultLayerID(sourceID),
		Type:   maplibre.LayerCircle,
		Source: sourceID,
		Paint: map[string]any{
			maplibre.CircleColor:  "#000000",
			maplibre.CircleRadius: 6.0,
		},
	}}
}

// registerIcons registers the distinct icons of rules concurrently and waits for all
// of them. It returns the ids that could not be decoded.
func (b *Builder) registerIcons(ctx context.Context, rules []style.Rule) (map[string]bool, error) {
	failed := map[string]bool{}
	if b.registry == nil {
		return failed, nil
	}

	var (
		mu   sync.Mutex
		g    errgroup.Group
		seen = map[string]bool{}
	)

	for _, rule := range rules {
		icon := rule.Icon
		if icon == nil || seen[icon.ID] {
			continue
		}
		seen[icon.ID] = true
		if b.registry.HasImage(icon.ID) {
			continue
		}

		g.Go(func() error {
			err := b.registerIcon(ctx, *icon)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var decodeErr *IconDecodeError
			if errors.As(err, &decodeErr) {
				b.logger.Warn("skipping icon layer, image did not decode", "icon", icon.ID, "error", err)
			} else {
				b.logger.Warn("skipping icon layer, image was not registered", "icon", icon.ID, "error", err)
			}
			mu.Lock()
			failed[icon.ID] = true
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return failed, nil
}

// registerIcon decodes and adds one icon unless the registry already has it.
// Concurrent calls for the same id share one registration.
func (b *Builder) registerIcon(ctx context.Context, icon style.Icon) error {
	ch := b.inflight.DoChan(icon.ID, func() (any, error) {
		if b.registry.HasImage(icon.ID) {
			return nil, nil
		}

		decodeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.decodeTimeout)
		defer cancel()

		img, err := DecodeIcon(decodeCtx, icon)
		if err != nil {
			return nil, err
		}

		if err := b.registry.AddImage(icon.ID, img, maplibre.ImageOptions{PixelRatio: 1}); err != nil {
			return nil, err
		}
		b.logger.Debug("registered icon", "icon", icon.ID,
			"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func copyProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
