// Package theme keeps every configured theme in sync with the map viewport: it loads
// each theme's symbology once, then re-queries the theme's feature service whenever
// the viewport settles and pushes the result into the rendering engine.
package theme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	geo "github.com/MeKo-Tech/esrioverlay/internal/geojson"
	"github.com/MeKo-Tech/esrioverlay/internal/layers"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/style"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
	"github.com/MeKo-Tech/esrioverlay/internal/worker"
)

// MaxWarnings bounds the warning history kept for Warnings.
const MaxWarnings = 50

// Engine is the rendering engine a theme draws into.
type Engine interface {
	layers.ImageRegistry
	Viewport() types.Viewport
	Subscribe() (<-chan types.Viewport, func())
	HasSource(id string) bool
	AddSource(id string, data *geojson.FeatureCollection) error
	SetSourceData(id string, data *geojson.FeatureCollection) error
	HasLayer(id string) bool
	AddLayer(layer maplibre.Layer) error
}

// Warner is implemented by engines that can show warnings to the user.
type Warner interface {
	Warn(message string)
}

// FeatureService is the remote side of a theme.
type FeatureService interface {
	FetchRenderer(ctx context.Context, layerURL string) (*esri.Renderer, error)
	FetchFeatures(ctx context.Context, layerURL string, bbox types.BoundingBox, maxFeatures int) (*esri.FeatureSet, error)
}

// Config configures an Orchestrator.
type Config struct {
	Themes      []types.Theme
	Engine      Engine
	Service     FeatureService
	Builder     *layers.Builder // defaults to a builder registering icons in Engine
	MaxFeatures int
	Logger      *slog.Logger
}

type themeState struct {
	// cycle serializes refresh cycles of this theme.
	cycle sync.Mutex

	mu          sync.RWMutex
	state       State
	layersAdded bool
}

func (t *themeState) snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.state
	s.LayerIDs = slices.Clone(s.LayerIDs)
	return s
}

// Orchestrator drives the refresh cycles of all themes. Cycles of different themes
// run in parallel; cycles of the same theme never overlap.
type Orchestrator struct {
	engine      Engine
	service     FeatureService
	builder     *layers.Builder
	maxFeatures int
	logger      *slog.Logger
	pool        *worker.Pool
	themes      []*themeState

	warnMu   sync.Mutex
	warnings []string
}

// New creates an orchestrator with one state per theme.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("feature service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = esri.DefaultMaxFeatures
	}
	if cfg.Builder == nil {
		cfg.Builder = layers.NewBuilder(layers.Config{Registry: cfg.Engine, Logger: cfg.Logger})
	}

	o := &Orchestrator{
		engine:      cfg.Engine,
		service:     cfg.Service,
		builder:     cfg.Builder,
		maxFeatures: cfg.MaxFeatures,
		logger:      cfg.Logger,
	}

	for i, t := range cfg.Themes {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("theme %d: %w", i, err)
		}
		o.themes = append(o.themes, &themeState{state: State{
			Theme:    t,
			Index:    i,
			SourceID: SourceID(i),
		}})
	}

	o.pool = worker.New(worker.Config{
		Workers:   len(o.themes),
		Refresher: o,
	})

	return o, nil
}

// LoadRenderers fetches and compiles the renderer of every theme, concurrently and
// once. A theme whose renderer cannot be fetched is reported and stays usable with
// default styling. Only a cancelled context is returned as an error.
func (o *Orchestrator) LoadRenderers(ctx context.Context) error {
	var g errgroup.Group
	for _, ts := range o.themes {
		g.Go(func() error {
			o.loadRenderer(ctx, ts)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (o *Orchestrator) loadRenderer(ctx context.Context, ts *themeState) {
	ts.cycle.Lock()
	defer ts.cycle.Unlock()

	ts.mu.RLock()
	t, loaded := ts.state.Theme, ts.state.Phase != PhaseUninitialized
	ts.mu.RUnlock()
	if loaded {
		return
	}

	renderer, err := o.service.FetchRenderer(ctx, t.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ts.mu.Lock()
		ts.state.RendererErr = err
		ts.mu.Unlock()
		o.warn(fmt.Sprintf("failed to load symbology for %s: %v", t.Label(), err))
		o.logger.Warn("renderer fetch failed", "theme", t.Label(), "error", err)
		return
	}

	rules := style.Compile(renderer)

	ts.mu.Lock()
	ts.state.Renderer = renderer
	ts.state.Rules = rules
	ts.state.RendererErr = nil
	ts.state.Phase = PhaseRendererLoaded
	ts.mu.Unlock()

	o.logger.Info("renderer loaded", "theme", t.Label(), "rules", len(rules), "has_renderer", renderer != nil)
}

// Refresh runs one refresh cycle of every theme against bbox and waits for all of
// them. Results are ordered by theme index.
func (o *Orchestrator) Refresh(ctx context.Context, bbox types.BoundingBox) []worker.Result {
	tasks := make([]worker.Task, len(o.themes))
	for i, ts := range o.themes {
		tasks[i] = worker.Task{Index: i, Theme: ts.state.Theme.Label(), BBox: bbox}
	}

	start := time.Now()
	results := o.pool.Run(ctx, tasks)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slices.SortFunc(results, func(a, b worker.Result) int { return a.Task.Index - b.Task.Index })

	if len(results) > 0 {
		o.logger.Debug("refresh cycle finished",
			"bbox", bbox.String(),
			"themes", len(results),
			"failed", failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return results
}

// RefreshTheme runs one refresh cycle of the theme at index: query, convert, then
// either replace the source data or create the source and its layers.
// A failed query leaves whatever the theme has drawn so far untouched.
func (o *Orchestrator) RefreshTheme(ctx context.Context, index int, bbox types.BoundingBox) (int, error) {
	if index < 0 || index >= len(o.themes) {
		return 0, fmt.Errorf("theme index %d out of range", index)
	}
	ts := o.themes[index]

	ts.cycle.Lock()
	defer ts.cycle.Unlock()

	ts.mu.RLock()
	t, sourceID := ts.state.Theme, ts.state.SourceID
	renderer, rules := ts.state.Renderer, ts.state.Rules
	layersAdded := ts.layersAdded
	ts.mu.RUnlock()

	start := time.Now()
	fs, err := o.service.FetchFeatures(ctx, t.URL, bbox, o.maxFeatures)
	if err != nil {
		o.recordFailure(ts, err)
		if ctx.Err() == nil {
			o.logger.Error("feature query failed", "theme", t.Label(), "error", err)
			o.warn(fmt.Sprintf("failed to query %s: %v", t.Label(), err))
		}
		return 0, err
	}

	fc := geo.FeatureSetToGeoJSON(fs)

	if o.engine.HasSource(sourceID) {
		err = o.engine.SetSourceData(sourceID, fc)
	} else {
		err = o.engine.AddSource(sourceID, fc)
	}
	if err != nil {
		o.recordFailure(ts, err)
		return 0, fmt.Errorf("failed to update source %s: %w", sourceID, err)
	}

	if !layersAdded {
		ids, err := o.addLayers(ctx, renderer, rules, sourceID, t.UniqueField)
		if err != nil {
			o.recordFailure(ts, err)
			return 0, fmt.Errorf("failed to add layers for %s: %w", sourceID, err)
		}
		ts.mu.Lock()
		ts.state.LayerIDs = ids
		ts.state.Phase = PhaseDrawn
		ts.layersAdded = true
		ts.mu.Unlock()
	}

	ts.mu.Lock()
	ts.state.Features = len(fc.Features)
	ts.state.LastRefresh = time.Now()
	ts.state.LastErr = nil
	ts.mu.Unlock()

	o.logger.Debug("theme refreshed",
		"theme", t.Label(),
		"source", sourceID,
		"features", len(fc.Features),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return len(fc.Features), nil
}

// addLayers builds the theme's layers and adds those the engine does not have yet.
// Themes without a renderer get the default layers.
func (o *Orchestrator) addLayers(ctx context.Context, renderer *esri.Renderer, rules []style.Rule, sourceID, field string) ([]string, error) {
	var defs []maplibre.Layer
	if renderer == nil {
		defs = layers.DefaultLayers(sourceID)
	} else {
		var err error
		defs, err = o.builder.Build(ctx, rules, sourceID, field)
		if err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(defs))
	for _, l := range defs {
		if !o.engine.HasLayer(l.ID) {
			if err := o.engine.AddLayer(l); err != nil {
				return nil, err
			}
		}
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (o *Orchestrator) recordFailure(ts *themeState, err error) {
	ts.mu.Lock()
	ts.state.LastErr = err
	ts.mu.Unlock()
}

// Run refreshes all themes for the current viewport, then again each time the
// viewport settles, until ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	settled, unsubscribe := o.engine.Subscribe()
	defer unsubscribe()

	o.Refresh(ctx, o.engine.Viewport().Bounds)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-settled:
			o.Refresh(ctx, v.Bounds)
		}
	}
}

// States returns a snapshot of every theme, by index.
func (o *Orchestrator) States() []State {
	states := make([]State, len(o.themes))
	for i, ts := range o.themes {
		states[i] = ts.snapshot()
	}
	return states
}

// Warnings returns the most recent warnings, oldest first. At most MaxWarnings are kept.
func (o *Orchestrator) Warnings() []string {
	o.warnMu.Lock()
	defer o.warnMu.Unlock()
	return slices.Clone(o.warnings)
}

func (o *Orchestrator) warn(msg string) {
	o.warnMu.Lock()
	if len(o.warnings) >= MaxWarnings {
		o.warnings = slices.Delete(o.warnings, 0, len(o.warnings)-MaxWarnings+1)
	}
	o.warnings = append(o.warnings, msg)
	o.warnMu.Unlock()

	if w, ok := o.engine.(Warner); ok {
		w.Warn(msg)
	}
}
