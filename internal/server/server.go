// Package server exposes the overlay map to browser clients: a JSON API, the
// GeoJSON sources and icons the style references, a WebSocket channel for viewport
// updates and change events, and the raster basemap.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/MeKo-Tech/esrioverlay/internal/engine"
	"github.com/MeKo-Tech/esrioverlay/internal/mbtiles"
	"github.com/MeKo-Tech/esrioverlay/internal/theme"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// Themes reports the state of the configured themes.
type Themes interface {
	States() []theme.State
	Warnings() []string
}

// Config holds the server configuration.
type Config struct {
	Title  string
	Map    *engine.Map
	Themes Themes

	// Basemap serves /basemap/{z}/{x}/{y}.png when set.
	Basemap      *mbtiles.Reader
	CacheControl string

	Logger *slog.Logger
}

// Server is the overlay HTTP server.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	humaAPI huma.API
	logger  *slog.Logger
	basemap *basemapHandler
}

// New creates a new server.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Title == "" {
		cfg.Title = "esrioverlay"
	}

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig(cfg.Title+" API", Version)
	humaConfig.Info.Description = "Map viewport with dynamically styled ESRI feature overlays."
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	s := &Server{
		cfg:     cfg,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		logger:  cfg.Logger,
	}

	if cfg.Basemap != nil {
		h, err := newBasemapHandler(ctx, cfg.Basemap, cfg.CacheControl, cfg.Logger)
		if err != nil {
			return nil, err
		}
		s.basemap = h
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// API returns the huma API, e.g. to export the OpenAPI document.
func (s *Server) API() huma.API {
	return s.humaAPI
}

func (s *Server) routes() {
	registerAPI(s.humaAPI, s.cfg.Map, s.cfg.Themes)

	s.mux.HandleFunc("GET /healthz", handleHealthz)
	s.mux.HandleFunc("GET /sources/{file}", s.handleSource)
	s.mux.HandleFunc("GET /images/{file}", s.handleImage)
	s.mux.Handle("GET /ws", newWSHandler(s.cfg.Map, s.logger))

	if s.basemap != nil {
		s.mux.HandleFunc("GET /basemap/{z}/{x}/{y}", s.basemap.ServeHTTP)
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
