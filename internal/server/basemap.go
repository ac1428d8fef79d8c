package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/esrioverlay/internal/mbtiles"
	"github.com/MeKo-Tech/esrioverlay/internal/tile"
)

// DefaultCacheControl is sent with basemap tiles when none is configured.
const DefaultCacheControl = "public, max-age=86400"

// basemapHandler serves raster basemap tiles from an MBTiles database.
type basemapHandler struct {
	reader       *mbtiles.Reader
	logger       *slog.Logger
	cacheControl string
	contentType  string
}

func newBasemapHandler(ctx context.Context, reader *mbtiles.Reader, cacheControl string, logger *slog.Logger) (*basemapHandler, error) {
	meta, err := reader.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read basemap metadata: %w", err)
	}
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}

	return &basemapHandler{
		reader:       reader,
		logger:       logger,
		cacheControl: cacheControl,
		contentType:  meta.ContentType(),
	}, nil
}

// ServeHTTP serves /basemap/{z}/{x}/{y}.png.
func (h *basemapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	y, _, _ := strings.Cut(r.PathValue("y"), ".")
	coords, err := tile.ParseParts(r.PathValue("z"), r.PathValue("x"), y)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data, err := h.reader.ReadTile(r.Context(), coords)
	if err != nil {
		if errors.Is(err, mbtiles.ErrTileNotFound) {
			http.Error(w, "Tile not found", http.StatusNotFound)
			return
		}
		h.log().Error("Failed to read tile", "coords", coords.String(), "error", err)
		http.Error(w, "Failed to read tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", h.cacheControl)
	w.Header().Set("Content-Type", h.contentType)

	if _, err := w.Write(data); err != nil {
		h.log().Error("Failed to write response", "error", err)
	}
}

func (h *basemapHandler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
