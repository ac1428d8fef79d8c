package server

import (
	"image/png"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/esrioverlay/internal/geojson"
)

// handleSource serves /sources/{id}.geojson from the map's GeoJSON sources.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".geojson")
	if !ok {
		http.NotFound(w, r)
		return
	}

	fc, ok := s.cfg.Map.SourceData(id)
	if !ok {
		http.Error(w, "Source not found", http.StatusNotFound)
		return
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		s.logger.Error("Failed to encode source", "source", id, "error", err)
		http.Error(w, "Failed to encode source", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response", "error", err)
		return
	}
	s.logger.Debug("Served source", "source", id, "summary", geojson.Summary(fc))
}

// handleImage serves /images/{id}.png from the map's image registry.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok {
		http.NotFound(w, r)
		return
	}

	img, _, ok := s.cfg.Map.Image(id)
	if !ok {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := png.Encode(w, img); err != nil {
		s.logger.Error("Failed to encode image", "image", id, "error", err)
	}
}
