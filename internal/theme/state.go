package theme

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/style"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// Phase is the lifecycle stage of a theme.
type Phase int

const (
	// PhaseUninitialized: the renderer has not been fetched, or fetching it failed.
	PhaseUninitialized Phase = iota
	// PhaseRendererLoaded: the renderer is fetched and compiled; nothing is drawn yet.
	PhaseRendererLoaded
	// PhaseDrawn: the source and its layers exist in the engine.
	PhaseDrawn
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRendererLoaded:
		return "renderer-loaded"
	case PhaseDrawn:
		return "drawn"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// SourceID is the engine source id of the theme at index.
func SourceID(index int) string {
	return fmt.Sprintf("esri-vector-%d", index)
}

// State is a snapshot of one theme.
type State struct {
	Theme    types.Theme
	Index    int
	SourceID string
	Phase    Phase

	// Renderer and Rules are set once, by LoadRenderers.
	Renderer    *esri.Renderer
	Rules       []style.Rule
	RendererErr error

	// LayerIDs are the engine layers created on the first successful draw.
	LayerIDs []string

	Features    int
	LastRefresh time.Time
	LastErr     error
}
