package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/MeKo-Tech/esrioverlay/internal/engine"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
	Themes  int    `json:"themes" doc:"Number of configured themes"`
}

type ThemeStatus struct {
	Index         int        `json:"index"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	UniqueField   string     `json:"uniqueField"`
	SourceID      string     `json:"sourceId" example:"esri-vector-0"`
	Phase         string     `json:"phase" enum:"uninitialized,renderer-loaded,drawn"`
	Rules         int        `json:"rules" doc:"Number of compiled style rules"`
	LayerIDs      []string   `json:"layerIds"`
	Features      int        `json:"features" doc:"Features drawn by the last successful refresh"`
	LastRefresh   *time.Time `json:"lastRefresh,omitempty"`
	RendererError string     `json:"rendererError,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

type ThemesBody struct {
	Themes   []ThemeStatus `json:"themes"`
	Warnings []string      `json:"warnings"`
}

type ViewportBody struct {
	BBox [4]float64 `json:"bbox" doc:"West, south, east, north in WGS84"`
	Zoom float64    `json:"zoom" minimum:"0" maximum:"24"`
}

type apiHandler struct {
	m      *engine.Map
	themes Themes
}

func registerAPI(api huma.API, m *engine.Map, themes Themes) {
	h := &apiHandler{m: m, themes: themes}

	huma.Get(api, "/api/v1/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/themes", h.GetThemes, huma.OperationTags("themes"))
	huma.Get(api, "/api/v1/style", h.GetStyle, huma.OperationTags("map"))
	huma.Get(api, "/api/v1/viewport", h.GetViewport, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/viewport", h.SetViewport, huma.OperationTags("map"),
		func(o *huma.Operation) { o.DefaultStatus = http.StatusOK })
}

func (h *apiHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	n := 0
	if h.themes != nil {
		n = len(h.themes.States())
	}
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version, Themes: n}}, nil
}

func (h *apiHandler) GetThemes(ctx context.Context, input *struct{}) (*struct{ Body ThemesBody }, error) {
	body := ThemesBody{Themes: []ThemeStatus{}, Warnings: []string{}}
	if h.themes == nil {
		return &struct{ Body ThemesBody }{Body: body}, nil
	}

	for _, st := range h.themes.States() {
		ts := ThemeStatus{
			Index:       st.Index,
			Name:        st.Theme.Name,
			URL:         st.Theme.URL,
			UniqueField: st.Theme.UniqueField,
			SourceID:    st.SourceID,
			Phase:       st.Phase.String(),
			Rules:       len(st.Rules),
			LayerIDs:    st.LayerIDs,
			Features:    st.Features,
		}
		if ts.LayerIDs == nil {
			ts.LayerIDs = []string{}
		}
		if !st.LastRefresh.IsZero() {
			last := st.LastRefresh
			ts.LastRefresh = &last
		}
		if st.RendererErr != nil {
			ts.RendererError = st.RendererErr.Error()
		}
		if st.LastErr != nil {
			ts.LastError = st.LastErr.Error()
		}
		body.Themes = append(body.Themes, ts)
	}
	body.Warnings = append(body.Warnings, h.themes.Warnings()...)

	return &struct{ Body ThemesBody }{Body: body}, nil
}

func (h *apiHandler) GetStyle(ctx context.Context, input *struct{}) (*struct{ Body maplibre.Style }, error) {
	return &struct{ Body maplibre.Style }{Body: h.m.Style()}, nil
}

func (h *apiHandler) GetViewport(ctx context.Context, input *struct{}) (*struct{ Body ViewportBody }, error) {
	v := h.m.Viewport()
	return &struct{ Body ViewportBody }{Body: ViewportBody{BBox: v.Bounds.Array(), Zoom: v.Zoom}}, nil
}

func (h *apiHandler) SetViewport(ctx context.Context, input *struct{ Body ViewportBody }) (*struct{ Body ViewportBody }, error) {
	v := types.Viewport{Bounds: types.NewBoundingBox(input.Body.BBox), Zoom: input.Body.Zoom}
	if err := h.m.SetViewport(v); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &struct{ Body ViewportBody }{Body: input.Body}, nil
}
