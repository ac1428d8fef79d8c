package esri

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// DefaultMaxFeatures caps bounding-box queries when no explicit limit is given.
const DefaultMaxFeatures = 1000

// Client talks to ArcGIS feature layers.
type Client struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a client. A zero timeout leaves requests bounded only by their context.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

// QueryURL builds the bounding-box query for a feature layer: intersecting features,
// all attributes, geometry included, WGS84 in and out, at most maxFeatures results.
// Query parameters already on layerURL (e.g. a token) are preserved.
func QueryURL(layerURL string, bbox types.BoundingBox, maxFeatures int) (string, error) {
	u, err := url.Parse(layerURL)
	if err != nil {
		return "", fmt.Errorf("invalid layer url %q: %w", layerURL, err)
	}
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/query"

	q := u.Query()
	q.Set("f", "json")
	q.Set("geometry", bbox.Envelope())
	q.Set("geometryType", "esriGeometryEnvelope")
	q.Set("inSR", "4326")
	q.Set("spatialRel", "esriSpatialRelIntersects")
	q.Set("outFields", "*")
	q.Set("returnGeometry", "true")
	q.Set("outSR", "4326")
	q.Set("resultRecordCount", strconv.Itoa(maxFeatures))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// MetadataURL returns the ?f=pjson description URL of a feature layer.
func MetadataURL(layerURL string) (string, error) {
	u, err := url.Parse(layerURL)
	if err != nil {
		return "", fmt.Errorf("invalid layer url %q: %w", layerURL, err)
	}
	q := u.Query()
	q.Set("f", "pjson")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchFeatures queries the features of layerURL intersecting bbox. It does not retry.
func (c *Client) FetchFeatures(ctx context.Context, layerURL string, bbox types.BoundingBox, maxFeatures int) (*FeatureSet, error) {
	queryURL, err := QueryURL(layerURL, bbox, maxFeatures)
	if err != nil {
		return nil, &RemoteQueryError{URL: layerURL, Err: err}
	}

	var fs FeatureSet
	if status, err := c.getJSON(ctx, queryURL, &fs); err != nil {
		return nil, &RemoteQueryError{URL: queryURL, StatusCode: status, Err: err}
	}
	if fs.Error != nil {
		return nil, &RemoteQueryError{URL: queryURL, Message: fs.Error.Message}
	}

	if fs.ExceededTransferLimit {
		c.log().Warn("feature transfer limit exceeded, results are incomplete",
			"url", layerURL,
			"features", len(fs.Features),
		)
	}

	return &fs, nil
}

// FetchLayerMetadata loads the ?f=pjson description of a feature layer.
func (c *Client) FetchLayerMetadata(ctx context.Context, layerURL string) (*LayerMetadata, error) {
	metaURL, err := MetadataURL(layerURL)
	if err != nil {
		return nil, &RendererFetchError{URL: layerURL, Err: err}
	}

	var meta LayerMetadata
	if _, err := c.getJSON(ctx, metaURL, &meta); err != nil {
		return nil, &RendererFetchError{URL: metaURL, Err: err}
	}
	if meta.Error != nil {
		return nil, &RendererFetchError{URL: metaURL, Err: fmt.Errorf("service error %d: %s", meta.Error.Code, meta.Error.Message)}
	}

	return &meta, nil
}

// FetchRenderer returns the layer's drawingInfo.renderer, or nil when the layer has none.
func (c *Client) FetchRenderer(ctx context.Context, layerURL string) (*Renderer, error) {
	meta, err := c.FetchLayerMetadata(ctx, layerURL)
	if err != nil {
		return nil, err
	}
	if meta.DrawingInfo == nil {
		return nil, nil
	}
	return meta.DrawingInfo.Renderer, nil
}

// getJSON performs a GET and decodes the body into target. It returns the HTTP status
// when a response was received.
func (c *Client) getJSON(ctx context.Context, rawURL string, target any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.log().Debug("esri request",
		"url", rawURL,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return resp.StatusCode, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
