package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/esrioverlay/internal/engine"
	"github.com/MeKo-Tech/esrioverlay/internal/layers"
	"github.com/MeKo-Tech/esrioverlay/internal/mbtiles"
	"github.com/MeKo-Tech/esrioverlay/internal/server"
	"github.com/MeKo-Tech/esrioverlay/internal/theme"
	"github.com/MeKo-Tech/esrioverlay/internal/tile"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

const defaultBasemapTiles = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the overlay map and keep the themes in sync with the viewport",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("title", "esrioverlay", "Map title")
	serveCmd.Flags().Float64Slice("center", []float64{2.25, 48.25}, "Initial map center: lon,lat")
	serveCmd.Flags().Float64("zoom", 12, "Initial zoom level")
	serveCmd.Flags().StringSlice("basemap-tiles", []string{defaultBasemapTiles}, "Raster basemap tile URL templates")
	serveCmd.Flags().String("basemap-mbtiles", "", "Serve the basemap from an MBTiles file instead")
	serveCmd.Flags().String("basemap-attribution", "© OpenStreetMap contributors", "Basemap attribution")
	serveCmd.Flags().String("cache-control", server.DefaultCacheControl, "Cache-Control header for basemap tiles")
	serveCmd.Flags().Duration("icon-timeout", layers.DefaultDecodeTimeout, "Timeout for decoding a picture-marker icon")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("title", "title")
	mustBind("center", "center")
	mustBind("zoom", "zoom")
	mustBind("basemap.tiles", "basemap-tiles")
	mustBind("basemap.mbtiles", "basemap-mbtiles")
	mustBind("basemap.attribution", "basemap-attribution")
	mustBind("serve.cache_control", "cache-control")
	mustBind("icons.decode_timeout", "icon-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	title := viper.GetString("title")

	themes, err := loadThemes()
	if err != nil {
		return err
	}
	if len(themes) == 0 {
		logger.Warn("No themes configured; serving the basemap only")
	}

	center, err := configCenter(cmd.Flags())
	if err != nil {
		return err
	}
	viewport, err := initialViewport(center, viper.GetFloat64("zoom"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mapOpts := engine.Options{
		Name:               title,
		Viewport:           viewport,
		BasemapTiles:       viper.GetStringSlice("basemap.tiles"),
		BasemapAttribution: viper.GetString("basemap.attribution"),
		SourceURL:          "/sources/%s.geojson",
	}

	var basemap *mbtiles.Reader
	if path := viper.GetString("basemap.mbtiles"); path != "" {
		basemap, err = mbtiles.OpenReader(path)
		if err != nil {
			return fmt.Errorf("failed to open basemap: %w", err)
		}
		defer basemap.Close()

		meta, err := basemap.Metadata(ctx)
		if err != nil {
			return fmt.Errorf("failed to read basemap metadata: %w", err)
		}
		mapOpts.BasemapTiles = []string{"/basemap/{z}/{x}/{y}." + meta.Format}
		mapOpts.BasemapMinZoom = meta.MinZoom
		mapOpts.BasemapMaxZoom = meta.MaxZoom
		if meta.Attribution != "" {
			mapOpts.BasemapAttribution = meta.Attribution
		}
		logger.Info("Serving basemap from MBTiles", "path", path, "format", meta.Format,
			"min_zoom", meta.MinZoom, "max_zoom", meta.MaxZoom)
	}

	m := engine.NewMap(mapOpts)

	orch, err := theme.New(theme.Config{
		Themes:  themes,
		Engine:  m,
		Service: newClient(),
		Builder: layers.NewBuilder(layers.Config{
			Registry:      m,
			DecodeTimeout: viper.GetDuration("icons.decode_timeout"),
			Logger:        logger,
		}),
		MaxFeatures: viper.GetInt("query.max_features"),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, server.Config{
		Title:        title,
		Map:          m,
		Themes:       orch,
		Basemap:      basemap,
		CacheControl: viper.GetString("serve.cache_control"),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if err := orch.LoadRenderers(ctx); err != nil {
		return err
	}

	go func() {
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Theme refresh stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
	}()

	logger.Info("Overlay server listening",
		"addr", addr,
		"themes", len(themes),
		"viewport", viewport.Bounds.String(),
		"zoom", viewport.Zoom,
	)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// configCenter reads the map center from --center when given, else from the config
// file (a [lon, lat] list) or the environment ("lon,lat"). An unchanged bound flag
// reaches viper as its formatted default, e.g. "[2.250000,48.250000]".
func configCenter(flags *pflag.FlagSet) ([]float64, error) {
	if !flags.Changed("center") {
		var parts []any
		switch v := viper.Get("center").(type) {
		case []any:
			parts = v
		case string:
			for _, p := range strings.Split(strings.Trim(v, "[] "), ",") {
				parts = append(parts, strings.TrimSpace(p))
			}
		}
		if parts != nil {
			center := make([]float64, 0, len(parts))
			for _, p := range parts {
				f, err := cast.ToFloat64E(p)
				if err != nil {
					return nil, fmt.Errorf("invalid center: %w", err)
				}
				center = append(center, f)
			}
			return center, nil
		}
	}
	return flags.GetFloat64Slice("center")
}

// initialViewport returns the bounds of the tile at zoom that contains center.
func initialViewport(center []float64, zoom float64) (types.Viewport, error) {
	if len(center) != 2 {
		return types.Viewport{}, fmt.Errorf("center must be lon,lat, got %v", center)
	}
	if zoom < 0 || zoom > tile.MaxZoom {
		return types.Viewport{}, fmt.Errorf("zoom must be between 0 and %d, got %g", tile.MaxZoom, zoom)
	}

	t := maptile.At(orb.Point{center[0], center[1]}, maptile.Zoom(zoom))
	return types.Viewport{Bounds: types.FromBound(t.Bound()), Zoom: zoom}, nil
}
