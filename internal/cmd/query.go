package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/esrioverlay/internal/geojson"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a feature layer for a bounding box and print GeoJSON",
	Long: `Query one theme's feature layer for the features intersecting a bounding box and
write them as a GeoJSON FeatureCollection.

Examples:
  esrioverlay query --theme parks --bbox 2.0,48.0,2.5,48.5
  esrioverlay query --url https://example.com/arcgis/rest/services/Parks/FeatureServer/0 \
    --bbox 2.0,48.0,2.5,48.5 -o parks.geojson`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().String("theme", "", "Configured theme name or index (default: first theme)")
	queryCmd.Flags().String("url", "", "Feature layer URL (overrides --theme)")
	queryCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (required)")
	queryCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, queryCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("query.theme", "theme")
	mustBind("query.url", "url")
	mustBind("query.bbox", "bbox")
	mustBind("query.output", "output")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bboxStr := viper.GetString("query.bbox")
	if bboxStr == "" {
		return fmt.Errorf("--bbox is required")
	}
	bbox, err := types.ParseBoundingBox(bboxStr)
	if err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}

	t, _, err := selectTheme(viper.GetString("query.theme"), viper.GetString("query.url"), "")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	fs, err := newClient().FetchFeatures(ctx, t.URL, bbox, viper.GetInt("query.max_features"))
	if err != nil {
		return err
	}

	data, err := geojson.ToGeoJSONBytes(fs)
	if err != nil {
		return fmt.Errorf("failed to encode GeoJSON: %w", err)
	}

	logger.Info("Query complete",
		"theme", t.Label(),
		"bbox", bbox.String(),
		"summary", geojson.Summary(geojson.FeatureSetToGeoJSON(fs)),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	output := viper.GetString("query.output")
	if output == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	logger.Info("Wrote GeoJSON", "output", output)
	return nil
}
