package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/esrioverlay/internal/mbtiles"
	"github.com/MeKo-Tech/esrioverlay/internal/tile"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
	"github.com/MeKo-Tech/esrioverlay/internal/worker"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack a raster tile folder into an MBTiles basemap",
	Long: `Pack a {z}/{x}/{y}.png tile folder into an MBTiles database that
"serve --basemap-mbtiles" can serve as the basemap.`,
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)

	packCmd.Flags().String("input-dir", "./tiles", "Input directory containing {z}/{x}/{y} tiles")
	packCmd.Flags().StringP("output", "o", "", "Output MBTiles file path (required)")
	packCmd.Flags().String("name", "Basemap", "Tileset name")
	packCmd.Flags().String("description", "Raster basemap", "Tileset description")
	packCmd.Flags().String("attribution", "© OpenStreetMap contributors", "Attribution text")
	packCmd.Flags().String("bounds", "", "Bounding box: minLon,minLat,maxLon,maxLat (default: extent of the tiles)")
	packCmd.Flags().Bool("gzip", false, "Store tiles gzip-compressed")
	packCmd.Flags().Bool("progress", true, "Show a progress bar")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"pack.input_dir", "input-dir"},
		{"pack.output", "output"},
		{"pack.name", "name"},
		{"pack.description", "description"},
		{"pack.attribution", "attribution"},
		{"pack.bounds", "bounds"},
		{"pack.gzip", "gzip"},
		{"pack.progress", "progress"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, packCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runPack(cmd *cobra.Command, args []string) error {
	inputDir := viper.GetString("pack.input_dir")
	outputFile := viper.GetString("pack.output")
	boundsStr := viper.GetString("pack.bounds")

	if logger == nil {
		initLogging()
	}

	if outputFile == "" {
		return fmt.Errorf("--output is required")
	}
	if _, err := os.Stat(inputDir); os.IsNotExist(err) {
		return fmt.Errorf("input directory does not exist: %s", inputDir)
	}

	tiles, err := scanTilesDirectory(inputDir)
	if err != nil {
		return fmt.Errorf("failed to scan tiles directory: %w", err)
	}
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles found in %s", inputDir)
	}

	coords := make([]tile.Coords, len(tiles))
	for i, t := range tiles {
		coords[i] = t.coords
	}

	bounds := tile.Union(coords)
	if boundsStr != "" {
		bounds, err = types.ParseBoundingBox(boundsStr)
		if err != nil {
			return fmt.Errorf("invalid bounds: %w", err)
		}
	}

	metadata := packMetadata(tiles, bounds)
	metadata.Name = viper.GetString("pack.name")
	metadata.Description = viper.GetString("pack.description")
	metadata.Attribution = viper.GetString("pack.attribution")

	logger.Info("Packing tiles into MBTiles",
		"input_dir", inputDir,
		"output", outputFile,
		"tiles", len(tiles),
		"min_zoom", metadata.MinZoom,
		"max_zoom", metadata.MaxZoom,
		"format", metadata.Format,
	)

	var opts []mbtiles.Option
	if viper.GetBool("pack.gzip") {
		opts = append(opts, mbtiles.WithGzip())
	}

	writer, err := mbtiles.New(outputFile, metadata, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MBTiles writer: %w", err)
	}
	defer writer.Close()

	progress := worker.NewProgress(len(tiles), "tiles", viper.GetBool("pack.progress"))
	failed := 0
	for i, t := range tiles {
		data, err := os.ReadFile(t.path)
		if err == nil {
			err = writer.WriteTile(t.coords, data)
		}
		if err != nil {
			failed++
			logger.Error("Failed to pack tile", "coords", t.coords.String(), "path", t.path, "error", err)
		}
		progress.Update(i+1, len(tiles), failed)
	}
	progress.Done()

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush tiles: %w", err)
	}

	logger.Info("Pack complete", "output", outputFile, "tiles", writer.Written(), "summary", progress.Summary())
	if failed > 0 {
		return fmt.Errorf("%d of %d tiles could not be packed", failed, len(tiles))
	}
	return nil
}

type tileFile struct {
	coords tile.Coords
	path   string
}

var tilePathPattern = regexp.MustCompile(`(\d+)/(\d+)/(\d+)\.(png|jpe?g|webp)$`)

// scanTilesDirectory finds {z}/{x}/{y}.{png,jpg,webp} files below dir.
func scanTilesDirectory(dir string) ([]tileFile, error) {
	var tiles []tileFile

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		matches := tilePathPattern.FindStringSubmatch(filepath.ToSlash(path))
		if matches == nil {
			return nil
		}

		coords, err := tile.ParseParts(matches[1], matches[2], matches[3])
		if err != nil {
			logger.Warn("Skipping tile with invalid coordinates", "path", path, "error", err)
			return nil
		}

		tiles = append(tiles, tileFile{coords: coords, path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tiles, nil
}

// packMetadata derives zoom range, format and center from the tiles found.
func packMetadata(tiles []tileFile, bounds types.BoundingBox) mbtiles.Metadata {
	minZoom, maxZoom := int(tile.MaxZoom), 0
	format := "png"
	for _, t := range tiles {
		z := int(t.coords.Z)
		minZoom = min(minZoom, z)
		maxZoom = max(maxZoom, z)
	}
	if len(tiles) > 0 {
		format = strings.TrimPrefix(filepath.Ext(tiles[0].path), ".")
		if format == "jpeg" {
			format = "jpg"
		}
	} else {
		minZoom = 0
	}

	lon, lat := bounds.Center()
	return mbtiles.Metadata{
		Format:  format,
		MinZoom: minZoom,
		MaxZoom: maxZoom,
		Bounds:  bounds,
		Center:  [3]float64{lon, lat, float64((minZoom + maxZoom) / 2)},
		Type:    "baselayer",
		Version: "1.0",
	}
}
