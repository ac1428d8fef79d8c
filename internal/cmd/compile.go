package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/layers"
	"github.com/MeKo-Tech/esrioverlay/internal/maplibre"
	"github.com/MeKo-Tech/esrioverlay/internal/style"
	"github.com/MeKo-Tech/esrioverlay/internal/theme"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Print the MapLibre layers compiled from a feature layer's renderer",
	Long: `Fetch a theme's unique-value renderer and print the style rules and MapLibre
layer definitions the overlay would add for it. Picture-marker icons are listed by id
but not decoded.`,
	RunE: runCompile,
}

// compileOutput is the document printed by the compile command.
type compileOutput struct {
	Theme    string           `json:"theme" yaml:"theme"`
	SourceID string           `json:"sourceId" yaml:"sourceId"`
	Field    string           `json:"field" yaml:"field"`
	Default  bool             `json:"default" yaml:"default"`
	Rules    []style.Rule     `json:"rules" yaml:"rules"`
	Layers   []maplibre.Layer `json:"layers" yaml:"layers"`
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().String("theme", "", "Configured theme name or index (default: first theme)")
	compileCmd.Flags().String("url", "", "Feature layer URL (overrides --theme)")
	compileCmd.Flags().String("field", "", "Unique value field (with --url)")
	compileCmd.Flags().Bool("yaml", false, "Print YAML instead of JSON")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, compileCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("compile.theme", "theme")
	mustBind("compile.url", "url")
	mustBind("compile.field", "field")
	mustBind("compile.yaml", "yaml")
}

func runCompile(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	t, index, err := selectTheme(viper.GetString("compile.theme"), viper.GetString("compile.url"), viper.GetString("compile.field"))
	if err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	renderer, err := newClient().FetchRenderer(ctx, t.URL)
	if err != nil {
		return err
	}

	out, err := compileTheme(ctx, t.Label(), theme.SourceID(index), t.UniqueField, renderer)
	if err != nil {
		return err
	}

	logger.Debug("Compiled renderer", "theme", t.Label(), "rules", len(out.Rules), "layers", len(out.Layers))
	return writeCompileOutput(os.Stdout, out, viper.GetBool("compile.yaml"))
}

func compileTheme(ctx context.Context, name, sourceID, field string, renderer *esri.Renderer) (compileOutput, error) {
	out := compileOutput{Theme: name, SourceID: sourceID, Field: field, Rules: []style.Rule{}}

	if renderer == nil {
		out.Default = true
		out.Layers = layers.DefaultLayers(sourceID)
		return out, nil
	}

	// Without a registry the builder emits icon layers without decoding the images.
	builder := layers.NewBuilder(layers.Config{Logger: logger})
	out.Rules = style.Compile(renderer)
	built, err := builder.Build(ctx, out.Rules, sourceID, field)
	if err != nil {
		return compileOutput{}, err
	}
	out.Layers = built
	if out.Rules == nil {
		out.Rules = []style.Rule{}
	}
	return out, nil
}

func writeCompileOutput(w io.Writer, out compileOutput, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
