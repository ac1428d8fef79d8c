// Package cmd implements the esrioverlay command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "esrioverlay",
	Short: "Overlay ESRI feature services on a MapLibre map",
	Long: `esrioverlay queries ArcGIS feature layers for the visible map area, converts the
results to GeoJSON and styles them from each layer's unique-value renderer.

Themes are configured in config.yaml; the serve command keeps them in sync with the
viewport of connected MapLibre clients.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().Int("max-features", 1000, "Maximum features per query")
	rootCmd.PersistentFlags().Duration("timeout", 0, "HTTP timeout for feature service requests (0 = none)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"verbose", "verbose"},
		{"query.max_features", "max-features"},
		{"query.timeout", "timeout"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, rootCmd.PersistentFlags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("ESRIOVERLAY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
