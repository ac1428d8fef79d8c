package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/viper"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

// loadThemes reads the themes list from the configuration.
func loadThemes() ([]types.Theme, error) {
	var themes []types.Theme
	if err := viper.UnmarshalKey("themes", &themes); err != nil {
		return nil, fmt.Errorf("failed to read themes: %w", err)
	}
	for i, t := range themes {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("theme %d: %w", i, err)
		}
	}
	return themes, nil
}

// selectTheme returns the theme given on the command line: an ad-hoc --url/--field
// pair, or a configured theme by name or index. The second result is the theme's
// position in the configuration, or 0 for ad-hoc themes.
func selectTheme(name, url, field string) (types.Theme, int, error) {
	if url != "" {
		return types.Theme{Name: name, URL: url, UniqueField: field}, 0, nil
	}

	themes, err := loadThemes()
	if err != nil {
		return types.Theme{}, 0, err
	}
	if len(themes) == 0 {
		return types.Theme{}, 0, errors.New("no themes configured; pass --url or add themes to the config file")
	}
	if name == "" {
		return themes[0], 0, nil
	}
	for i, t := range themes {
		if t.Name == name {
			return t, i, nil
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(themes) {
		return themes[i], i, nil
	}
	return types.Theme{}, 0, fmt.Errorf("theme %q not found", name)
}

func newClient() *esri.Client {
	return esri.NewClient(viper.GetDuration("query.timeout"), logger)
}
