package types

import "fmt"

// Theme configures one remote overlay backed by an ESRI feature layer.
type Theme struct {
	Name        string `mapstructure:"name" json:"name" yaml:"name"`
	URL         string `mapstructure:"url" json:"url" yaml:"url"`
	UniqueField string `mapstructure:"unique_field" json:"uniqueField" yaml:"unique_field"`
}

// Validate checks that the theme can be queried and styled.
func (t Theme) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("theme %q: url is required", t.Name)
	}
	if t.UniqueField == "" {
		return fmt.Errorf("theme %q: unique_field is required", t.Name)
	}
	return nil
}

// Label returns the name used in logs and warnings.
func (t Theme) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}
