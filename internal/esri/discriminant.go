package esri

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Discriminant is the single scalar a unique-value class matches on: a string, a
// float64, a bool or null. Renderers keyed on several fields are narrowed to their
// first field; the other fields are not represented.
type Discriminant struct {
	v any
}

// NewDiscriminant normalizes a decoded JSON value into a discriminant. Non-scalar
// values are kept as their string form.
func NewDiscriminant(v any) Discriminant {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return Discriminant{v: x}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Discriminant{v: f}
		}
		return Discriminant{v: x.String()}
	case int:
		return Discriminant{v: float64(x)}
	case int64:
		return Discriminant{v: float64(x)}
	case float32:
		return Discriminant{v: float64(x)}
	default:
		return Discriminant{v: fmt.Sprint(x)}
	}
}

// Value returns the scalar for use in filter expressions.
func (d Discriminant) Value() any {
	return d.v
}

// IsNull reports whether the class matches a null attribute.
func (d Discriminant) IsNull() bool {
	return d.v == nil
}

// String formats the discriminant for use inside layer and icon ids.
func (d Discriminant) String() string {
	switch x := d.v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func (d Discriminant) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.v)
}

func (d *Discriminant) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*d = NewDiscriminant(v)
	return nil
}

// MarshalYAML keeps YAML output identical to the JSON form.
func (d Discriminant) MarshalYAML() (any, error) {
	return d.v, nil
}
