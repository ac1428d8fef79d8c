// Package geojson converts ESRI feature-sets into the GeoJSON model map renderers consume.
package geojson

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/MeKo-Tech/esrioverlay/internal/esri"
)

// GeometryToGeoJSON converts an ESRI geometry to its orb equivalent.
// A single path becomes a LineString, several a MultiLineString. A single ring becomes
// a Polygon; several rings become a MultiPolygon with one polygon per ring, since ESRI
// rings carry no explicit outer/hole grouping. Nil or unclassified geometry yields nil.
func GeometryToGeoJSON(g *esri.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}

	switch g.Kind {
	case esri.GeometryPoint:
		return orb.Point{g.X, g.Y}
	case esri.GeometryMultiPoint:
		return toMultiPoint(g.Points)
	case esri.GeometryPath:
		if len(g.Paths) == 1 {
			return toLineString(g.Paths[0])
		}
		mls := make(orb.MultiLineString, len(g.Paths))
		for i, path := range g.Paths {
			mls[i] = toLineString(path)
		}
		return mls
	case esri.GeometryRing:
		if len(g.Rings) == 1 {
			return orb.Polygon{toRing(g.Rings[0])}
		}
		mp := make(orb.MultiPolygon, len(g.Rings))
		for i, ring := range g.Rings {
			mp[i] = orb.Polygon{toRing(ring)}
		}
		return mp
	default:
		return nil
	}
}

// FeatureSetToGeoJSON converts a feature-set to a FeatureCollection, one feature per
// input feature in input order, with the attributes as properties.
func FeatureSetToGeoJSON(fs *esri.FeatureSet) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if fs == nil {
		return fc
	}

	for _, f := range fs.Features {
		feature := geojson.NewFeature(GeometryToGeoJSON(f.Geometry))
		for key, value := range f.Attributes {
			feature.Properties[key] = value
		}
		fc.Append(feature)
	}

	return fc
}

// ToGeoJSONBytes converts a feature-set to GeoJSON bytes
func ToGeoJSONBytes(fs *esri.FeatureSet) ([]byte, error) {
	data, err := json.Marshal(FeatureSetToGeoJSON(fs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	return data, nil
}

// Summary describes a collection by geometry type, for logs.
func Summary(fc *geojson.FeatureCollection) string {
	counts := map[string]int{}
	order := []string{}
	for _, f := range fc.Features {
		kind := "Null"
		if f.Geometry != nil {
			kind = f.Geometry.GeoJSONType()
		}
		if counts[kind] == 0 {
			order = append(order, kind)
		}
		counts[kind]++
	}

	s := fmt.Sprintf("%d features", len(fc.Features))
	for i, kind := range order {
		sep := ", "
		if i == 0 {
			sep = " ("
		}
		s += fmt.Sprintf("%s%s: %d", sep, kind, counts[kind])
	}
	if len(order) > 0 {
		s += ")"
	}
	return s
}

func toMultiPoint(positions [][]float64) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(positions))
	for i, p := range positions {
		mp[i] = orb.Point{p[0], p[1]}
	}
	return mp
}

func toLineString(positions [][]float64) orb.LineString {
	return orb.LineString(toMultiPoint(positions))
}

func toRing(positions [][]float64) orb.Ring {
	return orb.Ring(toMultiPoint(positions))
}
