package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

type object struct {
	Type        string        `json:"type"`
	Features    []object      `json:"features"`
	Geometry    *object       `json:"geometry"`
	Coordinates []interface{} `json:"coordinates"`
}

func newPointFromCoords(coords []interface{}) (Point, error) {
	p := Point{}
	if len(coords) < 2 {
		return p, errors.New("point list length not 2")
	}
	var ok bool
	p.Long, ok = coords[0].(float64)
	if !ok {
		return p, errors.New("invalid lon")
	}
	p.Lat, ok = coords[1].(float64)
	if !ok {
		return p, errors.New("invalid lat")
	}
	return p, nil
}

func newRingFromCoords(coords []interface{}) (Ring, error) {
	ring := Ring{}
	for _, part := range coords {
		coord, ok := part.([]interface{})
		if !ok {
			return nil, errors.New("point not a list")
		}
		p, err := newPointFromCoords(coord)
		if err != nil {
			return nil, err
		}
		ring = append(ring, p)
	}
	return ring, nil
}

func newPolygonFromCoords(coords []interface{}) (Polygon, error) {
	poly := Polygon{}
	for i, part := range coords {
		ringCoords, ok := part.([]interface{})
		if !ok {
			return poly, errors.New("polygon ring not a list")
		}
		ring, err := newRingFromCoords(ringCoords)
		if err != nil {
			return poly, err
		}
		if i == 0 {
			poly.Outer = ring
		} else {
			poly.Holes = append(poly.Holes, ring)
		}
	}
	return poly, nil
}

func newMultiPolygonFromCoords(coords []interface{}) ([]Polygon, error) {
	mp := []Polygon{}
	for _, part := range coords {
		polyCoords, ok := part.([]interface{})
		if !ok {
			return mp, errors.New("multipolygon polygon not a list")
		}
		poly, err := newPolygonFromCoords(polyCoords)
		if err != nil {
			return mp, err
		}
		mp = append(mp, poly)
	}
	return mp, nil
}

func constructPolygons(obj *object) ([]Polygon, error) {
	switch obj.Type {
	case "Polygon":
		poly, err := newPolygonFromCoords(obj.Coordinates)
		if err != nil {
			return nil, err
		}
		return []Polygon{poly}, nil
	case "MultiPolygon":
		return newMultiPolygonFromCoords(obj.Coordinates)
	case "Feature":
		if obj.Geometry == nil {
			return nil, errors.New("feature without geometry")
		}
		return constructPolygons(obj.Geometry)
	case "FeatureCollection":
		polygons := []Polygon{}
		for i := range obj.Features {
			p, err := constructPolygons(&obj.Features[i])
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, p...)
		}
		return polygons, nil
	}
	return nil, fmt.Errorf("unsupported geojson type %q", obj.Type)
}

// ParseGeoJSON reads (Multi)Polygon geometries from GeoJSON.
func ParseGeoJSON(r io.Reader) ([]Polygon, error) {
	obj := &object{}
	if err := json.NewDecoder(r).Decode(obj); err != nil {
		return nil, err
	}
	return constructPolygons(obj)
}

// LimiterFromGeoJSON loads the import area filter from a GeoJSON file.
func LimiterFromGeoJSON(filename string) (*Limiter, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	polygons, err := ParseGeoJSON(f)
	if err != nil {
		return nil, err
	}
	if len(polygons) == 0 {
		return nil, errors.New("no polygons in geojson")
	}
	return NewLimiter(polygons), nil
}
