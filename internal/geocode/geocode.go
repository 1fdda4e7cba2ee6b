package geocode

import (
	"context"
	"errors"
	"math"
	"strings"
)

var ErrNotFound = errors.New("geocode not found")

type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat float64, lon float64, displayName string, confidence float64, err error)
}

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BuildGeocodeQuery joins the non-empty parts most specific last, e.g. "대한민국, 서울시 강남구".
func BuildGeocodeQuery(country string, location string) string {
	parts := []string{}
	for _, p := range []string{country, location} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Locate geocodes a free-text location. A location that already names the country is sent as is.
func Locate(ctx context.Context, g Geocoder, country, location string) (Point, error) {
	query := BuildGeocodeQuery(country, location)
	if country != "" && strings.Contains(location, country) {
		query = strings.TrimSpace(location)
	}
	if query == "" {
		return Point{}, ErrNotFound
	}
	lat, lon, _, _, err := g.Geocode(ctx, query)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: lat, Lon: lon}, nil
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(d float64) float64 {
	return d * math.Pi / 180
}
