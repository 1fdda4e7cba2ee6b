package geocode

import (
	"context"
	"math"
	"testing"
)

func TestBuildGeocodeQuery(t *testing.T) {
	q := BuildGeocodeQuery("대한민국", " 서울시 강남구 ")
	if q != "대한민국, 서울시 강남구" {
		t.Fatalf("unexpected query: %s", q)
	}
	if q := BuildGeocodeQuery("", "부산시 해운대구"); q != "부산시 해운대구" {
		t.Fatalf("unexpected query without country: %s", q)
	}
}

func TestDistanceKm(t *testing.T) {
	seoul := Point{Lat: 37.5665, Lon: 126.9780}
	busan := Point{Lat: 35.1796, Lon: 129.0756}
	d := DistanceKm(seoul, busan)
	if math.Abs(d-325) > 5 {
		t.Fatalf("expected about 325km Seoul to Busan, got %f", d)
	}
	if DistanceKm(seoul, seoul) != 0 {
		t.Fatalf("expected zero distance to self")
	}
}

type stubGeocoder struct {
	queries []string
}

func (s *stubGeocoder) Geocode(ctx context.Context, query string) (float64, float64, string, float64, error) {
	s.queries = append(s.queries, query)
	return 37.5, 127.0, query, 1, nil
}

func TestLocate(t *testing.T) {
	g := &stubGeocoder{}
	p, err := Locate(context.Background(), g, "대한민국", "서울시 강남구")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Lat != 37.5 || p.Lon != 127.0 {
		t.Fatalf("unexpected point: %+v", p)
	}
	if _, err := Locate(context.Background(), g, "대한민국", "대한민국 서울시 종로구"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.queries[0] != "대한민국, 서울시 강남구" || g.queries[1] != "대한민국 서울시 종로구" {
		t.Fatalf("unexpected queries: %v", g.queries)
	}
	if _, err := Locate(context.Background(), g, "", " "); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for empty location, got %v", err)
	}
}
