package location

import (
	"math"
	"testing"
	"time"

	"dropchain/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 25.033, lng1: 121.565,
			lat2: 25.033, lng2: 121.565,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "Taipei 101 to Taipei Main Station",
			lat1: 25.0340, lng1: 121.5645,
			lat2: 25.0478, lng2: 121.5170,
			wantKm:    5.0,
			tolerance: 0.5,
		},
		{
			name: "New York to Los Angeles (~3944km)",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := haversineKm(25.0, 121.0, 26.0, 122.0)
	d2 := haversineKm(26.0, 122.0, 25.0, 121.0)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestTrailDistanceKm(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trail := []types.Sample{
		{Point: types.Point{Lat: 25.0, Lng: 121.0}, RecordedAt: at},
		{Point: types.Point{Lat: 25.0, Lng: 121.01}, RecordedAt: at.Add(time.Minute)},
		{Point: types.Point{Lat: 25.01, Lng: 121.01}, RecordedAt: at.Add(2 * time.Minute)},
	}
	want := DistanceKm(trail[0].Point, trail[1].Point) + DistanceKm(trail[1].Point, trail[2].Point)
	if got := TrailDistanceKm(trail); math.Abs(got-want) > 1e-9 {
		t.Errorf("TrailDistanceKm() = %f, want %f", got, want)
	}
	if got := TrailDistanceKm(trail[:1]); got != 0 {
		t.Errorf("single sample trail should be 0, got %f", got)
	}
	if got := TrailDistanceKm(nil); got != 0 {
		t.Errorf("empty trail should be 0, got %f", got)
	}
}

func TestSortByDistance_Couriers(t *testing.T) {
	couriers := []NearbyCourier{
		{CourierID: types.ID("c"), DistanceKm: 5.0},
		{CourierID: types.ID("a"), DistanceKm: 1.0},
		{CourierID: types.ID("b"), DistanceKm: 3.0},
	}

	sortByDistance(couriers, func(c NearbyCourier) float64 { return c.DistanceKm })

	if couriers[0].CourierID != "a" || couriers[1].CourierID != "b" || couriers[2].CourierID != "c" {
		t.Errorf("unexpected sort order: %v", couriers)
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var couriers []NearbyCourier
	sortByDistance(couriers, func(c NearbyCourier) float64 { return c.DistanceKm })
}
