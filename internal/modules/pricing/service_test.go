package pricing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dropchain/internal/types"
)

type staticRates map[string]Rate

func (r staticRates) GetRate(_ context.Context, zone string) (Rate, error) {
	rate, ok := r[zone]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %s", ErrNoRate, zone)
	}
	return rate, nil
}

func TestService_Quote(t *testing.T) {
	// Off-peak afternoon
	baseTime := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	// Lunch peak
	peakTime := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	// Night
	nightTime := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)

	here := types.Point{Lat: 25.0, Lng: 121.5}
	// 0.03 degrees of latitude is about 3.34 km.
	there := types.Point{Lat: 25.03, Lng: 121.5}

	tests := []struct {
		name    string
		req     QuoteRequest
		wantFee int64
	}{
		{
			name:    "Base fee only (same block)",
			req:     QuoteRequest{Pickup: here, Dropoff: here, RequestTime: baseTime},
			wantFee: 45,
		},
		{
			name: "Distance charge (3.34km -> 1.34km excess -> 3 units * $5)",
			req:  QuoteRequest{Pickup: here, Dropoff: there, RequestTime: baseTime},
			// 45 + 15
			wantFee: 60,
		},
		{
			name:    "Peak surcharge (+$15)",
			req:     QuoteRequest{Pickup: here, Dropoff: here, RequestTime: peakTime},
			wantFee: 60,
		},
		{
			name:    "Night surcharge (+$20)",
			req:     QuoteRequest{Pickup: here, Dropoff: here, RequestTime: nightTime},
			wantFee: 65,
		},
		{
			name: "Weather rain (x1.15)",
			req:  QuoteRequest{Pickup: here, Dropoff: here, RequestTime: baseTime, Weather: "rain"},
			// 45 * 1.15 = 51.75 -> 52
			wantFee: 52,
		},
		{
			name: "Complex combination",
			req:  QuoteRequest{Pickup: here, Dropoff: there, RequestTime: peakTime, Weather: "heavy_rain"},
			// (45 + 15 + 15) * 1.3 = 97.5 -> 98
			wantFee: 98,
		},
	}

	s := NewService(nil) // DefaultRate

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.GoodsAmount = 400
			got, err := s.Quote(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Quote() error = %v", err)
			}
			if got.Breakdown.DeliveryFee != tt.wantFee {
				t.Errorf("Quote() delivery fee = %v, want %v (components %v)", got.Breakdown.DeliveryFee, tt.wantFee, got.Components)
			}
			// 3% of 400
			if got.Breakdown.PlatformFee != 12 {
				t.Errorf("Quote() platform fee = %v, want 12", got.Breakdown.PlatformFee)
			}
			if !got.Breakdown.Balanced() {
				t.Errorf("Quote() breakdown not balanced: %+v", got.Breakdown)
			}
		})
	}
}

func TestService_QuoteZoneRates(t *testing.T) {
	rates := staticRates{
		"xinyi": {Zone: "xinyi", Currency: "TWD", BaseFee: 30, BaseKm: 1, PerUnitFee: 10, UnitKm: 1, PlatformFeeBps: 1000},
	}
	s := NewService(rates)
	at := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	p := types.Point{Lat: 25.03, Lng: 121.56}

	got, err := s.Quote(context.Background(), QuoteRequest{Zone: "xinyi", Pickup: p, Dropoff: p, GoodsAmount: 250, RequestTime: at})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if got.Breakdown.DeliveryFee != 30 || got.Breakdown.PlatformFee != 25 || got.Breakdown.Total != 305 {
		t.Errorf("unexpected zone quote: %+v", got.Breakdown)
	}

	got, err = s.Quote(context.Background(), QuoteRequest{Zone: "unknown", Pickup: p, Dropoff: p, GoodsAmount: 100, RequestTime: at})
	if err != nil {
		t.Fatalf("Quote() fallback error = %v", err)
	}
	if got.Breakdown.DeliveryFee != DefaultRate.BaseFee {
		t.Errorf("expected default rate fallback, got %+v", got.Breakdown)
	}

	_, err = s.Quote(context.Background(), QuoteRequest{GoodsAmount: -1})
	if !errors.Is(err, ErrInvalidQuote) {
		t.Errorf("expected ErrInvalidQuote, got %v", err)
	}
}
