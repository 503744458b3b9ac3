// README: Pricing service quotes delivery and platform fees for a basket.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dropchain/internal/log"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/order"
)

// RateSource looks up the rate for a zone.
type RateSource interface {
	GetRate(ctx context.Context, zone string) (Rate, error)
}

type Service struct {
	rates RateSource
}

// NewService accepts a nil source, in which case DefaultRate is always used.
func NewService(rates RateSource) *Service {
	return &Service{rates: rates}
}

var ErrInvalidQuote = errors.New("invalid quote request")

func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.GoodsAmount < 0 {
		return Quote{}, fmt.Errorf("%w: negative goods amount", ErrInvalidQuote)
	}
	rate, err := s.rate(ctx, req.Zone)
	if err != nil {
		return Quote{}, err
	}
	at := req.RequestTime
	if at.IsZero() {
		at = time.Now()
	}

	dist := location.DistanceKm(req.Pickup, req.Dropoff)
	components := map[string]int64{"base": rate.BaseFee}

	if extra := dist - rate.BaseKm; extra > 0 && rate.UnitKm > 0 {
		units := int64(math.Ceil(extra / rate.UnitKm))
		components["distance"] = units * rate.PerUnitFee
	}
	switch {
	case isNight(at):
		components["night"] = rate.NightSurcharge
	case isPeak(at):
		components["peak"] = rate.PeakSurcharge
	}

	var fee int64
	for _, v := range components {
		fee += v
	}
	if m := weatherMultiplier(req.Weather); m != 1 {
		adjusted := int64(math.Ceil(float64(fee) * m))
		components["weather"] = adjusted - fee
		fee = adjusted
	}

	platform := int64(math.Ceil(float64(req.GoodsAmount) * float64(rate.PlatformFeeBps) / 10000))
	b := order.Breakdown{
		Goods:       req.GoodsAmount,
		DeliveryFee: fee,
		PlatformFee: platform,
		Total:       req.GoodsAmount + fee + platform,
		Currency:    rate.Currency,
	}
	return Quote{DistanceKm: dist, Breakdown: b, Components: components}, nil
}

func (s *Service) rate(ctx context.Context, zone string) (Rate, error) {
	if zone == "" {
		zone = DefaultRate.Zone
	}
	if s.rates == nil {
		return DefaultRate, nil
	}
	r, err := s.rates.GetRate(ctx, zone)
	if errors.Is(err, ErrNoRate) {
		log.L(ctx).Debugf("no rate for zone %q, using default", zone)
		return DefaultRate, nil
	}
	return r, err
}

// Meal peaks: 11:00-13:59 and 17:00-19:59 local time.
func isPeak(t time.Time) bool {
	h := t.Hour()
	return (h >= 11 && h < 14) || (h >= 17 && h < 20)
}

func isNight(t time.Time) bool {
	h := t.Hour()
	return h >= 23 || h < 6
}

func weatherMultiplier(w string) float64 {
	switch w {
	case "rain":
		return 1.15
	case "heavy_rain":
		return 1.3
	}
	return 1
}
