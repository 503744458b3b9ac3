// README: Delivery rate definition per zone and the quote it produces.
package pricing

import (
	"time"

	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

type Rate struct {
	Zone           string
	Currency       string
	BaseFee        int64
	BaseKm         float64 // distance covered by BaseFee
	PerUnitFee     int64
	UnitKm         float64
	PeakSurcharge  int64
	NightSurcharge int64
	PlatformFeeBps int64 // basis points of the goods amount
}

// DefaultRate applies when no zone rate is configured.
var DefaultRate = Rate{
	Zone:           "default",
	Currency:       "TWD",
	BaseFee:        45,
	BaseKm:         2.0,
	PerUnitFee:     5,
	UnitKm:         0.5,
	PeakSurcharge:  15,
	NightSurcharge: 20,
	PlatformFeeBps: 300,
}

type QuoteRequest struct {
	Zone        string      `json:"zone"`
	Pickup      types.Point `json:"pickup"`
	Dropoff     types.Point `json:"dropoff"`
	GoodsAmount int64       `json:"goods_amount"`
	RequestTime time.Time   `json:"request_time"`
	Weather     string      `json:"weather"` // "rain", "heavy_rain", "normal"
}

type Quote struct {
	DistanceKm float64          `json:"distance_km"`
	Breakdown  order.Breakdown  `json:"breakdown"`
	Components map[string]int64 `json:"components"`
}
