package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a fixed-duration OHLCV aggregate. A candle is immutable once its
// window has closed; the latest candle stays mutable until then.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// IsClosed reports whether the candle's window has ended at the given time.
func (c Candle) IsClosed(tf TimeFrame, now time.Time) bool {
	return !c.OpenTime.Add(tf.Duration()).After(now)
}

// Merge folds a later observation of the same window into the candle,
// keeping the widest high/low range and the latest close and volume.
func (c Candle) Merge(other Candle) Candle {
	merged := c
	if other.High.GreaterThan(merged.High) {
		merged.High = other.High
	}
	if other.Low.LessThan(merged.Low) {
		merged.Low = other.Low
	}
	merged.Close = other.Close
	merged.Volume = other.Volume
	return merged
}
