package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidObservation is returned for observations that must never enter a series.
var ErrInvalidObservation = errors.New("invalid observation")

// Observation is one periodic sample of a traded asset.
//
// ObservedAt keeps Go's monotonic clock reading when it comes from time.Now(),
// so rate limiting via ObservedAt.Sub is immune to wall-clock jumps. The
// persisted form (ObservationRecord) carries the wall clock only.
type Observation struct {
	AssetID    string
	Price      float64
	Volume     float64
	BuyCount   int64
	SellCount  int64
	MarketCap  *float64
	ObservedAt time.Time
}

// Validate reports why an observation is unusable, or nil.
func (o Observation) Validate() error {
	switch {
	case o.AssetID == "":
		return fmt.Errorf("%w: empty asset id", ErrInvalidObservation)
	case !(o.Price > 0) || math.IsInf(o.Price, 0):
		return fmt.Errorf("%w: price %v must be positive and finite", ErrInvalidObservation, o.Price)
	case !finite(o.Volume) || o.Volume < 0:
		return fmt.Errorf("%w: volume %v must be finite and non-negative", ErrInvalidObservation, o.Volume)
	case o.BuyCount < 0 || o.SellCount < 0:
		return fmt.Errorf("%w: negative transaction count (buys=%d sells=%d)",
			ErrInvalidObservation, o.BuyCount, o.SellCount)
	case o.MarketCap != nil && (!finite(*o.MarketCap) || *o.MarketCap < 0):
		return fmt.Errorf("%w: market cap %v must be finite and non-negative", ErrInvalidObservation, *o.MarketCap)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Record converts the observation to its wall-clock-only persisted form.
func (o Observation) Record() ObservationRecord {
	r := ObservationRecord{
		AssetID:   o.AssetID,
		Timestamp: o.ObservedAt.UTC().Format(time.RFC3339Nano),
		Price:     o.Price,
		Volume:    o.Volume,
		BuyCount:  o.BuyCount,
		SellCount: o.SellCount,
	}
	if o.MarketCap != nil {
		mc := *o.MarketCap
		r.MarketCap = &mc
	}
	return r
}

// ObservationRecord is the storage / replay representation of an Observation.
type ObservationRecord struct {
	AssetID   string   `json:"asset_id,omitempty"`
	Timestamp string   `json:"timestamp"` // ISO-8601 (RFC3339Nano, UTC)
	Price     float64  `json:"price"`
	Volume    float64  `json:"volume"`
	BuyCount  int64    `json:"buy_count"`
	SellCount int64    `json:"sell_count"`
	MarketCap *float64 `json:"market_cap,omitempty"`
}

// Observation converts the record back. assetID overrides the record's own
// asset id when non-empty (journals keyed by asset omit it per row).
func (r ObservationRecord) Observation(assetID string) (Observation, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Observation{}, fmt.Errorf("parse timestamp %q: %w", r.Timestamp, err)
	}
	if assetID == "" {
		assetID = r.AssetID
	}
	o := Observation{
		AssetID:    assetID,
		Price:      r.Price,
		Volume:     r.Volume,
		BuyCount:   r.BuyCount,
		SellCount:  r.SellCount,
		ObservedAt: ts,
	}
	if r.MarketCap != nil {
		mc := *r.MarketCap
		o.MarketCap = &mc
	}
	return o, nil
}

// MarshalJSON encodes the observation in its persisted form.
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Record())
}

// UnmarshalJSON decodes the persisted form.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var r ObservationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	obs, err := r.Observation("")
	if err != nil {
		return err
	}
	*o = obs
	return nil
}

// Key returns the asset id; kept for symmetry with other keyed model types.
func (o *Observation) Key() string {
	return o.AssetID
}
