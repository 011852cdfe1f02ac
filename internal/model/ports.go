package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the engine from the price tracker, the curve
// data source, storage and the execution side.

// ObservationSource returns the latest observation for one asset.
type ObservationSource interface {
	// Fetch must honour ctx; it is always called outside any series lock.
	Fetch(ctx context.Context, assetID string) (Observation, error)
}

// CurveSource supplies liquidity / bonding-curve readings. A nil result with
// a nil error means no reading is available, which blocks Buy signals.
type CurveSource interface {
	Curve(ctx context.Context, assetID string) (*CurveFacts, error)
}

// ObservationJournal persists recorded observations for replay.
type ObservationJournal interface {
	Append(ctx context.Context, obs Observation) error

	// Close releases underlying resources.
	Close() error
}
