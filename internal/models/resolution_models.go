package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionKind tells which outcome a ResolutionResult carries.
type ResolutionKind string

const (
	KindResolved      ResolutionKind = "RESOLVED"
	KindOutOfCoverage ResolutionKind = "OUT_OF_COVERAGE"
	KindGeocodeFailed ResolutionKind = "GEOCODE_FAILED"
	KindIncomplete    ResolutionKind = "INCOMPLETE"
)

// ResolutionResult is produced fresh by every resolution attempt. Fee, times,
// distance and zone are only meaningful for KindResolved; DistanceKm is also
// set for KindOutOfCoverage.
type ResolutionResult struct {
	Kind       ResolutionKind  `json:"kind"`
	Fee        decimal.Decimal `json:"fee"`
	MinTime    int             `json:"min_time,omitempty"`
	MaxTime    int             `json:"max_time,omitempty"`
	DistanceKm float64         `json:"distance_km,omitempty"`
	ZoneID     string          `json:"zone_id,omitempty"`
}

// Resolved is a fee and time window from the zone matching the distance.
func Resolved(zoneID string, fee decimal.Decimal, minTime, maxTime int, distanceKm float64) ResolutionResult {
	return ResolutionResult{
		Kind:       KindResolved,
		Fee:        fee,
		MinTime:    minTime,
		MaxTime:    maxTime,
		DistanceKm: distanceKm,
		ZoneID:     zoneID,
	}
}

// OutOfCoverage means the address lies beyond every active zone.
func OutOfCoverage(distanceKm float64) ResolutionResult {
	return ResolutionResult{Kind: KindOutOfCoverage, DistanceKm: distanceKm}
}

// GeocodeFailed means the provider had no coordinate for the address.
func GeocodeFailed() ResolutionResult { return ResolutionResult{Kind: KindGeocodeFailed} }

// Incomplete means the address lacks a field required to geocode it.
func Incomplete() ResolutionResult { return ResolutionResult{Kind: KindIncomplete} }

// IsZero reports whether no resolution has happened yet.
func (r ResolutionResult) IsZero() bool { return r.Kind == "" }

// Err maps the outcome to its sentinel error; nil for a resolved fee.
func (r ResolutionResult) Err() error {
	switch r.Kind {
	case KindResolved:
		return nil
	case KindOutOfCoverage:
		return ErrOutOfCoverage
	case KindGeocodeFailed:
		return ErrGeocodeFailed
	case KindIncomplete:
		return ErrIncompleteAddress
	}
	return ErrResolutionPending
}

// SameDecision reports whether two results agree on coverage, fee and time
// window. Distance is ignored.
func (r ResolutionResult) SameDecision(o ResolutionResult) bool {
	if r.Kind != o.Kind {
		return false
	}
	if r.Kind != KindResolved {
		return true
	}
	return r.Fee.Equal(o.Fee) && r.MinTime == o.MinTime && r.MaxTime == o.MaxTime
}

// SessionState is the phase of a fee session.
type SessionState string

const (
	StateIdle           SessionState = "IDLE"
	StateIncomplete     SessionState = "INCOMPLETE"
	StatePendingGeocode SessionState = "PENDING_GEOCODE"
	StateResolved       SessionState = "RESOLVED"
	StateOutOfCoverage  SessionState = "OUT_OF_COVERAGE"
	StateGeocodeFailed  SessionState = "GEOCODE_FAILED"
)

// DeliveryOption is the checkout choice between delivery and pickup.
type DeliveryOption string

const (
	OptionDelivery DeliveryOption = "delivery"
	OptionPickup   DeliveryOption = "pickup"
)

// Quote is the fee decision confirmed by Save. Checkout persists it with the
// order.
type Quote struct {
	MerchantID string          `json:"merchant_id"`
	Address    Address         `json:"address"`
	Coordinate Coordinate      `json:"coordinate"`
	ZoneID     string          `json:"zone_id"`
	Fee        decimal.Decimal `json:"fee"`
	MinTime    int             `json:"min_time"`
	MaxTime    int             `json:"max_time"`
	DistanceKm float64         `json:"distance_km"`
	SavedAt    time.Time       `json:"saved_at"`
}
