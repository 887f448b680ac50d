package zones

import (
	"math"

	"storefront-delivery/internal/models"
)

// TimeWindow is a delivery estimate in minutes.
type TimeWindow struct {
	MinMinutes int
	MaxMinutes int
}

// DefaultFallbackWindow is used for zones without explicit times unless the
// FALLBACK_MIN_TIME / FALLBACK_MAX_TIME settings override it.
var DefaultFallbackWindow = TimeWindow{MinMinutes: 30, MaxMinutes: 45}

// Resolver matches a distance against a merchant's zone table.
type Resolver struct {
	fallback TimeWindow
}

// NewResolver returns a Resolver that fills missing zone times from fallback.
func NewResolver(fallback TimeWindow) *Resolver {
	if fallback.MaxMinutes < fallback.MinMinutes {
		fallback.MaxMinutes = fallback.MinMinutes
	}
	return &Resolver{fallback: fallback}
}

// Fallback returns the configured default time window.
func (r *Resolver) Fallback() TimeWindow { return r.fallback }

// Resolve returns the first zone, in ascending radius order, whose radius
// covers distanceKm. The bound is inclusive. Zones sharing a radius resolve to
// the earlier-inserted one; reporting the conflict is up to the caller.
func (r *Resolver) Resolve(distanceKm float64, table models.ZoneTable) models.ResolutionResult {
	shown := math.Round(distanceKm*100) / 100
	for i := 0; i < table.Len(); i++ {
		z := table.At(i)
		if z.MaxDistanceKm >= distanceKm {
			w := r.window(z)
			return models.Resolved(z.ID, z.Fee, w.MinMinutes, w.MaxMinutes, shown)
		}
	}
	return models.OutOfCoverage(shown)
}

// ResolveFrom measures the distance from origin to dest and resolves it.
func (r *Resolver) ResolveFrom(origin, dest models.Coordinate, table models.ZoneTable) models.ResolutionResult {
	return r.Resolve(DistanceKm(origin, dest), table)
}

// window returns the zone's own times; each missing bound falls back
// independently and the max never ends up below the min.
func (r *Resolver) window(z models.DeliveryZone) TimeWindow {
	w := r.fallback
	if z.MinTime != nil {
		w.MinMinutes = *z.MinTime
	}
	if z.MaxTime != nil {
		w.MaxMinutes = *z.MaxTime
	}
	if w.MaxMinutes < w.MinMinutes {
		w.MaxMinutes = w.MinMinutes
	}
	return w
}
