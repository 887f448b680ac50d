package zones

import (
	"fmt"

	"storefront-delivery/internal/models"

	"github.com/hashicorp/go-multierror"
)

// Conflicts reports every pair of zones in table sharing a radius. The
// returned error wraps models.ErrZoneConfigurationConflict once per duplicate;
// nil means the table is clean.
func Conflicts(table models.ZoneTable) error {
	var result *multierror.Error
	first := 0
	for i := 1; i < table.Len(); i++ {
		winner, cur := table.At(first), table.At(i)
		if winner.MaxDistanceKm != cur.MaxDistanceKm {
			first = i
			continue
		}
		result = multierror.Append(result, fmt.Errorf(
			"%w: zones %s and %s both cover %.2f km, %s wins",
			models.ErrZoneConfigurationConflict, winner.ID, cur.ID, cur.MaxDistanceKm, winner.ID))
	}
	return result.ErrorOrNil()
}

// Validate checks each zone's own attributes: positive radius, non-negative
// fee and an ordered time window.
func Validate(table models.ZoneTable) error {
	var result *multierror.Error
	for _, z := range table.Zones() {
		if z.MaxDistanceKm <= 0 {
			result = multierror.Append(result, fmt.Errorf("%w: zone %s radius %.2f must be positive", models.ErrInvalidZone, z.ID, z.MaxDistanceKm))
		}
		if z.Fee.IsNegative() {
			result = multierror.Append(result, fmt.Errorf("%w: zone %s fee %s is negative", models.ErrInvalidZone, z.ID, z.Fee))
		}
		if z.MinTime != nil && z.MaxTime != nil && *z.MinTime > *z.MaxTime {
			result = multierror.Append(result, fmt.Errorf("%w: zone %s min time %d exceeds max time %d", models.ErrInvalidZone, z.ID, *z.MinTime, *z.MaxTime))
		}
	}
	return result.ErrorOrNil()
}

// Warnings flattens Conflicts and Validate into messages for merchant display.
func Warnings(table models.ZoneTable) []string {
	var out []string
	for _, err := range []error{Conflicts(table), Validate(table)} {
		if merr, ok := err.(*multierror.Error); ok {
			for _, e := range merr.Errors {
				out = append(out, e.Error())
			}
		}
	}
	return out
}
