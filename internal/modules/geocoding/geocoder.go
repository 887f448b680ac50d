package geocoding

import (
	"context"
	"strings"

	"storefront-delivery/internal/models"
)

// Geocoder is the geocoding provider. A nil result with a nil error means the
// provider answered but found nothing; errors are transport or quota failures.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*models.Coordinate, error)
	ReverseGeocode(ctx context.Context, c models.Coordinate) (*models.Address, error)
}

// Query joins the address into the single free-text line sent to the provider:
// "street number, neighborhood, city, postal code". The complement is left
// out since providers do not resolve it.
func Query(a models.Address) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street + " " + a.Number, a.Neighborhood, a.City, a.PostalCode} {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// normalizeKey folds case and whitespace so equivalent queries share a cache
// entry.
func normalizeKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
