package models

import (
	"fmt"
	"strings"
)

// Coordinate is a (latitude, longitude) pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Validate checks that the coordinate lies on the globe.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidCoordinates)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidCoordinates)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Address is a structured postal address entered at checkout.
// Two addresses are the same address only when every field matches, so the
// struct is compared with ==.
type Address struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
}

// IsComplete reports whether the address carries enough fields to be geocoded:
// street, number and city.
func (a Address) IsComplete() bool {
	return strings.TrimSpace(a.Street) != "" &&
		strings.TrimSpace(a.Number) != "" &&
		strings.TrimSpace(a.City) != ""
}

// IsZero reports whether no field has been filled in.
func (a Address) IsZero() bool {
	return a == Address{}
}
