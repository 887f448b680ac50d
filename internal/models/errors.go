package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrInvalidCoordinates = errors.New("invalid coordinates")
var ErrSessionClosed = errors.New("fee session is closed")
var ErrInvalidDeliveryOption = errors.New("unknown delivery option")

// Customer-facing resolution outcomes. Each one is terminal for the address
// that produced it and only a new address edit leaves it.
var ErrIncompleteAddress = errors.New("address is missing required fields")
var ErrGeocodeFailed = errors.New("address could not be located")
var ErrOutOfCoverage = errors.New("address is outside every delivery zone")

// ErrResolutionPending is returned by Save while the current address has not
// produced a decision yet.
var ErrResolutionPending = errors.New("delivery fee is still being resolved")
var ErrPickupSelected = errors.New("delivery option is pickup")

// ErrZoneConfigurationConflict marks two zones of one merchant sharing a radius.
// It is logged as a merchant warning and never fails checkout.
var ErrZoneConfigurationConflict = errors.New("zone configuration conflict")
var ErrInvalidZone = errors.New("invalid delivery zone")

// ErrorResponse is the JSON body returned by handlers on failure.
type ErrorResponse struct {
	Message string `json:"message"`
}
