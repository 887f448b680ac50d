package models

// CreateSessionRequest opens a fee session for one checkout attempt.
type CreateSessionRequest struct {
	MerchantID string         `json:"merchant_id" validate:"required"`
	Option     DeliveryOption `json:"delivery_option,omitempty" validate:"omitempty,oneof=delivery pickup"`
}

// SetAddressRequest replaces the session address wholesale.
type SetAddressRequest struct {
	Street       string `json:"street" validate:"max=200"`
	Number       string `json:"number" validate:"max=20"`
	Complement   string `json:"complement,omitempty" validate:"max=120"`
	Neighborhood string `json:"neighborhood" validate:"max=120"`
	City         string `json:"city" validate:"max=120"`
	PostalCode   string `json:"postal_code" validate:"max=20"`
}

func (r SetAddressRequest) Address() Address {
	return Address{
		Street:       r.Street,
		Number:       r.Number,
		Complement:   r.Complement,
		Neighborhood: r.Neighborhood,
		City:         r.City,
		PostalCode:   r.PostalCode,
	}
}

type DeliveryOptionRequest struct {
	Option DeliveryOption `json:"delivery_option" validate:"required,oneof=delivery pickup"`
}

// LocateRequest asks for the address at a device location.
type LocateRequest struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// SessionResponse is the polled view of a fee session.
type SessionResponse struct {
	ID           string           `json:"id"`
	MerchantID   string           `json:"merchant_id"`
	State        SessionState     `json:"state"`
	Option       DeliveryOption   `json:"delivery_option"`
	Address      *Address         `json:"address,omitempty"`
	Result       ResolutionResult `json:"result"`
	Coordinate   *Coordinate      `json:"coordinate,omitempty"`
	AddressSaved bool             `json:"is_address_saved"`
	FeeChanged   bool             `json:"fee_changed"`
}

// ZoneTableResponse lists a merchant's current zones along with configuration
// warnings.
type ZoneTableResponse struct {
	MerchantID string         `json:"merchant_id"`
	Version    int64          `json:"version"`
	Zones      []DeliveryZone `json:"zones"`
	Warnings   []string       `json:"warnings,omitempty"`
}
