package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Storefront is the merchant location deliveries are measured from.
type Storefront struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Location  Coordinate `json:"location"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DeliveryZone is one distance tier of a merchant. MinTime and MaxTime are
// minutes and may be absent.
type DeliveryZone struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id"`
	MaxDistanceKm float64         `json:"max_distance_km"`
	Fee           decimal.Decimal `json:"fee"`
	MinTime       *int            `json:"min_time,omitempty"`
	MaxTime       *int            `json:"max_time,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ZoneTable is an immutable snapshot of a merchant's active zones ordered by
// ascending radius. A new snapshot replaces the old one wholesale.
type ZoneTable struct {
	merchantID string
	version    int64
	zones      []DeliveryZone
}

// NewZoneTable builds a snapshot from zones given in insertion order. Inactive
// zones are dropped; the sort is stable so zones sharing a radius keep their
// insertion order.
func NewZoneTable(merchantID string, version int64, zones []DeliveryZone) ZoneTable {
	active := make([]DeliveryZone, 0, len(zones))
	for _, z := range zones {
		if z.Active {
			active = append(active, z)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MaxDistanceKm < active[j].MaxDistanceKm
	})
	return ZoneTable{merchantID: merchantID, version: version, zones: active}
}

func (t ZoneTable) MerchantID() string { return t.merchantID }
func (t ZoneTable) Version() int64 { return t.version }
func (t ZoneTable) Len() int { return len(t.zones) }

// Zones returns a copy of the ordered zones.
func (t ZoneTable) Zones() []DeliveryZone {
	out := make([]DeliveryZone, len(t.zones))
	copy(out, t.zones)
	return out
}

// At returns the i-th zone in ascending radius order.
func (t ZoneTable) At(i int) DeliveryZone {
	return t.zones[i]
}

type zoneTableJSON struct {
	MerchantID string         `json:"merchant_id"`
	Version    int64          `json:"version"`
	Zones      []DeliveryZone `json:"zones"`
}

func (t ZoneTable) MarshalJSON() ([]byte, error) {
	zones := t.zones
	if zones == nil {
		zones = []DeliveryZone{}
	}
	return json.Marshal(zoneTableJSON{MerchantID: t.merchantID, Version: t.version, Zones: zones})
}

// UnmarshalJSON decodes a complete snapshot; the zones are re-ordered and
// filtered the same way NewZoneTable does.
func (t *ZoneTable) UnmarshalJSON(data []byte) error {
	var raw zoneTableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = NewZoneTable(raw.MerchantID, raw.Version, raw.Zones)
	return nil
}
