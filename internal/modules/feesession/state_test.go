package feesession

import (
	"errors"
	"testing"
	"time"

	"storefront-delivery/internal/models"
	"storefront-delivery/internal/modules/zones"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMachine() Machine {
	return Machine{Origin: origin, Resolver: zones.NewResolver(zones.DefaultFallbackWindow)}
}

func TestApplyAddressChangedBumpsToken(t *testing.T) {
	m := testMachine()
	s := NewState(tieredZones())

	s1, eff := m.Apply(s, AddressChanged{Address: addrA})
	assert.Equal(t, uint64(1), s1.Token)
	assert.Equal(t, models.StatePendingGeocode, s1.Phase)
	assert.True(t, eff.StartDebounce)
	assert.Equal(t, uint64(1), eff.Token)
	assert.True(t, eff.Publish)

	s2, _ := m.Apply(s1, AddressChanged{Address: addrA})
	assert.Equal(t, uint64(2), s2.Token, "same address still counts as an edit")
}

func TestApplyDebounceOnlyForCurrentToken(t *testing.T) {
	m := testMachine()
	s, _ := m.Apply(NewState(tieredZones()), AddressChanged{Address: addrA})
	s, _ = m.Apply(s, AddressChanged{Address: addrB})

	_, eff := m.Apply(s, DebounceElapsed{Token: 1})
	assert.True(t, eff.Stale)
	assert.False(t, eff.Geocode)

	_, eff = m.Apply(s, DebounceElapsed{Token: 2})
	assert.True(t, eff.Geocode)
	assert.Equal(t, addrB, eff.Address)
}

func TestApplyGeocodeCompleted(t *testing.T) {
	m := testMachine()
	pending, _ := m.Apply(NewState(tieredZones()), AddressChanged{Address: addrA})

	tests := []struct {
		name  string
		ev    GeocodeCompleted
		phase models.SessionState
		stale bool
	}{
		{"resolved", GeocodeCompleted{Token: 1, Coordinate: near}, models.StateResolved, false},
		{"out of coverage", GeocodeCompleted{Token: 1, Coordinate: far}, models.StateOutOfCoverage, false},
		{"not found", GeocodeCompleted{Token: 1}, models.StateGeocodeFailed, false},
		{"error", GeocodeCompleted{Token: 1, Err: errors.New("boom")}, models.StateGeocodeFailed, false},
		{"stale", GeocodeCompleted{Token: 0, Coordinate: near}, models.StatePendingGeocode, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, eff := m.Apply(pending, tt.ev)
			assert.Equal(t, tt.phase, next.Phase)
			assert.Equal(t, tt.stale, eff.Stale)
			assert.Equal(t, !tt.stale, eff.Publish)
		})
	}
}

func TestApplyDuplicateCompletionIsStale(t *testing.T) {
	m := testMachine()
	s, _ := m.Apply(NewState(tieredZones()), AddressChanged{Address: addrA})
	s, _ = m.Apply(s, GeocodeCompleted{Token: 1, Coordinate: near})
	require.Equal(t, models.StateResolved, s.Phase)

	next, eff := m.Apply(s, GeocodeCompleted{Token: 1, Coordinate: far})
	assert.True(t, eff.Stale)
	assert.Equal(t, s, next)
}

func TestApplyResetKeepsZonesAndAdvancesToken(t *testing.T) {
	m := testMachine()
	table := tieredZones()
	s, _ := m.Apply(NewState(table), AddressChanged{Address: addrA})
	s, _ = m.Apply(s, GeocodeCompleted{Token: 1, Coordinate: near})
	s, _ = m.Apply(s, SaveRequested{At: time.Now()})
	require.True(t, s.Saved)

	next, eff := m.Apply(s, ResetRequested{})
	assert.True(t, eff.StopDebounce)
	assert.Equal(t, models.StateIdle, next.Phase)
	assert.Equal(t, uint64(2), next.Token)
	assert.Equal(t, table, next.Zones)
	assert.False(t, next.Saved)
	assert.Nil(t, next.Coordinate)
	assert.True(t, next.Address.IsZero())
}

func TestApplyZonesReplacedWhilePendingDoesNotResolve(t *testing.T) {
	m := testMachine()
	s, _ := m.Apply(NewState(tieredZones()), AddressChanged{Address: addrA})
	s, _ = m.Apply(s, GeocodeCompleted{Token: 1, Coordinate: near})
	// same address typed again, lookup outstanding
	s, _ = m.Apply(s, AddressChanged{Address: addrA})

	next, eff := m.Apply(s, ZonesReplaced{Table: tieredZones("1.00", "2.00", "3.00")})
	assert.False(t, eff.Publish)
	assert.Equal(t, models.StatePendingGeocode, next.Phase)
	assert.True(t, next.Result.IsZero())
}
