package feesession

import (
	"time"

	"storefront-delivery/internal/models"
	"storefront-delivery/internal/modules/zones"
)

// State is the complete, copyable state of one fee session. Every change goes
// through Machine.Apply.
type State struct {
	Phase   models.SessionState
	Option  models.DeliveryOption
	Address models.Address
	// LastResolvedAddress is the address Coordinate was geocoded from.
	LastResolvedAddress *models.Address
	Coordinate          *models.Coordinate
	Result              models.ResolutionResult
	// Token increases on every edit, reset and option change. Asynchronous
	// completions carry the token they were started with.
	Token   uint64
	Zones   models.ZoneTable
	Saved   bool
	SavedAt time.Time
	// FeeChanged stays set after a zone replacement changed the decision until
	// the customer edits, saves or resets.
	FeeChanged bool
}

// NewState returns an idle delivery session over table.
func NewState(table models.ZoneTable) State {
	return State{Phase: models.StateIdle, Option: models.OptionDelivery, Zones: table}
}

// coordinateIsCurrent reports whether the cached coordinate belongs to the
// address currently entered and no lookup for it is outstanding.
func (s State) coordinateIsCurrent() bool {
	if s.Phase != models.StateResolved && s.Phase != models.StateOutOfCoverage {
		return false
	}
	return s.Coordinate != nil && s.LastResolvedAddress != nil && *s.LastResolvedAddress == s.Address
}

// Event is an input to the state machine.
type Event interface{ event() }

// AddressChanged replaces the customer's address.
type AddressChanged struct{ Address models.Address }

// DebounceElapsed fires once the input has been quiet for the debounce window.
type DebounceElapsed struct{ Token uint64 }

// GeocodeCompleted carries a geocode answer. A nil Coordinate with a nil Err is
// "not found".
type GeocodeCompleted struct {
	Token      uint64
	Coordinate *models.Coordinate
	Err        error
}

// ZonesReplaced installs a new zone table snapshot.
type ZonesReplaced struct{ Table models.ZoneTable }

// SaveRequested confirms the current fee for the order.
type SaveRequested struct{ At time.Time }

// ResetRequested returns the session to idle.
type ResetRequested struct{}

// DeliveryOptionChanged switches between delivery and pickup.
type DeliveryOptionChanged struct{ Option models.DeliveryOption }

func (AddressChanged) event()        {}
func (DebounceElapsed) event()       {}
func (GeocodeCompleted) event()      {}
func (ZonesReplaced) event()         {}
func (SaveRequested) event()         {}
func (ResetRequested) event()        {}
func (DeliveryOptionChanged) event() {}

// Effects tells the session what to do after a transition.
type Effects struct {
	// StartDebounce restarts the debounce timer for Token.
	StartDebounce bool
	// StopDebounce cancels a pending timer without starting a new one.
	StopDebounce bool
	// Geocode starts a lookup of Address tagged with Token.
	Geocode bool
	Token   uint64
	Address models.Address
	// Publish asks for the new state to be sent to the listener.
	Publish bool
	// FeeChanged is set when a zone replacement changed coverage or fee.
	FeeChanged bool
	// Stale is set when the event was dropped because its token is outdated.
	Stale bool
	Err   error
}

// Machine holds what transitions need besides the state: the storefront
// location and the resolver.
type Machine struct {
	Origin   models.Coordinate
	Resolver *zones.Resolver
}

// Apply is the single transition function of a fee session.
func (m Machine) Apply(s State, ev Event) (State, Effects) {
	switch ev := ev.(type) {
	case AddressChanged:
		return m.addressChanged(s, ev)
	case DebounceElapsed:
		if ev.Token != s.Token || s.Phase != models.StatePendingGeocode {
			return s, Effects{Stale: true, Token: ev.Token}
		}
		return s, Effects{Geocode: true, Token: s.Token, Address: s.Address}
	case GeocodeCompleted:
		return m.geocodeCompleted(s, ev)
	case ZonesReplaced:
		return m.zonesReplaced(s, ev)
	case SaveRequested:
		return m.save(s, ev)
	case ResetRequested:
		return reset(s), Effects{StopDebounce: true, Publish: true}
	case DeliveryOptionChanged:
		if ev.Option == models.OptionPickup {
			next := reset(s)
			next.Option = models.OptionPickup
			return next, Effects{StopDebounce: true, Publish: s.Option != models.OptionPickup || s.Phase != models.StateIdle}
		}
		if s.Option == models.OptionDelivery {
			return s, Effects{}
		}
		s.Option = models.OptionDelivery
		if !s.Address.IsZero() {
			// an address typed while on pickup is resolved now
			return m.addressChanged(s, AddressChanged{Address: s.Address})
		}
		return s, Effects{Publish: true}
	}
	return s, Effects{}
}

func (m Machine) addressChanged(s State, ev AddressChanged) (State, Effects) {
	s.Token++
	s.Address = ev.Address
	s.Saved = false
	s.SavedAt = time.Time{}
	s.FeeChanged = false
	s.Result = models.ResolutionResult{}

	if s.Option == models.OptionPickup {
		return s, Effects{StopDebounce: true, Publish: true}
	}
	if !ev.Address.IsComplete() {
		s.Phase = models.StateIncomplete
		s.Result = models.Incomplete()
		return s, Effects{StopDebounce: true, Publish: true}
	}
	s.Phase = models.StatePendingGeocode
	return s, Effects{StartDebounce: true, Token: s.Token, Publish: true}
}

func (m Machine) geocodeCompleted(s State, ev GeocodeCompleted) (State, Effects) {
	if ev.Token != s.Token || s.Phase != models.StatePendingGeocode {
		return s, Effects{Stale: true, Token: ev.Token}
	}
	if ev.Err != nil || ev.Coordinate == nil {
		s.Phase = models.StateGeocodeFailed
		s.Result = models.GeocodeFailed()
		s.Coordinate = nil
		s.LastResolvedAddress = nil
		return s, Effects{Publish: true, Err: ev.Err}
	}

	coord := *ev.Coordinate
	addr := s.Address
	s.Coordinate = &coord
	s.LastResolvedAddress = &addr
	s.Result = m.Resolver.ResolveFrom(m.Origin, coord, s.Zones)
	s.Phase = phaseOf(s.Result)
	return s, Effects{Publish: true}
}

// zonesReplaced stores the new snapshot and, when the current address already
// has a coordinate, re-resolves it without geocoding again.
func (m Machine) zonesReplaced(s State, ev ZonesReplaced) (State, Effects) {
	s.Zones = ev.Table
	if !s.coordinateIsCurrent() || s.Option == models.OptionPickup {
		return s, Effects{}
	}
	prev := s.Result
	s.Result = m.Resolver.ResolveFrom(m.Origin, *s.Coordinate, s.Zones)
	s.Phase = phaseOf(s.Result)

	changed := !prev.SameDecision(s.Result)
	s.FeeChanged = s.FeeChanged || changed
	if changed && s.Saved {
		// the confirmed fee is no longer what would be charged
		s.Saved = false
		s.SavedAt = time.Time{}
	}
	return s, Effects{Publish: true, FeeChanged: changed}
}

// save marks the current fee as confirmed. Saving again while nothing changed
// is a no-op.
func (m Machine) save(s State, ev SaveRequested) (State, Effects) {
	if s.Option == models.OptionPickup {
		return s, Effects{Err: models.ErrPickupSelected}
	}
	if s.Phase == models.StateIdle {
		return s, Effects{Err: models.ErrIncompleteAddress}
	}
	if s.Phase != models.StateResolved {
		return s, Effects{Err: s.Result.Err()}
	}
	if s.Saved {
		return s, Effects{}
	}
	s.Saved = true
	s.SavedAt = ev.At
	s.FeeChanged = false
	return s, Effects{Publish: true}
}

// reset clears everything tied to the customer's input. The zone table and
// option survive; the token keeps counting so in-flight work is dropped.
func reset(s State) State {
	next := NewState(s.Zones)
	next.Option = s.Option
	next.Token = s.Token + 1
	return next
}

func phaseOf(r models.ResolutionResult) models.SessionState {
	switch r.Kind {
	case models.KindResolved:
		return models.StateResolved
	case models.KindOutOfCoverage:
		return models.StateOutOfCoverage
	case models.KindGeocodeFailed:
		return models.StateGeocodeFailed
	case models.KindIncomplete:
		return models.StateIncomplete
	}
	return models.StatePendingGeocode
}
