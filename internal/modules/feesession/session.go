package feesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"storefront-delivery/internal/models"
	"storefront-delivery/internal/modules/geocoding"
	"storefront-delivery/internal/modules/zones"
)

const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultGeocodeTimeout = 10 * time.Second
)

// Timer is a pending debounce.
type Timer interface {
	Stop() bool
}

// Scheduler starts debounce timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Session.
type Options struct {
	MerchantID     string
	Origin         models.Coordinate
	Zones          models.ZoneTable
	Resolver       *zones.Resolver
	Geocoder       geocoding.Geocoder
	Debounce       time.Duration
	GeocodeTimeout time.Duration
	Scheduler      Scheduler
	Logger         *slog.Logger
	// Listener receives every published update on the session goroutine. It
	// must not block and must not call back into the session synchronously.
	Listener func(Update)
	Now      func() time.Time
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	MerchantID   string
	State        models.SessionState
	Option       models.DeliveryOption
	Address      *models.Address
	Result       models.ResolutionResult
	Coordinate   *models.Coordinate
	AddressSaved bool
	FeeChanged   bool
	ZoneVersion  int64
}

// Update is what the listener receives after a published transition.
type Update struct {
	Snapshot
	// ZonesChanged marks an update caused by a zone table replacement that
	// changed coverage or fee.
	ZonesChanged bool
}

type envelope struct {
	ev    Event
	reply chan outcome
}

type outcome struct {
	state State
	eff   Effects
}

// Session orchestrates fee resolution for one checkout attempt. All state is
// owned by a single goroutine; operations, debounce timers and geocode
// completions are events applied in arrival order, and completions whose
// token is outdated are dropped.
type Session struct {
	merchantID     string
	machine        Machine
	geocoder       geocoding.Geocoder
	debounce       time.Duration
	geocodeTimeout time.Duration
	scheduler      Scheduler
	logger         *slog.Logger
	listener       func(Update)
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	events chan envelope
	done   chan struct{}

	snapshot atomic.Pointer[Snapshot]
	stale    atomic.Int64

	// owned by run
	state State
	timer Timer
}

// New starts a session. It stops when ctx is done or Close is called.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Geocoder == nil {
		return nil, errors.New("feesession: geocoder is required")
	}
	if err := opts.Origin.Validate(); err != nil {
		return nil, err
	}
	if opts.Resolver == nil {
		opts.Resolver = zones.NewResolver(zones.DefaultFallbackWindow)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.GeocodeTimeout <= 0 {
		opts.GeocodeTimeout = DefaultGeocodeTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clockScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		merchantID:     opts.MerchantID,
		machine:        Machine{Origin: opts.Origin, Resolver: opts.Resolver},
		geocoder:       opts.Geocoder,
		debounce:       opts.Debounce,
		geocodeTimeout: opts.GeocodeTimeout,
		scheduler:      opts.Scheduler,
		logger:         opts.Logger.With(slog.String("merchant_id", opts.MerchantID)),
		listener:       opts.Listener,
		now:            opts.Now,
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan envelope),
		done:           make(chan struct{}),
		state:          NewState(opts.Zones),
	}
	s.snapshot.Store(s.snapshotOf(s.state))
	go s.run()
	return s, nil
}

// SetAddress replaces the address, revokes any saved fee and restarts the
// debounce. Results of earlier addresses still in flight will be discarded.
func (s *Session) SetAddress(addr models.Address) error {
	_, err := s.dispatch(AddressChanged{Address: addr})
	return err
}

// SetDeliveryOption switches between delivery and pickup. Pickup resets the
// session.
func (s *Session) SetDeliveryOption(opt models.DeliveryOption) error {
	if opt != models.OptionDelivery && opt != models.OptionPickup {
		return fmt.Errorf("feesession: %w %q", models.ErrInvalidDeliveryOption, opt)
	}
	_, err := s.dispatch(DeliveryOptionChanged{Option: opt})
	return err
}

// OnZoneTableChanged installs a complete new zone snapshot and re-resolves the
// cached coordinate, if any, without geocoding again.
func (s *Session) OnZoneTableChanged(table models.ZoneTable) error {
	_, err := s.dispatch(ZonesReplaced{Table: table})
	return err
}

// Save confirms the resolved fee for the order. It is idempotent while the
// address is unchanged and fails with the outcome's sentinel error when the
// address is not resolved.
func (s *Session) Save() (models.Quote, error) {
	out, err := s.dispatch(SaveRequested{At: s.now()})
	if err != nil {
		return models.Quote{}, err
	}
	if out.eff.Err != nil {
		return models.Quote{}, out.eff.Err
	}
	st := out.state
	return models.Quote{
		MerchantID: s.merchantID,
		Address:    st.Address,
		Coordinate: *st.Coordinate,
		ZoneID:     st.Result.ZoneID,
		Fee:        st.Result.Fee,
		MinTime:    st.Result.MinTime,
		MaxTime:    st.Result.MaxTime,
		DistanceKm: st.Result.DistanceKm,
		SavedAt:    st.SavedAt,
	}, nil
}

// Reset returns the session to idle, clearing address, coordinate, result and
// the saved flag.
func (s *Session) Reset() error {
	_, err := s.dispatch(ResetRequested{})
	return err
}

// Locate reverse-geocodes a device location. The session is not changed; the
// caller feeds the address back through SetAddress.
func (s *Session) Locate(ctx context.Context, c models.Coordinate) (*models.Address, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	addr, err := s.geocoder.ReverseGeocode(ctx, c)
	if err != nil {
		return nil, err
	}
	if addr == nil {
		return nil, models.ErrGeocodeFailed
	}
	return addr, nil
}

func (s *Session) Snapshot() Snapshot { return *s.snapshot.Load() }
func (s *Session) Result() models.ResolutionResult { return s.snapshot.Load().Result }
func (s *Session) IsAddressSaved() bool { return s.snapshot.Load().AddressSaved }
func (s *Session) Coordinate() *models.Coordinate { return s.snapshot.Load().Coordinate }
func (s *Session) MerchantID() string { return s.merchantID }

// StaleDiscards counts results dropped because a newer edit superseded them.
func (s *Session) StaleDiscards() int64 { return s.stale.Load() }

// Close stops the session goroutine. In-flight geocodes are abandoned.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.stopTimer()
			return
		case env := <-s.events:
			out := s.handle(env.ev)
			if env.reply != nil {
				env.reply <- out
			}
		}
	}
}

// dispatch hands ev to the session goroutine and waits for the transition.
func (s *Session) dispatch(ev Event) (outcome, error) {
	env := envelope{ev: ev, reply: make(chan outcome, 1)}
	select {
	case s.events <- env:
	case <-s.done:
		return outcome{}, models.ErrSessionClosed
	}
	return <-env.reply, nil
}

// post hands ev to the session goroutine without waiting. Used by timers and
// geocode completions, which may outlive the session.
func (s *Session) post(ev Event) {
	select {
	case s.events <- envelope{ev: ev}:
	case <-s.done:
	}
}

func (s *Session) handle(ev Event) outcome {
	next, eff := s.machine.Apply(s.state, ev)
	s.state = next
	snap := s.snapshotOf(next)
	s.snapshot.Store(snap)

	if eff.Stale {
		s.stale.Add(1)
		s.logger.Debug("Discarding stale result", slog.Uint64("token", eff.Token), slog.Uint64("current_token", next.Token))
	}
	if eff.StartDebounce || eff.StopDebounce {
		s.stopTimer()
	}
	if eff.StartDebounce {
		token := eff.Token
		s.timer = s.scheduler.AfterFunc(s.debounce, func() {
			s.post(DebounceElapsed{Token: token})
		})
	}
	if eff.Geocode {
		go s.geocode(eff.Token, eff.Address)
	}
	if _, ok := ev.(GeocodeCompleted); ok && eff.Err != nil {
		s.logger.Warn("Geocode failed", slog.Uint64("token", eff.Token), slog.Any("error", eff.Err))
	}
	if eff.FeeChanged {
		s.logger.Info("Delivery decision changed by zone update",
			slog.String("kind", string(next.Result.Kind)), slog.String("fee", next.Result.Fee.StringFixed(2)))
	}
	if eff.Publish && s.listener != nil {
		s.listener(Update{Snapshot: *snap, ZonesChanged: eff.FeeChanged})
	}
	return outcome{state: next, eff: eff}
}

func (s *Session) geocode(token uint64, addr models.Address) {
	ctx, cancel := context.WithTimeout(s.ctx, s.geocodeTimeout)
	defer cancel()
	coord, err := s.geocoder.Geocode(ctx, geocoding.Query(addr))
	s.post(GeocodeCompleted{Token: token, Coordinate: coord, Err: err})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) snapshotOf(st State) *Snapshot {
	snap := &Snapshot{
		MerchantID:   s.merchantID,
		State:        st.Phase,
		Option:       st.Option,
		Result:       st.Result,
		AddressSaved: st.Saved,
		FeeChanged:   st.FeeChanged,
		ZoneVersion:  st.Zones.Version(),
	}
	if !st.Address.IsZero() {
		addr := st.Address
		snap.Address = &addr
	}
	if st.coordinateIsCurrent() {
		c := *st.Coordinate
		snap.Coordinate = &c
	}
	return snap
}
