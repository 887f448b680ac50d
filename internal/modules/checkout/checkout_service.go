package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront-delivery/internal/models"
	"storefront-delivery/internal/modules/feesession"
	"storefront-delivery/internal/modules/geocoding"
	"storefront-delivery/internal/modules/zones"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const DefaultSessionTTL = 30 * time.Minute

// ServiceInterface is what the checkout handler needs.
type ServiceInterface interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.SessionResponse, error)
	GetSession(ctx context.Context, id string) (*models.SessionResponse, error)
	CloseSession(ctx context.Context, id string) error
	SetAddress(ctx context.Context, id string, addr models.Address) (*models.SessionResponse, error)
	SetDeliveryOption(ctx context.Context, id string, opt models.DeliveryOption) (*models.SessionResponse, error)
	Save(ctx context.Context, id string) (*models.Quote, error)
	Reset(ctx context.Context, id string) (*models.SessionResponse, error)
	Locate(ctx context.Context, id string, c models.Coordinate) (*models.Address, error)
	ZoneTable(ctx context.Context, merchantID string) (*models.ZoneTableResponse, error)
}

// Options configures the checkout service.
type Options struct {
	Repo       zones.RepositoryInterface
	Watcher    zones.Watcher
	Geocoder   geocoding.Geocoder
	Resolver   *zones.Resolver
	Debounce   time.Duration
	SessionTTL time.Duration
	Logger     *slog.Logger
}

type entry struct {
	id         string
	feed       *merchantFeed
	session    *feesession.Session
	lastActive atomic.Int64
}

func (e *entry) touch(t time.Time) { e.lastActive.Store(t.UnixNano()) }

// merchantFeed is the shared zone table of one merchant. One watch is held
// while at least one session of the merchant is open.
//
// The first creator loads the feed outside Service.mu; later creators wait on
// ready. origin, stop and err are set before ready is closed.
type merchantFeed struct {
	merchantID string
	origin     models.Coordinate
	stop       func()
	ready      chan struct{}
	err        error

	// sessions and pending creators holding the feed; guarded by Service.mu
	refs int

	mu       sync.Mutex
	table    models.ZoneTable
	pushed   bool
	sessions map[string]*feesession.Session
}

// loaded reports whether the feed finished loading successfully.
func (f *merchantFeed) loaded() bool {
	select {
	case <-f.ready:
		return f.err == nil
	default:
		return false
	}
}

func (f *merchantFeed) current() models.ZoneTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table
}

// Service keeps one fee session per checkout attempt and forwards zone
// changes to every live session of the affected merchant.
type Service struct {
	repo       zones.RepositoryInterface
	watcher    zones.Watcher
	geocoder   geocoding.Geocoder
	resolver   *zones.Resolver
	debounce   time.Duration
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	// base context for sessions; request contexts end with the request
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	sessions  map[string]*entry
	merchants map[string]*merchantFeed
}

// NewService creates the checkout service. Close releases every session.
func NewService(opts Options) *Service {
	if opts.Resolver == nil {
		opts.Resolver = zones.NewResolver(zones.DefaultFallbackWindow)
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:       opts.Repo,
		watcher:    opts.Watcher,
		geocoder:   opts.Geocoder,
		resolver:   opts.Resolver,
		debounce:   opts.Debounce,
		sessionTTL: opts.SessionTTL,
		logger:     opts.Logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*entry),
		merchants:  make(map[string]*merchantFeed),
	}
}

// CreateSession opens a fee session over the merchant's current zones.
func (s *Service) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.SessionResponse, error) {
	id := uuid.NewString()

	feed, err := s.acquireFeed(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	e := &entry{id: id, feed: feed}
	e.touch(s.now())
	// the table is read and the session registered under one lock so a
	// concurrent zone push reaches the new session
	feed.mu.Lock()
	sess, err := feesession.New(s.ctx, feesession.Options{
		MerchantID: req.MerchantID,
		Origin:     feed.origin,
		Zones:      feed.table,
		Resolver:   s.resolver,
		Geocoder:   s.geocoder,
		Debounce:   s.debounce,
		Logger:     s.logger.With(slog.String("session_id", id)),
		Listener: func(feesession.Update) {
			e.touch(s.now())
		},
	})
	if err == nil {
		feed.sessions[id] = sess
	}
	feed.mu.Unlock()
	if err != nil {
		s.mu.Lock()
		s.releaseFeed(feed, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("CreateSession: %w", err)
	}
	e.session = sess
	s.mu.Lock()
	s.sessions[id] = e
	s.mu.Unlock()

	if req.Option == models.OptionPickup {
		if err := sess.SetDeliveryOption(models.OptionPickup); err != nil {
			return nil, err
		}
	}
	s.logger.Info("Checkout session opened", slog.String("session_id", id), slog.String("merchant_id", req.MerchantID))
	return toResponse(id, sess.Snapshot()), nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*models.SessionResponse, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return toResponse(id, e.session.Snapshot()), nil
}

// CloseSession stops the session and drops the merchant watch when it was the
// last one.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	delete(s.sessions, id)
	s.releaseFeed(e.feed, id)
	s.mu.Unlock()

	e.session.Close()
	return nil
}

func (s *Service) SetAddress(ctx context.Context, id string, addr models.Address) (*models.SessionResponse, error) {
	return s.apply(id, func(sess *feesession.Session) error { return sess.SetAddress(addr) })
}

func (s *Service) SetDeliveryOption(ctx context.Context, id string, opt models.DeliveryOption) (*models.SessionResponse, error) {
	return s.apply(id, func(sess *feesession.Session) error { return sess.SetDeliveryOption(opt) })
}

func (s *Service) Reset(ctx context.Context, id string) (*models.SessionResponse, error) {
	return s.apply(id, (*feesession.Session).Reset)
}

// Save confirms the current fee. The returned quote is what the order stores.
func (s *Service) Save(ctx context.Context, id string) (*models.Quote, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	q, err := e.session.Save()
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Service) Locate(ctx context.Context, id string, c models.Coordinate) (*models.Address, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.session.Locate(ctx, c)
}

// ZoneTable returns the zones a merchant's sessions resolve against, with
// configuration warnings. Merchants without open sessions are read from the
// repository.
func (s *Service) ZoneTable(ctx context.Context, merchantID string) (*models.ZoneTableResponse, error) {
	s.mu.RLock()
	feed, ok := s.merchants[merchantID]
	s.mu.RUnlock()

	var table models.ZoneTable
	if ok && feed.loaded() {
		table = feed.current()
	} else {
		var err error
		table, err = s.repo.LoadZones(ctx, merchantID)
		if err != nil {
			return nil, fmt.Errorf("ZoneTable: %w", err)
		}
	}
	return &models.ZoneTableResponse{
		MerchantID: merchantID,
		Version:    table.Version(),
		Zones:      table.Zones(),
		Warnings:   zones.Warnings(table),
	}, nil
}

// Run expires sessions idle for longer than the session TTL until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sessionTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireIdle()
		}
	}
}

// Close stops every session and merchant watch.
func (s *Service) Close() {
	s.mu.Lock()
	ids := lo.Keys(s.sessions)
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.CloseSession(context.Background(), id)
	}
	s.cancel()
}

// SessionCount reports the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) expireIdle() {
	cutoff := s.now().Add(-s.sessionTTL).UnixNano()
	s.mu.RLock()
	idle := lo.FilterMap(lo.Values(s.sessions), func(e *entry, _ int) (string, bool) {
		return e.id, e.lastActive.Load() < cutoff
	})
	s.mu.RUnlock()

	for _, id := range idle {
		if err := s.CloseSession(context.Background(), id); err == nil {
			s.logger.Info("Checkout session expired", slog.String("session_id", id))
		}
	}
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	e.touch(s.now())
	return e, nil
}

func (s *Service) apply(id string, op func(*feesession.Session) error) (*models.SessionResponse, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := op(e.session); err != nil {
		return nil, err
	}
	return toResponse(id, e.session.Snapshot()), nil
}

// acquireFeed returns the merchant feed holding one reference on it. The
// first caller for a merchant loads it; s.mu is only held to find or install
// the feed, so lookups of other sessions never wait on storage.
func (s *Service) acquireFeed(ctx context.Context, merchantID string) (*merchantFeed, error) {
	s.mu.Lock()
	feed, ok := s.merchants[merchantID]
	if !ok {
		feed = &merchantFeed{
			merchantID: merchantID,
			ready:      make(chan struct{}),
			sessions:   make(map[string]*feesession.Session),
		}
		s.merchants[merchantID] = feed
	}
	feed.refs++
	s.mu.Unlock()

	if !ok {
		// other creators may be waiting on this load
		err := s.loadFeed(context.WithoutCancel(ctx), feed)
		if err != nil {
			s.mu.Lock()
			if s.merchants[merchantID] == feed {
				delete(s.merchants, merchantID)
			}
			s.mu.Unlock()
		}
		feed.err = err
		close(feed.ready)
	}

	select {
	case <-feed.ready:
	case <-ctx.Done():
		s.mu.Lock()
		s.releaseFeed(feed, "")
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	if feed.err != nil {
		s.mu.Lock()
		s.releaseFeed(feed, "")
		s.mu.Unlock()
		return nil, feed.err
	}
	return feed, nil
}

// loadFeed fetches the storefront, starts the zone watch and loads the
// current table.
func (s *Service) loadFeed(ctx context.Context, feed *merchantFeed) error {
	store, err := s.repo.GetStorefront(ctx, feed.merchantID)
	if err != nil {
		return fmt.Errorf("CreateSession: fetch storefront: %w", err)
	}
	if !store.Active {
		return models.ErrNotFound
	}
	feed.origin = store.Location

	// watch before loading so no change between the two is missed
	stop, err := s.watcher.Watch(s.ctx, feed.merchantID, func(t models.ZoneTable) { s.onZonesChanged(feed, t) })
	if err != nil {
		return fmt.Errorf("CreateSession: watch zones: %w", err)
	}

	table, err := s.repo.LoadZones(ctx, feed.merchantID)
	if err != nil {
		stop()
		return fmt.Errorf("CreateSession: load zones: %w", err)
	}
	feed.stop = stop
	feed.mu.Lock()
	if !feed.pushed {
		feed.table = table
	}
	feed.mu.Unlock()
	s.logConflicts(feed.merchantID, table)
	return nil
}

// releaseFeed drops one reference, detaching sessionID if set. The watch
// stops with the last reference. Caller holds s.mu.
func (s *Service) releaseFeed(feed *merchantFeed, sessionID string) {
	if sessionID != "" {
		feed.mu.Lock()
		delete(feed.sessions, sessionID)
		feed.mu.Unlock()
	}
	feed.refs--
	if feed.refs > 0 {
		return
	}
	if s.merchants[feed.merchantID] == feed {
		delete(s.merchants, feed.merchantID)
	}
	if feed.stop != nil {
		feed.stop()
	}
}

func (s *Service) onZonesChanged(feed *merchantFeed, table models.ZoneTable) {
	feed.mu.Lock()
	feed.table = table
	feed.pushed = true
	targets := lo.Values(feed.sessions)
	feed.mu.Unlock()

	s.logConflicts(feed.merchantID, table)
	s.logger.Info("Zone table replaced",
		slog.String("merchant_id", feed.merchantID),
		slog.Int64("version", table.Version()),
		slog.Int("zones", table.Len()),
		slog.Int("sessions", len(targets)))

	for _, sess := range targets {
		if err := sess.OnZoneTableChanged(table); err != nil && !errors.Is(err, models.ErrSessionClosed) {
			s.logger.Error("Forwarding zone table failed", slog.String("merchant_id", feed.merchantID), slog.Any("error", err))
		}
	}
}

// logConflicts reports duplicated radii and invalid zones as merchant
// warnings. Checkout goes on with first-match resolution.
func (s *Service) logConflicts(merchantID string, table models.ZoneTable) {
	for _, w := range zones.Warnings(table) {
		s.logger.Warn("Zone configuration warning", slog.String("merchant_id", merchantID), slog.String("warning", w))
	}
}

func toResponse(id string, snap feesession.Snapshot) *models.SessionResponse {
	return &models.SessionResponse{
		ID:           id,
		MerchantID:   snap.MerchantID,
		State:        snap.State,
		Option:       snap.Option,
		Address:      snap.Address,
		Result:       snap.Result,
		Coordinate:   snap.Coordinate,
		AddressSaved: snap.AddressSaved,
		FeeChanged:   snap.FeeChanged,
	}
}
