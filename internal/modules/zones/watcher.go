package zones

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-delivery/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// Watcher delivers a complete ZoneTable to fn every time the merchant's zone
// configuration changes. Each message replaces the previous snapshot.
type Watcher interface {
	Watch(ctx context.Context, merchantID string, fn func(models.ZoneTable)) (stop func(), err error)
}

// PGWatcher listens on ZoneChangeChannel and reloads the merchant's zones
// through the repository whenever a notification names a watched merchant.
type PGWatcher struct {
	pool   *pgxpool.Pool
	repo   RepositoryInterface
	logger *slog.Logger
	retry  time.Duration

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(models.ZoneTable)
}

func NewPGWatcher(pool *pgxpool.Pool, repo RepositoryInterface, logger *slog.Logger) *PGWatcher {
	return &PGWatcher{
		pool:   pool,
		repo:   repo,
		logger: logger.With(slog.String("component", "zone_watcher")),
		retry:  2 * time.Second,
		subs:   make(map[string]map[uint64]func(models.ZoneTable)),
	}
}

// Watch registers fn for merchantID. Notifications only flow while Run is
// active.
func (w *PGWatcher) Watch(_ context.Context, merchantID string, fn func(models.ZoneTable)) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	if w.subs[merchantID] == nil {
		w.subs[merchantID] = make(map[uint64]func(models.ZoneTable))
	}
	w.subs[merchantID][id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs[merchantID], id)
		if len(w.subs[merchantID]) == 0 {
			delete(w.subs, merchantID)
		}
	}, nil
}

// Run holds a dedicated connection in LISTEN mode until ctx is done,
// reconnecting after failures.
func (w *PGWatcher) Run(ctx context.Context) error {
	w.logger.Info("Starting zone watcher", slog.String("channel", ZoneChangeChannel))
	ticker := time.NewTicker(w.retry)
	defer ticker.Stop()

	for {
		if err := w.listen(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Zone watcher connection lost", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Zone watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *PGWatcher) listen(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// the connection goes back to the pool, which must not keep listening
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+ZoneChangeChannel); err != nil {
		return err
	}
	// changes made while no connection was listening were never notified
	w.resync(ctx)
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		w.dispatch(ctx, n.Payload)
	}
}

// resync reloads every watched merchant.
func (w *PGWatcher) resync(ctx context.Context) {
	w.mu.Lock()
	merchants := lo.Keys(w.subs)
	w.mu.Unlock()
	for _, merchantID := range merchants {
		w.dispatch(ctx, merchantID)
	}
}

// dispatch reloads the merchant's table once and hands it to every watcher.
func (w *PGWatcher) dispatch(ctx context.Context, merchantID string) {
	w.mu.Lock()
	fns := lo.Values(w.subs[merchantID])
	w.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	logger := w.logger.With(slog.String("merchant_id", merchantID))
	table, err := w.repo.LoadZones(ctx, merchantID)
	if err != nil {
		logger.Error("Failed to reload zones after change", slog.Any("error", err))
		return
	}
	logger.Debug("Dispatching zone snapshot", slog.Int64("version", table.Version()), slog.Int("zones", table.Len()))
	for _, fn := range fns {
		fn(table)
	}
}
