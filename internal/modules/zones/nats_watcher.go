package zones

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-delivery/internal/models"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject carrying zone snapshots for one merchant.
func Subject(merchantID string) string {
	return "zones." + merchantID
}

// NATSWatcher receives complete zone snapshots published on Subject.
type NATSWatcher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewNATSWatcher(nc *nats.Conn, logger *slog.Logger) *NATSWatcher {
	return &NATSWatcher{nc: nc, logger: logger.With(slog.String("component", "zone_watcher"))}
}

func (w *NATSWatcher) Watch(_ context.Context, merchantID string, fn func(models.ZoneTable)) (func(), error) {
	logger := w.logger.With(slog.String("merchant_id", merchantID))
	sub, err := w.nc.Subscribe(Subject(merchantID), w.handler(merchantID, fn))
	if err != nil {
		return nil, fmt.Errorf("Watch subscribe %s: %w", Subject(merchantID), err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Failed to unsubscribe", slog.Any("error", err))
		}
	}, nil
}

// handler decodes each message into a table for fn. Malformed snapshots and
// snapshots of another merchant are dropped.
func (w *NATSWatcher) handler(merchantID string, fn func(models.ZoneTable)) nats.MsgHandler {
	logger := w.logger.With(slog.String("merchant_id", merchantID))
	return func(m *nats.Msg) {
		table, err := decodeSnapshot(merchantID, m.Data)
		if err != nil {
			logger.Warn("Dropping malformed zone snapshot", slog.String("subject", m.Subject), slog.Any("error", err))
			return
		}
		fn(table)
	}
}

func decodeSnapshot(merchantID string, data []byte) (models.ZoneTable, error) {
	var table models.ZoneTable
	if err := json.Unmarshal(data, &table); err != nil {
		return models.ZoneTable{}, err
	}
	if table.MerchantID() != merchantID {
		return models.ZoneTable{}, fmt.Errorf("snapshot for merchant %q on subject of %q", table.MerchantID(), merchantID)
	}
	return table, nil
}

// Publisher is the part of *nats.Conn PublishSnapshot needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// PublishSnapshot sends table as the new authoritative snapshot.
func PublishSnapshot(nc Publisher, table models.ZoneTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return nc.Publish(Subject(table.MerchantID()), data)
}
