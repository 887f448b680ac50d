package zones

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-delivery/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ZoneChangeChannel is the Postgres NOTIFY channel fired by the delivery_zones
// trigger. The payload is the merchant id.
const ZoneChangeChannel = "zone_changes"

// RepositoryInterface is the read path of the merchant zone source.
type RepositoryInterface interface {
	// GetStorefront returns the merchant location deliveries are measured from.
	GetStorefront(ctx context.Context, merchantID string) (*models.Storefront, error)
	// LoadZones returns the merchant's active zones as one snapshot.
	LoadZones(ctx context.Context, merchantID string) (models.ZoneTable, error)
	// NotifyZoneChange fires the zone change channel for merchantID.
	NotifyZoneChange(ctx context.Context, merchantID string) error
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

// GetStorefront loads one row of storefronts. A missing merchant maps to
// models.ErrNotFound.
func (r *Repository) GetStorefront(ctx context.Context, merchantID string) (*models.Storefront, error) {
	const query = `
        SELECT id, name, latitude, longitude, active, created_at, updated_at
        FROM storefronts
        WHERE id = $1`
	s := &models.Storefront{}
	err := r.db.QueryRow(ctx, query, merchantID).Scan(
		&s.ID, &s.Name,
		&s.Location.Latitude, &s.Location.Longitude,
		&s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("GetStorefront failed: %w", err)
	}
	return s, nil
}

// LoadZones reads active zones in insertion order; the snapshot version is the
// latest updated_at among them in microseconds.
func (r *Repository) LoadZones(ctx context.Context, merchantID string) (models.ZoneTable, error) {
	const query = `
        SELECT id::text, merchant_id, max_distance_km, fee::text,
               min_time, max_time, active, created_at, updated_at
        FROM delivery_zones
        WHERE merchant_id = $1 AND active
        ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, query, merchantID)
	if err != nil {
		return models.ZoneTable{}, fmt.Errorf("LoadZones failed: %w", err)
	}
	defer rows.Close()

	var (
		zones   []models.DeliveryZone
		version int64
	)
	for rows.Next() {
		var (
			z         models.DeliveryZone
			fee       string
			updatedAt time.Time
		)
		if err := rows.Scan(
			&z.ID, &z.MerchantID, &z.MaxDistanceKm, &fee,
			&z.MinTime, &z.MaxTime, &z.Active, &z.CreatedAt, &updatedAt,
		); err != nil {
			return models.ZoneTable{}, fmt.Errorf("LoadZones Scan failed: %w", err)
		}
		if z.Fee, err = decimal.NewFromString(fee); err != nil {
			return models.ZoneTable{}, fmt.Errorf("LoadZones fee %q: %w", fee, err)
		}
		if v := updatedAt.UnixMicro(); v > version {
			version = v
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return models.ZoneTable{}, fmt.Errorf("LoadZones rows failed: %w", err)
	}
	return models.NewZoneTable(merchantID, version, zones), nil
}

func (r *Repository) NotifyZoneChange(ctx context.Context, merchantID string) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_notify($1, $2)`, ZoneChangeChannel, merchantID); err != nil {
		return fmt.Errorf("NotifyZoneChange failed: %w", err)
	}
	return nil
}
