package geocoding

import (
	"context"
	"fmt"
	"time"

	"storefront-delivery/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds one upstream call shared by coalesced callers.
const DefaultLookupTimeout = 10 * time.Second

// CachingGeocoder memoizes provider answers for a short time, including "not
// found" answers, and collapses concurrent lookups of the same query into one
// upstream call. Errors are never cached. It is shared by every session.
//
// The shared upstream call runs detached from any single caller's context, so
// one caller giving up never fails the others; each caller only waits on its
// own context.
type CachingGeocoder struct {
	next    Geocoder
	forward *expirable.LRU[string, *models.Coordinate]
	reverse *expirable.LRU[string, *models.Address]
	group   singleflight.Group
	timeout time.Duration
}

func NewCachingGeocoder(next Geocoder, size int, ttl time.Duration) *CachingGeocoder {
	return &CachingGeocoder{
		next:    next,
		forward: expirable.NewLRU[string, *models.Coordinate](size, nil, ttl),
		reverse: expirable.NewLRU[string, *models.Address](size, nil, ttl),
		timeout: DefaultLookupTimeout,
	}
}

func (c *CachingGeocoder) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	key := normalizeKey(query)
	if coord, ok := c.forward.Get(key); ok {
		return cloneCoordinate(coord), nil
	}
	v, err := c.shared(ctx, "fwd:"+key, func(uctx context.Context) (any, error) {
		coord, err := c.next.Geocode(uctx, query)
		if err != nil {
			return nil, err
		}
		c.forward.Add(key, coord)
		return coord, nil
	})
	if err != nil {
		return nil, err
	}
	coord, _ := v.(*models.Coordinate)
	return cloneCoordinate(coord), nil
}

func (c *CachingGeocoder) ReverseGeocode(ctx context.Context, coord models.Coordinate) (*models.Address, error) {
	key := roundedKey(coord)
	if addr, ok := c.reverse.Get(key); ok {
		return cloneAddress(addr), nil
	}
	v, err := c.shared(ctx, "rev:"+key, func(uctx context.Context) (any, error) {
		addr, err := c.next.ReverseGeocode(uctx, coord)
		if err != nil {
			return nil, err
		}
		c.reverse.Add(key, addr)
		return addr, nil
	})
	if err != nil {
		return nil, err
	}
	addr, _ := v.(*models.Address)
	return cloneAddress(addr), nil
}

// shared joins or starts the upstream call for key. The call keeps the first
// caller's values but not its cancellation, and is bounded by c.timeout.
func (c *CachingGeocoder) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(uctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached forward answers.
func (c *CachingGeocoder) Len() int { return c.forward.Len() }

// roundedKey keys reverse lookups at five decimals, roughly one metre.
func roundedKey(c models.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Latitude, c.Longitude)
}

func cloneCoordinate(c *models.Coordinate) *models.Coordinate {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func cloneAddress(a *models.Address) *models.Address {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
