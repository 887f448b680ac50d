package geocoding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront-delivery/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGeocoder answers from a map and counts upstream calls. When gate is
// set every call waits on it.
type countingGeocoder struct {
	coords  map[string]models.Coordinate
	err     error
	gate    chan struct{}
	calls   atomic.Int32
	reverse atomic.Int32
}

func (f *countingGeocoder) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.coords[query]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *countingGeocoder) ReverseGeocode(ctx context.Context, c models.Coordinate) (*models.Address, error) {
	f.reverse.Add(1)
	return &models.Address{Street: "Main St", Number: "1", City: "Springfield"}, nil
}

func TestCachingGeocoderHits(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{coords: map[string]models.Coordinate{"Main St 1, Springfield": {Latitude: 1, Longitude: 2}}}
	c := NewCachingGeocoder(up, 16, time.Minute)
	ctx := context.Background()

	first, err := c.Geocode(ctx, "Main St 1, Springfield")
	require.NoError(t, err)
	second, err := c.Geocode(ctx, "  main st 1,   SPRINGFIELD ")
	require.NoError(t, err)

	assert.Equal(t, int32(1), up.calls.Load())
	assert.Equal(t, first, second)
	first.Latitude = 99
	third, _ := c.Geocode(ctx, "Main St 1, Springfield")
	assert.Equal(t, 1.0, third.Latitude, "callers get their own copy")
}

func TestCachingGeocoderCachesNotFound(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{coords: map[string]models.Coordinate{}}
	c := NewCachingGeocoder(up, 16, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := c.Geocode(context.Background(), "Nowhere 0")
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestCachingGeocoderDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{err: errors.New("provider down")}
	c := NewCachingGeocoder(up, 16, time.Minute)

	_, err := c.Geocode(context.Background(), "Main St 1")
	require.Error(t, err)
	_, err = c.Geocode(context.Background(), "Main St 1")
	require.Error(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
	assert.Zero(t, c.Len())
}

func TestCachingGeocoderExpires(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{coords: map[string]models.Coordinate{"a": {Latitude: 1}}}
	c := NewCachingGeocoder(up, 16, 20*time.Millisecond)

	_, _ = c.Geocode(context.Background(), "a")
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, _ = c.Geocode(context.Background(), "a")
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestCachingGeocoderCoalescesConcurrentLookups(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{
		coords: map[string]models.Coordinate{"a": {Latitude: 1}},
		gate:   make(chan struct{}),
	}
	c := NewCachingGeocoder(up, 16, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Geocode(context.Background(), "a")
			assert.NoError(t, err)
			assert.NotNil(t, got)
		}()
	}
	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)
	// let the other goroutines join the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(up.gate)
	wg.Wait()
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestCachingGeocoderReverse(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{}
	c := NewCachingGeocoder(up, 16, time.Minute)
	ctx := context.Background()

	_, err := c.ReverseGeocode(ctx, models.Coordinate{Latitude: 1.000001, Longitude: 2})
	require.NoError(t, err)
	addr, err := c.ReverseGeocode(ctx, models.Coordinate{Latitude: 1.000002, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, "Main St", addr.Street)
	assert.Equal(t, int32(1), up.reverse.Load())
}

func TestCachingGeocoderCallerCancelDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{
		coords: map[string]models.Coordinate{"a": {Latitude: 1}},
		gate:   make(chan struct{}),
	}
	c := NewCachingGeocoder(up, 16, time.Minute)

	type result struct {
		coord *models.Coordinate
		err   error
	}
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan result, 1)
	go func() {
		coord, err := c.Geocode(ctxA, "a")
		resA <- result{coord, err}
	}()
	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)

	resB := make(chan result, 1)
	go func() {
		coord, err := c.Geocode(context.Background(), "a")
		resB <- result{coord, err}
	}()
	// let B join the in-flight call
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case r := <-resA:
		assert.ErrorIs(t, r.err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(up.gate)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		require.NotNil(t, r.coord)
		assert.Equal(t, 1.0, r.coord.Latitude)
	case <-time.After(time.Second):
		t.Fatal("remaining caller did not get the shared answer")
	}
	assert.Equal(t, int32(1), up.calls.Load())
	assert.Equal(t, 1, c.Len(), "the shared answer is cached")
}

func TestCachingGeocoderBoundsSharedCall(t *testing.T) {
	t.Parallel()

	up := &countingGeocoder{gate: make(chan struct{})}
	c := NewCachingGeocoder(up, 16, time.Minute)
	c.timeout = 20 * time.Millisecond

	_, err := c.Geocode(context.Background(), "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.Len())
}
