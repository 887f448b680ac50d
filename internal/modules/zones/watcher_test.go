package zones

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"storefront-delivery/internal/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo serves zone tables from memory and counts loads.
type fakeRepo struct {
	tables map[string]models.ZoneTable
	loads  int
}

func (f *fakeRepo) GetStorefront(ctx context.Context, merchantID string) (*models.Storefront, error) {
	return nil, models.ErrNotFound
}

func (f *fakeRepo) LoadZones(ctx context.Context, merchantID string) (models.ZoneTable, error) {
	f.loads++
	t, ok := f.tables[merchantID]
	if !ok {
		return models.ZoneTable{}, models.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) NotifyZoneChange(ctx context.Context, merchantID string) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPGWatcherDispatch(t *testing.T) {
	repo := &fakeRepo{tables: map[string]models.ZoneTable{"m1": tieredTable()}}
	w := NewPGWatcher(nil, repo, discardLogger())
	ctx := context.Background()

	var got []models.ZoneTable
	stop, err := w.Watch(ctx, "m1", func(t models.ZoneTable) { got = append(got, t) })
	require.NoError(t, err)
	var second int
	stopSecond, err := w.Watch(ctx, "m1", func(models.ZoneTable) { second++ })
	require.NoError(t, err)

	// unwatched merchants cost nothing
	w.dispatch(ctx, "m2")
	assert.Zero(t, repo.loads)

	w.dispatch(ctx, "m1")
	assert.Equal(t, 1, repo.loads, "one reload shared by every watcher")
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Len())
	assert.Equal(t, 1, second)

	stop()
	stopSecond()
	w.dispatch(ctx, "m1")
	assert.Len(t, got, 1)
	assert.Equal(t, 1, repo.loads)
	assert.Empty(t, w.subs)
}

func TestPGWatcherResyncReloadsEveryWatchedMerchant(t *testing.T) {
	repo := &fakeRepo{tables: map[string]models.ZoneTable{
		"m1": tieredTable(),
		"m2": models.NewZoneTable("m2", 7, nil),
	}}
	w := NewPGWatcher(nil, repo, discardLogger())
	ctx := context.Background()

	got := map[string][]int64{}
	for _, m := range []string{"m1", "m2"} {
		_, err := w.Watch(ctx, m, func(t models.ZoneTable) {
			got[t.MerchantID()] = append(got[t.MerchantID()], t.Version())
		})
		require.NoError(t, err)
	}

	// nothing was notified, yet both merchants get their current table
	w.resync(ctx)
	assert.Equal(t, 2, repo.loads)
	assert.Equal(t, map[string][]int64{"m1": {1}, "m2": {7}}, got)

	w.resync(ctx)
	assert.Equal(t, 4, repo.loads)
	assert.Equal(t, []int64{7, 7}, got["m2"])
}

func TestDecodeSnapshot(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(tieredTable())
	require.NoError(t, err)

	table, err := decodeSnapshot("m1", data)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())
	assert.Equal(t, int64(1), table.Version())
	assert.Equal(t, "z2", table.At(0).ID)
	assert.Equal(t, "z10", table.At(2).ID)

	_, err = decodeSnapshot("other", data)
	assert.Error(t, err)

	_, err = decodeSnapshot("m1", []byte("{not json"))
	assert.Error(t, err)
}
