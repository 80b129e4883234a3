package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) (domain.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Record{}))
	return NewGormStore(db), db
}

func TestGormStorePutIfAbsent(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first := &domain.Record{Key: "k1", CompanyID: 1, Operation: "clock_in", Result: datatypes.JSON(`{"entry_id":"1"}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	inserted, err := store.PutIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := &domain.Record{Key: "k1", CompanyID: 1, Operation: "clock_in", Result: datatypes.JSON(`{"entry_id":"2"}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	inserted, err = store.PutIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"entry_id":"1"}`, string(got.Result))

	var count int64
	require.NoError(t, db.Model(&domain.Record{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGormStoreGetMissing(t *testing.T) {
	store, _ := setupStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormStorePurgeExpired(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, exp := range []time.Duration{-2 * time.Hour, -time.Minute, time.Hour} {
		_, err := store.PutIfAbsent(ctx, &domain.Record{
			Key:       []string{"old", "older", "fresh"}[i],
			CompanyID: 1,
			Operation: "clock_out",
			CreatedAt: now.Add(-3 * time.Hour),
			ExpiresAt: now.Add(exp),
		})
		require.NoError(t, err)
	}

	purged, err := store.PurgeExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged)

	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}
