package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID      int64 `gorm:"primaryKey"`
	OwnerID int64
	Name    string
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))
	return db
}

func TestStoreFindAndFindOne(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	store := ProvideStore[widget](db)

	require.NoError(t, store.Create(ctx, &widget{ID: 1, OwnerID: 10, Name: "b"}))
	require.NoError(t, store.Create(ctx, &widget{ID: 2, OwnerID: 10, Name: "a"}))
	require.NoError(t, store.Create(ctx, &widget{ID: 3, OwnerID: 20, Name: "c"}))

	items, err := store.Find(ctx, &widget{OwnerID: 10}, OrderBy("name asc"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Name)

	missing, err := store.FindOne(ctx, &widget{OwnerID: 99})
	require.NoError(t, err)
	assert.Nil(t, missing)

	found, err := store.FindOne(ctx, &widget{ID: 3})
	require.NoError(t, err)
	require.NotNil(t, found)
	found.Name = "renamed"
	require.NoError(t, store.Save(ctx, found))

	reloaded, err := store.FindOne(ctx, nil, Where("id = ?", 3))
	require.NoError(t, err)
	assert.Equal(t, "renamed", reloaded.Name)
}

func TestStoreWithTrxRollsBack(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	store := ProvideStore[widget](db)

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, store.WithTrx(tx).Create(ctx, &widget{ID: 5, OwnerID: 1}))
		return assert.AnError
	})

	items, err := store.Find(ctx, &widget{OwnerID: 1}, Limit(10))
	require.NoError(t, err)
	assert.Empty(t, items)
}
