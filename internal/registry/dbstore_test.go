package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRegistryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	documents := `
CREATE TABLE IF NOT EXISTS registry_documents (
  id TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  updated_at DATETIME
);`
	backups := `
CREATE TABLE IF NOT EXISTS registry_document_backups (
  id TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  reason TEXT NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(documents).Error)
	require.NoError(t, db.Exec(backups).Error)
	return db
}

func TestDBStoreInitializesMissingRow(t *testing.T) {
	db := setupRegistryTestDB(t)
	store, err := NewDBStore(db, nil, nil)
	require.NoError(t, err)

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc.Donations)

	var count int64
	require.NoError(t, db.Table("registry_documents").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDBStoreRoundTrip(t *testing.T) {
	db := setupRegistryTestDB(t)
	store, err := NewDBStore(db, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc.Orders = append(doc.Orders, Order{ID: "o-1", Email: "a@x.com", Status: OrderStatusPending, TotalCents: 4200})
	require.NoError(t, store.Save(ctx, doc))

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, reloaded.Orders, 1)
	assert.Equal(t, OrderStatusPending, reloaded.Orders[0].Status)

	// saving again must upsert, not duplicate
	require.NoError(t, store.Save(ctx, reloaded))
	var count int64
	require.NoError(t, db.Table("registry_documents").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDBStoreRecoversCorruptRow(t *testing.T) {
	db := setupRegistryTestDB(t)
	store, err := NewDBStore(db, nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.Exec(
		`INSERT INTO registry_documents (id, payload) VALUES (?, ?)`,
		documentKey, "{broken",
	).Error)

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Donations)

	var backups int64
	require.NoError(t, db.Table("registry_document_backups").Count(&backups).Error)
	assert.Equal(t, int64(1), backups, "corrupt payload must be preserved")
}

func TestDBStoreRepairsMalformedCollection(t *testing.T) {
	db := setupRegistryTestDB(t)
	store, err := NewDBStore(db, nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.Exec(
		`INSERT INTO registry_documents (id, payload) VALUES (?, ?)`,
		documentKey, `{"identities": 42}`,
	).Error)

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc.Identities)
	assert.Empty(t, doc.Identities)

	var payload string
	require.NoError(t, db.Table("registry_documents").
		Select("payload").Where("id = ?", documentKey).Scan(&payload).Error)
	assert.Contains(t, payload, `"identities": []`)
}
