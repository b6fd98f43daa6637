package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := NewFileStore(path, nil, nil)
	require.NoError(t, err)
	return store, path
}

func TestFileStoreInitializesMissingFile(t *testing.T) {
	store, path := newTestFileStore(t)

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc.Donations)
	assert.NotNil(t, doc.Identities)
	assert.NotNil(t, doc.Orders)

	// init must persist immediately
	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"donations"`)
}

func TestFileStoreRecoversCorruptFile(t *testing.T) {
	store, path := newTestFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{definitely not json"), 0o644))

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Donations)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var backups int
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".corrupt-") {
			backups++
		}
	}
	assert.Equal(t, 1, backups, "corrupt payload must be preserved under a side-channel name")
}

func TestFileStoreBackToBackRecoveriesKeepEveryBackup(t *testing.T) {
	store, path := newTestFileStore(t)
	ctx := context.Background()

	// two recoveries inside the same wall-clock second
	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
		_, err := store.Load(ctx)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var backups int
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".corrupt-") {
			backups++
		}
	}
	assert.Equal(t, 2, backups, "each recovery must keep its own backup")
}

func TestFileStoreRepairsMalformedCollection(t *testing.T) {
	store, path := newTestFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"donations": "not-a-list"}`), 0o644))

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc.Donations)
	assert.Empty(t, doc.Donations)

	// repaired document is persisted before returning
	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"donations": []`)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc.Donations = append(doc.Donations, Donation{SessionID: "cs_1", Email: "a@x.com", AmountCents: 2500})
	require.NoError(t, store.Save(ctx, doc))

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, reloaded.Donations, 1)
	assert.Equal(t, int64(2500), reloaded.Donations[0].AmountCents)
}
