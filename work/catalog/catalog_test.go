package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entry := types.CatalogEntry{
		ID:    "show-1-1",
		Title: "Show S01E01",
		Year:  2024,
		Sources: []types.CatalogSourceLink{
			{Site: "dizilla", URL: "https://dizilla40.com/ep/1", Priority: 2},
			{Site: "dizipub", URL: "https://dizipub.club/ep/1", Priority: 1},
		},
	}
	require.NoError(t, store.Upsert(ctx, entry))

	got, err := store.Get(ctx, "show-1-1")
	require.NoError(t, err)
	assert.Equal(t, "Show S01E01", got.Title)
	require.Len(t, got.Sources, 2)
	// sources come back ordered by priority regardless of insert order
	assert.Equal(t, "dizipub", got.Sources[0].Site)
	assert.Equal(t, "dizilla", got.Sources[1].Site)
}

func TestSQLiteGetUnknown(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSQLiteUpsertReplacesSources(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entry := types.CatalogEntry{
		ID: "show-2",
		Sources: []types.CatalogSourceLink{
			{Site: "dizilla", URL: "https://dizilla40.com/old", Priority: 1},
		},
	}
	require.NoError(t, store.Upsert(ctx, entry))

	entry.Sources = []types.CatalogSourceLink{
		{Site: "dizipal", URL: "https://dizipal1503.com/new", Priority: 1},
	}
	require.NoError(t, store.Upsert(ctx, entry))

	got, err := store.Get(ctx, "show-2")
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "dizipal", got.Sources[0].Site)
}

func TestSQLiteImportJSON(t *testing.T) {
	store := openTestStore(t)
	seed := `[
		{"id": "show-1", "title": "Show", "year": 2024, "sources": [
			{"site": "dizilla", "url": "https://dizilla40.com/ep/1", "priority": 1}
		]},
		{"id": "show-2", "title": "Other", "sources": []}
	]`
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0644))

	count, err := store.ImportJSON(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMemoryStoreOrdersSourcesByPriority(t *testing.T) {
	store := NewMemory()
	store.Put(types.CatalogEntry{
		ID: "show-3",
		Sources: []types.CatalogSourceLink{
			{Site: "dizilla", Priority: 3},
			{Site: "dizipub", Priority: 1},
			{Site: "dizipal", Priority: 2},
		},
	})

	got, err := store.Get(context.Background(), "show-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"dizipub", "dizipal", "dizilla"},
		[]string{got.Sources[0].Site, got.Sources[1].Site, got.Sources[2].Site})

	_, err = store.Get(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
