package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallorange/bolt/internal/bolt"
	"github.com/smallorange/bolt/internal/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.db")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := bolt.StoredDevice{UID: "uid-1", Name: "Dock", Vendor: "Apple", Policy: bolt.PolicyAuto, Key: []byte("abc")}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "absent")

	var storeErr *bolt.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bolt.StoreNotFound, storeErr.Kind)
}

func TestStore_PutOverwritesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, bolt.StoredDevice{UID: "uid-1", Name: "Old", Policy: bolt.PolicyManual}))
	require.NoError(t, s.Put(ctx, bolt.StoredDevice{UID: "uid-1", Name: "New", Policy: bolt.PolicyAuto}))

	got, err := s.Get(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, bolt.PolicyAuto, got.Policy)
}

func TestStore_ListUIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, bolt.StoredDevice{UID: "uid-1", Policy: bolt.PolicyAuto}))
	require.NoError(t, s.Put(ctx, bolt.StoredDevice{UID: "uid-2", Policy: bolt.PolicyManual}))

	uids, err := s.ListUIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uid-1", "uid-2"}, uids)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, bolt.StoredDevice{UID: "uid-1", Policy: bolt.PolicyAuto}))
	require.NoError(t, s.Delete(ctx, "uid-1"))

	_, err := s.Get(ctx, "uid-1")
	var storeErr *bolt.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bolt.StoreNotFound, storeErr.Kind)

	// Deleting an absent uid is not an error.
	require.NoError(t, s.Delete(ctx, "never-existed"))
}
