package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
)

func blobStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	db, err := OpenBadger(BadgerConfig{InMemory: true, Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]BlobStore{
		"memory": NewMemoryStore(),
		"badger": db,
	}
}

func TestBlobStores(t *testing.T) {
	for name, s := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put("k", []byte("v1")))
			require.NoError(t, s.Put("k", []byte("v2")))
			got, err := s.Get("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			require.NoError(t, s.Delete("k"))
			_, err = s.Get("k")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, s.Delete("k"))
		})
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenBadger(BadgerConfig{Path: dir, SyncWrites: true, Logger: logger.Discard()})
	require.NoError(t, err)
	require.NoError(t, db.Put("snapshot:home", []byte(`{"networks":[]}`)))
	require.NoError(t, db.Close())

	db, err = OpenBadger(BadgerConfig{Path: dir, Logger: logger.Discard()})
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get("snapshot:home")
	require.NoError(t, err)
	assert.JSONEq(t, `{"networks":[]}`, string(got))
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestStateStore(t *testing.T) {
	blobs := NewMemoryStore()
	home := NewStateStore(blobs, "home")
	other := NewStateStore(blobs, "other")

	snap, err := home.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap)
	entries, err := home.LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, entries)

	name := "Home"
	saved := &models.AccountSnapshot{
		FetchedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Networks:  []models.Network{{ID: "network_a", Name: &name}},
	}
	require.NoError(t, home.SaveSnapshot(saved))
	require.NoError(t, home.SaveQueue([]models.QueuedAction{{ID: "q1", Status: models.QueueStatusPending}}))

	snap, err = home.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "Home", snap.Networks[0].DisplayName())
	assert.True(t, saved.FetchedAt.Equal(snap.FetchedAt))

	entries, err = home.LoadQueue()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q1", entries[0].ID)

	snap, err = other.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap, "state is keyed by account")

	require.NoError(t, home.SaveQueue(nil))
	entries, err = home.LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStateStoreCorruptBlob(t *testing.T) {
	blobs := NewMemoryStore()
	require.NoError(t, blobs.Put("snapshot:home", []byte("{")))
	_, err := NewStateStore(blobs, "home").LoadSnapshot()
	assert.Error(t, err)
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	c, err := OpenCredentials(path, []byte("correct horse"))
	require.NoError(t, err)

	tok, err := c.Get("session:home")
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, c.Put("session:home", "tok-1"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "tok-1")

	reopened, err := OpenCredentials(path, []byte("correct horse"))
	require.NoError(t, err)
	tok, err = reopened.Get("session:home")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = OpenCredentials(path, []byte("wrong"))
	assert.Error(t, err)

	require.NoError(t, reopened.Delete("session:home"))
	tok, err = reopened.Get("session:home")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestCredentialStoreRejectsTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	c, err := OpenCredentials(path, []byte("correct horse"))
	require.NoError(t, err)
	require.NoError(t, c.Put("session:home", "tok-1"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = OpenCredentials(path, []byte("correct horse"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt credentials")

	_, err = c.Get("session:home")
	assert.Error(t, err)
}

func TestCredentialStoreNeedsSecret(t *testing.T) {
	_, err := OpenCredentials(filepath.Join(t.TempDir(), "c"), nil)
	assert.Error(t, err)
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "secret")
	first, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Len(t, first, keyLen)

	second, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
