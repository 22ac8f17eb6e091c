package prefstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscout/chatsync/internal/hydrate"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadWithoutSnapshot(t *testing.T) {
	store := openStore(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, hydrate.Snapshot{
		Language:             "de",
		ActiveConversationID: "c42",
	}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "de", snap.Language)
	assert.Equal(t, "c42", snap.ActiveConversationID)
}

func TestSaveReplacesPrevious(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, hydrate.Snapshot{Language: "en"}))
	require.NoError(t, store.Save(ctx, hydrate.Snapshot{Language: "fr", ActiveConversationID: "c7"}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "fr", snap.Language)
	assert.Equal(t, "c7", snap.ActiveConversationID)
}

func TestCorruptSnapshotTreatedAsMissing(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, value) VALUES (?, ?)`, snapshotKey, "{not json")
	require.NoError(t, err)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
