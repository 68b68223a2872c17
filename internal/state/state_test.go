package state

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2council/a2councilbot/internal/minutes"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestFileStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, testLogger())

	s := New()
	eventID := 1234
	s.EventID = &eventID
	flag := 1
	s.KnownItems["guid-1"] = minutes.EventItem{GUID: "guid-1", PassedFlag: &flag}
	s.PreviousPosts["twitter"] = json.RawMessage(`"tweet-9"`)
	s.PreviousPosts["bsky"] = json.RawMessage(`{"root":{"uri":"at://r","cid":"c"},"parent":{"uri":"at://p","cid":"c2"}}`)
	s.MarkDelivered("guid-2", "twitter")

	require.NoError(t, store.Save(s))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded.EventID)
	assert.Equal(t, 1234, *loaded.EventID)
	assert.Contains(t, loaded.KnownItems, "guid-1")
	assert.True(t, loaded.KnownItems["guid-1"].Decided())
	assert.Equal(t, `"tweet-9"`, string(loaded.PreviousPosts["twitter"]))
	assert.JSONEq(t, string(s.PreviousPosts["bsky"]), string(loaded.PreviousPosts["bsky"]))
	assert.True(t, loaded.Delivered("guid-2", "twitter"))
	assert.False(t, loaded.Delivered("guid-2", "mastodon"))
}

func TestFileStoreMissingFileStartsFresh(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	s, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, s.EventID)
	assert.Empty(t, s.KnownItems)
	assert.Empty(t, s.PreviousPosts)
}

func TestFileStoreCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	store := NewFileStore(path, testLogger())
	s, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, s.EventID)
}

func TestFileStoreLoadNormalizesOlderFiles(t *testing.T) {
	// Files written before delivery tracking existed have null maps.
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"event_id":5,"known_event_items":null,"previous_post_ids":null}`), 0o644))

	store := NewFileStore(path, testLogger())
	s, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, s.EventID)
	assert.Equal(t, 5, *s.EventID)

	// All maps must be writable after load.
	s.KnownItems["g"] = minutes.EventItem{GUID: "g"}
	s.PreviousPosts["mock"] = json.RawMessage(`"x 0"`)
	s.MarkDelivered("g", "mock")
}

func TestReset(t *testing.T) {
	s := New()
	eventID := 1
	s.EventID = &eventID
	s.KnownItems["g"] = minutes.EventItem{GUID: "g"}
	s.PreviousPosts["twitter"] = json.RawMessage(`"t"`)
	s.MarkDelivered("g", "twitter")

	s.Reset()

	assert.Nil(t, s.EventID)
	assert.Empty(t, s.KnownItems)
	assert.Empty(t, s.PreviousPosts)
	assert.False(t, s.Delivered("g", "twitter"))
}

func TestDeliveredTracking(t *testing.T) {
	s := New()
	assert.False(t, s.Delivered("g", "twitter"))

	s.MarkDelivered("g", "twitter")
	s.MarkDelivered("g", "twitter") // idempotent
	s.MarkDelivered("g", "bsky")

	assert.True(t, s.Delivered("g", "twitter"))
	assert.True(t, s.Delivered("g", "bsky"))
	assert.Len(t, s.DeliveredPosts["g"], 2)

	s.ClearDelivered("g")
	assert.False(t, s.Delivered("g", "twitter"))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	s, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, s.EventID)

	eventID := 7
	s.EventID = &eventID
	require.NoError(t, store.Save(s))

	again, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, again.EventID)
	assert.Equal(t, 7, *again.EventID)
}
