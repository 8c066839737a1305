package convstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestStore_UpdateAndView(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Update("C1", func(doc *models.ConversationDoc) error {
		doc.Threads["root"] = &models.ThreadSession{
			ThreadKey: "root",
			State:     models.ThreadUninitialized,
			CreatedAt: time.Now().UTC(),
		}
		return nil
	})
	require.NoError(t, err)

	var got *models.ThreadSession
	err = store.View("C1", func(doc *models.ConversationDoc) {
		got = doc.Threads["root"]
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ThreadUninitialized, got.State)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	store, dir := newTestStore(t)

	err := store.Update("C1", func(doc *models.ConversationDoc) error {
		doc.Index = append(doc.Index, models.MessageIndexEntry{
			ExternalRef:       "t1",
			PostedAt:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			InternalMessageID: "u1",
			Kind:              models.MessageKindUser,
		})
		return nil
	})
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)

	entry, err := reopened.Lookup("C1", "t1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "u1", entry.InternalMessageID)
}

func TestStore_CorruptDocumentTreatedAsNotFound(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "C1.json"), []byte("{not valid json"), 0644))

	entry, err := store.Lookup("C1", "anything")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// A write replaces the corrupt file with a complete valid document
	err = store.Update("C1", func(doc *models.ConversationDoc) error {
		doc.Index = append(doc.Index, models.MessageIndexEntry{
			ExternalRef:       "t1",
			PostedAt:          time.Now().UTC(),
			InternalMessageID: "a1",
			Kind:              models.MessageKindAssistant,
		})
		return nil
	})
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	entry, err = reopened.Lookup("C1", "t1")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestStore_NoPartialWriteLeftBehind(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Update("C1", func(doc *models.ConversationDoc) error {
		return nil
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp", "temp file should be renamed away")
	}
}

func TestStore_EscapesConversationIDs(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Update("team/chan:42", func(doc *models.ConversationDoc) error {
		return nil
	}))

	_, err := os.Stat(filepath.Join(dir, "team%2Fchan%3A42.json"))
	assert.NoError(t, err)
}

func TestStore_DistinctIDsDontCollide(t *testing.T) {
	store, dir := newTestStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	ids := []string{"a/b", "a:b", "a_b"}
	for i, id := range ids {
		require.NoError(t, store.RecordMessage(id, models.MessageIndexEntry{
			ExternalRef:       "t1",
			PostedAt:          at,
			InternalMessageID: "m" + string(rune('0'+i)),
			Kind:              models.MessageKindUser,
		}))
	}

	// Reload from disk: each id must come back from its own document
	reopened, err := NewStore(dir)
	require.NoError(t, err)
	for i, id := range ids {
		entry, err := reopened.Lookup(id, "t1")
		require.NoError(t, err)
		require.NotNil(t, entry, "conversation %s lost its document", id)
		assert.Equal(t, "m"+string(rune('0'+i)), entry.InternalMessageID,
			"conversation %s read another conversation's document", id)
	}
}

func TestStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	store, _ := newTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Update("C1", func(doc *models.ConversationDoc) error {
				doc.Index = append(doc.Index, models.MessageIndexEntry{
					ExternalRef:       string(rune('a' + n)),
					PostedAt:          time.Now().UTC(),
					InternalMessageID: "id",
					Kind:              models.MessageKindUser,
				})
				return nil
			})
		}(i)
	}
	wg.Wait()

	var count int
	require.NoError(t, store.View("C1", func(doc *models.ConversationDoc) {
		count = len(doc.Index)
	}))
	assert.Equal(t, writers, count, "no update may be lost to a concurrent writer")
}

func TestStore_EmptyConversationIDRejected(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Update("", func(doc *models.ConversationDoc) error { return nil })
	assert.Error(t, err)

	err = store.View("", func(doc *models.ConversationDoc) {})
	assert.Error(t, err)
}
