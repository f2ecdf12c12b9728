package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func completeBundle(runID string) *processor.Result {
	return &processor.Result{
		RunID:     runID,
		Document:  "invoice.pdf",
		PageCount: 2,
		Language:  strPtr("eng"),
		Summary:   strPtr("An invoice."),
		Topics:    json.RawMessage(`["billing"]`),
		Entities:  []processor.Entity{{Text: "Alice", Category: "PERSON"}},
		Stages: []processor.StageOutcome{
			{Stage: processor.StageOCR, Status: processor.StatusSucceeded, JobID: "job-1"},
		},
	}
}

// partialBundle is a rerun where summarization failed and NER was skipped.
func partialBundle(runID string) *processor.Result {
	return &processor.Result{
		RunID:    runID,
		Document: "letter.pdf",
		Language: strPtr("fra"),
		Topics:   json.RawMessage(`{"topics":["travel"]}`),
	}
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, ttl)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func storeContract(t *testing.T, store ResultStore) {
	ctx := context.Background()

	_, err := store.Load(ctx, "session-a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, "session-a", completeBundle("run-1")))
	got, err := store.Load(ctx, "session-a")
	require.NoError(t, err)
	assert.True(t, got.Complete())
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []processor.Entity{{Text: "Alice", Category: "PERSON"}}, got.Entities)

	// a rerun replaces every slot, failed ones included
	require.NoError(t, store.Save(ctx, "session-a", partialBundle("run-2")))
	got, err = store.Load(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, "fra", *got.Language)
	assert.Nil(t, got.Summary)
	assert.Nil(t, got.Entities)
	assert.JSONEq(t, `{"topics":["travel"]}`, string(got.Topics))
	assert.False(t, got.Complete())

	// sessions are isolated
	_, err = store.Load(ctx, "session-b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "session-a"))
	_, err = store.Load(ctx, "session-a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, store.Save(ctx, "", completeBundle("run-3")))
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(time.Hour))
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	storeContract(t, store)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(0)
	bundle := completeBundle("run-1")
	require.NoError(t, store.Save(context.Background(), "s", bundle))

	bundle.Entities[0].Category = "ORG"
	got, err := store.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "PERSON", got.Entities[0].Category)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), "old", completeBundle("run-1")))
	now = now.Add(2 * time.Minute)

	_, err := store.Load(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(context.Background(), "new", completeBundle("run-2")))
	assert.Equal(t, 1, store.Len(), "saving evicts expired sessions")
}

func TestRedisStoreTTL(t *testing.T) {
	store, mr := newRedisStore(t, 30*time.Minute)
	require.NoError(t, store.Save(context.Background(), "s", completeBundle("run-1")))

	assert.Equal(t, 30*time.Minute, mr.TTL(resultKey("s")))
	mr.FastForward(31 * time.Minute)

	_, err := store.Load(context.Background(), "s")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", time.Hour)
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))

	_, err = NewRedisStore(context.Background(), "", time.Hour)
	assert.Error(t, err)
	_, err = NewRedisStore(context.Background(), "not a url", time.Hour)
	assert.Error(t, err)
}
