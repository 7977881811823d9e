package bot

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store SessionStore, chatID int64) {
	t.Helper()
	ctx := context.Background()

	s, err := store.Load(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, NewSession(), s, "unknown chat starts fresh")

	want := Session{Scene: SceneSpeaking, Step: StepConfirm, Draft: "привет", LastRenderedID: 12}
	require.NoError(t, store.Save(ctx, chatID, want))

	got, err := store.Load(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other, err := store.Load(ctx, chatID+1)
	require.NoError(t, err)
	assert.Equal(t, NewSession(), other)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), 100)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, addr, 0, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	chatID := time.Now().UnixNano()
	t.Cleanup(func() {
		store.Client.Del(ctx, store.key(chatID), store.key(chatID+1))
	})
	exerciseStore(t, store, chatID)

	ttl, err := store.Client.TTL(ctx, store.key(chatID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// Corrupt entries degrade to a fresh session.
	require.NoError(t, store.Client.Set(ctx, store.key(chatID), "{", time.Minute).Err())
	s, err := store.Load(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, NewSession(), s)
}

func TestRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, "127.0.0.1:1", 0, time.Minute)
	assert.Error(t, err)
}
