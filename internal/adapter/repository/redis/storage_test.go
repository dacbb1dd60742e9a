package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/logger"
)

// Helper to create two instances sharing one in-process Redis server
func newTestStorages(t *testing.T) (*miniredis.Miniredis, *Storage, *Storage) {
	t.Helper()

	server := miniredis.RunT(t)
	newStorage := func() *Storage {
		client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewStorage(client, logger.NewDiscardLogger())
	}
	return server, newStorage(), newStorage()
}

func TestStorage_SetAndGet(t *testing.T) {
	server, storage, _ := newTestStorages(t)
	ctx := context.Background()

	require.NoError(t, storage.SetItem(ctx, "encore:player-preferences", []byte(`{"volume":0.6}`)))

	value, err := storage.GetItem(ctx, "encore:player-preferences")
	require.NoError(t, err)
	assert.Equal(t, `{"volume":0.6}`, string(value))

	stored, err := server.Get("encore:player-preferences")
	require.NoError(t, err)
	assert.Equal(t, `{"volume":0.6}`, stored)
}

func TestStorage_GetMissing(t *testing.T) {
	_, storage, _ := newTestStorages(t)

	_, err := storage.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestStorage_Remove(t *testing.T) {
	server, storage, _ := newTestStorages(t)
	ctx := context.Background()

	require.NoError(t, storage.SetItem(ctx, "k", []byte("v")))
	require.NoError(t, storage.RemoveItem(ctx, "k"))
	assert.False(t, server.Exists("k"))
}

func TestStorage_ServerDown(t *testing.T) {
	server, storage, _ := newTestStorages(t)
	server.Close()

	_, err := storage.GetItem(context.Background(), "k")
	var repoErr *domain.RepositoryError
	assert.ErrorAs(t, err, &repoErr)
}

func TestStorage_WatchDeliversOtherInstances(t *testing.T) {
	_, tabA, tabB := newTestStorages(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := tabA.Watch(ctx, "prefs")
	require.NoError(t, err)

	// Own writes are not delivered
	require.NoError(t, tabA.SetItem(context.Background(), "prefs", []byte("mine")))
	require.NoError(t, tabB.SetItem(context.Background(), "prefs", []byte("theirs")))
	require.NoError(t, tabB.RemoveItem(context.Background(), "prefs"))

	select {
	case change := <-changes:
		assert.Equal(t, "prefs", change.Key)
		assert.Equal(t, "theirs", string(change.NewValue))
		assert.Equal(t, tabB.Origin(), change.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("change was not delivered")
	}

	select {
	case change := <-changes:
		assert.Nil(t, change.NewValue)
	case <-time.After(2 * time.Second):
		t.Fatal("removal was not delivered")
	}

	cancel()
	for range changes {
	}
}

func TestConnect(t *testing.T) {
	server := miniredis.RunT(t)

	storage, err := Connect(context.Background(), Options{Addr: server.Addr()}, logger.NewDiscardLogger())
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Connect(ctx, Options{Addr: "127.0.0.1:1"}, logger.NewDiscardLogger())
	assert.Error(t, err)
}
