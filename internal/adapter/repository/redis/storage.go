// Package redis provides durable storage in Redis. Every write is also
// published on a per-key channel so other instances can follow changes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

const channelSuffix = ":changes"

// envelope is the pub/sub payload. Value is nil for removals.
type envelope struct {
	Origin string `json:"origin"`
	Value  []byte `json:"value"`
}

// Storage implements ports.WatchableStorage on a Redis client.
//
// Thread-safety: This implementation is thread-safe; go-redis clients are.
type Storage struct {
	client goredis.UniversalClient
	origin string
	logger *slog.Logger
}

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and pings the server.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Storage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.NewRepositoryError("connect", "redis", "failed to connect to "+opts.Addr, err)
	}

	return NewStorage(client, logger), nil
}

// NewStorage wraps an existing client.
func NewStorage(client goredis.UniversalClient, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		client: client,
		origin: uuid.NewString(),
		logger: logger.With(slog.String("repository", "redis")),
	}
}

// Origin returns the instance id stamped on this instance's writes.
func (s *Storage) Origin() string {
	return s.origin
}

func channel(key string) string {
	return key + channelSuffix
}

// GetItem returns the value of key.
func (s *Storage) GetItem(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, domain.NewRepositoryError("get", "redis", "failed to get "+key, err)
	}
	return value, nil
}

// SetItem stores the value and announces it on the key's channel.
func (s *Storage) SetItem(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return domain.NewRepositoryError("set", "redis", "failed to set "+key, err)
	}
	s.publish(ctx, key, value)
	return nil
}

// RemoveItem deletes the key and announces the removal.
func (s *Storage) RemoveItem(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return domain.NewRepositoryError("remove", "redis", "failed to delete "+key, err)
	}
	s.publish(ctx, key, nil)
	return nil
}

// publish failures only cost other instances a notification; the value is stored.
func (s *Storage) publish(ctx context.Context, key string, value []byte) {
	payload, err := json.Marshal(envelope{Origin: s.origin, Value: value})
	if err != nil {
		s.logger.Warn("failed to encode change", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := s.client.Publish(ctx, channel(key), payload).Err(); err != nil {
		s.logger.Warn("failed to publish change", slog.String("key", key), slog.Any("error", err))
	}
}

// Watch subscribes to the key's channel. The subscription is confirmed
// before Watch returns, so writes made afterwards are never missed.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan ports.StorageChange, error) {
	sub := s.client.Subscribe(ctx, channel(key))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, domain.NewRepositoryError("watch", "redis", "failed to subscribe to "+key, err)
	}

	out := make(chan ports.StorageChange, 8)
	messages := sub.Channel()

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					s.logger.Debug("ignoring malformed change", slog.String("key", key), slog.Any("error", err))
					continue
				}
				if env.Origin == s.origin {
					continue
				}
				select {
				case out <- ports.StorageChange{Key: key, NewValue: env.Value, Origin: env.Origin}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Verify interface implementation
var _ ports.WatchableStorage = (*Storage)(nil)
