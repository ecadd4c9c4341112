package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/trophythreads/internal/domain"
)

// HandleStore keeps at most one Order Handle per session.
type HandleStore interface {
	Put(ctx context.Context, sessionID string, handle *domain.OrderHandle) error
	Peek(ctx context.Context, sessionID string) (*domain.OrderHandle, error)
	Consume(ctx context.Context, sessionID string) (*domain.OrderHandle, error)
	Clear(ctx context.Context, sessionID string) error
}

const DefaultHandleTTL = 30 * time.Minute

type RedisHandleStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHandleStore(client *redis.Client, ttl time.Duration) *RedisHandleStore {
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}
	return &RedisHandleStore{client: client, ttl: ttl}
}

func (s *RedisHandleStore) Put(ctx context.Context, sessionID string, handle *domain.OrderHandle) error {
	if sessionID == "" {
		return domain.NewValidationError("session", "session id is required")
	}
	data, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("marshal order handle failed: %w", err)
	}
	if err := s.client.Set(ctx, handleKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Peek reads the handle without consuming it.
func (s *RedisHandleStore) Peek(ctx context.Context, sessionID string) (*domain.OrderHandle, error) {
	data, err := s.client.Get(ctx, handleKey(sessionID)).Bytes()
	return decode(data, err)
}

// Consume reads and deletes the handle in one step, so only one reader
// ever sees it.
func (s *RedisHandleStore) Consume(ctx context.Context, sessionID string) (*domain.OrderHandle, error) {
	data, err := s.client.GetDel(ctx, handleKey(sessionID)).Bytes()
	return decode(data, err)
}

func (s *RedisHandleStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, handleKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func decode(data []byte, err error) (*domain.OrderHandle, error) {
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrHandleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var handle domain.OrderHandle
	if err := json.Unmarshal(data, &handle); err != nil {
		return nil, fmt.Errorf("unmarshal order handle failed: %w", err)
	}
	return &handle, nil
}

func handleKey(sessionID string) string {
	return fmt.Sprintf("order_handle:%s", sessionID)
}
