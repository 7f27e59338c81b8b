package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civic-notifier/internal/common/database"
	apperrors "civic-notifier/internal/common/errors"
)

// RedisStore reads tokens the web login writes under <prefix>:<userID>:token.
type RedisStore struct {
	client *database.RedisClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *database.RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisStore{client: client, prefix: strings.TrimSuffix(prefix, ":"), ttl: 24 * time.Hour}
}

func (s *RedisStore) Name() string { return StoreRedis }

func (s *RedisStore) key(userID string) string {
	return fmt.Sprintf("%s:%s:token", s.prefix, userID)
}

func (s *RedisStore) Token(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, s.key(userID))
	if errors.Is(err, database.ErrKeyMissing) || (err == nil && val == "") {
		return "", apperrors.ErrNoToken
	}
	if err != nil {
		return "", apperrors.NewTokenStoreError(StoreRedis, err)
	}
	return val, nil
}

func (s *RedisStore) SaveToken(ctx context.Context, userID, token string) error {
	if err := s.client.Set(ctx, s.key(userID), token, s.ttl); err != nil {
		return apperrors.NewTokenStoreError(StoreRedis, err)
	}
	return nil
}

func (s *RedisStore) DeleteToken(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)); err != nil {
		return apperrors.NewTokenStoreError(StoreRedis, err)
	}
	return nil
}
