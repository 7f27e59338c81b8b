// Package session resolves the bearer token persisted for a logged-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"civic-notifier/internal/common/config"
	"civic-notifier/internal/common/database"
	apperrors "civic-notifier/internal/common/errors"
)

const (
	StoreEnv     = "env"
	StoreKeyring = "keyring"
	StoreRedis   = "redis"
)

// TokenStore returns the bearer token for userID, or apperrors.ErrNoToken.
type TokenStore interface {
	Token(ctx context.Context, userID string) (string, error)
	Name() string
}

// TokenWriter is implemented by stores that can persist tokens.
type TokenWriter interface {
	SaveToken(ctx context.Context, userID, token string) error
	DeleteToken(ctx context.Context, userID string) error
}

// StaticStore serves one token configured up front (SESSION_TOKEN).
type StaticStore struct {
	token string
}

func NewStaticStore(token string) *StaticStore {
	return &StaticStore{token: strings.TrimSpace(token)}
}

func (s *StaticStore) Name() string { return StoreEnv }

func (s *StaticStore) Token(context.Context, string) (string, error) {
	if s.token == "" {
		return "", apperrors.ErrNoToken
	}
	return s.token, nil
}

// ChainStore asks each store in order and returns the first token found.
// A backend failure is remembered but does not stop the search.
type ChainStore struct {
	stores []TokenStore
}

func NewChainStore(stores ...TokenStore) *ChainStore {
	return &ChainStore{stores: stores}
}

func (c *ChainStore) Name() string {
	names := make([]string, 0, len(c.stores))
	for _, s := range c.stores {
		names = append(names, s.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c *ChainStore) Token(ctx context.Context, userID string) (string, error) {
	var firstErr error
	for _, s := range c.stores {
		token, err := s.Token(ctx, userID)
		if err == nil {
			return token, nil
		}
		if errors.Is(err, apperrors.ErrNoToken) {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", apperrors.ErrNoToken
}

// FromConfig builds the chain named by cfg.Stores. rdb may be nil unless the
// redis store is configured.
func FromConfig(cfg config.SessionConfig, rdb *database.RedisClient) (*ChainStore, error) {
	stores := make([]TokenStore, 0, len(cfg.Stores))
	for _, name := range cfg.Stores {
		switch name {
		case StoreEnv:
			stores = append(stores, NewStaticStore(cfg.Token))
		case StoreKeyring:
			ks, err := OpenKeyringStore(cfg.KeyringName, cfg.KeyringDir)
			if err != nil {
				return nil, err
			}
			stores = append(stores, ks)
		case StoreRedis:
			if rdb == nil {
				return nil, fmt.Errorf("redis token store requires a redis client")
			}
			stores = append(stores, NewRedisStore(rdb, cfg.RedisPrefix))
		default:
			return nil, fmt.Errorf("unknown token store %q", name)
		}
	}
	return NewChainStore(stores...), nil
}
