package session

import (
	"context"
	"errors"
	"fmt"

	apperrors "civic-notifier/internal/common/errors"

	"github.com/99designs/keyring"
)

// KeyringStore keeps tokens in the OS credential store, keyed by user id.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyringStore opens the platform keyring. fileDir is used only when the
// encrypted-file backend is selected.
func OpenKeyringStore(service, fileDir string) (*KeyringStore, error) {
	if fileDir == "" {
		fileDir = "~/.config/" + service + "/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, apperrors.NewTokenStoreError(StoreKeyring, fmt.Errorf("opening keyring: %w", err))
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) Name() string { return StoreKeyring }

func (s *KeyringStore) Token(_ context.Context, userID string) (string, error) {
	item, err := s.ring.Get(tokenKey(userID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", apperrors.ErrNoToken
	}
	if err != nil {
		return "", apperrors.NewTokenStoreError(StoreKeyring, fmt.Errorf("getting token for %q: %w", userID, err))
	}
	if len(item.Data) == 0 {
		return "", apperrors.ErrNoToken
	}
	return string(item.Data), nil
}

func (s *KeyringStore) SaveToken(_ context.Context, userID, token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   tokenKey(userID),
		Data:  []byte(token),
		Label: "civic-notifier session token",
	})
	if err != nil {
		return apperrors.NewTokenStoreError(StoreKeyring, fmt.Errorf("setting token for %q: %w", userID, err))
	}
	return nil
}

func (s *KeyringStore) DeleteToken(_ context.Context, userID string) error {
	err := s.ring.Remove(tokenKey(userID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return apperrors.NewTokenStoreError(StoreKeyring, fmt.Errorf("deleting token for %q: %w", userID, err))
	}
	return nil
}

func tokenKey(userID string) string {
	return "session:" + userID + ":token"
}
