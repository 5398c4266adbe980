package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const (
	DefaultValkeyAddr = "satori-valkey:6379"
)

// ErrNotFound is returned by GetValue when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KVStore defines the key/value operations our store supports.
type KVStore interface {
	// SetValue sets the given key to the specified value.
	SetValue(ctx context.Context, key, value string) error
	// SetValueWithTTL sets the given key to the specified value with a TTL in seconds.
	SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error
	// GetValue retrieves the value associated with the given key.
	GetValue(ctx context.Context, key string) (string, error)
	// ListKeys retrieves all keys matching the given pattern.
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	// DeleteValue removes the value associated with the given key.
	DeleteValue(ctx context.Context, key string) error
	// Close shuts down the underlying connection.
	Close() error
}

// valkeyStore is a concrete implementation of KVStore using the valkey-go client.
type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore creates a new store connected to addr, or DefaultValkeyAddr when addr is empty.
func NewValkeyStore(addr string) (KVStore, error) {
	if addr == "" {
		addr = DefaultValkeyAddr
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", addr, err)
	}
	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) SetValue(ctx context.Context, key, value string) error {
	cmd := s.client.B().Set().Key(key).Value(value).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		return s.SetValue(ctx, key, value)
	}
	cmd := s.client.B().Set().Key(key).Value(value).Ex(time.Duration(ttlSeconds) * time.Second).Build()
	return s.client.Do(ctx, cmd).Error()
}

// GetValue implements KVStore by executing a GET command. A missing key
// yields an error wrapping ErrNotFound.
func (s *valkeyStore) GetValue(ctx context.Context, key string) (string, error) {
	cmd := s.client.B().Get().Key(key).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("key '%s': %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("valkey GET for key '%s' failed: %w", key, err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to convert valkey reply to string for key '%s': %w", key, err)
	}
	return value, nil
}

// ListKeys implements KVStore by executing a KEYS command with pattern matching.
func (s *valkeyStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	cmd := s.client.B().Keys().Pattern(pattern).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("valkey KEYS with pattern '%s' failed: %w", pattern, err)
	}

	keyMessages, err := resp.ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to convert valkey KEYS reply to array for pattern '%s': %w", pattern, err)
	}

	keys := make([]string, len(keyMessages))
	for i, msg := range keyMessages {
		k, err := msg.ToString()
		if err != nil {
			return nil, fmt.Errorf("key %d in KEYS result for pattern '%s' is not a string: %w", i, pattern, err)
		}
		keys[i] = k
	}
	return keys, nil
}

func (s *valkeyStore) DeleteValue(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Close shuts down the underlying client connection.
func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
