package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// APIKeyPrefix is prepended to all generated API keys for easy identification.
	APIKeyPrefix = "sat_"
	// apiKeyStorePrefix is the key prefix for API key metadata.
	apiKeyStorePrefix = "satori:apikey:"
)

// ErrInvalidAPIKey is returned when a presented key has no stored metadata.
var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKeyMeta holds metadata about an API key. The raw key is never persisted.
type APIKeyMeta struct {
	ID         string `json:"id"`           // SHA-256 of the raw key
	Label      string `json:"label"`
	Prefix     string `json:"prefix"`       // display prefix
	Owner      string `json:"owner"`        // email, login or numeric user id the key acts as
	CreatedAt  string `json:"created_at"`   // RFC-3339
	LastUsedAt string `json:"last_used_at"` // RFC-3339, empty if never used
}

// GenerateAPIKey creates a random API key. The returned string is the only
// time the raw key is available.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

func hashKey(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}

func apiKeyStoreKey(keyHash string) string {
	return apiKeyStorePrefix + keyHash
}

// StoreAPIKey persists metadata for rawKey under its hash.
func StoreAPIKey(ctx context.Context, s KVStore, rawKey, label, owner string) (APIKeyMeta, error) {
	keyHash := hashKey(rawKey)
	meta := APIKeyMeta{
		ID:        keyHash,
		Label:     label,
		Prefix:    safePrefix(rawKey),
		Owner:     owner,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return APIKeyMeta{}, fmt.Errorf("failed to marshal API key metadata: %w", err)
	}
	if err := s.SetValue(ctx, apiKeyStoreKey(keyHash), string(data)); err != nil {
		return APIKeyMeta{}, fmt.Errorf("failed to store API key: %w", err)
	}
	return meta, nil
}

// ValidateAPIKey looks up rawKey and refreshes its LastUsedAt timestamp.
func ValidateAPIKey(ctx context.Context, s KVStore, rawKey string) (APIKeyMeta, error) {
	if rawKey == "" {
		return APIKeyMeta{}, ErrInvalidAPIKey
	}
	keyHash := hashKey(rawKey)
	raw, err := s.GetValue(ctx, apiKeyStoreKey(keyHash))
	if err != nil {
		if IsNotFound(err) {
			return APIKeyMeta{}, ErrInvalidAPIKey
		}
		return APIKeyMeta{}, fmt.Errorf("lookup API key: %w", err)
	}

	var meta APIKeyMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return APIKeyMeta{}, fmt.Errorf("failed to unmarshal API key metadata: %w", err)
	}

	// Best effort; a failed timestamp write must not fail the request.
	meta.LastUsedAt = time.Now().UTC().Format(time.RFC3339)
	if data, err := json.Marshal(meta); err == nil {
		_ = s.SetValue(ctx, apiKeyStoreKey(keyHash), string(data))
	}
	return meta, nil
}

// ListAPIKeys returns metadata for every stored API key.
func ListAPIKeys(ctx context.Context, s KVStore) ([]APIKeyMeta, error) {
	keys, err := s.ListKeys(ctx, apiKeyStorePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}

	var result []APIKeyMeta
	for _, k := range keys {
		raw, err := s.GetValue(ctx, k)
		if err != nil {
			continue // deleted between list and get
		}
		var meta APIKeyMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		result = append(result, meta)
	}
	return result, nil
}

// RevokeAPIKey deletes an API key by its hash ID.
func RevokeAPIKey(ctx context.Context, s KVStore, keyID string) error {
	if err := s.DeleteValue(ctx, apiKeyStoreKey(keyID)); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	return nil
}

func safePrefix(rawKey string) string {
	if len(rawKey) <= 8 {
		return rawKey
	}
	if strings.HasPrefix(rawKey, APIKeyPrefix) {
		end := len(APIKeyPrefix) + 8
		if end > len(rawKey) {
			end = len(rawKey)
		}
		return rawKey[:end] + "..."
	}
	return rawKey[:8] + "..."
}
