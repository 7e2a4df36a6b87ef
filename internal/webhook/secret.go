package webhook

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const secretPrefix = "whsec_"

// SecretFetcher retrieves the raw signing secret from the provider.
type SecretFetcher interface {
	WebhookSecret(ctx context.Context) (string, error)
}

// SecretCache memoizes the provider signing secret for the process
// lifetime. Concurrent misses share a single fetch; failures are not cached.
type SecretCache struct {
	fetcher SecretFetcher
	group   singleflight.Group

	mu  sync.RWMutex
	key []byte
}

func NewSecretCache(fetcher SecretFetcher) *SecretCache {
	return &SecretCache{fetcher: fetcher}
}

// Key returns the decoded HMAC key, fetching it on first use.
func (c *SecretCache) Key(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key != nil {
		return key, nil
	}
	if c.fetcher == nil {
		return nil, errors.New("webhook: no secret fetcher configured")
	}

	v, err, _ := c.group.Do("secret", func() (any, error) {
		c.mu.RLock()
		cached := c.key
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		raw, err := c.fetcher.WebhookSecret(ctx)
		if err != nil {
			return nil, err
		}
		decoded, err := DecodeSecret(raw)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.key = decoded
		c.mu.Unlock()
		return decoded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Seed installs a secret without contacting the provider.
func (c *SecretCache) Seed(secret string) error {
	decoded, err := DecodeSecret(secret)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.key = decoded
	c.mu.Unlock()
	return nil
}

// Reset drops the cached secret so the next Key call refetches it.
func (c *SecretCache) Reset() {
	c.mu.Lock()
	c.key = nil
	c.mu.Unlock()
}

// DecodeSecret strips the "whsec_" prefix and base64-decodes the remainder.
func DecodeSecret(secret string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(secret), secretPrefix)
	if trimmed == "" {
		return nil, errors.New("webhook: empty signing secret")
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("webhook: decode signing secret: %w", err)
	}
	return decoded, nil
}
