package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	authTokenCacheKey = "paymob:auth_token"
	authTokenLockKey  = "paymob:auth_token:lock"
)

// TokenSource fetches a fresh gateway bearer token
type TokenSource interface {
	Authenticate(ctx context.Context) (string, error)
}

// AuthTokenCacheConfig holds token caching configuration
type AuthTokenCacheConfig struct {
	TTL          time.Duration // shorter than the gateway's real token lifetime
	LockTTL      time.Duration // failsafe expiry of the fetch lock
	WaitTimeout  time.Duration // how long followers poll before fetching themselves
	PollInterval time.Duration
}

// DefaultAuthTokenCacheConfig returns the default configuration
func DefaultAuthTokenCacheConfig() AuthTokenCacheConfig {
	return AuthTokenCacheConfig{
		TTL:          50 * time.Minute,
		LockTTL:      10 * time.Second,
		WaitTimeout:  3 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// AuthTokenCache caches the gateway bearer token in the shared store.
// Concurrent misses in one process collapse onto one fetch; across processes
// an atomic counter elects a single fetcher.
type AuthTokenCache struct {
	store  CacheStore
	source TokenSource
	config AuthTokenCacheConfig
	group  singleflight.Group
	logger *logrus.Logger
}

// NewAuthTokenCache creates a new token cache
func NewAuthTokenCache(store CacheStore, source TokenSource, config AuthTokenCacheConfig, logger *logrus.Logger) *AuthTokenCache {
	return &AuthTokenCache{
		store:  store,
		source: source,
		config: config,
		logger: logger,
	}
}

// Get returns a cached token or fetches a new one
func (c *AuthTokenCache) Get(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do(authTokenCacheKey, func() (interface{}, error) {
		return c.get(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the gateway rejected it
func (c *AuthTokenCache) Invalidate(ctx context.Context) error {
	c.group.Forget(authTokenCacheKey)
	if err := c.store.Delete(ctx, authTokenCacheKey); err != nil {
		return fmt.Errorf("failed to invalidate auth token: %w", err)
	}
	c.logger.Info("Gateway auth token invalidated")
	return nil
}

func (c *AuthTokenCache) get(ctx context.Context) (string, error) {
	if token, ok := c.cached(ctx); ok {
		return token, nil
	}

	n, err := c.store.Incr(ctx, authTokenLockKey, c.config.LockTTL)
	if err != nil {
		c.logger.WithError(err).Warn("Auth token lock unavailable, fetching directly")
		return c.fetchAndStore(ctx)
	}

	if n == 1 {
		// Pin the lock lifetime so a crashed holder cannot wedge other instances
		if err := c.store.Expire(ctx, authTokenLockKey, c.config.LockTTL); err != nil {
			c.logger.WithError(err).Warn("Failed to set auth token lock ttl")
		}
		defer func() {
			if err := c.store.Delete(context.WithoutCancel(ctx), authTokenLockKey); err != nil {
				c.logger.WithError(err).Warn("Failed to release auth token lock")
			}
		}()
		return c.fetchAndStore(ctx)
	}

	// Another instance is fetching
	deadline := time.Now().Add(c.config.WaitTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.config.PollInterval):
		}
		if token, ok := c.cached(ctx); ok {
			return token, nil
		}
	}

	c.logger.Warn("Timed out waiting for auth token fetch, fetching directly")
	return c.fetchAndStore(ctx)
}

func (c *AuthTokenCache) cached(ctx context.Context) (string, bool) {
	token, ok, err := c.store.Get(ctx, authTokenCacheKey)
	if err != nil {
		c.logger.WithError(err).Warn("Auth token cache read failed")
		return "", false
	}
	return token, ok && token != ""
}

func (c *AuthTokenCache) fetchAndStore(ctx context.Context) (string, error) {
	token, err := c.source.Authenticate(ctx)
	if err != nil {
		return "", gatewayError("authentication", err)
	}
	if token == "" {
		return "", gatewayError("authentication", errors.New("empty token"))
	}

	if err := c.store.Set(ctx, authTokenCacheKey, token, c.config.TTL); err != nil {
		c.logger.WithError(err).Warn("Failed to cache auth token")
	}

	c.logger.WithField("ttl", c.config.TTL.String()).Debug("Gateway auth token refreshed")
	return token, nil
}
