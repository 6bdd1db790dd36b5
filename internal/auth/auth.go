package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	minKeyLength = 12
	cacheTTL     = 5 * time.Minute
)

var (
	ErrInvalidFormat = errors.New("invalid API key format")
	ErrInvalidKey    = errors.New("invalid API key")
)

// KeyStore resolves hashed API keys. LookupAPIKey returns ErrInvalidKey when
// no active key has the hash.
type KeyStore interface {
	LookupAPIKey(ctx context.Context, keyHash string) (string, error)
	TouchAPIKey(ctx context.Context, keyHash string) error
}

// Cache keeps resolved project ids for a short time
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Validator maps API keys to project ids
type Validator struct {
	store KeyStore
	cache Cache
}

// NewValidator creates a validator; cache may be nil
func NewValidator(store KeyStore, cache Cache) *Validator {
	return &Validator{store: store, cache: cache}
}

// ValidateAPIKey returns the project owning the key. ErrInvalidFormat and
// ErrInvalidKey mean the caller is not authenticated; anything else is a
// storage failure.
func (v *Validator) ValidateAPIKey(ctx context.Context, apiKey string) (string, error) {
	if len(apiKey) < minKeyLength {
		return "", ErrInvalidFormat
	}

	keyHash := HashKey(apiKey)

	// Check cache first
	cacheKey := "apikey:" + keyHash
	if v.cache != nil {
		if projectID, ok := v.cache.Get(ctx, cacheKey); ok {
			return projectID, nil
		}
	}

	projectID, err := v.store.LookupAPIKey(ctx, keyHash)
	if err != nil {
		return "", err
	}

	if v.cache != nil {
		v.cache.Set(ctx, cacheKey, projectID, cacheTTL)
	}

	// Update last used
	go func() {
		if err := v.store.TouchAPIKey(context.Background(), keyHash); err != nil {
			log.Debug().Err(err).Msg("Failed to record API key use")
		}
	}()

	return projectID, nil
}

// HashKey is the stored form of an API key
func HashKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// RedisCache is a Cache on top of go-redis
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("API key cache read failed")
		}
		return "", false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("API key cache write failed")
	}
}

type projectKey struct{}

// WithProject stores the authenticated project id in the context
func WithProject(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectKey{}, projectID)
}

// ProjectFrom returns the authenticated project id
func ProjectFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(projectKey{}).(string)
	return id, ok && id != ""
}
