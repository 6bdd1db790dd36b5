package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeys struct {
	mu      sync.Mutex
	keys    map[string]string
	lookups int
	err     error
}

func (m *memKeys) LookupAPIKey(_ context.Context, keyHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return "", m.err
	}
	id, ok := m.keys[keyHash]
	if !ok {
		return "", ErrInvalidKey
	}
	return id, nil
}

func (m *memKeys) TouchAPIKey(context.Context, string) error { return nil }

type memCache struct {
	mu   sync.Mutex
	vals map[string]string
	ttl  time.Duration
}

func (c *memCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = value
	c.ttl = ttl
}

const key = "gs_live_0123456789abcdef"

func TestValidateAPIKey(t *testing.T) {
	store := &memKeys{keys: map[string]string{HashKey(key): "proj-1"}}
	cache := &memCache{vals: map[string]string{}}
	v := NewValidator(store, cache)

	id, err := v.ValidateAPIKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", id)
	assert.Equal(t, 5*time.Minute, cache.ttl)

	id, err = v.ValidateAPIKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", id)
	assert.Equal(t, 1, store.lookups, "second call served from cache")
}

func TestValidateAPIKey_Rejects(t *testing.T) {
	v := NewValidator(&memKeys{keys: map[string]string{}}, nil)

	_, err := v.ValidateAPIKey(context.Background(), "short")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = v.ValidateAPIKey(context.Background(), key)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValidateAPIKey_StoreFailure(t *testing.T) {
	boom := errors.New("pg down")
	v := NewValidator(&memKeys{err: boom}, nil)

	_, err := v.ValidateAPIKey(context.Background(), key)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidKey)
}

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey(key), 64)
	assert.Equal(t, HashKey(key), HashKey(key))
	assert.NotEqual(t, HashKey(key), HashKey(key+"x"))
}

func TestProjectContext(t *testing.T) {
	_, ok := ProjectFrom(context.Background())
	assert.False(t, ok)

	id, ok := ProjectFrom(WithProject(context.Background(), "proj-1"))
	assert.True(t, ok)
	assert.Equal(t, "proj-1", id)
}
