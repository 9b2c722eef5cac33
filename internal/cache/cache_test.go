package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mallshop/mall-backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProduct() *models.Product {
	return &models.Product{
		ID:       42,
		Name:     "Keyboard",
		Price:    decimal.RequireFromString("199.90"),
		Stock:    7,
		Brand:    "Acme",
		Category: "peripherals",
	}
}

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, 5*time.Minute), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleProduct()))
	assert.True(t, mr.Exists("product:42"))

	ttl := mr.TTL("product:42")
	assert.GreaterOrEqual(t, ttl, 5*time.Minute)
	assert.Less(t, ttl, 6*time.Minute)

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("199.9")))
	assert.Equal(t, 7, got.Stock)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := setupTestRedis(t)

	got, err := c.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedisCache_InvalidJSON(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("product:3", "{not json"))

	_, err := c.Get(context.Background(), 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_Delete(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleProduct()))
	require.NoError(t, c.Delete(ctx, 42))
	assert.False(t, mr.Exists("product:42"))

	_, err := c.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_ServerDown(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleProduct()))

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", got.Name)

	// the returned product is a copy
	got.Name = "changed"
	again, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", again.Name)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Empty(t, c.items, "expired entry is dropped on read")
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleProduct()))
	require.NoError(t, c.Delete(ctx, 42))

	_, err := c.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
