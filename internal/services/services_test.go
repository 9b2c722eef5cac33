package services

import (
	"context"
	"testing"
	"time"

	"github.com/mallshop/mall-backend/internal/auth"
	"github.com/mallshop/mall-backend/internal/cache"
	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/dbtest"
	"github.com/mallshop/mall-backend/internal/metrics"
)

type testEnv struct {
	db       *db.DB
	users    *UserService
	products *ProductService
	carts    *CartService
	orders   *OrderService
	cache    *cache.MemoryCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, dbtest.Open(t))
}

func newTestEnvOn(t *testing.T, database *db.DB) *testEnv {
	t.Helper()
	m := metrics.NewNoop()
	m.SetDBSystem(database.Dialect())
	c := cache.NewMemoryCache(time.Minute)
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	return &testEnv{
		db:       database,
		users:    NewUserService(database, m, tokens, func(username string) bool { return username == "root" }),
		products: NewProductService(database, m, c),
		carts:    NewCartService(database, m),
		orders:   NewOrderService(database, m, false),
		cache:    c,
	}
}

func ctx() context.Context {
	return context.Background()
}
