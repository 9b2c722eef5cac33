package services

import (
	"sync"
	"testing"

	"github.com/mallshop/mall-backend/internal/dbtest"
	"github.com/mallshop/mall-backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs the checkout path against a real MySQL server, where the cart rows are
// locked with SELECT ... FOR UPDATE. Requires Docker.
func TestMySQL_Checkout(t *testing.T) {
	env := newTestEnvOn(t, dbtest.OpenMySQL(t))
	require.Equal(t, " FOR UPDATE", env.db.ForUpdate())

	t.Run("register duplicates", func(t *testing.T) {
		_, err := env.users.Register(ctx(), models.RegisterRequest{Username: "dup", Password: "pw", Email: "dup@example.com"})
		require.NoError(t, err)
		_, err = env.users.Register(ctx(), models.RegisterRequest{Username: "dup", Password: "pw", Email: "dup2@example.com"})
		assert.ErrorIs(t, err, ErrDuplicateUsername)
		_, err = env.users.Register(ctx(), models.RegisterRequest{Username: "dup2", Password: "pw", Email: "dup@example.com"})
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("create order", func(t *testing.T) {
		userID := dbtest.InsertUser(t, env.db, "mysql-alice")
		fillCart(t, env, userID)

		order, err := env.orders.CreateOrder(ctx(), userID)
		require.NoError(t, err)
		assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("25.50")), order.TotalAmount.String())
		assert.Equal(t, 0, dbtest.Count(t, env.db, "cart_items", "user_id = ?", userID))

		stored, err := env.orders.GetOrder(ctx(), order.ID)
		require.NoError(t, err)
		require.Len(t, stored.Items, 2)
		assert.True(t, stored.Items[0].Price.Equal(decimal.RequireFromString("10.00")))

		updated, err := env.orders.UpdateOrderStatus(ctx(), order.ID, "PAID")
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, updated.Status)
	})

	t.Run("concurrent checkout of one cart", func(t *testing.T) {
		userID := dbtest.InsertUser(t, env.db, "mysql-bob")
		fillCart(t, env, userID)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.orders.CreateOrder(ctx(), userID)
			}(i)
		}
		wg.Wait()

		var created, empty int
		for _, err := range errs {
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, ErrEmptyCart):
				empty++
			}
		}
		assert.Equal(t, 1, created)
		assert.Equal(t, 1, empty)
		assert.Equal(t, 1, dbtest.Count(t, env.db, "orders", "user_id = ?", userID))
	})

	t.Run("delete ordered product", func(t *testing.T) {
		userID := dbtest.InsertUser(t, env.db, "mysql-carol")
		productID := dbtest.InsertProduct(t, env.db, "Ordered", "1.00", 1)
		dbtest.InsertCartItem(t, env.db, userID, productID, 1)
		_, err := env.orders.CreateOrder(ctx(), userID)
		require.NoError(t, err)

		assert.ErrorIs(t, env.products.DeleteProduct(ctx(), productID), ErrProductInUse)
	})
}
