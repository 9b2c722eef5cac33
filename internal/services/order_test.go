package services

import (
	"testing"

	"github.com/mallshop/mall-backend/internal/dbtest"
	"github.com/mallshop/mall-backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillCart puts [(A, 10.00, 2), (B, 5.50, 1)] in the user's cart
func fillCart(t *testing.T, env *testEnv, userID int64) (int64, int64) {
	t.Helper()
	a := dbtest.InsertProduct(t, env.db, "A", "10.00", 100)
	b := dbtest.InsertProduct(t, env.db, "B", "5.50", 100)
	dbtest.InsertCartItem(t, env.db, userID, a, 2)
	dbtest.InsertCartItem(t, env.db, userID, b, 1)
	return a, b
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)
	userID := dbtest.InsertUser(t, env.db, "alice")
	a, b := fillCart(t, env, userID)

	order, err := env.orders.CreateOrder(ctx(), userID)
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, userID, order.UserID)
	assert.Equal(t, models.OrderStatusPendingPayment, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("25.50")), order.TotalAmount.String())
	assert.False(t, order.CreatedAt.IsZero())
	assert.Equal(t, order.CreatedAt, order.UpdatedAt)

	require.Len(t, order.Items, 2)
	assert.Equal(t, a, order.Items[0].ProductID)
	assert.Equal(t, "A", order.Items[0].ProductName)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].Subtotal.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, b, order.Items[1].ProductID)
	assert.True(t, order.Items[1].Subtotal.Equal(decimal.RequireFromString("5.50")))

	sum := decimal.Zero
	for _, item := range order.Items {
		assert.NotZero(t, item.ID)
		assert.Equal(t, order.ID, item.OrderID)
		sum = sum.Add(item.Subtotal)
	}
	assert.True(t, sum.Equal(order.TotalAmount))

	assert.Equal(t, 0, dbtest.Count(t, env.db, "cart_items", "user_id = ?", userID))
	assert.Equal(t, 2, dbtest.Count(t, env.db, "order_items", "order_id = ?", order.ID))

	stored, err := env.orders.GetOrder(ctx(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(order.TotalAmount))
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, "B", stored.Items[1].ProductName)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	userID := dbtest.InsertUser(t, env.db, "alice")

	order, err := env.orders.CreateOrder(ctx(), userID)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Nil(t, order)
	assert.Equal(t, 0, dbtest.Count(t, env.db, "orders", ""))
}

func TestCreateOrder_RollsBackOnItemFailure(t *testing.T) {
	env := newTestEnv(t)
	userID := dbtest.InsertUser(t, env.db, "alice")
	fillCart(t, env, userID)

	_, err := env.db.Exec(`CREATE TRIGGER fail_order_items BEFORE INSERT ON order_items
		BEGIN SELECT RAISE(ABORT, 'boom'); END;`)
	require.NoError(t, err)

	_, err = env.orders.CreateOrder(ctx(), userID)
	require.Error(t, err)

	assert.Equal(t, 0, dbtest.Count(t, env.db, "orders", ""))
	assert.Equal(t, 0, dbtest.Count(t, env.db, "order_items", ""))
	assert.Equal(t, 2, dbtest.Count(t, env.db, "cart_items", "user_id = ?", userID))
}

func TestCreateOrder_PriceSnapshot(t *testing.T) {
	env := newTestEnv(t)
	userID := dbtest.InsertUser(t, env.db, "alice")
	a, _ := fillCart(t, env, userID)

	order, err := env.orders.CreateOrder(ctx(), userID)
	require.NoError(t, err)

	_, err = env.db.Exec("UPDATE products SET price = ? WHERE id = ?", decimal.RequireFromString("99.00"), a)
	require.NoError(t, err)

	stored, err := env.orders.GetOrder(ctx(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Items[0].Price.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("25.50")))
}

func TestCreateOrder_OnlyOwnCart(t *testing.T) {
	env := newTestEnv(t)
	alice := dbtest.InsertUser(t, env.db, "alice")
	bob := dbtest.InsertUser(t, env.db, "bob")
	fillCart(t, env, alice)
	fillCart(t, env, bob)

	_, err := env.orders.CreateOrder(ctx(), alice)
	require.NoError(t, err)
	assert.Equal(t, 2, dbtest.Count(t, env.db, "cart_items", "user_id = ?", bob))
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orders.GetOrder(ctx(), 42)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListUserOrders(t *testing.T) {
	env := newTestEnv(t)
	alice := dbtest.InsertUser(t, env.db, "alice")
	bob := dbtest.InsertUser(t, env.db, "bob")

	fillCart(t, env, alice)
	first, err := env.orders.CreateOrder(ctx(), alice)
	require.NoError(t, err)
	fillCart(t, env, alice)
	second, err := env.orders.CreateOrder(ctx(), alice)
	require.NoError(t, err)
	fillCart(t, env, bob)
	_, err = env.orders.CreateOrder(ctx(), bob)
	require.NoError(t, err)

	orders, err := env.orders.ListUserOrders(ctx(), alice)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
	for _, o := range orders {
		assert.Equal(t, alice, o.UserID)
		assert.Len(t, o.Items, 2)
	}

	none, err := env.orders.ListUserOrders(ctx(), 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t)
	userID := dbtest.InsertUser(t, env.db, "alice")
	fillCart(t, env, userID)
	order, err := env.orders.CreateOrder(ctx(), userID)
	require.NoError(t, err)

	updated, err := env.orders.UpdateOrderStatus(ctx(), order.ID, "PAID")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, updated.Status)
	assert.Len(t, updated.Items, 2)

	_, err = env.orders.UpdateOrderStatus(ctx(), order.ID, "REFUNDED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = env.orders.UpdateOrderStatus(ctx(), order.ID, "paid")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	stored, err := env.orders.GetOrder(ctx(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)

	_, err = env.orders.UpdateOrderStatus(ctx(), order.ID+1, "PAID")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// off-flow moves are allowed unless strict
	updated, err = env.orders.UpdateOrderStatus(ctx(), order.ID, "PENDING_PAYMENT")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingPayment, updated.Status)
}

func TestUpdateOrderStatus_Strict(t *testing.T) {
	env := newTestEnv(t)
	env.orders.strictTransitions = true
	userID := dbtest.InsertUser(t, env.db, "alice")
	fillCart(t, env, userID)
	order, err := env.orders.CreateOrder(ctx(), userID)
	require.NoError(t, err)

	_, err = env.orders.UpdateOrderStatus(ctx(), order.ID, "SHIPPED")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	for _, status := range []string{"PAID", "SHIPPED", "DELIVERED", "COMPLETED"} {
		updated, err := env.orders.UpdateOrderStatus(ctx(), order.ID, status)
		require.NoError(t, err, status)
		assert.Equal(t, models.OrderStatus(status), updated.Status)
	}

	_, err = env.orders.UpdateOrderStatus(ctx(), order.ID, "CANCELLED")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}
