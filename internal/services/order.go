package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/metrics"
	"github.com/mallshop/mall-backend/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const orderColumns = "id, user_id, total_amount, status, created_at, updated_at"

const orderItemsQuery = `
	SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.price, oi.subtotal
	FROM order_items oi
	JOIN products p ON oi.product_id = p.id`

// OrderService handles order-related operations
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics

	// strictTransitions rejects status changes outside the normal order flow
	strictTransitions bool
}

// NewOrderService creates a new order service
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics, strictTransitions bool) *OrderService {
	return &OrderService{
		db:                db,
		metrics:           metrics,
		strictTransitions: strictTransitions,
	}
}

type cartLine struct {
	cartItemID  int64
	productID   int64
	productName string
	category    string
	quantity    int
	price       decimal.Decimal
}

// CreateOrder turns the user's cart into an order. The order, its items and
// the removal of the cart rows commit together or not at all.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lines, err := s.lockCart(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now().UTC().Truncate(time.Second)
	order := &models.Order{
		UserID:      userID,
		Items:       make([]models.OrderItem, 0, len(lines)),
		TotalAmount: decimal.Zero,
		Status:      models.OrderStatusPendingPayment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, line := range lines {
		subtotal := line.price.Mul(decimal.NewFromInt(int64(line.quantity)))
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   line.productID,
			ProductName: line.productName,
			Quantity:    line.quantity,
			Price:       line.price,
			Subtotal:    subtotal,
		})
		order.TotalAmount = order.TotalAmount.Add(subtotal)
	}

	start := time.Now()
	orderQuery := "INSERT INTO orders (user_id, total_amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
	result, err := tx.ExecContext(ctx, orderQuery, userID, order.TotalAmount, string(order.Status), order.CreatedAt, order.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	order.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get order ID: %w", err)
	}

	itemQuery := "INSERT INTO order_items (order_id, product_id, quantity, price, subtotal) VALUES (?, ?, ?, ?, ?)"
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		start = time.Now()
		result, err := tx.ExecContext(ctx, itemQuery, order.ID, item.ProductID, item.Quantity, item.Price, item.Subtotal)
		s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
		if item.ID, err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to get order item ID: %w", err)
		}
	}

	// only the rows that were read, anything added meanwhile stays in the cart
	cartIDs := make([]interface{}, len(lines))
	placeholders := make([]string, len(lines))
	for i, line := range lines {
		cartIDs[i] = line.cartItemID
		placeholders[i] = "?"
	}
	start = time.Now()
	deleteQuery := fmt.Sprintf("DELETE FROM cart_items WHERE id IN (%s)", strings.Join(placeholders, ","))
	_, err = tx.ExecContext(ctx, deleteQuery, cartIDs...)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", deleteQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.recordOrderMetrics(ctx, order, lines)
	log.Printf("[ORDER] Order created: order_id=%d, user_id=%d, total=%s, items=%d",
		order.ID, userID, order.TotalAmount.StringFixed(2), len(order.Items))

	return order, nil
}

// lockCart reads the user's cart rows with their current product prices
func (s *OrderService) lockCart(ctx context.Context, tx *sql.Tx, userID int64) ([]cartLine, error) {
	start := time.Now()
	cartQuery := `
		SELECT ci.id, ci.product_id, p.name, p.category, ci.quantity, p.price
		FROM cart_items ci
		JOIN products p ON ci.product_id = p.id
		WHERE ci.user_id = ?
		ORDER BY ci.id` + s.db.ForUpdate()
	rows, err := tx.QueryContext(ctx, cartQuery, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", cartQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	var lines []cartLine
	for rows.Next() {
		var line cartLine
		if err := rows.Scan(&line.cartItemID, &line.productID, &line.productName, &line.category, &line.quantity, &line.price); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *OrderService) recordOrderMetrics(ctx context.Context, order *models.Order, lines []cartLine) {
	categoryRevenue := make(map[string]decimal.Decimal)
	categoryOrders := make(map[string]int)
	for _, line := range lines {
		category := line.category
		if category == "" {
			category = "unknown"
		}
		categoryRevenue[category] = categoryRevenue[category].Add(line.price.Mul(decimal.NewFromInt(int64(line.quantity))))
		categoryOrders[category]++
	}

	for category, count := range categoryOrders {
		attrs := s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("order_status", string(order.Status)),
			attribute.String("product_category", category),
		})
		s.metrics.OrdersCreated.Add(ctx, int64(count), metric.WithAttributes(attrs...))
		s.metrics.RevenueTotal.Add(ctx, categoryRevenue[category].InexactFloat64(), metric.WithAttributes(attrs...))
	}
}

// GetOrder returns an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE id = ?"
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	orders := []models.Order{*order}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListUserOrders returns all orders for a user, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	orders, err := s.queryOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *OrderService) queryOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// attachItems loads the items of every order in one query
func (s *OrderService) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[int64]int, len(orders))
	ids := make([]interface{}, len(orders))
	placeholders := make([]string, len(orders))
	for i := range orders {
		index[orders[i].ID] = i
		orders[i].Items = []models.OrderItem{}
		ids[i] = orders[i].ID
		placeholders[i] = "?"
	}

	start := time.Now()
	query := fmt.Sprintf("%s WHERE oi.order_id IN (%s) ORDER BY oi.id", orderItemsQuery, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, ids...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.Price, &item.Subtotal); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

// UpdateOrderStatus sets the status of an order. Callers check ownership.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	selectQuery := "SELECT status FROM orders WHERE id = ?" + s.db.ForUpdate()
	var current models.OrderStatus
	err = tx.QueryRowContext(ctx, selectQuery, orderID).Scan(&current)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", selectQuery, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	next, ok := models.ParseOrderStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if !current.CanTransitionTo(next) {
		if s.strictTransitions {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, next)
		}
		log.Printf("[ORDER] Warning: unusual status transition: order_id=%d, %s -> %s", orderID, current, next)
	}

	start = time.Now()
	query := "UPDATE orders SET status = ?, updated_at = ? WHERE id = ?"
	_, err = tx.ExecContext(ctx, query, string(next), time.Now().UTC().Truncate(time.Second), orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.metrics.OrderStatusChanges.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("from_status", string(current)),
		attribute.String("to_status", string(next)),
	})...))
	log.Printf("[ORDER] Order status updated: order_id=%d, %s -> %s", orderID, current, next)

	return s.GetOrder(ctx, orderID)
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	err := row.Scan(&order.ID, &order.UserID, &order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
