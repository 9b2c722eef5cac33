package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/metrics"
	"github.com/mallshop/mall-backend/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const cartItemDTOQuery = `
	SELECT ci.id, ci.product_id, p.name, p.image_url, p.price, p.stock, ci.quantity
	FROM cart_items ci
	JOIN products p ON ci.product_id = p.id`

// CartService handles shopping cart operations
type CartService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewCartService creates a new cart service
func NewCartService(db *db.DB, metrics *metrics.AppMetrics) *CartService {
	return &CartService{
		db:      db,
		metrics: metrics,
	}
}

// GetCartItems returns the user's cart rows joined with their products
func (s *CartService) GetCartItems(ctx context.Context, userID int64) ([]models.CartItemDTO, error) {
	start := time.Now()
	query := cartItemDTOQuery + " WHERE ci.user_id = ? ORDER BY ci.id"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItemDTO{}
	for rows.Next() {
		item, err := scanCartItemDTO(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.metrics.CartItemsCount.Record(ctx, int64(len(items)), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
	return items, nil
}

// AddToCart adds a new row to the user's cart. Adding a product already in the
// cart creates a second row.
func (s *CartService) AddToCart(ctx context.Context, userID, productID int64, quantity int) (*models.CartItemDTO, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	start := time.Now()
	checkQuery := "SELECT COUNT(*) FROM products WHERE id = ?"
	var n int
	err := s.db.QueryRowContext(ctx, checkQuery, productID).Scan(&n)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", checkQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check product: %w", err)
	}
	if n == 0 {
		return nil, ErrProductNotFound
	}

	start = time.Now()
	query := "INSERT INTO cart_items (user_id, product_id, quantity, created_at) VALUES (?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, userID, productID, quantity, time.Now().UTC().Truncate(time.Second))
	s.metrics.RecordDBQuery(ctx, "INSERT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item ID: %w", err)
	}

	log.Printf("[CART] Item added: user_id=%d, cart_item_id=%d, product_id=%d, quantity=%d", userID, id, productID, quantity)
	return s.getCartItemDTO(ctx, id)
}

// UpdateQuantity sets the quantity of one of the user's cart rows
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItemDTO, error) {
	if err := s.checkOwner(ctx, userID, itemID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	start := time.Now()
	query := "UPDATE cart_items SET quantity = ? WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, quantity, itemID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.getCartItemDTO(ctx, itemID)
}

// RemoveItem deletes one of the user's cart rows
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	if err := s.checkOwner(ctx, userID, itemID); err != nil {
		return err
	}

	start := time.Now()
	query := "DELETE FROM cart_items WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, itemID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}

	log.Printf("[CART] Item removed: user_id=%d, cart_item_id=%d", userID, itemID)
	return nil
}

// ClearCart deletes every row of the user's cart
func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	start := time.Now()
	query := "DELETE FROM cart_items WHERE user_id = ?"
	result, err := s.db.ExecContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	removed, _ := result.RowsAffected()
	log.Printf("[CART] Cart cleared: user_id=%d, removed=%d", userID, removed)
	return nil
}

func (s *CartService) checkOwner(ctx context.Context, userID, itemID int64) error {
	start := time.Now()
	query := "SELECT user_id FROM cart_items WHERE id = ?"
	var owner int64
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(&owner)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return ErrCartItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get cart item: %w", err)
	}
	if owner != userID {
		log.Printf("[CART] Access denied: user_id=%d, cart_item_id=%d, owner=%d", userID, itemID, owner)
		return ErrNotOwner
	}
	return nil
}

func (s *CartService) getCartItemDTO(ctx context.Context, itemID int64) (*models.CartItemDTO, error) {
	start := time.Now()
	query := cartItemDTOQuery + " WHERE ci.id = ?"
	item, err := scanCartItemDTO(s.db.QueryRowContext(ctx, query, itemID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrCartItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return item, nil
}

func scanCartItemDTO(row rowScanner) (*models.CartItemDTO, error) {
	var item models.CartItemDTO
	err := row.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.ProductImage,
		&item.ProductPrice, &item.ProductStock, &item.Quantity)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
