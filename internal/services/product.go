package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mallshop/mall-backend/internal/cache"
	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/metrics"
	"github.com/mallshop/mall-backend/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Page size limits for catalog listings
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

const productColumns = "id, name, description, price, stock, image_url, brand, category, created_at, updated_at"

// ProductService handles product-related operations
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   cache.ProductCache
	sfg     singleflight.Group
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics, cache cache.ProductCache) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		cache:   cache,
	}
}

// ListProducts returns every product matching filter
func (s *ProductService) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	where, args := filterClause(filter)
	query := "SELECT " + productColumns + " FROM products" + where + " ORDER BY id"
	return s.queryProducts(ctx, query, args...)
}

// ListProductsPage returns one page of the products matching filter.
// page is zero based; size is clamped to [1, MaxPageSize].
func (s *ProductService) ListProductsPage(ctx context.Context, filter models.ProductFilter, page, size int) (*models.ProductPage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	where, args := filterClause(filter)

	start := time.Now()
	countQuery := "SELECT COUNT(*) FROM products" + where
	var total int64
	err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", countQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	totalPages := (total + int64(size) - 1) / int64(size)
	result := &models.ProductPage{
		Content:       []models.Product{},
		TotalElements: total,
		TotalPages:    int(totalPages),
		PageNumber:    page,
		PageSize:      size,
	}
	// past the last page; also keeps the offset below from overflowing
	if int64(page) >= totalPages {
		return result, nil
	}

	query := "SELECT " + productColumns + " FROM products" + where + " ORDER BY id LIMIT ? OFFSET ?"
	result.Content, err = s.queryProducts(ctx, query, append(args, size, page*size)...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	cached, err := s.cache.Get(ctx, id)
	if err == nil {
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
		s.recordView(ctx, cached)
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("[CACHE] get failed for product_id=%d: %v", id, err)
	}
	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))

	// concurrent misses for the same id share one query, which must not
	// fail for the other callers when the first one goes away
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.sfg.Do(productKey(id), func() (interface{}, error) {
		p, err := s.loadProduct(loadCtx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(loadCtx, p); err != nil {
			log.Printf("[CACHE] set failed for product_id=%d: %v", id, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p := *v.(*models.Product)
	s.recordView(ctx, &p)
	return &p, nil
}

// CreateProduct adds a product to the catalog
func (s *ProductService) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	if err := validateProduct(&p); err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	p.CreatedAt, p.UpdatedAt = now, now

	start := time.Now()
	query := `INSERT INTO products (name, description, price, stock, image_url, brand, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Brand, p.Category, p.CreatedAt, p.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	p.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get product ID: %w", err)
	}

	s.recordInventory(ctx, &p)
	log.Printf("[PRODUCT] Product created: product_id=%d, name=%s", p.ID, p.Name)
	return &p, nil
}

// UpdateProduct replaces the editable fields of product id
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, p models.Product) (*models.Product, error) {
	if err := validateProduct(&p); err != nil {
		return nil, err
	}

	existing, err := s.loadProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	p.ID = id
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	start := time.Now()
	query := `UPDATE products SET name = ?, description = ?, price = ?, stock = ?, image_url = ?, brand = ?, category = ?, updated_at = ?
		WHERE id = ?`
	_, err = s.db.ExecContext(ctx, query,
		p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Brand, p.Category, p.UpdatedAt, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.invalidate(ctx, id)
	s.recordInventory(ctx, &p)
	log.Printf("[PRODUCT] Product updated: product_id=%d", id)
	return &p, nil
}

// DeleteProduct removes a product that no order refers to
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := s.loadProduct(ctx, id); err != nil {
		return err
	}

	start := time.Now()
	refQuery := "SELECT COUNT(*) FROM order_items WHERE product_id = ?"
	var refs int
	err := s.db.QueryRowContext(ctx, refQuery, id).Scan(&refs)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", refQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to check product references: %w", err)
	}
	if refs > 0 {
		return ErrProductInUse
	}

	start = time.Now()
	query := "DELETE FROM products WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		if _, ok := mysqlError(err, mysqlRowIsReferenced); ok {
			return ErrProductInUse
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}

	s.invalidate(ctx, id)
	log.Printf("[PRODUCT] Product deleted: product_id=%d", id)
	return nil
}

// ListBrands returns the distinct non-empty brands, sorted
func (s *ProductService) ListBrands(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "brand")
}

// ListCategories returns the distinct non-empty categories, sorted
func (s *ProductService) ListCategories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "category")
}

func (s *ProductService) distinct(ctx context.Context, column string) ([]string, error) {
	start := time.Now()
	query := fmt.Sprintf("SELECT DISTINCT %[1]s FROM products WHERE %[1]s <> '' ORDER BY %[1]s", column)
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s values: %w", column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *ProductService) loadProduct(ctx context.Context, id int64) (*models.Product, error) {
	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *ProductService) queryProducts(ctx context.Context, query string, args ...interface{}) ([]models.Product, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func productKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// invalidate drops the cached copy and detaches any in-flight load that may
// have read the row before the change.
func (s *ProductService) invalidate(ctx context.Context, id int64) {
	s.sfg.Forget(productKey(id))
	if err := s.cache.Delete(ctx, id); err != nil {
		log.Printf("[CACHE] delete failed for product_id=%d: %v", id, err)
	}
}

func (s *ProductService) recordView(ctx context.Context, p *models.Product) {
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", p.ID),
		attribute.String("product_category", p.Category),
	})...))
}

func (s *ProductService) recordInventory(ctx context.Context, p *models.Product) {
	s.metrics.InventoryLevel.Record(ctx, int64(p.Stock), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", p.ID),
	})...))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL,
		&p.Brand, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// likeEscaper makes a search term match literally inside LIKE ... ESCAPE '!'.
// '!' needs no quoting in either MySQL or SQLite string literals.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// filterClause builds the WHERE clause for a catalog filter. Conditions
// combine with AND; name matches case-insensitively anywhere in the name.
func filterClause(f models.ProductFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if name := strings.TrimSpace(f.Name); name != "" {
		conds = append(conds, "LOWER(name) LIKE ? ESCAPE '!'")
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(name))+"%")
	}
	if brand := strings.TrimSpace(f.Brand); brand != "" {
		conds = append(conds, "brand = ?")
		args = append(args, brand)
	}
	if category := strings.TrimSpace(f.Category); category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func validateProduct(p *models.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidInput)
	}
	return nil
}
