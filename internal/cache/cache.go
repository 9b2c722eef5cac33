// Package cache keeps recently read catalog products close to the service.
package cache

import (
	"context"
	"errors"

	"github.com/mallshop/mall-backend/internal/models"
)

// ProductCache stores products by id
type ProductCache interface {
	Get(ctx context.Context, id int64) (*models.Product, error)
	Set(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id int64) error
}

var ErrCacheMiss = errors.New("cache miss")
