// Package dbtest provides an in-memory SQLite database carrying the application
// schema, for service and handler tests.
package dbtest

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/mallshop/mall-backend/internal/db"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open returns a migrated in-memory database that is closed when the test ends
func Open(t testing.TB) *db.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// Every connection to ":memory:" is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("failed to open migrations: %v", err)
	}
	driver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
	if err != nil {
		t.Fatalf("failed to create migration driver: %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, db.DialectSQLite, driver)
	if err != nil {
		t.Fatalf("failed to create migrate instance: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db.New(sqlDB, db.DialectSQLite)
}

// InsertUser adds a user row with a placeholder password hash
func InsertUser(t testing.TB, database *db.DB, username string) int64 {
	t.Helper()
	res, err := database.ExecContext(context.Background(),
		"INSERT INTO users (username, password, email, role, created_at) VALUES (?, ?, ?, 'USER', ?)",
		username, "x", username+"@example.com", time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to insert user %s: %v", username, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// InsertProduct adds a product row with the given price and stock
func InsertProduct(t testing.TB, database *db.DB, name, price string, stock int) int64 {
	t.Helper()
	now := time.Now().UTC()
	res, err := database.ExecContext(context.Background(),
		`INSERT INTO products (name, description, price, stock, image_url, brand, category, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, name+" description", decimal.RequireFromString(price), stock, "/img/"+name+".png", "Acme", "general", now, now)
	if err != nil {
		t.Fatalf("failed to insert product %s: %v", name, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// InsertCartItem adds a cart row for userID
func InsertCartItem(t testing.TB, database *db.DB, userID, productID int64, quantity int) int64 {
	t.Helper()
	res, err := database.ExecContext(context.Background(),
		"INSERT INTO cart_items (user_id, product_id, quantity, created_at) VALUES (?, ?, ?, ?)",
		userID, productID, quantity, time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to insert cart item: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// Count returns the number of rows in table matching the optional where clause
func Count(t testing.TB, database *db.DB, table, where string, args ...interface{}) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := database.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
