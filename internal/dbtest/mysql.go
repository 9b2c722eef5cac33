package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mallshop/mall-backend/internal/db"
)

// OpenMySQL starts a MySQL 8 container, applies the production migrations and
// returns a connection to it. Skipped with -short.
func OpenMySQL(t testing.TB) *db.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MySQL integration test in short mode")
	}

	ctx := context.Background()
	container, err := mysql.Run(ctx,
		"mysql:8.0",
		mysql.WithDatabase("mall"),
		mysql.WithUsername("mall"),
		mysql.WithPassword("mall"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4", "multiStatements=true")
	if err != nil {
		t.Fatalf("failed to build dsn: %v", err)
	}

	database, err := db.NewDB(dsn, "mall-backend-test")
	if err != nil {
		t.Fatalf("failed to connect to mysql: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return database
}
