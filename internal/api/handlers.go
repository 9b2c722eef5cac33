package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mallshop/mall-backend/internal/auth"
	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/metrics"
	"github.com/mallshop/mall-backend/internal/middleware"
	"github.com/mallshop/mall-backend/internal/services"
)

// App holds application dependencies
type App struct {
	db             *db.DB
	metrics        *metrics.AppMetrics
	tokens         *auth.TokenManager
	productService *services.ProductService
	cartService    *services.CartService
	orderService   *services.OrderService
	userService    *services.UserService
}

// NewApp creates a new application instance
func NewApp(
	database *db.DB,
	m *metrics.AppMetrics,
	tokens *auth.TokenManager,
	ps *services.ProductService,
	cs *services.CartService,
	os *services.OrderService,
	us *services.UserService,
) *App {
	return &App{
		db:             database,
		metrics:        m,
		tokens:         tokens,
		productService: ps,
		cartService:    cs,
		orderService:   os,
		userService:    us,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	r.HandleFunc("/health", a.HealthHandler).Methods("GET")

	// Auth
	r.HandleFunc("/auth/register", a.RegisterHandler).Methods("POST")
	r.HandleFunc("/auth/login", a.LoginHandler).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()

	// Catalog, public
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products/page", a.ListProductsPageHandler).Methods("GET")
	api.HandleFunc("/products/brands", a.ListBrandsHandler).Methods("GET")
	api.HandleFunc("/products/categories", a.ListCategoriesHandler).Methods("GET")
	api.HandleFunc("/products/{id:[0-9]+}", a.GetProductHandler).Methods("GET")

	// Catalog management
	admin := api.NewRoute().Subrouter()
	admin.Use(middleware.AuthMiddleware(a.tokens), middleware.AdminMiddleware)
	admin.HandleFunc("/products", a.CreateProductHandler).Methods("POST")
	admin.HandleFunc("/products/{id:[0-9]+}", a.UpdateProductHandler).Methods("PUT")
	admin.HandleFunc("/products/{id:[0-9]+}", a.DeleteProductHandler).Methods("DELETE")

	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.AuthMiddleware(a.tokens))

	// Cart
	protected.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	protected.HandleFunc("/cart/add", a.AddToCartHandler).Methods("POST")
	protected.HandleFunc("/cart/update/{id:[0-9]+}", a.UpdateCartItemHandler).Methods("PUT")
	protected.HandleFunc("/cart/clear", a.ClearCartHandler).Methods("DELETE")
	protected.HandleFunc("/cart/{id:[0-9]+}", a.RemoveCartItemHandler).Methods("DELETE")

	// Orders
	protected.HandleFunc("/orders", a.CreateOrderHandler).Methods("POST")
	protected.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	protected.HandleFunc("/orders/export/excel", a.ExportOrdersHandler).Methods("GET")
	protected.HandleFunc("/orders/{id:[0-9]+}", a.GetOrderHandler).Methods("GET")
	protected.HandleFunc("/orders/{id:[0-9]+}/status", a.UpdateOrderStatusHandler).Methods("PUT")

	// Users
	protected.HandleFunc("/users/me", a.GetCurrentUserHandler).Methods("GET")
	protected.HandleFunc("/users/me", a.UpdateCurrentUserHandler).Methods("PUT")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		log.Printf("[API] Health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

// writeError translates a service error into an HTTP status and message
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, "Internal Server Error"

	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		status, message = http.StatusBadRequest, "Invalid username or password!"
	case errors.Is(err, services.ErrDuplicateUsername):
		status, message = http.StatusBadRequest, "Username is already taken!"
	case errors.Is(err, services.ErrDuplicateEmail):
		status, message = http.StatusBadRequest, "Email is already in use!"
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrEmptyCart):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrNotOwner):
		status, message = http.StatusForbidden, "Access denied"
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrProductNotFound),
		errors.Is(err, services.ErrCartItemNotFound),
		errors.Is(err, services.ErrOrderNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrIllegalTransition),
		errors.Is(err, services.ErrProductInUse):
		status, message = http.StatusConflict, err.Error()
	}

	if status >= http.StatusInternalServerError {
		log.Printf("[API] %s %s failed [%s]: %v", r.Method, r.URL.Path, middleware.RequestID(r.Context()), err)
	}
	http.Error(w, message, status)
}

// caller returns the authenticated identity, answering 401 when absent
func caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
