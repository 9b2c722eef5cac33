package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mallshop/mall-backend/internal/auth"
	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/metrics"
	"github.com/mallshop/mall-backend/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UserService handles user-related operations
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	tokens  *auth.TokenManager
	isAdmin func(username string) bool
}

// NewUserService creates a new user service. Usernames accepted by isAdmin
// are registered with the ADMIN role.
func NewUserService(db *db.DB, metrics *metrics.AppMetrics, tokens *auth.TokenManager, isAdmin func(username string) bool) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
		tokens:  tokens,
		isAdmin: isAdmin,
	}
}

// Register creates a new account
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username, password and email are required", ErrInvalidInput)
	}

	exists, err := s.exists(ctx, "username", username)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Printf("[AUTH] Registration failed: username %s is already taken", username)
		return nil, ErrDuplicateUsername
	}

	exists, err = s.exists(ctx, "email", email)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Printf("[AUTH] Registration failed: email %s is already in use", email)
		return nil, ErrDuplicateEmail
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := models.RoleUser
	if s.isAdmin != nil && s.isAdmin(username) {
		role = models.RoleAdmin
	}
	now := time.Now().UTC().Truncate(time.Second)

	start := time.Now()
	query := "INSERT INTO users (username, password, email, role, created_at) VALUES (?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, username, hash, email, role, now)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		// lost a race with a concurrent registration
		if myErr, ok := mysqlError(err, mysqlDuplicateEntry); ok {
			if strings.Contains(myErr.Message, "uk_users_email") {
				return nil, ErrDuplicateEmail
			}
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	s.metrics.RegistrationsTotal.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("role", role),
	})...))
	log.Printf("[AUTH] User registered: user_id=%d, username=%s, role=%s", id, username, role)

	return &models.User{
		ID:        id,
		Username:  username,
		Email:     email,
		Password:  hash,
		Role:      role,
		CreatedAt: now,
	}, nil
}

// Login verifies credentials and issues an access token.
// Unknown usernames and wrong passwords fail the same way.
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.JWTResponse, error) {
	username := strings.TrimSpace(req.Username)
	user, err := s.findByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if user == nil || !auth.CheckPassword(user.Password, req.Password) {
		s.recordLogin(ctx, "failure")
		log.Printf("[AUTH] Authentication failed for user: %s", username)
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, err
	}

	s.recordLogin(ctx, "success")
	log.Printf("[AUTH] User authenticated: user_id=%d, username=%s", user.ID, user.Username)

	return &models.JWTResponse{
		Token:    token,
		Type:     "Bearer",
		Username: user.Username,
		Email:    user.Email,
		Roles:    []string{user.Role},
	}, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, username, password, email, role, created_at FROM users WHERE id = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Password, &user.Email, &user.Role, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateUser changes the email and/or password of a user. Blank fields are
// left unchanged.
func (s *UserService) UpdateUser(ctx context.Context, id int64, req models.UpdateUserRequest) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(req.Email)
	if email != "" && email != user.Email {
		exists, err := s.exists(ctx, "email", email)
		if err != nil {
			return nil, err
		}
		if exists {
			log.Printf("[AUTH] Profile update failed: email %s is already in use", email)
			return nil, ErrDuplicateEmail
		}
		user.Email = email
	}

	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		user.Password = hash
	}

	start := time.Now()
	query := "UPDATE users SET email = ?, password = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, user.Email, user.Password, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		if _, ok := mysqlError(err, mysqlDuplicateEntry); ok {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	log.Printf("[AUTH] User updated: user_id=%d", id)
	return user, nil
}

func (s *UserService) findByUsername(ctx context.Context, username string) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, username, password, email, role, created_at FROM users WHERE username = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Password, &user.Email, &user.Role, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// exists reports whether a user with column = value is present.
// column is always a literal from this file.
func (s *UserService) exists(ctx context.Context, column, value string) (bool, error) {
	start := time.Now()
	query := fmt.Sprintf("SELECT COUNT(*) FROM users WHERE %s = ?", column)
	var n int
	err := s.db.QueryRowContext(ctx, query, value).Scan(&n)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", column, err)
	}
	return n > 0, nil
}

func (s *UserService) recordLogin(ctx context.Context, status string) {
	s.metrics.LoginAttemptsTotal.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("status", status),
	})...))
}
