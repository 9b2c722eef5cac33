package api

import (
	"log"
	"net/http"

	"github.com/mallshop/mall-backend/internal/models"
)

// RegisterHandler handles POST /auth/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	log.Printf("[AUTH] Attempting to register user: %s", req.Username)
	if _, err := a.userService.Register(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "User registered successfully!"})
}

// LoginHandler handles POST /auth/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.userService.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
