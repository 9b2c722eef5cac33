package api

import (
	"net/http"

	"github.com/mallshop/mall-backend/internal/models"
)

// GetCurrentUserHandler handles GET /api/users/me
func (a *App) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	user, err := a.userService.GetUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateCurrentUserHandler handles PUT /api/users/me
func (a *App) UpdateCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := a.userService.UpdateUser(r.Context(), id.UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
