package api

import (
	"net/http"

	"github.com/mallshop/mall-backend/internal/models"
)

// GetCartHandler handles GET /api/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	items, err := a.cartService.GetCartItems(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// AddToCartHandler handles POST /api/cart/add
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.AddToCartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := a.cartService.AddToCart(r.Context(), id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateCartItemHandler handles PUT /api/cart/update/{id}
func (a *App) UpdateCartItemHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid cart item ID", http.StatusBadRequest)
		return
	}

	var req models.UpdateQuantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := a.cartService.UpdateQuantity(r.Context(), id.UserID, itemID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// RemoveCartItemHandler handles DELETE /api/cart/{id}
func (a *App) RemoveCartItemHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid cart item ID", http.StatusBadRequest)
		return
	}

	if err := a.cartService.RemoveItem(r.Context(), id.UserID, itemID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Item removed from cart"})
}

// ClearCartHandler handles DELETE /api/cart/clear
func (a *App) ClearCartHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	if err := a.cartService.ClearCart(r.Context(), id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Cart cleared"})
}
