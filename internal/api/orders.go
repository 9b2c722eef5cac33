package api

import (
	"bytes"
	"encoding/json"
	"log"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/mallshop/mall-backend/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CreateOrderHandler handles POST /api/orders
func (a *App) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	order, err := a.orderService.CreateOrder(r.Context(), id.UserID)
	if err != nil {
		log.Printf("[ORDER] Create order failed for user %s: %v", id.Username, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrdersHandler handles GET /api/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	orders, err := a.orderService.ListUserOrders(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /api/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	order, err := a.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if order.UserID != id.UserID {
		log.Printf("[ORDER] Access denied: user %s requested order %d", id.Username, orderID)
		writeError(w, r, services.ErrNotOwner)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateOrderStatusHandler handles PUT /api/orders/{id}/status.
// The status comes from the query string, or a JSON body {"status": ...}.
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" && r.Body != nil {
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			status = body.Status
		}
	}

	order, err := a.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if order.UserID != id.UserID {
		log.Printf("[ORDER] Access denied: user %s tried to update order %d", id.Username, orderID)
		writeError(w, r, services.ErrNotOwner)
		return
	}

	updated, err := a.orderService.UpdateOrderStatus(r.Context(), orderID, status)
	if err != nil {
		log.Printf("[ORDER] Status update failed for order %d by user %s: %v", orderID, id.Username, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ExportOrdersHandler handles GET /api/orders/export/excel
func (a *App) ExportOrdersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := a.orderService.ExportOrdersToExcel(r.Context(), id.UserID, &buf); err != nil {
		writeError(w, r, err)
		return
	}

	filename := "订单记录_" + time.Now().Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[ORDER] Failed to send export to user %s: %v", id.Username, err)
	}
}
