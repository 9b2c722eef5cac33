package models

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

var orderStatusLabels = map[OrderStatus]string{
	OrderStatusPendingPayment: "待付款",
	OrderStatusPaid:           "已付款",
	OrderStatusShipped:        "已发货",
	OrderStatusDelivered:      "已送达",
	OrderStatusCompleted:      "已完成",
	OrderStatusCancelled:      "已取消",
}

// forward flow of an order; anything else is an unusual transition
var orderStatusFlow = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusCompleted},
}

// ParseOrderStatus matches s against the status names exactly
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	_, ok := orderStatusLabels[status]
	return status, ok
}

// Label returns the localized text used in exports
func (s OrderStatus) Label() string {
	if label, ok := orderStatusLabels[s]; ok {
		return label
	}
	return string(s)
}

// CanTransitionTo reports whether next follows s in the normal order flow.
// Staying in the same status is always allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range orderStatusFlow[s] {
		if candidate == next {
			return true
		}
	}
	return false
}
