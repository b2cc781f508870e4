package model

import "time"

// OrderDetails is the validated payload of an order confirmation.
type OrderDetails struct {
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	DeliveryAddress string    `json:"delivery_address"`
	OrderItems      []string  `json:"order_items"`
	TotalAmount     float64   `json:"total_amount"`
	Notes           string    `json:"notes,omitempty"`
	OrderTime       time.Time `json:"order_time"`
}

// OrderID is the short reference quoted to customers.
func OrderID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}

type NotificationsSent struct {
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}
