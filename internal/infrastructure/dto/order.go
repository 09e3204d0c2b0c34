// Package dto holds the JSON shapes exchanged with HTTP clients and carried
// by create-order commands on Kafka.
package dto

import (
	"strings"
	"time"

	"github.com/niciki/system-design/internal/domain/model"

	"github.com/shopspring/decimal"
)

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// CreateOrderRequest is also the payload of a create-order command.
type CreateOrderRequest struct {
	ClientID          int64       `json:"client_id"`
	Items             []OrderItem `json:"items"`
	TotalAmount       *float64    `json:"total_amount,omitempty"`
	PaymentMethod     string      `json:"payment_method"`
	DeliveryType      string      `json:"delivery_type"`
	DeliveryAddress   *Address    `json:"delivery_address,omitempty"`
	EstimatedDelivery *time.Time  `json:"estimated_delivery,omitempty"`
	Notes             *string     `json:"notes,omitempty"`
}

type UpdateOrderRequest struct {
	Status            *string    `json:"status,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
}

type OrderResponse struct {
	OrderID           int64       `json:"order_id"`
	ClientID          int64       `json:"client_id"`
	Items             []OrderItem `json:"items"`
	TotalAmount       float64     `json:"total_amount"`
	Status            string      `json:"status"`
	PaymentMethod     string      `json:"payment_method"`
	DeliveryType      string      `json:"delivery_type"`
	DeliveryAddress   *Address    `json:"delivery_address"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	DeliveredAt       *time.Time  `json:"delivered_at"`
	EstimatedDelivery *time.Time  `json:"estimated_delivery"`
	Notes             *string     `json:"notes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r CreateOrderRequest) ToModel() model.OrderCreateRequest {
	items := make([]model.OrderItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, model.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     money(it.Price),
		})
	}

	req := model.OrderCreateRequest{
		ClientID:          r.ClientID,
		Items:             items,
		PaymentMethod:     model.PaymentMethod(normalize(r.PaymentMethod)),
		DeliveryType:      model.DeliveryType(normalize(r.DeliveryType)),
		EstimatedDelivery: r.EstimatedDelivery,
		Notes:             r.Notes,
	}
	if r.DeliveryAddress != nil {
		req.DeliveryAddress = &model.Address{
			Street:     r.DeliveryAddress.Street,
			City:       r.DeliveryAddress.City,
			PostalCode: r.DeliveryAddress.PostalCode,
			Country:    r.DeliveryAddress.Country,
		}
	}
	if r.TotalAmount != nil {
		total := money(*r.TotalAmount)
		req.TotalAmount = &total
	}
	return req
}

func (r UpdateOrderRequest) ToModel() model.OrderUpdateRequest {
	upd := model.OrderUpdateRequest{
		EstimatedDelivery: r.EstimatedDelivery,
		Notes:             r.Notes,
	}
	if r.Status != nil {
		status := model.OrderStatus(normalize(*r.Status))
		upd.Status = &status
	}
	return upd
}

func FromOrder(o *model.Order) OrderResponse {
	items := make([]OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price.Round(2).InexactFloat64(),
		})
	}

	resp := OrderResponse{
		OrderID:           o.OrderID,
		ClientID:          o.ClientID,
		Items:             items,
		TotalAmount:       o.TotalAmount.Round(2).InexactFloat64(),
		Status:            string(o.Status),
		PaymentMethod:     string(o.PaymentMethod),
		DeliveryType:      string(o.DeliveryType),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		DeliveredAt:       o.DeliveredAt,
		EstimatedDelivery: o.EstimatedDelivery,
		Notes:             o.Notes,
	}
	if o.DeliveryAddress != nil {
		resp.DeliveryAddress = &Address{
			Street:     o.DeliveryAddress.Street,
			City:       o.DeliveryAddress.City,
			PostalCode: o.DeliveryAddress.PostalCode,
			Country:    o.DeliveryAddress.Country,
		}
	}
	return resp
}

func FromOrders(orders []*model.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}
