package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusCreated    OrderStatus = "created"
	StatusProcessing OrderStatus = "processing"
	StatusInTransit  OrderStatus = "in_transit"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Deletable reports whether an order in this status has not been shipped yet.
func (s OrderStatus) Deletable() bool {
	return s == StatusCreated || s == StatusProcessing
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentOnline PaymentMethod = "online"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentCash || p == PaymentCard || p == PaymentOnline
}

type DeliveryType string

const (
	DeliveryStandard DeliveryType = "standard"
	DeliveryExpress  DeliveryType = "express"
	DeliveryPickup   DeliveryType = "pickup"
)

func (d DeliveryType) Valid() bool {
	return d == DeliveryStandard || d == DeliveryExpress || d == DeliveryPickup
}

// TotalTolerance is the maximum accepted difference between a total and the sum of its items.
var TotalTolerance = decimal.NewFromFloat(0.01)

type Address struct {
	Street     string `validate:"required,max=100"`
	City       string `validate:"required,max=50"`
	PostalCode string `validate:"required,max=20,postal_code_chars"`
	Country    string `validate:"required,max=50"`
}

type OrderItem struct {
	ProductID int64           `validate:"gte=0"`
	Name      string          `validate:"required,max=100"`
	Quantity  int             `validate:"gt=0"`
	Price     decimal.Decimal `validate:"gt=0"`
}

// LineTotal is price multiplied by quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the aggregate root. The relational store is its source of record.
type Order struct {
	OrderID           int64
	ClientID          int64
	Items             []OrderItem
	TotalAmount       decimal.Decimal
	Status            OrderStatus
	PaymentMethod     PaymentMethod
	DeliveryType      DeliveryType
	DeliveryAddress   *Address
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeliveredAt       *time.Time
	EstimatedDelivery *time.Time
	Notes             *string
}

// ItemsTotal sums price*quantity over the items, rounded to cents.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total.Round(2)
}

// TotalMatchesItems reports whether total equals the sum of items within TotalTolerance.
func TotalMatchesItems(total decimal.Decimal, items []OrderItem) bool {
	return total.Sub(ItemsTotal(items)).Abs().LessThanOrEqual(TotalTolerance)
}

// OwnedBy reports whether userID is the client that placed the order.
func (o *Order) OwnedBy(userID int64) bool {
	return o.ClientID == userID
}

// Clone returns a deep copy, so callers may not alias cached or stored state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.DeliveryAddress != nil {
		addr := *o.DeliveryAddress
		c.DeliveryAddress = &addr
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	if o.EstimatedDelivery != nil {
		t := *o.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	if o.Notes != nil {
		n := *o.Notes
		c.Notes = &n
	}
	return &c
}

type OrderCreateRequest struct {
	ClientID          int64         `validate:"gt=0"`
	Items             []OrderItem   `validate:"required,min=1,dive"`
	PaymentMethod     PaymentMethod `validate:"required,oneof=cash card online"`
	DeliveryType      DeliveryType  `validate:"required,oneof=standard express pickup"`
	DeliveryAddress   *Address
	EstimatedDelivery *time.Time
	Notes             *string `validate:"omitempty,max=500"`
	// TotalAmount is optional; when given it must match the items within TotalTolerance.
	TotalAmount *decimal.Decimal
}

// Total is the amount an order created from this request will carry.
func (r *OrderCreateRequest) Total() decimal.Decimal {
	return ItemsTotal(r.Items)
}

// NormalizePrices rounds every item price to cents.
func (r *OrderCreateRequest) NormalizePrices() {
	for i := range r.Items {
		r.Items[i].Price = r.Items[i].Price.Round(2)
	}
}

type OrderUpdateRequest struct {
	Status            *OrderStatus `validate:"omitempty,oneof=created processing in_transit delivered cancelled"`
	EstimatedDelivery *time.Time
	Notes             *string `validate:"omitempty,max=500"`
}

func (r OrderUpdateRequest) IsEmpty() bool {
	return r.Status == nil && r.EstimatedDelivery == nil && (r.Notes == nil || *r.Notes == "")
}

// Apply mutates o as the store would for this update at time now.
func (r OrderUpdateRequest) Apply(o *Order, now time.Time) {
	if r.Status != nil {
		o.Status = *r.Status
		if *r.Status == StatusDelivered && o.DeliveredAt == nil {
			delivered := now
			o.DeliveredAt = &delivered
		}
	}
	if r.EstimatedDelivery != nil {
		d := *r.EstimatedDelivery
		o.EstimatedDelivery = &d
	}
	if r.Notes != nil && *r.Notes != "" {
		n := *r.Notes
		o.Notes = &n
	}
	o.UpdatedAt = now
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
