// Package codec serializes order snapshots for the cache.
//
// Payloads are JSON envelopes tagged with a schema version and a kind. Unknown
// fields are ignored so that additive changes stay readable, but a payload with
// a different version, a different kind, a missing required field or an
// unparsable value is rejected with ErrDecode and must be treated as a miss.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/niciki/system-design/internal/domain/model"

	"github.com/shopspring/decimal"
)

const (
	SchemaVersion = 1

	kindOrder     = "order"
	kindOrderList = "order_list"
)

var ErrDecode = errors.New("cache payload decode failed")

type Versioned struct{}

func NewVersioned() Versioned {
	return Versioned{}
}

type envelope struct {
	Version int            `json:"v"`
	Kind    string         `json:"kind"`
	Order   *orderRecord   `json:"order,omitempty"`
	Orders  []*orderRecord `json:"orders,omitempty"`
}

type listEnvelope struct {
	Version int            `json:"v"`
	Kind    string         `json:"kind"`
	Orders  []*orderRecord `json:"orders"`
}

type orderRecord struct {
	OrderID           int64          `json:"order_id"`
	ClientID          int64          `json:"client_id"`
	Items             []itemRecord   `json:"items"`
	TotalAmount       string         `json:"total_amount"`
	Status            string         `json:"status"`
	PaymentMethod     string         `json:"payment_method"`
	DeliveryType      string         `json:"delivery_type"`
	DeliveryAddress   *addressRecord `json:"delivery_address,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery,omitempty"`
	Notes             *string        `json:"notes,omitempty"`
}

type itemRecord struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type addressRecord struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (Versioned) Encode(order *model.Order) ([]byte, error) {
	if order == nil {
		return nil, errors.New("cannot encode nil order")
	}
	return json.Marshal(envelope{Version: SchemaVersion, Kind: kindOrder, Order: toRecord(order)})
}

func (Versioned) EncodeList(orders []*model.Order) ([]byte, error) {
	records := make([]*orderRecord, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			return nil, errors.New("cannot encode nil order")
		}
		records = append(records, toRecord(o))
	}
	return json.Marshal(listEnvelope{Version: SchemaVersion, Kind: kindOrderList, Orders: records})
}

func (Versioned) Decode(data []byte) (*model.Order, error) {
	env, err := unwrap(data, kindOrder)
	if err != nil {
		return nil, err
	}
	if env.Order == nil {
		return nil, fmt.Errorf("%w: missing order", ErrDecode)
	}
	return fromRecord(env.Order)
}

func (Versioned) DecodeList(data []byte) ([]*model.Order, error) {
	env, err := unwrap(data, kindOrderList)
	if err != nil {
		return nil, err
	}
	if env.Orders == nil {
		return nil, fmt.Errorf("%w: missing orders", ErrDecode)
	}
	orders := make([]*model.Order, 0, len(env.Orders))
	for i, rec := range env.Orders {
		if rec == nil {
			return nil, fmt.Errorf("%w: null order at index %d", ErrDecode, i)
		}
		o, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func unwrap(data []byte, kind string) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrDecode, env.Version)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: expected kind %q, got %q", ErrDecode, kind, env.Kind)
	}
	return &env, nil
}

func toRecord(o *model.Order) *orderRecord {
	rec := &orderRecord{
		OrderID:           o.OrderID,
		ClientID:          o.ClientID,
		Items:             make([]itemRecord, 0, len(o.Items)),
		TotalAmount:       o.TotalAmount.StringFixed(2),
		Status:            string(o.Status),
		PaymentMethod:     string(o.PaymentMethod),
		DeliveryType:      string(o.DeliveryType),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		DeliveredAt:       o.DeliveredAt,
		EstimatedDelivery: o.EstimatedDelivery,
		Notes:             o.Notes,
	}
	for _, item := range o.Items {
		rec.Items = append(rec.Items, itemRecord{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
		})
	}
	if a := o.DeliveryAddress; a != nil {
		rec.DeliveryAddress = &addressRecord{Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country}
	}
	return rec
}

func fromRecord(rec *orderRecord) (*model.Order, error) {
	// client_id is required: cache hits are authorized against it
	if rec.OrderID <= 0 || rec.ClientID <= 0 {
		return nil, fmt.Errorf("%w: order_id and client_id are required", ErrDecode)
	}
	if len(rec.Items) == 0 {
		return nil, fmt.Errorf("%w: order %d has no items", ErrDecode, rec.OrderID)
	}

	status := model.OrderStatus(rec.Status)
	payment := model.PaymentMethod(rec.PaymentMethod)
	delivery := model.DeliveryType(rec.DeliveryType)
	if !status.Valid() || !payment.Valid() || !delivery.Valid() {
		return nil, fmt.Errorf("%w: order %d has unknown enum value", ErrDecode, rec.OrderID)
	}
	if (delivery == model.DeliveryPickup) != (rec.DeliveryAddress == nil) {
		return nil, fmt.Errorf("%w: order %d delivery address does not match delivery type", ErrDecode, rec.OrderID)
	}

	total, err := decimal.NewFromString(rec.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: total_amount: %w", ErrDecode, err)
	}

	o := &model.Order{
		OrderID:           rec.OrderID,
		ClientID:          rec.ClientID,
		Items:             make([]model.OrderItem, 0, len(rec.Items)),
		TotalAmount:       total,
		Status:            status,
		PaymentMethod:     payment,
		DeliveryType:      delivery,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		DeliveredAt:       rec.DeliveredAt,
		EstimatedDelivery: rec.EstimatedDelivery,
		Notes:             rec.Notes,
	}
	for _, item := range rec.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: item price: %w", ErrDecode, err)
		}
		o.Items = append(o.Items, model.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     price,
		})
	}
	if a := rec.DeliveryAddress; a != nil {
		o.DeliveryAddress = &model.Address{Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country}
	}
	return o, nil
}
