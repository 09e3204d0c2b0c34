package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ repository.OrderGateway = (*OrderGateway)(nil)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OrderGateway stores orders in PostgreSQL. Every operation holds one pooled
// connection for its duration; acquiring it waits at most acquireTimeout.
type OrderGateway struct {
	db             *sql.DB
	sq             squirrel.StatementBuilderType
	acquireTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func NewOrderGateway(db *sql.DB, acquireTimeout time.Duration, logger *zap.Logger) *OrderGateway {
	return &OrderGateway{
		db:             db,
		sq:             squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		acquireTimeout: acquireTimeout,
		now:            time.Now,
		logger:         logger,
	}
}

func (g *OrderGateway) CreateOrder(ctx context.Context, clientID int64, req model.OrderCreateRequest) (*model.Order, error) {
	var order *model.Order
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		now := g.timestamp()

		query, args, err := g.sq.Insert("orders").
			Columns("client_id", "total_amount", "status", "payment_method", "delivery_type",
				"created_at", "updated_at", "estimated_delivery", "notes").
			Values(clientID, req.Total(), string(model.StatusCreated), string(req.PaymentMethod), string(req.DeliveryType),
				now, now, req.EstimatedDelivery, req.Notes).
			Suffix("RETURNING order_id").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build orders insert query: %w", err)
		}
		var orderID int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&orderID); err != nil {
			return writeFailed("insert order", err)
		}

		items := g.sq.Insert("order_items").Columns("order_id", "product_id", "name", "quantity", "price")
		for _, item := range req.Items {
			items = items.Values(orderID, item.ProductID, item.Name, item.Quantity, item.Price.Round(2))
		}
		query, args, err = items.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build order_items insert query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return writeFailed("insert order items", err)
		}

		if req.DeliveryAddress != nil && req.DeliveryType != model.DeliveryPickup {
			if err := g.attachAddress(ctx, tx, orderID, clientID, req.DeliveryAddress); err != nil {
				return err
			}
		}

		if order, err = g.fetchOrder(ctx, tx, orderID); err != nil {
			return writeFailed("reload order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (g *OrderGateway) attachAddress(ctx context.Context, tx *sql.Tx, orderID, userID int64, addr *model.Address) error {
	query, args, err := g.sq.Insert("addresses").
		Columns("user_id", "street", "city", "postal_code", "country", "is_default").
		Values(userID, addr.Street, addr.City, addr.PostalCode, addr.Country, false).
		Suffix("RETURNING address_id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build addresses insert query: %w", err)
	}
	var addressID int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&addressID); err != nil {
		return writeFailed("insert address", err)
	}

	query, args, err = g.sq.Update("orders").
		Set("delivery_address_id", addressID).
		Where(squirrel.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build orders update query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return writeFailed("link address", err)
	}
	return nil
}

func (g *OrderGateway) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	conn, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer g.release(conn)

	return g.fetchOrder(ctx, conn, orderID)
}

func (g *OrderGateway) ListOrdersByClient(ctx context.Context, clientID int64) ([]*model.Order, error) {
	conn, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer g.release(conn)

	return g.fetchOrders(ctx, conn, selectOrders(g.sq).
		Where(squirrel.Eq{"o.client_id": clientID}).
		OrderBy("o.order_id"))
}

// RecentOrders returns up to limit orders, most recently updated first.
func (g *OrderGateway) RecentOrders(ctx context.Context, limit int) ([]*model.Order, error) {
	conn, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer g.release(conn)

	return g.fetchOrders(ctx, conn, selectOrders(g.sq).
		OrderBy("o.updated_at DESC", "o.order_id DESC").
		Limit(uint64(max(limit, 0))))
}

func (g *OrderGateway) UpdateOrderStatus(ctx context.Context, orderID int64, upd model.OrderUpdateRequest) (*model.Order, error) {
	var order *model.Order
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		var deliveredAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT delivered_at FROM orders WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&deliveredAt)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrOrderNotFound
		}
		if err != nil {
			return writeFailed("lock order", err)
		}

		now := g.timestamp()
		stmt := g.sq.Update("orders").Set("updated_at", now).Where(squirrel.Eq{"order_id": orderID})
		if upd.Status != nil {
			stmt = stmt.Set("status", string(*upd.Status))
			if *upd.Status == model.StatusDelivered && !deliveredAt.Valid {
				stmt = stmt.Set("delivered_at", now)
			}
		}
		if upd.EstimatedDelivery != nil {
			stmt = stmt.Set("estimated_delivery", *upd.EstimatedDelivery)
		}
		if upd.Notes != nil && *upd.Notes != "" {
			stmt = stmt.Set("notes", *upd.Notes)
		}

		query, args, err := stmt.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build orders update query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return writeFailed("update order", err)
		}

		if order, err = g.fetchOrder(ctx, tx, orderID); err != nil {
			return writeFailed("reload order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// DeleteOrder checks ownership and status under a row lock so that a
// concurrent status change cannot slip between the check and the delete.
func (g *OrderGateway) DeleteOrder(ctx context.Context, orderID, ownerID int64) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		var (
			clientID int64
			status   model.OrderStatus
		)
		err := tx.QueryRowContext(ctx,
			`SELECT client_id, status FROM orders WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&clientID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrOrderNotFound
		}
		if err != nil {
			return writeFailed("lock order", err)
		}
		if clientID != ownerID {
			return model.ErrForbidden
		}
		if !status.Deletable() {
			return fmt.Errorf("%w: order is %s", model.ErrConflict, status)
		}

		query, args, err := g.sq.Delete("orders").Where(squirrel.Eq{"order_id": orderID}).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build orders delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return writeFailed("delete order", err)
		}
		return nil
	})
}

func (g *OrderGateway) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()

	conn, err := g.db.Conn(acquireCtx)
	if err != nil {
		g.logger.Error("Failed to acquire DB connection", zap.Duration("timeout", g.acquireTimeout), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to acquire connection: %w", model.ErrStoreUnavailable, err)
	}
	return conn, nil
}

func (g *OrderGateway) release(conn *sql.Conn) {
	if err := conn.Close(); err != nil {
		g.logger.Error("Failed to release DB connection", zap.Error(err))
	}
}

// withTx runs fn in a transaction on a dedicated connection. Any error from
// fn rolls the transaction back.
func (g *OrderGateway) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer g.release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return writeFailed("begin transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			g.logger.Error("Failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return writeFailed("commit transaction", err)
	}
	return nil
}

func (g *OrderGateway) timestamp() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

func writeFailed(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", model.ErrStoreWriteFailed, op, err)
}

func selectOrders(sq squirrel.StatementBuilderType) squirrel.SelectBuilder {
	return sq.Select(
		"o.order_id", "o.client_id", "o.total_amount", "o.status", "o.payment_method", "o.delivery_type",
		"o.created_at", "o.updated_at", "o.delivered_at", "o.estimated_delivery", "o.notes",
		"a.street", "a.city", "a.postal_code", "a.country",
	).
		From("orders o").
		LeftJoin("addresses a ON a.address_id = o.delivery_address_id")
}

type orderRow struct {
	order       model.Order
	total       decimal.NullDecimal
	deliveredAt sql.NullTime
	estimated   sql.NullTime
	notes       sql.NullString
	street      sql.NullString
	city        sql.NullString
	postalCode  sql.NullString
	country     sql.NullString
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*orderRow, error) {
	var r orderRow
	err := s.Scan(
		&r.order.OrderID, &r.order.ClientID, &r.total, &r.order.Status, &r.order.PaymentMethod, &r.order.DeliveryType,
		&r.order.CreatedAt, &r.order.UpdatedAt, &r.deliveredAt, &r.estimated, &r.notes,
		&r.street, &r.city, &r.postalCode, &r.country,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *orderRow) toModel() *model.Order {
	o := r.order
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if r.total.Valid {
		o.TotalAmount = r.total.Decimal
	}
	if r.deliveredAt.Valid {
		t := r.deliveredAt.Time.UTC()
		o.DeliveredAt = &t
	}
	if r.estimated.Valid {
		t := r.estimated.Time.UTC()
		o.EstimatedDelivery = &t
	}
	if r.notes.Valid {
		n := r.notes.String
		o.Notes = &n
	}
	if r.street.Valid {
		o.DeliveryAddress = &model.Address{
			Street:     r.street.String,
			City:       r.city.String,
			PostalCode: r.postalCode.String,
			Country:    r.country.String,
		}
	}
	return &o
}

func (g *OrderGateway) fetchOrder(ctx context.Context, q querier, orderID int64) (*model.Order, error) {
	query, args, err := selectOrders(g.sq).Where(squirrel.Eq{"o.order_id": orderID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order select query: %w", err)
	}

	row, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	orders, err := g.assemble(ctx, q, []*orderRow{row})
	if err != nil {
		return nil, err
	}
	return orders[0], nil
}

func (g *OrderGateway) fetchOrders(ctx context.Context, q querier, stmt squirrel.SelectBuilder) ([]*model.Order, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders select query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			g.logger.Error("Failed to close rows", zap.Error(err))
		}
	}()

	var found []*orderRow
	for rows.Next() {
		row, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		found = append(found, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	if len(found) == 0 {
		return []*model.Order{}, nil
	}
	return g.assemble(ctx, q, found)
}

// assemble loads the items of every row in one query and fills in totals
// missing from older rows.
func (g *OrderGateway) assemble(ctx context.Context, q querier, found []*orderRow) ([]*model.Order, error) {
	orders := make([]*model.Order, 0, len(found))
	byID := make(map[int64]*model.Order, len(found))
	ids := make([]int64, 0, len(found))
	for _, row := range found {
		o := row.toModel()
		orders = append(orders, o)
		byID[o.OrderID] = o
		ids = append(ids, o.OrderID)
	}

	query, args, err := g.sq.Select("order_id", "product_id", "name", "quantity", "price").
		From("order_items").
		Where("order_id = ANY(?)", ids).
		OrderBy("order_id", "item_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order_items select query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			g.logger.Error("Failed to close rows", zap.Error(err))
		}
	}()

	for rows.Next() {
		var (
			orderID int64
			item    model.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	for i, row := range found {
		if row.total.Valid {
			continue
		}
		o := orders[i]
		o.TotalAmount = model.ItemsTotal(o.Items)
		g.logger.Warn("Order had NULL total_amount, recomputed from items",
			zap.Int64("order_id", o.OrderID), zap.String("total_amount", o.TotalAmount.StringFixed(2)))
	}
	return orders, nil
}
