package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"
	"github.com/niciki/system-design/internal/infrastructure/dto"
	"github.com/niciki/system-design/internal/infrastructure/http/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orders repository.OrderService
	logger *zap.Logger
}

func NewOrderHandler(orders repository.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

func (h *OrderHandler) Create(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		h.writeError(c, model.ErrUnauthorized)
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind create order request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.orders.Create(c.Request.Context(), caller, req.ToModel())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromOrder(order))
}

func (h *OrderHandler) List(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		h.writeError(c, model.ErrUnauthorized)
		return
	}

	orders, err := h.orders.ListMine(c.Request.Context(), caller.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrders(orders))
}

func (h *OrderHandler) Get(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		h.writeError(c, model.ErrUnauthorized)
		return
	}
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.orders.Get(c.Request.Context(), caller, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		h.writeError(c, model.ErrUnauthorized)
		return
	}
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	var req dto.UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind update order request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), caller, orderID, req.ToModel())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (h *OrderHandler) Delete(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		h.writeError(c, model.ErrUnauthorized)
		return
	}
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	if err := h.orders.Delete(c.Request.Context(), caller, orderID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "order_id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *OrderHandler) writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, model.ErrOrderNotFound):
		status, msg = http.StatusNotFound, "order not found"
	case errors.Is(err, model.ErrForbidden):
		status, msg = http.StatusForbidden, "not authorized to access this order"
	case errors.Is(err, model.ErrConflict):
		status, msg = http.StatusConflict, "cannot delete order that is already being processed"
	case errors.Is(err, model.ErrValidationFailed):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, model.ErrNoFieldsToUpdate):
		status, msg = http.StatusBadRequest, "no fields to update"
	case errors.Is(err, model.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "could not validate credentials"
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, model.ErrAuthUnavailable):
		status, msg = http.StatusServiceUnavailable, "service temporarily unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("request_id", middleware.RequestIDFrom(c)), zap.Error(err))
	}
	c.JSON(status, dto.ErrorResponse{Error: msg})
}
