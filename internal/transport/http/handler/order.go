package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"github.com/sakashimaa/storefront/internal/service"
	"github.com/sakashimaa/storefront/internal/utils"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service  service.OrderService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOrderHandler(orderService service.OrderService, timeout time.Duration, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:  orderService,
		validate: validator.New(),
		timeout:  timeout,
		logger:   logger,
	}
}

type OrderItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type CreateOrderInput struct {
	UserID string           `json:"user_id" validate:"required"`
	Items  []OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateOrderInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse body in create order", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		mylogger.Warn(ctx, h.logger, "invalid create order input", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, utils.FormatValidationError(err))
	}

	lines := make([]domain.LineRequest, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, domain.LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	details, err := h.service.PlaceOrder(ctx, input.UserID, lines)
	if err != nil {
		return respondError(c, h.logger, "place order", err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"order placed",
		zap.String("order_id", details.Order.ID),
		zap.String("user_id", details.Order.UserID),
	)

	return c.Status(fiber.StatusCreated).JSON(details)
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id := c.Params("id")

	details, err := h.service.GetOrderDetails(ctx, id)
	if err != nil {
		return respondError(c, h.logger, "get order", err)
	}

	if details == nil {
		mylogger.Debug(ctx, h.logger, "order not found", zap.String("order_id", id))
		return respond(c, fiber.StatusNotFound, "order not found")
	}

	return c.Status(fiber.StatusOK).JSON(details)
}
