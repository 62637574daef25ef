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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductHandler struct {
	service  service.CatalogService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewProductHandler(catalog service.CatalogService, timeout time.Duration, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		service:  catalog,
		validate: validator.New(),
		timeout:  timeout,
		logger:   logger,
	}
}

type CreateProductInput struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Description   *string         `json:"description" validate:"omitempty,max=1000"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stock_quantity" validate:"gte=0"`
}

// UpdateProductInput carries the version the client last saw.
type UpdateProductInput struct {
	Version       *int64           `json:"version" validate:"required"`
	Name          *string          `json:"name" validate:"omitempty,max=255"`
	Description   *string          `json:"description" validate:"omitempty,max=1000"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int64           `json:"stock_quantity"`
}

type ListProductsResponse struct {
	Products   []domain.Product `json:"products"`
	TotalCount int64            `json:"total_count"`
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateProductInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse body in create product", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		mylogger.Warn(ctx, h.logger, "invalid create product input", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, utils.FormatValidationError(err))
	}

	product, err := h.service.RegisterProduct(ctx, domain.NewProductInput{
		Name:          input.Name,
		Description:   input.Description,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
	})
	if err != nil {
		return respondError(c, h.logger, "create product", err)
	}

	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	product, err := h.service.GetProduct(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "get product", err)
	}

	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)
	search := c.Query("search")

	products, total, err := h.service.ListProducts(ctx, int64(limit), int64(offset), search)
	if err != nil {
		return respondError(c, h.logger, "list products", err)
	}

	if products == nil {
		products = []domain.Product{}
	}

	mylogger.Debug(
		ctx,
		h.logger,
		"list products succeeded",
		zap.Int("offset", offset),
		zap.Int("limit", limit),
		zap.String("search", search),
		zap.Int64("total", total),
	)

	return c.Status(fiber.StatusOK).JSON(ListProductsResponse{Products: products, TotalCount: total})
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(UpdateProductInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse body in update product", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		mylogger.Warn(ctx, h.logger, "invalid update product input", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, utils.FormatValidationError(err))
	}

	product, err := h.service.UpdateProduct(ctx, c.Params("id"), *input.Version, &domain.UpdateProductInput{
		Name:          input.Name,
		Description:   input.Description,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
	})
	if err != nil {
		return respondError(c, h.logger, "update product", err)
	}

	return c.Status(fiber.StatusOK).JSON(product)
}
