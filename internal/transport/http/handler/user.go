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

type UserHandler struct {
	service  service.UserService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewUserHandler(users service.UserService, timeout time.Duration, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service:  users,
		validate: validator.New(),
		timeout:  timeout,
		logger:   logger,
	}
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required"`
}

type UpdateUserInput struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name"`
}

func (h *UserHandler) Register(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse body in register", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		mylogger.Warn(ctx, h.logger, "invalid register input", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, utils.FormatValidationError(err))
	}

	user, err := h.service.Register(ctx, input.Email, input.Password, input.FullName)
	if err != nil {
		return respondError(c, h.logger, "register user", err)
	}

	return c.Status(fiber.StatusCreated).JSON(user)
}

func (h *UserHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	user, err := h.service.GetUser(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "get user", err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (h *UserHandler) FindByEmail(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	email := c.Query("email")
	if email == "" {
		return respond(c, fiber.StatusBadRequest, "email is required")
	}

	user, err := h.service.FindByEmail(ctx, email)
	if err != nil {
		return respondError(c, h.logger, "find user by email", err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (h *UserHandler) Search(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	users, err := h.service.SearchByName(ctx, c.Query("name"))
	if err != nil {
		return respondError(c, h.logger, "search users", err)
	}

	if users == nil {
		users = []domain.User{}
	}

	return c.Status(fiber.StatusOK).JSON(users)
}

func (h *UserHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	users, err := h.service.ListUsers(ctx, int64(c.QueryInt("limit", 20)), int64(c.QueryInt("offset", 0)))
	if err != nil {
		return respondError(c, h.logger, "list users", err)
	}

	if users == nil {
		users = []domain.User{}
	}

	return c.Status(fiber.StatusOK).JSON(users)
}

func (h *UserHandler) Update(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(UpdateUserInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse body in update user", zap.Error(err))
		return respond(c, fiber.StatusBadRequest, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return respond(c, fiber.StatusBadRequest, utils.FormatValidationError(err))
	}

	user, err := h.service.UpdateUser(ctx, c.Params("id"), &domain.UpdateUserInput{
		Email:    input.Email,
		FullName: input.FullName,
	})
	if err != nil {
		return respondError(c, h.logger, "update user", err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (h *UserHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id := c.Params("id")
	if err := h.service.DeleteUser(ctx, id); err != nil {
		return respondError(c, h.logger, "delete user", err)
	}

	mylogger.Info(ctx, h.logger, "user deleted", zap.String("user_id", id))

	return c.SendStatus(fiber.StatusNoContent)
}
