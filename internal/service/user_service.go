package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"github.com/sakashimaa/storefront/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const passwordHashCost = 12

var validate = validator.New()

type UserService interface {
	Register(ctx context.Context, email, password, fullName string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, id string, input *domain.UpdateUserInput) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	SearchByName(ctx context.Context, fragment string) ([]domain.User, error)
	ListUsers(ctx context.Context, limit, offset int64) ([]domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

type userService struct {
	users    repository.UserRepository
	logger   *zap.Logger
	tracer   trace.Tracer
	hashCost int
}

func NewUserService(users repository.UserRepository, logger *zap.Logger) UserService {
	return &userService{
		users:    users,
		logger:   logger,
		tracer:   otel.Tracer("service/user_service"),
		hashCost: passwordHashCost,
	}
}

func (s *userService) Register(ctx context.Context, email, password, fullName string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.Register")
	defer span.End()

	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)

	if err := validateEmail(email); err != nil {
		return nil, err
	}

	if fullName == "" {
		return nil, invalidRequest("full name is required")
	}

	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hashedPass, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error hashing password", zap.Error(err))

		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashedPass),
		FullName:     fullName,
	}

	span.SetAttributes(attribute.String("user.id", user.ID))

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			mylogger.Warn(ctx, s.logger, "Email already registered")
			return nil, err
		}

		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error registering user", zap.Error(err))

		return nil, fmt.Errorf("error registering user: %w", err)
	}

	mylogger.Info(ctx, s.logger, "User registered", zap.String("user_id", user.ID))

	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.GetUser")
	defer span.End()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(ctx, span, err)
	}

	return user, nil
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.FindByEmail")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, s.lookupError(ctx, span, err)
	}

	return user, nil
}

func (s *userService) UpdateUser(ctx context.Context, id string, input *domain.UpdateUserInput) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.UpdateUser")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", id))

	if input == nil || (input.Email == nil && input.FullName == nil) {
		return nil, invalidRequest("update must change at least one field")
	}

	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		input.Email = &email
	}

	if input.FullName != nil {
		fullName := strings.TrimSpace(*input.FullName)
		if fullName == "" {
			return nil, invalidRequest("full name must not be blank")
		}
		input.FullName = &fullName
	}

	user, err := s.users.Update(ctx, id, input)
	if err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			mylogger.Warn(ctx, s.logger, "Email already registered", zap.String("user_id", id))
			return nil, err
		}

		return nil, s.lookupError(ctx, span, err)
	}

	return user, nil
}

func (s *userService) DeleteUser(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "UserService.DeleteUser")
	defer span.End()

	if err := s.users.Delete(ctx, id); err != nil {
		return s.lookupError(ctx, span, err)
	}

	mylogger.Info(ctx, s.logger, "User deleted", zap.String("user_id", id))

	return nil
}

func (s *userService) SearchByName(ctx context.Context, fragment string) ([]domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.SearchByName")
	defer span.End()

	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, invalidRequest("search fragment is required")
	}

	users, err := s.users.SearchByName(ctx, fragment)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error searching users", zap.Error(err))

		return nil, fmt.Errorf("error searching users: %w", err)
	}

	return users, nil
}

func (s *userService) ListUsers(ctx context.Context, limit, offset int64) ([]domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.ListUsers")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error listing users", zap.Error(err))

		return nil, fmt.Errorf("error listing users: %w", err)
	}

	return users, nil
}

func (s *userService) lookupError(ctx context.Context, span trace.Span, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		mylogger.Warn(ctx, s.logger, "user not found")
		return err
	}

	span.RecordError(err)
	mylogger.Error(ctx, s.logger, "Error accessing user", zap.Error(err))

	return fmt.Errorf("error accessing user: %w", err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalidRequest("email is required")
	}

	if err := validate.Var(email, "email"); err != nil {
		return invalidRequest("email is not valid")
	}

	return nil
}
