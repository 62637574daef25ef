package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/storefront/internal/db"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, id string, input *domain.UpdateUserInput) (*domain.User, error)
	Delete(ctx context.Context, id string) error
	SearchByName(ctx context.Context, fragment string) ([]domain.User, error)
	List(ctx context.Context, limit, offset int64) ([]domain.User, error)
}

type userRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewUserRepository(pool *pgxpool.Pool, logger *zap.Logger) UserRepository {
	return &userRepository{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/user_repo"),
	}
}

const userColumns = `id, email, password_hash, full_name, created_at, updated_at`

func scanUser(row pgx.Row, u *domain.User) error {
	return row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	ctx, span := r.tracer.Start(ctx, "UserRepository.Create")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", user.ID))

	query := `
		INSERT INTO users (id, email, password_hash, full_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at;
	`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, user.ID, user.Email, user.PasswordHash, user.FullName).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrUserAlreadyExists
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to create user", zap.Error(err))

		return fmt.Errorf("error creating user: %w", err)
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "UserRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", id))

	return r.getOne(ctx, span, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "UserRepository.GetByEmail")
	defer span.End()

	return r.getOne(ctx, span, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *userRepository) getOne(ctx context.Context, span trace.Span, query string, arg string) (*domain.User, error) {
	var user domain.User
	if err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, query, arg), &user); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to find user", zap.Error(err))

		return nil, fmt.Errorf("error finding user: %w", err)
	}

	return &user, nil
}

func (r *userRepository) Update(ctx context.Context, id string, input *domain.UpdateUserInput) (*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "UserRepository.Update")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", id))

	query := `
		UPDATE users
		SET email = COALESCE($1, email),
			full_name = COALESCE($2, full_name),
			updated_at = NOW()
		WHERE id = $3
		RETURNING ` + userColumns

	var user domain.User
	err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, query, input.Email, input.FullName, id), &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		if isUniqueViolation(err, "users_email_key") {
			return nil, ErrUserAlreadyExists
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update user", zap.String("user_id", id), zap.Error(err))

		return nil, fmt.Errorf("error updating user: %w", err)
	}

	return &user, nil
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "UserRepository.Delete")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", id))

	commandTag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to delete user", zap.String("user_id", id), zap.Error(err))

		return fmt.Errorf("error deleting user: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *userRepository) SearchByName(ctx context.Context, fragment string) ([]domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "UserRepository.SearchByName")
	defer span.End()

	span.SetAttributes(attribute.String("search", fragment))

	query := `SELECT ` + userColumns + ` FROM users WHERE full_name ILIKE $1 ORDER BY full_name, id`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, "%"+fragment+"%")
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to search users", zap.Error(err))

		return nil, fmt.Errorf("error searching users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := scanUser(rows, &u); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning user: %w", err)
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

func (r *userRepository) List(ctx context.Context, limit, offset int64) ([]domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "UserRepository.List")
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to list users", zap.Error(err))

		return nil, fmt.Errorf("error listing users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := scanUser(row, &u)
		return u, err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error scanning user: %w", err)
	}

	return users, nil
}
