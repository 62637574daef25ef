package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/repository"
)

type Users struct {
	mu sync.RWMutex
	m  map[string]domain.User
}

func NewUsers() *Users {
	return &Users{m: make(map[string]domain.User)}
}

func (u *Users) Create(_ context.Context, user *domain.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.emailTaken(user.Email, "") {
		return repository.ErrUserAlreadyExists
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	u.m[user.ID] = *user

	return nil
}

func (u *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, ok := u.m[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	return &user, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	for _, user := range u.m {
		if user.Email == email {
			return &user, nil
		}
	}

	return nil, repository.ErrUserNotFound
}

func (u *Users) Update(_ context.Context, id string, input *domain.UpdateUserInput) (*domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.m[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	if input.Email != nil {
		if u.emailTaken(*input.Email, id) {
			return nil, repository.ErrUserAlreadyExists
		}
		user.Email = *input.Email
	}
	if input.FullName != nil {
		user.FullName = *input.FullName
	}

	user.UpdatedAt = time.Now().UTC()
	u.m[id] = user

	return &user, nil
}

func (u *Users) Delete(_ context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.m[id]; !ok {
		return repository.ErrUserNotFound
	}

	delete(u.m, id)

	return nil
}

func (u *Users) SearchByName(_ context.Context, fragment string) ([]domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	needle := strings.ToLower(fragment)

	res := make([]domain.User, 0)
	for _, user := range u.m {
		if strings.Contains(strings.ToLower(user.FullName), needle) {
			res = append(res, user)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].FullName != res[j].FullName {
			return res[i].FullName < res[j].FullName
		}
		return res[i].ID < res[j].ID
	})

	return res, nil
}

func (u *Users) List(_ context.Context, limit, offset int64) ([]domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	res := make([]domain.User, 0, len(u.m))
	for _, user := range u.m {
		res = append(res, user)
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})

	if offset >= int64(len(res)) {
		return []domain.User{}, nil
	}

	end := offset + limit
	if end > int64(len(res)) {
		end = int64(len(res))
	}

	return res[offset:end], nil
}

// emailTaken must be called with u.mu held.
func (u *Users) emailTaken(email, exceptID string) bool {
	for id, user := range u.m {
		if id != exceptID && user.Email == email {
			return true
		}
	}

	return false
}
