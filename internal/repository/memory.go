package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qcom/librarian/internal/models"
)

// MemoryUserRepository is the default store of the development backend.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byLogin map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]models.User),
		byLogin: make(map[string]string),
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[user.ID]; ok {
		return ErrUserExists
	}
	for _, k := range []string{loginKey(user.UserName), loginKey(user.Email)} {
		if _, taken := r.byLogin[k]; taken {
			return ErrUserExists
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = *user
	r.byLogin[loginKey(user.UserName)] = user.ID
	r.byLogin[loginKey(user.Email)] = user.ID
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByLogin(ctx context.Context, userNameOrEmail string) (*models.User, error) {
	r.mu.RLock()
	id, ok := r.byLogin[loginKey(userNameOrEmail)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryUserRepository) Update(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	for _, k := range []string{loginKey(user.UserName), loginKey(user.Email)} {
		if owner, taken := r.byLogin[k]; taken && owner != user.ID {
			return ErrUserExists
		}
	}

	delete(r.byLogin, loginKey(current.UserName))
	delete(r.byLogin, loginKey(current.Email))

	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now()
	r.byID[user.ID] = *user
	r.byLogin[loginKey(user.UserName)] = user.ID
	r.byLogin[loginKey(user.Email)] = user.ID
	return nil
}

// List returns users ordered by user name.
func (r *MemoryUserRepository) List(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]models.User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserName < users[j].UserName })
	return users, nil
}

type MemoryRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshTokenData
}

func NewMemoryRefreshTokenRepository() *MemoryRefreshTokenRepository {
	return &MemoryRefreshTokenRepository{tokens: make(map[string]models.RefreshTokenData)}
}

func (r *MemoryRefreshTokenRepository) Store(_ context.Context, data models.RefreshTokenData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[data.JTI] = data
	return nil
}

func (r *MemoryRefreshTokenRepository) Get(_ context.Context, jti string) (*models.RefreshTokenData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.tokens[jti]
	if !ok || time.Now().After(data.ExpiresAt) {
		return nil, ErrTokenNotFound
	}
	return &data, nil
}

func (r *MemoryRefreshTokenRepository) Consume(_ context.Context, data *models.RefreshTokenData) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tokens[data.JTI]
	if !ok || stored.Revoked {
		return false, nil
	}
	stored.Revoked = true
	r.tokens[data.JTI] = stored
	return true, nil
}

func (r *MemoryRefreshTokenRepository) RevokeFamily(_ context.Context, familyID string) error {
	r.revokeWhere(func(d models.RefreshTokenData) bool { return d.FamilyID == familyID })
	return nil
}

func (r *MemoryRefreshTokenRepository) RevokeUser(_ context.Context, userID string) error {
	r.revokeWhere(func(d models.RefreshTokenData) bool { return d.UserID == userID })
	return nil
}

func (r *MemoryRefreshTokenRepository) revokeWhere(match func(models.RefreshTokenData) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for jti, d := range r.tokens {
		if match(d) {
			d.Revoked = true
			r.tokens[jti] = d
		}
	}
}
