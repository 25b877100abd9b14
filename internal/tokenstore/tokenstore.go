// Package tokenstore keeps the session token pair across restarts. Every
// implementation writes and clears both entries together.
package tokenstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/qcom/librarian/internal/models"
)

// Entry names of the persisted pair.
const (
	AccessTokenKey  = "token"
	RefreshTokenKey = "refreshToken"
)

var (
	ErrNotFound       = errors.New("token pair not found")
	ErrIncompletePair = errors.New("token pair must carry both tokens")
)

type Storage interface {
	// Load returns ErrNotFound unless both entries are present.
	Load(ctx context.Context) (models.TokenPair, error)
	Save(ctx context.Context, pair models.TokenPair) error
	Clear(ctx context.Context) error
	Close() error
}

// Memory keeps the pair in process memory. It is used by tests and when
// persistence is disabled.
type Memory struct {
	mu   sync.Mutex
	pair models.TokenPair
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) (models.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pair.Complete() {
		return models.TokenPair{}, ErrNotFound
	}
	return m.pair, nil
}

func (m *Memory) Save(_ context.Context, pair models.TokenPair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.pair = models.TokenPair{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
