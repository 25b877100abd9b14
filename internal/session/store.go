package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/tokenstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// AuthAPI is the slice of the backend the session needs. The bearer header
// methods act on the client's process-wide default header.
type AuthAPI interface {
	Login(ctx context.Context, req models.LoginRequest) (models.TokenPair, error)
	SignUp(ctx context.Context, req models.SignUpRequest) (models.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (models.TokenPair, error)
	// Logout sends accessToken as the bearer instead of the default header.
	Logout(ctx context.Context, accessToken string) error
	ChangePassword(ctx context.Context, req models.ChangePasswordRequest) error
	UpdateProfile(ctx context.Context, req models.UpdateProfileRequest) error
	SetAuthToken(token string)
	ClearAuthToken()
}

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store owns the token pair and the identity projected from it.
//
// Every operation that replaces the session bumps epoch when it starts. A
// network result is only applied if the epoch is unchanged when it comes
// back, so a logout always wins over a refresh that was already in flight.
type Store struct {
	api     AuthAPI
	storage tokenstore.Storage
	logger  *logrus.Logger

	mu       sync.RWMutex
	state    State
	tokens   models.TokenPair
	identity *models.Identity
	epoch    uint64

	// notifyMu is taken before mu is released so storage and observers see
	// token changes in the order they were applied.
	notifyMu     sync.Mutex
	observers    map[int]func(accessToken string)
	nextObserver int

	refreshGroup singleflight.Group
}

// NewStore restores a persisted pair if there is one. An expired access
// token is still installed; the first refresh settles whether it is usable.
func NewStore(ctx context.Context, api AuthAPI, storage tokenstore.Storage, logger *logrus.Logger) *Store {
	s := &Store{
		api:       api,
		storage:   storage,
		logger:    logger,
		observers: make(map[int]func(string)),
	}
	s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) {
	pair, err := s.storage.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			s.logger.WithError(err).Warn("Failed to load persisted token pair")
		}
		return
	}

	identity, err := IdentityFromToken(pair.AccessToken)
	if err != nil {
		s.logger.WithError(err).Warn("Discarding unreadable persisted token pair")
		if err := s.storage.Clear(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to clear persisted token pair")
		}
		return
	}

	s.tokens = pair
	s.identity = identity
	s.state = StateAuthenticated
	s.api.SetAuthToken(pair.AccessToken)

	s.logger.WithFields(logrus.Fields{
		"user_id": identity.ID,
		"token":   redactToken(pair.AccessToken),
	}).Info("Restored session")
}

// Login authenticates with the backend and installs the returned pair. On
// failure the session is left unauthenticated and the backend error is
// returned unchanged.
func (s *Store) Login(ctx context.Context, req models.LoginRequest) error {
	epoch := s.begin(StateAuthenticating)

	pair, err := s.api.Login(ctx, req)
	if err != nil {
		s.resetIf(ctx, epoch)
		return err
	}
	return s.installOrReset(ctx, epoch, pair)
}

// SignUp registers a new account and signs it in.
func (s *Store) SignUp(ctx context.Context, req models.SignUpRequest) error {
	epoch := s.begin(StateAuthenticating)

	pair, err := s.api.SignUp(ctx, req)
	if err != nil {
		s.resetIf(ctx, epoch)
		return err
	}
	return s.installOrReset(ctx, epoch, pair)
}

// Logout always ends unauthenticated. Local state is cleared first; the
// backend is then told, best effort, with the access token the session held.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	accessToken := s.tokens.AccessToken
	s.epoch++
	s.resetLocked()
	s.handoff(ctx)

	s.revoke(ctx, accessToken)
}

// revoke asks the backend to end the session of accessToken. Failures are
// logged only.
func (s *Store) revoke(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := s.api.Logout(ctx, accessToken); err != nil {
		s.logger.WithError(err).Warn("Backend logout failed, local session already cleared")
	}
}

// RefreshAccessToken exchanges the refresh token for a new pair and returns
// the new access token. It returns "" and no error when there is no refresh
// token or a login is in flight. Concurrent callers share one backend call.
//
// A failed exchange logs the session out before returning an error that
// wraps ErrRefreshFailed. Cancelling ctx abandons the wait but not the
// exchange itself.
func (s *Store) RefreshAccessToken(ctx context.Context) (string, error) {
	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Store) refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	refreshToken := s.tokens.RefreshToken
	accessToken := s.tokens.AccessToken
	// a login in flight installs its own pair
	if refreshToken == "" || s.state == StateAuthenticating {
		s.mu.Unlock()
		return "", nil
	}
	s.epoch++
	epoch := s.epoch
	s.state = StateRefreshing
	// the refresh endpoint must not see the expiring bearer token
	s.api.ClearAuthToken()
	s.mu.Unlock()

	pair, err := s.api.RefreshToken(ctx, refreshToken)
	if err == nil {
		err = s.install(ctx, epoch, pair)
		if err == nil {
			s.logger.WithField("token", redactToken(pair.AccessToken)).Info("Access token refreshed")
			return pair.AccessToken, nil
		}
		if errors.Is(err, ErrSessionSuperseded) {
			return "", err
		}
	}

	s.logger.WithError(err).Warn("Token refresh failed, logging out")
	if s.resetIf(ctx, epoch) {
		s.revoke(ctx, accessToken)
	}
	return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
}

// ChangePassword passes the request through to the backend.
func (s *Store) ChangePassword(ctx context.Context, req models.ChangePasswordRequest) error {
	return s.api.ChangePassword(ctx, req)
}

// UpdateProfile sends the edit to the backend and, once accepted, merges
// the edited fields into the current identity. The token pair is untouched.
func (s *Store) UpdateProfile(ctx context.Context, req models.UpdateProfileRequest) error {
	if err := s.api.UpdateProfile(ctx, req); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		merged := s.identity.WithProfile(req)
		s.identity = &merged
	}
	return nil
}

// Identity returns a copy of the current identity, or nil when signed out.
func (s *Store) Identity() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Loading reports whether a login, signup or refresh is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateAuthenticating || s.state == StateRefreshing
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

// Subscribe registers fn to receive the access token after every change,
// and "" when the session is cleared. Observers run synchronously while a
// change is being published and must not call back into the Store.
func (s *Store) Subscribe(fn func(accessToken string)) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn

	return func() {
		s.notifyMu.Lock()
		delete(s.observers, id)
		s.notifyMu.Unlock()
	}
}

func (s *Store) begin(state State) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.state = state
	return s.epoch
}

func (s *Store) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Store) installOrReset(ctx context.Context, epoch uint64, pair models.TokenPair) error {
	err := s.install(ctx, epoch, pair)
	if err != nil && !errors.Is(err, ErrSessionSuperseded) {
		s.resetIf(ctx, epoch)
	}
	return err
}

// install makes pair current: memory, bearer header, storage, then
// observers.
func (s *Store) install(ctx context.Context, epoch uint64, pair models.TokenPair) error {
	if !pair.Complete() {
		return fmt.Errorf("backend returned an incomplete token pair")
	}
	identity, err := IdentityFromToken(pair.AccessToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSessionSuperseded
	}
	s.tokens = pair
	s.identity = identity
	s.state = StateAuthenticated
	s.api.SetAuthToken(pair.AccessToken)
	s.handoff(ctx)
	return nil
}

// resetIf clears the session unless another operation has replaced it
// since epoch. It reports whether it did.
func (s *Store) resetIf(ctx context.Context, epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.resetLocked()
	s.handoff(ctx)
	return true
}

func (s *Store) resetLocked() {
	s.tokens = models.TokenPair{}
	s.identity = nil
	s.state = StateUnauthenticated
	s.api.ClearAuthToken()
}

// handoff releases mu, then persists and publishes the pair that was just
// applied. Storage writes outlive ctx cancellation. The caller must hold mu.
func (s *Store) handoff(ctx context.Context) {
	pair := s.tokens
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.persist(context.WithoutCancel(ctx), pair)
	for _, fn := range s.observers {
		fn(pair.AccessToken)
	}
}

func (s *Store) persist(ctx context.Context, pair models.TokenPair) {
	if pair.Complete() {
		if err := s.storage.Save(ctx, pair); err != nil {
			s.logger.WithError(err).Warn("Failed to persist token pair")
		}
		return
	}
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to clear persisted token pair")
	}
}
